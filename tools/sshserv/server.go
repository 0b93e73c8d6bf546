// Package sshserv is a small SSH server for tests. Each interactive shell
// is backed by a real /bin/sh, so commands act on the local filesystem; the
// server renders $PS1 after every line the way a login shell would.
package sshserv

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Options configures a test server.
type Options struct {
	User     string
	Password string
	// Prompt is the initial PS1 (default "# ").
	Prompt string
	// Dir is the working directory of every shell.
	Dir string
	// SilentPrompt never prints a prompt, so a client waiting for one hangs.
	SilentPrompt bool
}

// Server is a running test server.
type Server struct {
	ln   net.Listener
	cfg  *ssh.ServerConfig
	opts Options

	mu       sync.Mutex
	commands []string
	conns    map[net.Conn]struct{}
	done     chan struct{}
}

// Start listens on listenAddr (use 127.0.0.1:0 for a free port).
func Start(listenAddr string, opts Options) (*Server, error) {
	if opts.Prompt == "" {
		opts.Prompt = "# "
	}
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == opts.User && string(pass) == opts.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:    ln,
		cfg:   cfg,
		opts:  opts,
		conns: make(map[net.Conn]struct{}),
		done:  make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Commands returns every line received by a shell, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Stop closes the listener and every open connection.
func (s *Server) Stop() {
	_ = s.ln.Close()
	<-s.done
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
}

func (s *Server) serve() {
	defer close(s.done)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(raw net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, raw)
		s.mu.Unlock()
		_ = raw.Close()
	}()
	sc, chans, reqs, err := ssh.NewServerConn(raw, s.cfg)
	if err != nil {
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, in, err := nc.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, in)
	}
}

func (s *Server) handleSession(ch ssh.Channel, in <-chan *ssh.Request) {
	for req := range in {
		switch req.Type {
		case "pty-req", "env", "window-change":
			_ = req.Reply(true, nil)
		case "shell":
			_ = req.Reply(true, nil)
			go s.runShell(ch)
		case "subsystem":
			var p struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &p); err != nil || p.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go serveSFTP(ch)
		default:
			_ = req.Reply(false, nil)
		}
	}
}

func serveSFTP(ch ssh.Channel) {
	defer ch.Close()
	srv, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	_ = srv.Serve()
	_ = srv.Close()
}

// runShell feeds each received line to /bin/sh followed by a command that
// prints the current PS1, then reports the shell's exit status.
func (s *Server) runShell(ch ssh.Channel) {
	defer ch.Close()

	sh := exec.Command("/bin/sh", "-s")
	sh.Dir = s.opts.Dir
	sh.Stdout = ch
	sh.Stderr = ch
	stdin, err := sh.StdinPipe()
	if err != nil {
		return
	}
	if err := sh.Start(); err != nil {
		return
	}

	showPrompt := "printf '%s' \"$PS1\"\n"
	if s.opts.SilentPrompt {
		showPrompt = ""
	}
	_, _ = fmt.Fprintf(stdin, "PS1=%s\n%s", quote(s.opts.Prompt), showPrompt)

	go func() {
		defer stdin.Close()
		br := bufio.NewReader(ch)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			s.mu.Lock()
			s.commands = append(s.commands, line)
			s.mu.Unlock()
			if _, err := fmt.Fprintf(stdin, "%s\n%s", line, showPrompt); err != nil {
				return
			}
		}
	}()

	code := 0
	if err := sh.Wait(); err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			code = ee.ExitCode()
		} else {
			code = 255
		}
	}
	status := struct{ Status uint32 }{uint32(code)}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
