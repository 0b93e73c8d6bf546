package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// dialConfig holds everything needed to authenticate to the target.
type dialConfig struct {
	Target         string
	User           string
	Password       string
	KeyPath        string
	Passphrase     string
	KnownHostsPath string
	StrictHost     bool
	Timeout        time.Duration
}

// normalizeTarget appends the default SSH port when target has none.
func normalizeTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", errors.New("--target is required (host or host:port)")
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target, nil
	}
	return net.JoinHostPort(strings.Trim(target, "[]"), "22"), nil
}

// dialSSH establishes an SSH client connection. Without strict host key
// checking any host key is accepted, as an interactive "yes" would.
func dialSSH(ctx context.Context, dc dialConfig) (*ssh.Client, error) {
	var auths []ssh.AuthMethod

	if dc.KeyPath != "" {
		signer, err := loadSigner(dc.KeyPath, dc.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if dc.Password != "" {
		auths = append(auths,
			ssh.Password(dc.Password),
			ssh.KeyboardInteractive(passwordChallenge(dc.Password)),
		)
	}

	// Try SSH agent if available
	if a := os.Getenv("SSH_AUTH_SOCK"); a != "" {
		if conn, err := net.Dial("unix", a); err == nil {
			ag := agent.NewClient(conn)
			auths = append(auths, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	var hostKeyCB ssh.HostKeyCallback
	if dc.StrictHost {
		// Try known_hosts file if present; else fail closed
		if _, err := os.Stat(dc.KnownHostsPath); err != nil {
			return nil, fmt.Errorf("known_hosts file not found at %s and strict-host-key is enabled", dc.KnownHostsPath)
		}
		cb, err := knownhosts.New(dc.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("known_hosts: %w", err)
		}
		hostKeyCB = cb
	} else {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}

	cfg := &ssh.ClientConfig{
		User:            dc.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         dc.Timeout,
	}

	d := net.Dialer{Timeout: dc.Timeout}
	conn, err := d.DialContext(ctx, "tcp", dc.Target)
	if err != nil {
		return nil, err
	}
	// Bound the handshake and authentication as well as the TCP connect.
	if dc.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(dc.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, dc.Target, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// passwordChallenge answers keyboard-interactive questions that ask for a
// password (or hide the answer) with the credential.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i, q := range questions {
			if !echos[i] || strings.Contains(strings.ToLower(q), "password") {
				answers[i] = password
			}
		}
		return answers, nil
	}
}
