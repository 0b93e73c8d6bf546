package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

var (
	// anyPrompt matches the end of a typical login shell prompt. It is only
	// used where the operator-supplied marker cannot apply: the unprivileged
	// shell before sudo and again after leaving it.
	anyPrompt = regexp.MustCompile(`[#$%>]\s*$`)
	// passwordPrompt matches sudo's "[sudo] password for x:" and friends.
	passwordPrompt = regexp.MustCompile(`(?i)password[^\n]*:\s*$`)
)

// shellOptions configures the login phase of a promptShell.
type shellOptions struct {
	// Prompt is the substring that marks a ready shell (default "# ").
	Prompt string
	// Sudo escalates with "sudo -i" after login.
	Sudo     bool
	Password string
	// LoginTimeout bounds each wait during login and escalation.
	LoginTimeout time.Duration
	Transcript   io.Writer
}

// remoteShell is the session surface the runbook sequencer drives.
type remoteShell interface {
	runStep(ctx context.Context, s step, timeout time.Duration) (stepResult, error)
	disconnect(ctx context.Context, timeout time.Duration) error
	Close() error
}

// promptShell drives one interactive PTY shell: it types a line, then waits
// for an expected substring (normally the prompt) before the next one.
// After login the prompt is pinned to a per-session value so output such as
// "# managed by Certbot" cannot be mistaken for a ready shell.
type promptShell struct {
	sess  *ssh.Session
	stdin io.WriteCloser
	exp   *expecter
	mu    sync.Mutex

	prompt *regexp.Regexp
	// depth counts the shells that must be exited: 1 after login, 2 under sudo.
	depth int
	nonce string
	seq   int
}

// openPromptShell starts a login shell on a PTY over client and waits until
// it is ready for the first runbook step.
func openPromptShell(ctx context.Context, client *ssh.Client, opts shellOptions) (remoteShell, error) {
	if client == nil {
		return nil, errors.New("nil ssh client")
	}
	s, err := client.NewSession()
	if err != nil {
		return nil, err
	}

	// Single combined stream for stdout+stderr
	pr, pw := io.Pipe()
	s.Stdout = pw
	s.Stderr = pw

	stdin, err := s.StdinPipe()
	if err != nil {
		_ = pw.Close()
		_ = s.Close()
		return nil, err
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	// A dumb terminal keeps colour and bracketed-paste sequences out of the
	// stream; the wide line keeps long edit commands from wrapping.
	if err := s.RequestPty("dumb", 40, 4096, modes); err != nil {
		_ = stdin.Close()
		_ = pw.Close()
		_ = s.Close()
		return nil, err
	}
	if err := s.Shell(); err != nil {
		_ = stdin.Close()
		_ = pw.Close()
		_ = s.Close()
		return nil, err
	}
	go func() {
		_ = s.Wait()
		_ = pw.Close()
	}()

	ps := newPromptShell(stdin, pr, opts.Transcript)
	ps.sess = s
	if err := ps.login(ctx, opts); err != nil {
		_ = ps.Close()
		return nil, err
	}
	return ps, nil
}

func newPromptShell(stdin io.WriteCloser, stdout io.Reader, transcript io.Writer) *promptShell {
	return &promptShell{
		stdin: stdin,
		exp:   newExpecter(stdout, transcript),
		nonce: makeNonce(),
	}
}

// makeNonce returns a short random identifier for prompts and exit markers.
func makeNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// login waits for the first prompt, optionally escalates with sudo and
// pins the prompt.
func (ps *promptShell) login(ctx context.Context, opts shellOptions) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	marker := opts.Prompt
	if marker == "" {
		marker = defaultPrompt
	}
	first := literal(marker)
	if opts.Sudo {
		first = anyPrompt
	}
	if _, _, _, err := ps.exp.expect(ctx, opts.LoginTimeout, first); err != nil {
		return fmt.Errorf("waiting for login prompt: %w", err)
	}
	ps.depth = 1

	if opts.Sudo {
		if err := ps.escalate(ctx, marker, opts); err != nil {
			return err
		}
	}
	return ps.pinPrompt(ctx, opts.LoginTimeout)
}

func (ps *promptShell) escalate(ctx context.Context, marker string, opts shellOptions) error {
	if err := ps.send("sudo -i"); err != nil {
		return err
	}
	idx, _, _, err := ps.exp.expect(ctx, opts.LoginTimeout, passwordPrompt, literal(marker))
	if err != nil {
		return fmt.Errorf("waiting for sudo: %w", err)
	}
	if idx == 0 {
		if opts.Password == "" {
			return errors.New("sudo asked for a password but no credential is configured")
		}
		if err := ps.write(opts.Password + "\n"); err != nil {
			return err
		}
		idx, _, _, err = ps.exp.expect(ctx, opts.LoginTimeout, passwordPrompt, literal(marker))
		if err != nil {
			return fmt.Errorf("waiting for root prompt: %w", err)
		}
		if idx == 0 {
			return errors.New("sudo rejected the credential")
		}
	}
	ps.depth++
	logrus.Debug("escalated with sudo")
	return nil
}

// pinPrompt sets PS1 to a value unique to this session. The prompt text is
// assembled from a variable so the echoed command line never contains it.
func (ps *promptShell) pinPrompt(ctx context.Context, timeout time.Duration) error {
	line := fmt.Sprintf(`NGXPATCH_ID=%s; PS1="[ngxpatch-$NGXPATCH_ID]# "; PS2=''; unset PROMPT_COMMAND`, ps.nonce)
	if err := ps.send(line); err != nil {
		return err
	}
	ps.prompt = literal("[ngxpatch-" + ps.nonce + "]# ")
	if _, _, _, err := ps.exp.expect(ctx, timeout, ps.prompt); err != nil {
		return fmt.Errorf("pinning prompt: %w", err)
	}
	return nil
}

// runStep types one step and waits, in order, for the step's expected
// substring, the exit-status marker (with CheckExit) and the prompt. The
// timeout covers the whole step.
func (ps *promptShell) runStep(ctx context.Context, s step, timeout time.Duration) (stepResult, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	start := time.Now()
	res := stepResult{ExitCode: -1}
	if ps.prompt == nil {
		return res, errors.New("shell is not logged in")
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}

	line := s.Send
	waits := make([]*regexp.Regexp, 0, 3)
	var want *regexp.Regexp
	if s.Expect != "" {
		want = literal(s.Expect)
		waits = append(waits, want)
	}
	var marker *regexp.Regexp
	if s.CheckExit {
		id := fmt.Sprintf("__NGXPATCH_%s_%d__", ps.nonce, ps.seq)
		ps.seq++
		line = fmt.Sprintf("%s; echo %s $?", s.Send, id)
		marker = regexp.MustCompile(regexp.QuoteMeta(id) + ` (\d+)`)
		waits = append(waits, marker)
	}
	waits = append(waits, ps.prompt)

	if err := ps.send(line); err != nil {
		return res, err
	}

	var out strings.Builder
	for _, re := range waits {
		_, before, groups, err := ps.exp.expect(ctx, remaining(deadline), re)
		if re != ps.prompt || marker == nil {
			out.WriteString(before)
		}
		if err != nil {
			res.Output = cleanOutput(out.String(), line)
			res.Duration = time.Since(start)
			return res, err
		}
		switch re {
		case want:
			out.WriteString(groups[0])
		case marker:
			if code, perr := strconv.Atoi(groups[1]); perr == nil {
				res.ExitCode = code
			}
		}
	}
	res.Output = cleanOutput(out.String(), line)
	res.Duration = time.Since(start)

	if s.CheckExit && res.ExitCode != 0 {
		return res, &stepError{Step: s.Name, ExitCode: res.ExitCode}
	}
	return res, nil
}

// disconnect leaves every nested shell and waits for the session to end.
func (ps *promptShell) disconnect(ctx context.Context, timeout time.Duration) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	for ps.depth > 1 {
		if err := ps.send("exit"); err != nil {
			return err
		}
		if _, _, _, err := ps.exp.expect(ctx, timeout, anyPrompt); err != nil {
			return fmt.Errorf("leaving nested shell: %w", err)
		}
		ps.depth--
	}
	if err := ps.send("exit"); err != nil {
		return err
	}
	ps.depth = 0
	return ps.exp.waitClosed(ctx, timeout)
}

// Close releases the session; it is safe after disconnect.
func (ps *promptShell) Close() error {
	if ps.stdin != nil {
		_ = ps.stdin.Close()
	}
	if ps.sess == nil {
		return nil
	}
	if err := ps.sess.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (ps *promptShell) send(line string) error {
	logrus.WithField("line", line).Debug("send")
	return ps.write(line + "\n")
}

func (ps *promptShell) write(s string) error {
	if _, err := io.WriteString(ps.stdin, s); err != nil {
		return fmt.Errorf("write to remote shell: %w", err)
	}
	return nil
}

// remaining converts an absolute deadline into the timeout expect takes.
// The zero deadline means no limit; an expired one waits a minimal slice so
// already-buffered output still counts.
func remaining(deadline time.Time) time.Duration {
	if deadline.IsZero() {
		return 0
	}
	d := time.Until(deadline)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

// cleanOutput normalizes PTY line endings and drops the echoed command line
// when the remote terminal echoes input despite ECHO being off.
func cleanOutput(s, sent string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.TrimLeft(s, "\r\n")
	if strings.HasPrefix(s, sent) {
		s = strings.TrimPrefix(s[len(sent):], "\r")
		s = strings.TrimPrefix(s, "\n")
	}
	return s
}
