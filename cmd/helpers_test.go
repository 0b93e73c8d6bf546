package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// writeTemp creates a temp file with content and returns its path.
func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

// resetConfig clears global configuration so tests don't leak state
func resetConfig() {
	viper.Reset()
	bindFlags()
	// Reset flags to defaults and clear Changed status
	rootCmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(append([]string(nil), defaultAnchors...))
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	cfgInitErr = nil
}

// stubSession replaces dialing and shell creation for the duration of t.
func stubSession(t *testing.T, sh remoteShell) *dialConfig {
	t.Helper()
	origDial, origOpen, origPull := dialSSHFunc, openShellFunc, pullArtifactsFunc
	t.Cleanup(func() {
		dialSSHFunc, openShellFunc, pullArtifactsFunc = origDial, origOpen, origPull
		logrus.SetOutput(os.Stderr)
		logrus.SetLevel(logrus.InfoLevel)
	})
	got := &dialConfig{}
	dialSSHFunc = func(ctx context.Context, dc dialConfig) (*ssh.Client, error) {
		*got = dc
		return nil, nil
	}
	openShellFunc = func(ctx context.Context, c *ssh.Client, o shellOptions) (remoteShell, error) {
		return sh, nil
	}
	return got
}

// captureOutput routes the root command's stdout and stderr into buffers.
func captureOutput(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errb bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errb)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	return &out, &errb
}

type fakeOutcome struct {
	res stepResult
	err error
}

// fakeShell is a remoteShell that records what it was asked to run.
type fakeShell struct {
	mu       sync.Mutex
	sent     []string
	timeouts map[string]time.Duration
	outcomes map[string]fakeOutcome

	disconnected bool
	closed       bool
	disconnErr   error
}

func newFakeShell() *fakeShell {
	return &fakeShell{
		timeouts: make(map[string]time.Duration),
		outcomes: make(map[string]fakeOutcome),
	}
}

func (f *fakeShell) runStep(ctx context.Context, s step, timeout time.Duration) (stepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, s.Send)
	f.timeouts[s.Name] = timeout
	if o, ok := f.outcomes[s.Name]; ok {
		return o.res, o.err
	}
	res := stepResult{ExitCode: -1, Output: s.Name + " ok\n", Duration: time.Millisecond}
	if s.CheckExit {
		res.ExitCode = 0
	}
	return res, nil
}

func (f *fakeShell) disconnect(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return f.disconnErr
}

func (f *fakeShell) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeShell) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// lockedBuffer is a bytes.Buffer safe for the expecter's pump goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
