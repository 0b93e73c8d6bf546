package cmd

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

func TestRun_StubbedSessionWritesReport(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	dc := stubSession(t, sh)
	_, errb := captureOutput(t)

	out := filepath.Join(t.TempDir(), "report.yaml")
	rootCmd.SetArgs([]string{"run", "--target", "web01", "--password", "pw", "--out", out, "--step-timeout", "7s"})
	require.NoError(t, rootCmd.Execute())

	require.Equal(t, "web01:22", dc.Target)
	require.Equal(t, "root", dc.User)
	require.Equal(t, "pw", dc.Password)
	require.False(t, dc.StrictHost)
	require.True(t, sh.disconnected)
	require.True(t, sh.closed)
	require.Len(t, sh.lines(), 6)
	require.Equal(t, 7*time.Second, sh.timeouts[stepEdit])
	require.Contains(t, errb.String(), "Report written to "+out)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	var rep yamlReport
	require.NoError(t, yaml.Unmarshal(b, &rep))
	require.Equal(t, statusOK, rep.Status)
	require.Equal(t, "web01:22", rep.Target)
	names := []string{}
	for _, s := range rep.Steps {
		names = append(names, s.Name)
	}
	require.Equal(t, []string{stepBackup, stepSnapshot, stepEdit, stepTest, stepReload, stepShow, stepExit}, names)
}

func TestRun_FailedStepMarksReport(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	sh.outcomes[stepTest] = fakeOutcome{res: stepResult{ExitCode: 1}, err: &stepError{Step: stepTest, ExitCode: 1}}
	stubSession(t, sh)
	captureOutput(t)

	out := filepath.Join(t.TempDir(), "report.yaml")
	rootCmd.SetArgs([]string{"run", "--target", "web01:2222", "--password", "pw", "--out", out})
	err := rootCmd.Execute()
	require.ErrorIs(t, err, errStepFailed)
	require.False(t, sh.disconnected)
	require.True(t, sh.closed)

	b, rerr := os.ReadFile(out)
	require.NoError(t, rerr)
	var rep yamlReport
	require.NoError(t, yaml.Unmarshal(b, &rep))
	require.Equal(t, statusFailed, rep.Status)
	require.Contains(t, rep.Error, "test")
	require.Equal(t, stepTest, rep.Steps[len(rep.Steps)-1].Name)
}

func TestRun_RequiresTarget(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	stubSession(t, sh)
	captureOutput(t)

	rootCmd.SetArgs([]string{"run"})
	require.ErrorContains(t, rootCmd.Execute(), "--target is required")
	require.Empty(t, sh.lines())
}

func TestRun_NoopPrintsPlan(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	dc := stubSession(t, sh)
	out, _ := captureOutput(t)

	rootCmd.SetArgs([]string{"run", "--noop", "--site", "/srv/nginx/app.conf", "--reload-cmd", "nginx -s reload"})
	require.NoError(t, rootCmd.Execute())

	require.Empty(t, dc.Target)
	require.Empty(t, sh.lines())
	plan := out.String()
	require.Contains(t, plan, "# patch /srv/nginx/app.conf (6 steps)")
	require.Contains(t, plan, "1. [backup] cp -p /srv/nginx/app.conf /srv/nginx/app.conf.bak")
	require.Contains(t, plan, "2. [snapshot] cp -p /srv/nginx/app.conf /tmp/app.conf.orig")
	require.Contains(t, plan, "5. [reload] nginx -s reload")
}

func TestRun_CustomRunbook(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	stubSession(t, sh)
	captureOutput(t)

	rb := writeTemp(t, t.TempDir(), "rb.yaml", `
name: uploads
steps:
  - name: test
    send: nginx -t
    check_exit: true
  - name: reload
    send: nginx -s reload
    timeout: 1m
`)
	rootCmd.SetArgs([]string{"run", "--target", "h", "--password", "pw", "--runbook", rb})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, []string{"nginx -t", "nginx -s reload"}, sh.lines())
	require.Equal(t, time.Minute, sh.timeouts["reload"])
}

func TestRollback_Steps(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	stubSession(t, sh)
	captureOutput(t)

	rootCmd.SetArgs([]string{"rollback", "--target", "h", "--password", "pw", "--site", "/etc/nginx/sites-available/app"})
	require.NoError(t, rootCmd.Execute())
	lines := sh.lines()
	require.Equal(t, "cp -p /etc/nginx/sites-available/app.bak /etc/nginx/sites-available/app", lines[0])
	require.Equal(t, defaultTestCmd, lines[1])
	require.Equal(t, defaultReloadCmd, lines[2])
}

func TestRun_TranscriptFile(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	stubSession(t, sh)
	captureOutput(t)

	var got shellOptions
	openShellFunc = func(_ context.Context, _ *ssh.Client, o shellOptions) (remoteShell, error) {
		got = o
		_, _ = o.Transcript.Write([]byte("root@web:~# "))
		return sh, nil
	}

	tr := filepath.Join(t.TempDir(), "logs", "session.log")
	rootCmd.SetArgs([]string{"run", "--target", "h", "--password", "pw", "--transcript", tr, "--mirror=false", "--sudo", "--prompt", "$ "})
	require.NoError(t, rootCmd.Execute())
	require.True(t, got.Sudo)
	require.Equal(t, "$ ", got.Prompt)
	require.Equal(t, "pw", got.Password)

	b, err := os.ReadFile(tr)
	require.NoError(t, err)
	require.Equal(t, "root@web:~# ", string(b))
}

func TestVerify_BuiltInAndRunbook(t *testing.T) {
	resetConfig()
	out, _ := captureOutput(t)

	rootCmd.SetArgs([]string{"verify"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "Runbook OK\n", out.String())

	bad := writeTemp(t, t.TempDir(), "bad.yaml", "name: x\nsteps:\n  - name: reload\n    send: y\n")
	rootCmd.SetArgs([]string{"verify", "--runbook", bad})
	require.ErrorContains(t, rootCmd.Execute(), "invalid runbook")

	resetConfig()
	rootCmd.SetArgs([]string{"verify", "--policy", "whenever"})
	require.ErrorContains(t, rootCmd.Execute(), "invalid settings")
}

func TestConfig_EnvAndFile(t *testing.T) {
	resetConfig()
	captureOutput(t)
	t.Setenv("NGXPATCH_PASSWORD", "from-env")
	t.Setenv("NGXPATCH_STEP_TIMEOUT", "45s")

	cfg := writeTemp(t, t.TempDir(), "ngxpatch.yaml", strings.Join([]string{
		"target: web02:2200",
		"site: /srv/site.conf",
		"sudo: true",
		"anchor:",
		"  - listen 8080;",
	}, "\n")+"\n")

	rootCmd.SetArgs([]string{"verify", "--config", cfg})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, "from-env", cfgPassword)
	require.Equal(t, 45*time.Second, cfgStepTimeout)
	require.Equal(t, "web02:2200", cfgTarget)
	require.Equal(t, "/srv/site.conf", cfgSite)
	require.True(t, cfgSudo)
	require.Equal(t, []string{"listen 8080;"}, cfgAnchors)
}

func TestConfig_MissingFile(t *testing.T) {
	resetConfig()
	captureOutput(t)
	rootCmd.SetArgs([]string{"verify", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	require.ErrorContains(t, rootCmd.Execute(), "read config")
}

func TestConfig_BadLogLevel(t *testing.T) {
	resetConfig()
	captureOutput(t)
	restoreLogging(t)
	rootCmd.SetArgs([]string{"verify", "--log-level", "chatty"})
	require.ErrorContains(t, rootCmd.Execute(), "--log-level")
}

func TestExecute_ExitCodes(t *testing.T) {
	resetConfig()
	captureOutput(t)
	origExit := exitFunc
	t.Cleanup(func() { exitFunc = origExit })
	code := -1
	exitFunc = func(c int) { code = c }

	rootCmd.SetArgs([]string{"verify"})
	Execute()
	require.Equal(t, -1, code)

	resetConfig()
	rootCmd.SetArgs([]string{"verify", "--site", ""})
	Execute()
	require.Equal(t, 1, code)
}

func TestConfig_AnchorFromEnvKeepsSpaces(t *testing.T) {
	resetConfig()
	captureOutput(t)
	t.Setenv("NGXPATCH_ANCHOR", `listen 8080;,"listen [::]:8080, ipv6only=on;"`)

	rootCmd.SetArgs([]string{"verify"})
	require.NoError(t, rootCmd.Execute())
	require.Equal(t, []string{"listen 8080;", "listen [::]:8080, ipv6only=on;"}, cfgAnchors)

	resetConfig()
	t.Setenv("NGXPATCH_ANCHOR", `"listen 80;`)
	rootCmd.SetArgs([]string{"verify"})
	require.ErrorContains(t, rootCmd.Execute(), "anchor")
}

func TestPolicyFlag_DescribesBothModes(t *testing.T) {
	f := rootCmd.PersistentFlags().Lookup("policy")
	require.NotNil(t, f)
	require.Equal(t, policyAnchor, f.DefValue)
	require.Contains(t, f.Usage, "even when it appears elsewhere")
	require.Contains(t, f.Usage, "'global' leaves the file untouched")
}

func TestRun_PullDirFollowsBuiltInRunbookOnly(t *testing.T) {
	resetConfig()
	sh := newFakeShell()
	stubSession(t, sh)
	captureOutput(t)

	var pulled [][]artifactSpec
	pullArtifactsFunc = func(_ *ssh.Client, dir string, specs []artifactSpec) (*yamlArtifacts, error) {
		pulled = append(pulled, specs)
		return &yamlArtifacts{Dir: dir}, nil
	}
	pull := t.TempDir()

	rb := writeTemp(t, t.TempDir(), "rb.yaml", "name: n\nsteps:\n  - name: a\n    send: uptime\n")
	rootCmd.SetArgs([]string{"run", "--target", "h", "--password", "pw", "--runbook", rb, "--pull-dir", pull})
	require.NoError(t, rootCmd.Execute())
	require.Empty(t, pulled)

	resetConfig()
	rootCmd.SetArgs([]string{"run", "--target", "h", "--password", "pw", "--pull-dir", pull})
	require.NoError(t, rootCmd.Execute())
	require.Len(t, pulled, 1)
	roles := []string{}
	for _, a := range pulled[0] {
		roles = append(roles, a.Role)
	}
	require.Equal(t, []string{roleBackup, roleSnapshot, roleSite}, roles)
}
