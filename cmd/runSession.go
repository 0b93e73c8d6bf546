package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const stepExit = "exit"

// printPlan writes the lines rb would type, one per step.
func printPlan(w io.Writer, rb *runbook) {
	_, _ = fmt.Fprintf(w, "# %s (%d steps)\n", rb.Name, len(rb.Steps))
	if rb.Description != "" {
		_, _ = fmt.Fprintf(w, "# %s\n", rb.Description)
	}
	for i, line := range rb.lines() {
		_, _ = fmt.Fprintf(w, "%d. [%s] %s\n", i+1, rb.Steps[i].Name, line)
	}
}

// executeRunbook connects to the target, runs rb in one interactive shell
// and writes the report. With --noop it only prints the plan. arts lists the
// files fetched over SFTP when --pull-dir is set and the run succeeded.
func executeRunbook(ctx context.Context, rb *runbook, arts []artifactSpec, stdout, stderr io.Writer) (err error) {
	if cfgNoop {
		printPlan(stdout, rb)
		return nil
	}

	target, err := normalizeTarget(cfgTarget)
	if err != nil {
		return err
	}
	if cfgUser == "" {
		return errors.New("--user is required for SSH authentication")
	}
	password, err := resolvePassword(cfgPassword, cfgKeyPath, cfgSudo, cfgUser, target, stderr)
	if err != nil {
		return err
	}

	rep := newYAMLReport(rb, target, cfgUser)
	defer func() {
		rep.finish(err)
		if cfgOutPath == "" {
			return
		}
		if werr := writeReportFile(cfgOutPath, rep); werr != nil {
			logrus.WithError(werr).WithField("path", cfgOutPath).Error("write report")
			if err == nil {
				err = fmt.Errorf("write report: %w", werr)
			}
			return
		}
		_, _ = fmt.Fprintf(stderr, "Report written to %s\n", cfgOutPath)
	}()

	var sinks []io.Writer
	if cfgMirror {
		sinks = append(sinks, stdout)
	}
	if cfgTranscript != "" {
		if err := os.MkdirAll(filepath.Dir(cfgTranscript), 0o755); err != nil {
			return fmt.Errorf("failed to create transcript dir: %w", err)
		}
		tf, err := os.Create(cfgTranscript)
		if err != nil {
			return fmt.Errorf("failed to create transcript file: %w", err)
		}
		defer func() { _ = tf.Close() }()
		sinks = append(sinks, tf)
	}
	transcript := io.MultiWriter(sinks...)

	log := logrus.WithField("target", target)
	log.Info("connecting")
	client, err := dialSSHFunc(ctx, dialConfig{
		Target:         target,
		User:           cfgUser,
		Password:       password,
		KeyPath:        cfgKeyPath,
		Passphrase:     cfgPassphrase,
		KnownHostsPath: cfgKnownHosts,
		StrictHost:     cfgStrictHost,
		Timeout:        cfgConnTimeout,
	})
	if err != nil {
		return fmt.Errorf("ssh connection failed: %w", err)
	}
	defer func() {
		if client != nil {
			_ = client.Close()
		}
	}()

	sh, err := openShellFunc(ctx, client, shellOptions{
		Prompt:       cfgPrompt,
		Sudo:         cfgSudo,
		Password:     password,
		LoginTimeout: cfgConnTimeout,
		Transcript:   transcript,
	})
	if err != nil {
		return fmt.Errorf("failed to start interactive shell: %w", err)
	}
	defer func() { _ = sh.Close() }()
	log.Info("shell ready")

	if err := runRunbook(ctx, sh, rb, cfgStepTimeout, rep, stderr); err != nil {
		return err
	}

	start := time.Now()
	derr := sh.disconnect(ctx, cfgStepTimeout)
	rep.addStep(step{Name: stepExit, Send: "exit"}, stepResult{ExitCode: -1, Duration: time.Since(start)}, cfgStepTimeout, derr)
	if derr != nil {
		return fmt.Errorf("disconnect: %w", derr)
	}

	if cfgPullDir != "" && len(arts) > 0 {
		a, perr := pullArtifactsFunc(client, cfgPullDir, arts)
		rep.Artifacts = a
		if perr != nil {
			return fmt.Errorf("artifact pull failed: %w", perr)
		}
		log.WithField("dir", cfgPullDir).Info("artifacts downloaded")
	}

	_, _ = fmt.Fprintln(stderr, doneBanner(fmt.Sprintf("%s on %s", rb.Name, target)))
	return nil
}
