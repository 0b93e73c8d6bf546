package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// runRunbook executes rb's steps strictly in order on sh. The first error
// aborts the run: no retry, no cleanup of what earlier steps changed.
func runRunbook(ctx context.Context, sh remoteShell, rb *runbook, defaultTimeout time.Duration, rep *yamlReport, progress io.Writer) error {
	for i, s := range rb.Steps {
		_, _ = fmt.Fprintln(progress, stepBanner(i+1, len(rb.Steps), s))

		timeout := s.perStepTimeout(defaultTimeout)
		res, err := sh.runStep(ctx, s, timeout)
		if rep != nil {
			rep.addStep(s, res, timeout, err)
		}

		entry := logrus.WithFields(logrus.Fields{
			"step":      s.Name,
			"exit_code": res.ExitCode,
			"duration":  res.Duration.Round(time.Millisecond).String(),
		})
		if err != nil {
			entry.WithError(err).Error("step failed")
			_, _ = fmt.Fprintln(progress, failBanner(s, err))
			return fmt.Errorf("step %q: %w", s.Name, err)
		}
		entry.Info("step completed")
	}
	return nil
}
