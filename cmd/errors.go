package cmd

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errPromptTimeout = errors.New("timed out waiting for expected output")
	errSessionClosed = errors.New("remote session closed")
	errStepFailed    = errors.New("runbook step failed")
)

// expectError reports an expectation that was not met, together with what
// the remote side printed last so the operator can see where it stalled.
type expectError struct {
	Want []string
	Tail string
	Err  error
}

func (e *expectError) Error() string {
	return fmt.Sprintf("%v: want %s; last output %q", e.Err, strings.Join(e.Want, " | "), e.Tail)
}

func (e *expectError) Unwrap() error { return e.Err }

// stepError reports a step whose captured exit status was non-zero.
type stepError struct {
	Step     string
	ExitCode int
}

func (e *stepError) Error() string {
	return fmt.Sprintf("%v: %s exited with status %d", errStepFailed, e.Step, e.ExitCode)
}

func (e *stepError) Unwrap() error { return errStepFailed }
