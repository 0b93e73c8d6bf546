package cmd

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlReport is the document written to --out after a run.
type yamlReport struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Target      string           `yaml:"target"`
	User        string           `yaml:"user"`
	Started     string           `yaml:"started"`
	Finished    string           `yaml:"finished,omitempty"`
	Status      string           `yaml:"status"`
	Error       string           `yaml:"error,omitempty"`
	Steps       []yamlStepResult `yaml:"steps"`
	Artifacts   *yamlArtifacts   `yaml:"artifacts,omitempty"`
}

// yamlStepResult records the outcome of one step. exit_code is -1 when the
// step did not capture an exit status.
type yamlStepResult struct {
	Name     string `yaml:"name"`
	Command  string `yaml:"command"`
	Expect   string `yaml:"expect,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	ExitCode int    `yaml:"exit_code"`
	Duration string `yaml:"duration"`
	Error    string `yaml:"error,omitempty"`
	Output   string `yaml:"output"`
}

type yamlArtifacts struct {
	Dir                   string         `yaml:"dir"`
	Files                 []yamlArtifact `yaml:"files"`
	BackupMatchesSnapshot bool           `yaml:"backup_matches_snapshot"`
}

type yamlArtifact struct {
	Role   string `yaml:"role"`
	Remote string `yaml:"remote"`
	Local  string `yaml:"local"`
	Size   int64  `yaml:"size"`
	SHA256 string `yaml:"sha256"`
}

const (
	statusRunning = "running"
	statusOK      = "ok"
	statusFailed  = "failed"
)

func newYAMLReport(rb *runbook, target, user string) *yamlReport {
	return &yamlReport{
		Name:        rb.Name,
		Description: rb.Description,
		Target:      target,
		User:        user,
		Started:     time.Now().Format(time.RFC3339),
		Status:      statusRunning,
	}
}

func (r *yamlReport) addStep(s step, res stepResult, timeout time.Duration, err error) {
	sr := yamlStepResult{
		Name:     s.Name,
		Command:  s.Send,
		Expect:   s.Expect,
		ExitCode: res.ExitCode,
		Duration: res.Duration.Round(time.Millisecond).String(),
		Output:   res.Output,
	}
	if timeout > 0 {
		sr.Timeout = timeout.String()
	}
	if err != nil {
		sr.Error = err.Error()
	}
	r.Steps = append(r.Steps, sr)
}

func (r *yamlReport) finish(err error) {
	r.Finished = time.Now().Format(time.RFC3339)
	if err != nil {
		r.Status = statusFailed
		r.Error = err.Error()
		return
	}
	r.Status = statusOK
}

// writeYAMLReport serializes the report with two-space indentation.
func writeYAMLReport(w io.Writer, r *yamlReport) error {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		_ = enc.Close()
		return err
	}
	_ = enc.Close()
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(buf.Bytes()); err != nil {
		return err
	}
	return bw.Flush()
}

func writeReportFile(p string, r *yamlReport) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	if err := writeYAMLReport(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
