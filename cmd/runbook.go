package cmd

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"
)

const (
	stepBackup   = "backup"
	stepSnapshot = "snapshot"
	stepEdit     = "edit"
	stepTest     = "test"
	stepReload   = "reload"
	stepShow     = "show"
	stepRestore  = "restore"
)

// runbook is the ordered list of steps executed in one session.
type runbook struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []step `yaml:"steps"`
}

// siteSettings describes the remote nginx site the built-in runbooks patch.
type siteSettings struct {
	Site      string
	Backup    string
	Snapshot  string
	Directive string
	Anchors   []string
	Policy    string
	TestCmd   string
	ReloadCmd string
}

func settingsFromConfig() siteSettings {
	return siteSettings{
		Site:      cfgSite,
		Backup:    cfgBackup,
		Snapshot:  cfgSnapshot,
		Directive: cfgDirective,
		Anchors:   cfgAnchors,
		Policy:    cfgPolicy,
		TestCmd:   cfgTestCmd,
		ReloadCmd: cfgReloadCmd,
	}
}

// withDefaults fills the derived paths: the backup sits next to the site
// file and the snapshot goes to /tmp.
func (s siteSettings) withDefaults() siteSettings {
	if s.Backup == "" && s.Site != "" {
		s.Backup = s.Site + ".bak"
	}
	if s.Snapshot == "" && s.Site != "" {
		s.Snapshot = path.Join("/tmp", path.Base(s.Site)+".orig")
	}
	if s.Policy == "" {
		s.Policy = policyAnchor
	}
	return s
}

func (s siteSettings) validate() error {
	if strings.TrimSpace(s.Site) == "" {
		return errors.New("--site is required")
	}
	if s.Backup == s.Site || s.Snapshot == s.Site {
		return errors.New("backup and snapshot paths must differ from --site")
	}
	if strings.TrimSpace(s.TestCmd) == "" {
		return errors.New("--test-cmd must not be empty")
	}
	if strings.TrimSpace(s.ReloadCmd) == "" {
		return errors.New("--reload-cmd must not be empty")
	}
	return nil
}

// patchRunbook is the fixed runbook: back up, snapshot, insert the
// directive, test the configuration, reload and show the result.
func patchRunbook(s siteSettings) (*runbook, error) {
	s = s.withDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	edit, err := editLine(s.Site, s.Directive, s.Anchors, s.Policy)
	if err != nil {
		return nil, err
	}
	return validated(&runbook{
		Name:        "patch " + s.Site,
		Description: fmt.Sprintf("Insert %q after %d anchor line(s) and reload nginx", strings.TrimSpace(s.Directive), len(s.Anchors)),
		Steps: []step{
			{Name: stepBackup, Send: copyLine(s.Site, s.Backup), CheckExit: true},
			{Name: stepSnapshot, Send: copyLine(s.Site, s.Snapshot), CheckExit: true},
			{Name: stepEdit, Send: edit, CheckExit: true},
			{Name: stepTest, Send: s.TestCmd, CheckExit: true},
			{Name: stepReload, Send: s.ReloadCmd, CheckExit: true},
			{Name: stepShow, Send: grepLine(directiveKey(s.Directive), s.Site)},
		},
	})
}

// rollbackRunbook restores the backup over the site file and reloads.
func rollbackRunbook(s siteSettings) (*runbook, error) {
	s = s.withDefaults()
	if err := s.validate(); err != nil {
		return nil, err
	}
	key := directiveKey(s.Directive)
	if key == "" {
		return nil, errors.New("directive is empty")
	}
	return validated(&runbook{
		Name:        "rollback " + s.Site,
		Description: fmt.Sprintf("Restore %s from %s and reload nginx", s.Site, s.Backup),
		Steps: []step{
			{Name: stepRestore, Send: copyLine(s.Backup, s.Site), CheckExit: true},
			{Name: stepTest, Send: s.TestCmd, CheckExit: true},
			{Name: stepReload, Send: s.ReloadCmd, CheckExit: true},
			{Name: stepShow, Send: grepLine(key, s.Site)},
		},
	})
}

func validated(rb *runbook) (*runbook, error) {
	if err := rb.validate(); err != nil {
		return nil, err
	}
	return rb, nil
}

// loadRunbook reads and validates a YAML runbook.
func loadRunbook(p string) (*runbook, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	rb := &runbook{}
	if err := yamlUnmarshal(b, rb); err != nil {
		return nil, err
	}
	if err := rb.validate(); err != nil {
		return nil, err
	}
	return rb, nil
}

func (rb *runbook) validate() error {
	if strings.TrimSpace(rb.Name) == "" {
		return errors.New("runbook.name is required")
	}
	if len(rb.Steps) == 0 {
		return errors.New("runbook contains no steps")
	}
	seen := make(map[string]int, len(rb.Steps))
	for i, s := range rb.Steps {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("steps[%d].name is required", i)
		}
		if j, dup := seen[name]; dup {
			return fmt.Errorf("steps[%d].name %q duplicates steps[%d]", i, name, j)
		}
		seen[name] = i
		if strings.TrimSpace(s.Send) == "" {
			return fmt.Errorf("steps[%d].send is required", i)
		}
		if strings.ContainsAny(s.Send, "\r\n") {
			return fmt.Errorf("steps[%d].send must be a single line", i)
		}
		if s.CheckExit {
			if why := exitCaptureProblem(s.Send); why != "" {
				return fmt.Errorf("steps[%d].send %s, so its exit status cannot be captured", i, why)
			}
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return fmt.Errorf("steps[%d].timeout: %w", i, err)
			}
		}
	}
	if r, ok := seen[stepReload]; ok {
		if t, ok := seen[stepTest]; !ok || t > r {
			return fmt.Errorf("step %q must be preceded by a %q step", stepReload, stepTest)
		}
	}
	return nil
}

// lines returns the command lines the runbook would type, in order.
func (rb *runbook) lines() []string {
	out := make([]string, 0, len(rb.Steps))
	for _, s := range rb.Steps {
		out = append(out, s.Send)
	}
	return out
}

// exitCaptureProblem reports why "; echo <marker> $?" cannot follow line,
// or "" when it can.
func exitCaptureProblem(line string) string {
	var sq, dq, esc bool
	wordStart := true
	tail := ""
	for _, r := range line {
		switch {
		case esc:
			esc = false
		case sq:
			sq = r != '\''
		case r == '\\':
			esc = true
		case dq:
			dq = r != '"'
		case r == '\'':
			sq = true
		case r == '"':
			dq = true
		case r == '#' && wordStart:
			return "ends in a comment"
		case r == ' ' || r == '\t':
			wordStart = true
			continue
		case strings.ContainsRune("&|;", r):
			tail += string(r)
			wordStart = true
			continue
		}
		wordStart = !sq && !dq && !esc && strings.ContainsRune("()<>", r)
		tail = ""
	}
	switch {
	case sq || dq || esc:
		return "has an unterminated quote or escape"
	case tail == "&":
		return "runs in the background"
	case tail != "":
		return fmt.Sprintf("ends with %q", tail)
	}
	return ""
}
