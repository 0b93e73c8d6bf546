package cmd

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// step is one send/expect pair of a runbook.
type step struct {
	Name string `yaml:"name"`
	// Literal line typed into the shell; "command" is accepted as an alias.
	Send string `yaml:"send"`
	// Literal substring to wait for; empty waits for the session prompt.
	Expect string `yaml:"expect,omitempty"`
	// Optional per-step timeout like "30s"; overrides the global one if set.
	Timeout string `yaml:"timeout,omitempty"`
	// Capture $? after the line and abort the run when it is non-zero.
	CheckExit bool `yaml:"check_exit,omitempty"`
}

// stepResult is what the session observed while running one step.
type stepResult struct {
	Output   string
	ExitCode int
	Duration time.Duration
}

func (s *step) perStepTimeout(defaultTimeout time.Duration) time.Duration {
	if s.Timeout == "" {
		return defaultTimeout
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return defaultTimeout
	}
	return d
}

var stepKeys = map[string]bool{
	"name": true, "send": true, "command": true,
	"expect": true, "timeout": true, "check_exit": true,
}

// UnmarshalYAML supports both "send" and "command" keys. Node.Decode does
// not inherit the strict decoder, so unknown keys are rejected here.
func (s *step) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			k := value.Content[i]
			if !stepKeys[k.Value] {
				return fmt.Errorf("line %d: field %s not found in type cmd.step", k.Line, k.Value)
			}
		}
	}
	var aux struct {
		Name      string `yaml:"name"`
		Send      string `yaml:"send"`
		Command   string `yaml:"command"`
		Expect    string `yaml:"expect"`
		Timeout   string `yaml:"timeout"`
		CheckExit bool   `yaml:"check_exit"`
	}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.Send != "" && aux.Command != "" {
		return fmt.Errorf("line %d: step %q sets both send and command", value.Line, aux.Name)
	}
	s.Name = aux.Name
	s.Send = aux.Send
	if s.Send == "" {
		s.Send = aux.Command
	}
	s.Expect = aux.Expect
	s.Timeout = aux.Timeout
	s.CheckExit = aux.CheckExit
	return nil
}
