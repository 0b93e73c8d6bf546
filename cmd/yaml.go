package cmd

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlUnmarshal decodes b strictly: unknown keys in a runbook are an error.
func yamlUnmarshal(b []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("yaml unmarshal: %w", err)
	}
	return nil
}
