package cmd

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Terminal access is stubbed in tests.
var (
	stdinIsTerminal  = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	readPasswordFunc = func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) }
)

// resolvePassword returns the credential to use. A configured password
// wins; otherwise, when the password is actually needed (no key, or sudo)
// and stdin is a terminal, the operator is asked for it without echo.
func resolvePassword(given, keyPath string, sudo bool, user, target string, prompt io.Writer) (string, error) {
	if given != "" {
		return given, nil
	}
	if keyPath != "" && !sudo {
		return "", nil
	}
	if !stdinIsTerminal() {
		return "", nil
	}
	_, _ = fmt.Fprintf(prompt, "Password for %s@%s: ", user, target)
	b, err := readPasswordFunc()
	_, _ = fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
