package cmd

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"":                   "''",
		"/etc/nginx/default": "/etc/nginx/default",
		"a=b,c:d@e+f":        "a=b,c:d@e+f",
		"listen 80;":         "'listen 80;'",
		"it's":               `'it'\''s'`,
		"$HOME":              "'$HOME'",
		"semi;colon && more": "'semi;colon && more'",
	}
	for in, want := range cases {
		require.Equal(t, want, shellQuote(in), "input %q", in)
	}
}

func TestShellQuote_RoundTripsThroughSh(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	for _, s := range []string{"plain", "two words", "it's", `back\slash`, "$(date)", "tab\there", "*"} {
		out, err := exec.Command("sh", "-c", "printf '%s' "+shellQuote(s)).Output()
		require.NoError(t, err)
		require.Equal(t, s, string(out))
	}
}

func TestNeedsQuoting(t *testing.T) {
	require.False(t, strings.ContainsFunc("abcXYZ019-_./@:,+=", needsQuoting))
	for _, r := range " \t'\"$`\\;&|<>(){}[]*?!#~" {
		require.True(t, needsQuoting(r), "rune %q", r)
	}
}
