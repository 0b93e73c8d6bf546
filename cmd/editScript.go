package cmd

import (
	"errors"
	"fmt"
	"strings"
)

// insertAwk copies its input and, after every line whose trimmed text is one
// of the anchors, emits the directive with the anchor's indentation unless
// the following line already mentions the directive key. It must stay on
// one line: it is typed into an interactive shell.
const insertAwk = `BEGIN { n = split(anchors, list, "\n"); for (i = 1; i <= n; i++) want[list[i]] = 1 } ` +
	`{ if (pending && index($0, key) == 0) print indent directive; pending = 0; print; ` +
	`t = $0; sub(/^[ \t]+/, "", t); sub(/[ \t\r]+$/, "", t); ` +
	`if (t in want) { pending = 1; match($0, /^[ \t]*/); indent = substr($0, 1, RLENGTH) } } ` +
	`END { if (pending) print indent directive }`

// directiveKey is the directive name, e.g. client_max_body_size.
func directiveKey(directive string) string {
	f := strings.Fields(directive)
	if len(f) == 0 {
		return ""
	}
	return f[0]
}

// editLine builds the remote shell line that patches path in place. The
// file is rewritten (same inode, same mode) only when the awk output
// differs, so an already patched file stays byte-for-byte unchanged.
//
// With policyAnchor each anchor is checked on its own. With policyGlobal
// nothing is touched when the key appears anywhere in the file.
func editLine(path, directive string, anchors []string, policy string) (string, error) {
	key := directiveKey(directive)
	if key == "" {
		return "", errors.New("directive is empty")
	}
	if len(anchors) == 0 {
		return "", errors.New("at least one anchor line is required")
	}
	trimmed := make([]string, 0, len(anchors))
	for _, a := range anchors {
		a = strings.TrimSpace(a)
		if a == "" {
			return "", errors.New("anchor lines must not be empty")
		}
		if strings.ContainsAny(a, "\n\\") {
			return "", fmt.Errorf("anchor %q contains a newline or backslash", a)
		}
		trimmed = append(trimmed, a)
	}
	if strings.Contains(directive, "\\") {
		return "", fmt.Errorf("directive %q contains a backslash", directive)
	}

	// awk turns the two-character sequence \n inside -v values into a newline.
	patch := fmt.Sprintf(`t="$f.ngxpatch.$$"; awk -v anchors=%s -v key=%s -v directive=%s %s "$f" > "$t" && { cmp -s "$t" "$f" || cat "$t" > "$f"; }; rc=$?; rm -f "$t"; (exit $rc)`,
		shellQuote(strings.Join(trimmed, `\n`)),
		shellQuote(key),
		shellQuote(strings.TrimSpace(directive)),
		shellQuote(insertAwk),
	)

	switch policy {
	case policyAnchor, "":
		return fmt.Sprintf("f=%s; %s", shellQuote(path), patch), nil
	case policyGlobal:
		return fmt.Sprintf("f=%s; if grep -qF -e %s \"$f\"; then :; else %s; fi", shellQuote(path), shellQuote(key), patch), nil
	default:
		return "", fmt.Errorf("unknown policy %q (want %s or %s)", policy, policyAnchor, policyGlobal)
	}
}

func copyLine(src, dst string) string {
	return fmt.Sprintf("cp -p %s %s", shellQuote(src), shellQuote(dst))
}

func grepLine(key, path string) string {
	return fmt.Sprintf("grep -n -F -e %s %s", shellQuote(key), shellQuote(path))
}
