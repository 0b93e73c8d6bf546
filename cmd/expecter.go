package cmd

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"time"
)

// tailLen bounds how much unconsumed output is quoted in an expectError.
const tailLen = 256

// expecter buffers everything the remote shell prints and lets a caller
// block until a pattern shows up. A single goroutine pumps the stream into
// the buffer and mirrors it to the transcript as it arrives.
type expecter struct {
	mu     sync.Mutex
	buf    []byte
	err    error
	notify chan struct{}

	transcript io.Writer
}

func newExpecter(r io.Reader, transcript io.Writer) *expecter {
	e := &expecter{
		notify:     make(chan struct{}, 1),
		transcript: transcript,
	}
	go e.pump(r)
	return e
}

func (e *expecter) pump(r io.Reader) {
	chunk := make([]byte, 4096)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if e.transcript != nil {
				_, _ = e.transcript.Write(chunk[:n])
			}
			e.mu.Lock()
			e.buf = append(e.buf, chunk[:n]...)
			e.mu.Unlock()
			e.signal()
		}
		if err != nil {
			e.mu.Lock()
			e.err = err
			e.mu.Unlock()
			e.signal()
			return
		}
	}
}

func (e *expecter) signal() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// expect waits until one of patterns matches the buffered output and
// returns the index of the pattern that matched first in the stream, the
// output preceding the match and the submatches. Output up to the end of
// the match is consumed. A zero timeout waits for ctx only.
func (e *expecter) expect(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) (int, string, []string, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		e.mu.Lock()
		idx, loc := firstMatch(e.buf, patterns)
		if idx >= 0 {
			before := string(e.buf[:loc[0]])
			groups := make([]string, 0, len(loc)/2)
			for i := 0; i+1 < len(loc); i += 2 {
				if loc[i] < 0 {
					groups = append(groups, "")
					continue
				}
				groups = append(groups, string(e.buf[loc[i]:loc[i+1]]))
			}
			e.buf = append([]byte(nil), e.buf[loc[1]:]...)
			e.mu.Unlock()
			return idx, before, groups, nil
		}
		readErr := e.err
		tail := e.tailLocked()
		e.mu.Unlock()

		if readErr != nil {
			cause := errSessionClosed
			if !errors.Is(readErr, io.EOF) {
				cause = errors.Join(errSessionClosed, readErr)
			}
			return -1, tail, nil, &expectError{Want: patternStrings(patterns), Tail: tail, Err: cause}
		}

		select {
		case <-e.notify:
		case <-deadline:
			return -1, tail, nil, &expectError{Want: patternStrings(patterns), Tail: tail, Err: errPromptTimeout}
		case <-ctx.Done():
			return -1, tail, nil, ctx.Err()
		}
	}
}

// waitClosed blocks until the remote side ends the stream.
func (e *expecter) waitClosed(ctx context.Context, timeout time.Duration) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		e.mu.Lock()
		readErr := e.err
		tail := e.tailLocked()
		e.mu.Unlock()
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return readErr
		}
		select {
		case <-e.notify:
		case <-deadline:
			return &expectError{Want: []string{"end of session"}, Tail: tail, Err: errPromptTimeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *expecter) tailLocked() string {
	if len(e.buf) <= tailLen {
		return string(e.buf)
	}
	return string(e.buf[len(e.buf)-tailLen:])
}

// firstMatch returns the pattern whose match starts earliest in b.
func firstMatch(b []byte, patterns []*regexp.Regexp) (int, []int) {
	best := -1
	var bestLoc []int
	for i, re := range patterns {
		loc := re.FindSubmatchIndex(b)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < bestLoc[0] {
			best, bestLoc = i, loc
		}
	}
	return best, bestLoc
}

func patternStrings(patterns []*regexp.Regexp) []string {
	out := make([]string, 0, len(patterns))
	for _, re := range patterns {
		out = append(out, re.String())
	}
	return out
}

// literal compiles s as an exact-substring pattern.
func literal(s string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(s))
}
