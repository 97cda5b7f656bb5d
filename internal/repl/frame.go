package repl

import (
	"bytes"
	"fmt"
	"strings"
)

// Dialect is the response terminator grammar a board speaks.
type Dialect struct {
	Name       string
	Terminator []byte
}

var (
	// DialectTwoEOT reads through "<stdout>\x04<traceback>\x04>". Matching on
	// "\x04>" covers both an empty and a non-empty traceback section.
	DialectTwoEOT = Dialect{Name: "eot-eot", Terminator: []byte("\x04>")}
	// DialectSingleEOT stops at the first EOT after stdout.
	DialectSingleEOT = Dialect{Name: "eot", Terminator: []byte{CtrlD}}
)

// DialectByName resolves a configured dialect name. Empty selects two-EOT.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DialectTwoEOT.Name:
		return DialectTwoEOT, nil
	case DialectSingleEOT.Name:
		return DialectSingleEOT, nil
	default:
		return Dialect{}, fmt.Errorf("unknown REPL dialect %q", name)
	}
}

// ResponseFrame is one parsed raw-mode execution result.
type ResponseFrame struct {
	Stdout    []byte `json:"stdout"`
	HadError  bool   `json:"had_error"`
	ErrorText []byte `json:"error_text,omitempty"`
	Raw       []byte `json:"-"`
}

// Err returns the traceback as a *RemoteError, or nil when there was none.
func (f *ResponseFrame) Err() error {
	if f == nil || !f.HadError {
		return nil
	}
	return &RemoteError{Traceback: strings.TrimSpace(string(f.ErrorText))}
}

// StripPrefix removes prefix from b and reports whether it was there.
func StripPrefix(b, prefix []byte) ([]byte, bool) {
	if !bytes.HasPrefix(b, prefix) {
		return b, false
	}
	return b[len(prefix):], true
}

// SplitOnFirst cuts b around the first sep.
func SplitOnFirst(b, sep []byte) (before, after []byte, found bool) {
	return bytes.Cut(b, sep)
}

// stripRawPrompt drops the "\r\n>" tail of the raw banner. Entering raw
// mode only waits for the banner text, so on a slow link the tail can land
// after the stale input was discarded and lead the next response.
func stripRawPrompt(b []byte) []byte {
	return bytes.TrimLeft(b, "\r\n>")
}

// ParseResponse extracts stdout and the traceback section from a framed
// raw-mode response.
func ParseResponse(raw []byte) (*ResponseFrame, error) {
	body, ok := StripPrefix(stripRawPrompt(raw), OKPrefix)
	if !ok {
		return nil, NewError(KindRejected, "execute", raw, nil)
	}

	frame := &ResponseFrame{Raw: raw}
	stdout, rest, _ := SplitOnFirst(body, EOT)
	frame.Stdout = stdout

	errText, _, _ := SplitOnFirst(rest, EOT)
	if len(errText) > 0 {
		frame.HadError = true
		frame.ErrorText = errText
	}
	return frame, nil
}
