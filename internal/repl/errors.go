package repl

import (
	"errors"
	"fmt"
)

// ErrorKind classifies REPL failures.
type ErrorKind int

const (
	// KindNoDeviceSpecified indicates Open was called without a device path.
	KindNoDeviceSpecified ErrorKind = iota + 1
	// KindTransportOpen indicates the underlying port could not be opened.
	KindTransportOpen
	// KindEnterRawFailed indicates the raw REPL banner was not observed.
	KindEnterRawFailed
	// KindTimeout indicates a read deadline passed before the expected marker.
	KindTimeout
	// KindPreempted indicates a pending run was superseded.
	KindPreempted
	// KindRejected indicates the board answered without the OK acknowledgement.
	KindRejected
	// KindDecode indicates remote output did not have the expected shape.
	KindDecode
	// KindPathRequired indicates a filesystem call without a path.
	KindPathRequired
	// KindCanceled indicates the caller's context ended the wait.
	KindCanceled
	// KindTransport indicates an I/O failure or a closed port.
	KindTransport
	// KindNotOpen indicates an operation on a session without a transport.
	KindNotOpen
)

var kindNames = map[ErrorKind]string{
	KindNoDeviceSpecified: "no device specified",
	KindTransportOpen:     "transport open failed",
	KindEnterRawFailed:    "could not enter raw REPL",
	KindTimeout:           "timed out",
	KindPreempted:         "preempted",
	KindRejected:          "rejected by board",
	KindDecode:            "decode failed",
	KindPathRequired:      "path required",
	KindCanceled:          "canceled",
	KindTransport:         "transport error",
	KindNotOpen:           "session not open",
}

// String implements fmt.Stringer.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, matched by kind through errors.Is.
var (
	ErrNoDeviceSpecified = &Error{Kind: KindNoDeviceSpecified}
	ErrTransportOpen     = &Error{Kind: KindTransportOpen}
	ErrEnterRawFailed    = &Error{Kind: KindEnterRawFailed}
	ErrTimeout           = &Error{Kind: KindTimeout}
	ErrPreempted         = &Error{Kind: KindPreempted}
	ErrRejected          = &Error{Kind: KindRejected}
	ErrDecode            = &Error{Kind: KindDecode}
	ErrPathRequired      = &Error{Kind: KindPathRequired}
	ErrCanceled          = &Error{Kind: KindCanceled}
	ErrTransport         = &Error{Kind: KindTransport}
	ErrNotOpen           = &Error{Kind: KindNotOpen}
)

// Error is the single error type of the REPL engine. Buffer holds the raw
// bytes received before the failure so callers can decide how to resync.
type Error struct {
	Kind   ErrorKind
	Op     string
	Buffer []byte
	Err    error
}

// NewError builds an Error.
func NewError(kind ErrorKind, op string, buffer []byte, cause error) *Error {
	return &Error{Kind: kind, Op: op, Buffer: buffer, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Buffer) > 0 {
		msg += fmt.Sprintf(" (received %q)", e.Buffer)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or 0 when err is not a REPL error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// RemoteError carries a traceback the board printed while running code.
type RemoteError struct {
	Traceback string
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return "remote exception: " + e.Traceback
}
