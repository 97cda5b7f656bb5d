package repl

// Mode is the believed state of the remote REPL.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeFriendly
	ModeRaw
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeFriendly:
		return "friendly"
	case ModeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Transition is the effect of a mode change: bytes to send, the marker that
// confirms it (nil when nothing is awaited) and the resulting modes.
type Transition struct {
	Send   []byte
	Expect []byte
	// OnSuccess is the mode once Expect is seen (or immediately if Expect is nil).
	OnSuccess Mode
	// OnFailure is the mode when the marker never shows up.
	OnFailure Mode
}

// Noop reports whether the transition sends nothing.
func (t Transition) Noop() bool {
	return len(t.Send) == 0
}

// EnterRawTransition re-issues CTRL-A from any mode; boards acknowledge it
// again even when already raw.
func EnterRawTransition(Mode) Transition {
	return Transition{
		Send:      []byte{CtrlA},
		Expect:    RawBanner,
		OnSuccess: ModeRaw,
		OnFailure: ModeUnknown,
	}
}

// ExitRawTransition sends CTRL-B only when raw; otherwise it keeps the mode.
func ExitRawTransition(current Mode) Transition {
	if current != ModeRaw {
		return Transition{OnSuccess: current, OnFailure: current}
	}
	return Transition{
		Send:      []byte{CtrlB},
		OnSuccess: ModeFriendly,
		OnFailure: ModeUnknown,
	}
}

// PromptTransition forces the friendly prompt: CTRL-C, then CTRL-C CTRL-B.
// The leading CTRL-C is sent separately by the caller, after a settle delay.
func PromptTransition(Mode) Transition {
	return Transition{
		Send:      []byte{'\r', CtrlC, CtrlB},
		Expect:    FriendlyPrompt,
		OnSuccess: ModeFriendly,
		OnFailure: ModeUnknown,
	}
}

// InterruptTransition sends CTRL-C and leaves the mode as is.
func InterruptTransition(current Mode) Transition {
	return Transition{Send: []byte{CtrlC}, OnSuccess: current, OnFailure: current}
}

// ResetTransition interrupts then soft reboots. Raw mode survives a soft
// reboot on MicroPython; friendly output afterwards is not awaited, so the
// mode becomes unknown unless the board was raw.
func ResetTransition(current Mode) Transition {
	next := ModeUnknown
	if current == ModeRaw {
		next = ModeRaw
	}
	return Transition{Send: []byte{CtrlC, CtrlD}, OnSuccess: next, OnFailure: ModeUnknown}
}
