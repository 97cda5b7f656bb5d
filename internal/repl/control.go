package repl

// Control bytes understood by the MicroPython REPL.
const (
	CtrlA byte = 0x01 // enter raw REPL
	CtrlB byte = 0x02 // exit raw REPL
	CtrlC byte = 0x03 // interrupt
	CtrlD byte = 0x04 // EOT: execute in raw mode, soft reboot in friendly mode
)

// Markers the board emits.
var (
	FriendlyPrompt = []byte("\r\n>>>")
	RawBanner      = []byte("raw REPL; CTRL-B to exit")
	OKPrefix       = []byte("OK")
	EOT            = []byte{CtrlD}
)
