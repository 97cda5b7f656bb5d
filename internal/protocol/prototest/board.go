// Package prototest provides an in-memory MicroPython board that speaks the
// friendly and raw REPL protocols over a protocol.Transport, for tests.
package prototest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"micropython-service/internal/protocol"
)

const (
	// Banner is what the simulated board prints after a soft reboot or CTRL-B.
	Banner = "MicroPython v1.22.0 on 2024-01-01; Simulated board with RP2040\r\nType \"help()\" for more information.\r\n>>> "

	rawBanner = "raw REPL; CTRL-B to exit\r\n>"
	queueSize = 4096
)

// Result is what the simulated interpreter produces for one raw execution.
type Result struct {
	Stdout string
	Stderr string
	// Hang leaves the execution running until CTRL-C.
	Hang bool
	// Reject answers without the OK acknowledgement.
	Reject bool
}

// ExecFunc evaluates submitted code.
type ExecFunc func(code string) Result

// Board is a scripted MicroPython board. The zero value is not usable; call
// NewBoard.
type Board struct {
	mu       sync.Mutex
	device   string
	open     bool
	readable chan []byte

	raw      bool
	running  bool
	code     bytes.Buffer
	exec     ExecFunc
	fragment int
	silent   bool
	openErr  error

	written  bytes.Buffer
	writes   int
	drains   int
	executed []string
	stats    protocol.ProtocolStats
}

// NewBoard returns a closed board that evaluates code with exec. A nil exec
// prints nothing.
func NewBoard(exec ExecFunc) *Board {
	if exec == nil {
		exec = func(string) Result { return Result{} }
	}
	return &Board{exec: exec}
}

// Factory returns a protocol.Factory that always yields this board.
func (b *Board) Factory() protocol.Factory {
	return func(device string) protocol.Transport {
		b.mu.Lock()
		b.device = device
		b.mu.Unlock()
		return b
	}
}

// SetFragmentSize splits every response into fragments of n bytes (0 sends
// each response in one piece).
func (b *Board) SetFragmentSize(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragment = n
}

// SetSilent makes the board swallow input without answering.
func (b *Board) SetSilent(silent bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silent = silent
}

// SetOpenError makes the next Open calls fail with err.
func (b *Board) SetOpenError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openErr = err
}

// SetExec replaces the interpreter hook.
func (b *Board) SetExec(exec ExecFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exec = exec
}

// Inject queues raw bytes as if the board had sent them.
func (b *Board) Inject(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emitLocked(string(data))
}

// Raw reports whether the board is in raw REPL mode.
func (b *Board) Raw() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw
}

// Executed returns every code block the board has run, in order.
func (b *Board) Executed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.executed...)
}

// Written returns everything the host has written.
func (b *Board) Written() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.written.Bytes()...)
}

// WriteCalls returns the number of Write calls.
func (b *Board) WriteCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Drains returns the number of Drain calls.
func (b *Board) Drains() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drains
}

// Open implements protocol.Transport.
func (b *Board) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return b.openErr
	}
	if b.open {
		return nil
	}
	b.open = true
	b.readable = make(chan []byte, queueSize)
	b.stats.IsConnected = true
	return nil
}

// Close implements protocol.Transport.
func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	b.open = false
	close(b.readable)
	b.stats.IsConnected = false
	return nil
}

// IsOpen implements protocol.Transport.
func (b *Board) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Device implements protocol.Transport.
func (b *Board) Device() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

// Stats implements protocol.Transport.
func (b *Board) Stats() protocol.ProtocolStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Drain implements protocol.Transport.
func (b *Board) Drain() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return protocol.ErrNotOpen
	}
	b.drains++
	return nil
}

// Readable implements protocol.Transport.
func (b *Board) Readable() <-chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readable
}

// Poll implements protocol.Transport.
func (b *Board) Poll() []byte {
	ch := b.Readable()
	if ch == nil {
		return nil
	}
	select {
	case chunk := <-ch:
		return chunk
	default:
		return nil
	}
}

// Write implements protocol.Transport and feeds the REPL state machine.
func (b *Board) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return protocol.ErrNotOpen
	}
	b.writes++
	b.written.Write(data)
	b.stats.BytesWritten += int64(len(data))
	b.stats.OperationCount++
	b.stats.LastActivity = time.Now()
	for _, c := range data {
		b.feedLocked(c)
	}
	return nil
}

func (b *Board) feedLocked(c byte) {
	switch c {
	case 0x01:
		b.raw = true
		b.running = false
		b.code.Reset()
		b.emitLocked("\r\n" + rawBanner)
	case 0x02:
		b.raw = false
		b.running = false
		b.code.Reset()
		b.emitLocked("\r\n" + Banner)
	case 0x03:
		b.code.Reset()
		switch {
		case b.running:
			b.running = false
			b.emitLocked("\x04Traceback (most recent call last):\r\nKeyboardInterrupt: \r\n\x04>")
		case !b.raw:
			b.emitLocked("\r\n>>> ")
		}
	case 0x04:
		if !b.raw {
			b.emitLocked("MPY: soft reboot\r\n" + Banner)
			return
		}
		if b.running {
			return
		}
		code := b.code.String()
		b.code.Reset()
		if code == "" {
			b.emitLocked("OK\r\nMPY: soft reboot\r\n" + rawBanner)
			return
		}
		b.executed = append(b.executed, code)
		res := b.exec(code)
		switch {
		case res.Reject:
			b.emitLocked(res.Stdout + "\x04>")
		case res.Hang:
			b.running = true
			b.emitLocked("OK" + res.Stdout)
		default:
			b.emitLocked("OK" + res.Stdout + "\x04" + res.Stderr + "\x04>")
		}
	default:
		if b.raw {
			if !b.running {
				b.code.WriteByte(c)
			}
			return
		}
		b.emitLocked(string(c))
		if c == '\r' {
			b.emitLocked("\n>>> ")
		}
	}
}

func (b *Board) emitLocked(s string) {
	if b.silent || !b.open || s == "" {
		return
	}
	data := []byte(s)
	size := b.fragment
	if size <= 0 {
		size = len(data)
	}
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunk := append([]byte(nil), data[:n]...)
		data = data[n:]
		select {
		case b.readable <- chunk:
			b.stats.BytesRead += int64(len(chunk))
		default:
			panic(errors.New("prototest: board output queue full"))
		}
	}
}
