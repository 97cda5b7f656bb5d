package repl

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"micropython-service/internal/protocol"
)

// Config holds the tunables a session consumes. It is built by the caller
// from application configuration.
type Config struct {
	// Timeout bounds waits for the raw banner and the friendly prompt.
	Timeout time.Duration
	// ExecTimeout bounds the wait for an execution result in Run; zero waits
	// forever, since user code may loop until interrupted.
	ExecTimeout time.Duration
	// PromptSettle is the pause around the CTRL-C that precedes a prompt request.
	PromptSettle time.Duration
	CommandPlan  ChunkPlan
	Dialect      Dialect
}

// DefaultConfig returns conservative settings that work on every board
// observed so far.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		PromptSettle: 150 * time.Millisecond,
		CommandPlan:  DefaultCommandPlan,
		Dialect:      DialectTwoEOT,
	}
}

// Option customizes a Session.
type Option func(*Session)

// WithFs sets the filesystem Execfile reads local scripts from.
func WithFs(fs afero.Fs) Option {
	return func(s *Session) {
		s.fs = fs
	}
}

// Session owns one transport and tracks the believed REPL mode of the board
// behind it.
type Session struct {
	config  Config
	logger  *zap.Logger
	factory protocol.Factory
	fs      afero.Fs

	mu        sync.Mutex
	transport protocol.Transport
	framer    *Framer
	mode      Mode
	pending   *PendingOperation
}

// NewSession creates a closed session. factory builds the transport on Open.
func NewSession(config Config, factory protocol.Factory, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Dialect.Terminator) == 0 {
		config.Dialect = DialectTwoEOT
	}
	s := &Session{
		config:  config,
		logger:  logger.With(zap.String("component", "repl")),
		factory: factory,
		fs:      afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to device. An already open transport is closed first.
func (s *Session) Open(ctx context.Context, device string) error {
	if device == "" {
		return NewError(KindNoDeviceSpecified, "open", nil, nil)
	}

	s.preempt("open")
	if err := s.detach(); err != nil {
		s.logger.Warn("Failed to close previous transport", zap.Error(err))
	}

	transport := s.factory(device)
	if err := transport.Open(ctx); err != nil {
		s.logger.Error("Failed to open transport", zap.String("device", device), zap.Error(err))
		return NewError(KindTransportOpen, "open", nil, err)
	}

	s.mu.Lock()
	s.transport = transport
	s.framer = NewFramer(transport, s.logger)
	s.mode = ModeUnknown
	s.mu.Unlock()

	s.logger.Info("Session opened", zap.String("device", device))
	return nil
}

// Close releases the transport. Closing a closed session is a no-op.
func (s *Session) Close() error {
	s.preempt("close")
	if err := s.detach(); err != nil {
		return NewError(KindTransport, "close", nil, err)
	}
	return nil
}

func (s *Session) detach() error {
	s.mu.Lock()
	transport := s.transport
	s.transport = nil
	s.framer = nil
	s.mode = ModeUnknown
	s.mu.Unlock()

	if transport == nil {
		return nil
	}
	return transport.Close()
}

// IsOpen reports whether the session holds an open transport.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport != nil && s.transport.IsOpen()
}

// Device returns the open device path, or "".
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return ""
	}
	return s.transport.Device()
}

// Stats returns transport statistics; zero when closed.
func (s *Session) Stats() protocol.ProtocolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport == nil {
		return protocol.ProtocolStats{}
	}
	return s.transport.Stats()
}

// Mode returns the believed REPL mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.config
}

func (s *Session) setMode(mode Mode) {
	s.mu.Lock()
	prev := s.mode
	s.mode = mode
	s.mu.Unlock()
	if prev != mode {
		s.logger.Debug("REPL mode changed", zap.Stringer("from", prev), zap.Stringer("to", mode))
	}
}

func (s *Session) active() (*Framer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.framer == nil {
		return nil, NewError(KindNotOpen, "", nil, protocol.ErrNotOpen)
	}
	return s.framer, nil
}

// apply performs a transition: send, optionally await the marker, and
// record the resulting mode.
func (s *Session) apply(ctx context.Context, op string, t Transition, timeout time.Duration) ([]byte, error) {
	if t.Noop() {
		s.setMode(t.OnSuccess)
		return nil, nil
	}

	framer, err := s.active()
	if err != nil {
		return nil, withOp(err, op)
	}
	if err := framer.Write(ctx, t.Send); err != nil {
		s.setMode(t.OnFailure)
		return nil, withOp(err, op)
	}
	if t.Expect == nil {
		s.setMode(t.OnSuccess)
		return nil, nil
	}

	out, err := framer.ReadUntil(ctx, t.Expect, timeout, nil)
	if err != nil {
		s.setMode(t.OnFailure)
		return nil, withOp(err, op)
	}
	s.setMode(t.OnSuccess)
	return out, nil
}

// Interrupt sends CTRL-C. It does not change the tracked mode and may run
// while another operation waits for output; a running program answers with
// a KeyboardInterrupt traceback that completes that wait.
func (s *Session) Interrupt(ctx context.Context) error {
	_, err := s.apply(ctx, "interrupt", InterruptTransition(s.Mode()), 0)
	return err
}

// Eval writes keystrokes as is, for driving the friendly REPL.
func (s *Session) Eval(ctx context.Context, data []byte) error {
	framer, err := s.active()
	if err != nil {
		return withOp(err, "eval")
	}
	return withOp(framer.Write(ctx, data), "eval")
}

// EnterRaw switches the board to raw REPL mode. It re-issues CTRL-A even
// when the session already believes it is raw.
func (s *Session) EnterRaw(ctx context.Context, timeout time.Duration) ([]byte, error) {
	out, err := s.apply(ctx, "enter raw", EnterRawTransition(s.Mode()), timeout)
	if err != nil {
		var re *Error
		if errors.As(err, &re) && re.Kind == KindTimeout {
			return nil, NewError(KindEnterRawFailed, "enter raw", re.Buffer, err)
		}
		return nil, err
	}
	return out, nil
}

// ExitRaw sends CTRL-B when raw and marks the mode friendly without waiting
// for the prompt; follow with GetPrompt to wait for it. Outside raw mode it
// does nothing.
func (s *Session) ExitRaw(ctx context.Context) error {
	_, err := s.apply(ctx, "exit raw", ExitRawTransition(s.Mode()), 0)
	return err
}

// GetPrompt forces the board back to the friendly prompt from any mode. It
// runs as the pending operation: a run in flight is preempted first, and a
// run started meanwhile preempts the prompt request instead of having its
// program interrupted.
func (s *Session) GetPrompt(ctx context.Context, timeout time.Duration) ([]byte, error) {
	op, opCtx, err := s.begin(ctx, "get prompt")
	if err != nil {
		return nil, err
	}
	defer s.finish(op)

	out, err := s.awaitPrompt(opCtx, timeout)
	if err := settle(opCtx, "get prompt", err); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) awaitPrompt(ctx context.Context, timeout time.Duration) ([]byte, error) {
	if err := sleep(ctx, s.config.PromptSettle); err != nil {
		return nil, contextError("get prompt", ctx, nil)
	}
	if _, err := s.apply(ctx, "get prompt", InterruptTransition(s.Mode()), 0); err != nil {
		return nil, err
	}
	if err := sleep(ctx, s.config.PromptSettle); err != nil {
		return nil, contextError("get prompt", ctx, nil)
	}
	if framer, err := s.active(); err == nil {
		framer.Discard()
	}
	return s.apply(ctx, "get prompt", PromptTransition(s.Mode()), timeout)
}

// Stop cancels any pending run and sends CTRL-C.
func (s *Session) Stop(ctx context.Context) error {
	s.preempt("stop")
	_, err := s.apply(ctx, "stop", InterruptTransition(s.Mode()), 0)
	return err
}

// Reset cancels any pending run, interrupts and soft reboots the board.
func (s *Session) Reset(ctx context.Context) error {
	s.preempt("reset")
	_, err := s.apply(ctx, "reset", ResetTransition(s.Mode()), 0)
	return err
}

// withOp names the operation on a REPL error that does not carry one yet.
func withOp(err error, op string) error {
	var re *Error
	if errors.As(err, &re) && re.Op == "" {
		re.Op = op
	}
	return err
}
