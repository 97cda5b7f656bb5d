package repl

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"micropython-service/internal/protocol"
)

// ChunkFunc observes fragments as they arrive. A nil ChunkFunc is allowed
// everywhere one is accepted.
type ChunkFunc func(fragment []byte)

// Framer turns transport fragments into pattern-delimited buffers and paces
// outgoing writes.
type Framer struct {
	transport protocol.Transport
	logger    *zap.Logger
}

// NewFramer wraps an open transport.
func NewFramer(transport protocol.Transport, logger *zap.Logger) *Framer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Framer{transport: transport, logger: logger}
}

// ReadUntil accumulates input until pattern occurs anywhere in it and
// returns everything accumulated, pattern included. A zero timeout waits
// forever. On timeout the accumulated bytes are not returned as a result;
// they ride in the error's Buffer.
func (f *Framer) ReadUntil(ctx context.Context, pattern []byte, timeout time.Duration, onChunk ChunkFunc) ([]byte, error) {
	readable := f.transport.Readable()
	if readable == nil {
		return nil, NewError(KindNotOpen, "", nil, protocol.ErrNotOpen)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var buf []byte
	for {
		select {
		case chunk, ok := <-readable:
			if !ok {
				return nil, NewError(KindTransport, "", buf, protocol.ErrNotOpen)
			}
			// Only the tail that could hold a new match needs scanning.
			from := len(buf) - len(pattern) + 1
			if from < 0 {
				from = 0
			}
			buf = append(buf, chunk...)
			if onChunk != nil {
				onChunk(chunk)
			}
			if bytes.Contains(buf[from:], pattern) {
				return buf, nil
			}
		case <-deadline:
			f.logger.Debug("Read deadline exceeded",
				zap.ByteString("pattern", pattern),
				zap.Duration("timeout", timeout),
				zap.Int("buffered", len(buf)),
			)
			return nil, NewError(KindTimeout, "", buf, nil)
		case <-ctx.Done():
			return nil, contextError("", ctx, buf)
		}
	}
}

// Write sends data as a single burst.
func (f *Framer) Write(ctx context.Context, data []byte) error {
	if err := f.transport.Write(ctx, data); err != nil {
		if ctx.Err() != nil {
			return contextError("", ctx, nil)
		}
		if errors.Is(err, protocol.ErrNotOpen) {
			return NewError(KindNotOpen, "", nil, err)
		}
		return NewError(KindTransport, "", nil, err)
	}
	return nil
}

// WritePaced writes data in plan.Size fragments, draining after each one
// and sleeping plan.Delay between them, so the board's input buffer never
// overruns.
func (f *Framer) WritePaced(ctx context.Context, data []byte, plan ChunkPlan) error {
	chunks := plan.Split(data)
	for i, chunk := range chunks {
		if err := f.Write(ctx, chunk); err != nil {
			return err
		}
		if err := f.transport.Drain(); err != nil {
			return NewError(KindTransport, "", nil, err)
		}
		if i == len(chunks)-1 {
			break
		}
		if err := sleep(ctx, plan.Delay); err != nil {
			return contextError("", ctx, nil)
		}
	}
	return nil
}

// Discard drops input that is already queued and returns it.
func (f *Framer) Discard() []byte {
	var dropped []byte
	for {
		chunk := f.transport.Poll()
		if chunk == nil {
			break
		}
		dropped = append(dropped, chunk...)
	}
	if len(dropped) > 0 {
		f.logger.Debug("Discarded stale input", zap.Binary("data", dropped))
	}
	return dropped
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// contextError maps a finished context to the REPL taxonomy: preemption
// causes become Preempted, deadlines become Timeout.
func contextError(op string, ctx context.Context, buf []byte) error {
	cause := context.Cause(ctx)
	var pe *Error
	if errors.As(cause, &pe) && pe.Kind == KindPreempted {
		return NewError(KindPreempted, op, buf, pe.Err)
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return NewError(KindTimeout, op, buf, cause)
	}
	return NewError(KindCanceled, op, buf, cause)
}
