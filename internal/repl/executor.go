package repl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// PendingOperation is the one logical operation allowed in flight per
// session. A newer one cancels it with a Preempted cause.
type PendingOperation struct {
	ID      uuid.UUID
	Name    string
	Started time.Time

	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Pending returns the in-flight operation, or nil.
func (s *Session) Pending() *PendingOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// begin installs a new pending operation, preempting and waiting out the
// previous one so the transport is never driven by two of them.
func (s *Session) begin(ctx context.Context, name string) (*PendingOperation, context.Context, error) {
	opCtx, cancel := context.WithCancelCause(ctx)
	op := &PendingOperation{
		ID:      uuid.New(),
		Name:    name,
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	prev := s.pending
	s.pending = op
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("Preempting pending operation",
			zap.String("operation_id", prev.ID.String()),
			zap.String("operation", prev.Name),
			zap.String("by", op.ID.String()),
		)
		prev.cancel(NewError(KindPreempted, prev.Name, nil, fmt.Errorf("superseded by %s %s", name, op.ID)))
		select {
		case <-prev.done:
		case <-ctx.Done():
			s.finish(op)
			return nil, nil, contextError(name, ctx, nil)
		}
	}
	return op, opCtx, nil
}

func (s *Session) finish(op *PendingOperation) {
	s.mu.Lock()
	if s.pending == op {
		s.pending = nil
	}
	s.mu.Unlock()
	op.cancel(nil)
	close(op.done)
}

// preempt rejects the pending operation, if any, without waiting for it.
// The operation keeps its slot until it has unwound, so the next begin
// still waits for it.
func (s *Session) preempt(reason string) {
	s.mu.Lock()
	op := s.pending
	s.mu.Unlock()

	if op == nil {
		return
	}
	s.logger.Info("Cancelling pending operation",
		zap.String("operation_id", op.ID.String()),
		zap.String("reason", reason),
	)
	op.cancel(NewError(KindPreempted, op.Name, nil, fmt.Errorf("pre %s", reason)))
}

// settle turns any failure of a preempted operation into Preempted, so a
// displaced caller never acts on a partial result.
func settle(opCtx context.Context, name string, err error) error {
	var pe *Error
	if errors.As(context.Cause(opCtx), &pe) && pe.Kind == KindPreempted {
		var buf []byte
		var re *Error
		if errors.As(err, &re) {
			buf = re.Buffer
		}
		return NewError(KindPreempted, name, buf, pe.Err)
	}
	return withOp(err, name)
}

// Execute submits code in raw mode and parses the framed response. The
// session is driven into raw mode first if needed. A timeout is not retried
// and may leave the tail of the response queued; resync with GetPrompt or
// Interrupt before the next command.
func (s *Session) Execute(ctx context.Context, code []byte, timeout time.Duration, onChunk ChunkFunc) (*ResponseFrame, error) {
	if s.Mode() != ModeRaw {
		if _, err := s.EnterRaw(ctx, s.config.Timeout); err != nil {
			return nil, err
		}
	}

	framer, err := s.active()
	if err != nil {
		return nil, withOp(err, "execute")
	}

	framer.Discard()
	if err := framer.WritePaced(ctx, code, s.config.CommandPlan); err != nil {
		s.setMode(ModeUnknown)
		return nil, withOp(err, "execute")
	}
	if err := framer.Write(ctx, EOT); err != nil {
		s.setMode(ModeUnknown)
		return nil, withOp(err, "execute")
	}

	raw, err := framer.ReadUntil(ctx, s.config.Dialect.Terminator, timeout, onChunk)
	if err != nil {
		s.setMode(ModeUnknown)
		return nil, withOp(err, "execute")
	}

	frame, err := ParseResponse(raw)
	if err != nil {
		s.setMode(ModeUnknown)
		return nil, err
	}

	s.logger.Debug("Execution completed",
		zap.Int("code_bytes", len(code)),
		zap.Int("stdout_bytes", len(frame.Stdout)),
		zap.Bool("had_error", frame.HadError),
	)
	return frame, nil
}

// WithRaw runs fn as the session's pending operation between entering and
// leaving raw mode. fn must issue its executions with the context it is
// given so preemption reaches them.
func (s *Session) WithRaw(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	op, opCtx, err := s.begin(ctx, name)
	if err != nil {
		return err
	}
	defer s.finish(op)

	if _, err := s.EnterRaw(opCtx, s.config.Timeout); err != nil {
		return settle(opCtx, name, err)
	}
	if err := fn(opCtx); err != nil {
		return settle(opCtx, name, err)
	}
	if err := s.ExitRaw(opCtx); err != nil {
		return settle(opCtx, name, err)
	}
	return settle(opCtx, name, nil)
}

// Run enters raw mode, executes code and leaves raw mode. A Run already in
// flight is rejected with Preempted before this one starts.
func (s *Session) Run(ctx context.Context, code []byte, onChunk ChunkFunc) (*ResponseFrame, error) {
	if len(code) == 0 {
		code = []byte("#")
	}
	var frame *ResponseFrame
	err := s.WithRaw(ctx, "run", func(ctx context.Context) error {
		var err error
		frame, err = s.Execute(ctx, code, s.config.ExecTimeout, onChunk)
		return err
	})
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// Execfile reads a local script and runs it.
func (s *Session) Execfile(ctx context.Context, path string, onChunk ChunkFunc) (*ResponseFrame, error) {
	if path == "" {
		return nil, NewError(KindPathRequired, "execfile", nil, nil)
	}
	content, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s.Run(ctx, content, onChunk)
}
