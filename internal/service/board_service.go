// internal/service/board_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"micropython-service/internal/config"
	"micropython-service/internal/discovery"
	"micropython-service/internal/fileops"
	"micropython-service/internal/protocol"
	"micropython-service/internal/repl"
	"micropython-service/internal/utils"
)

var (
	// ErrNotConnected is returned for board operations before Connect.
	ErrNotConnected = errors.New("board not connected")
	// ErrBoardUnavailable is returned while the circuit breaker is open.
	ErrBoardUnavailable = errors.New("board unavailable")
)

// PortScanner lists serial ports that may have a board behind them.
type PortScanner interface {
	Scan(ctx context.Context) ([]*discovery.DiscoveredDevice, error)
}

// PendingInfo describes the operation in flight on the board.
type PendingInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
}

// BoardStatus is a snapshot of the connection.
type BoardStatus struct {
	Connected   bool                   `json:"connected"`
	Device      string                 `json:"device,omitempty"`
	Mode        string                 `json:"mode"`
	ConnectedAt *time.Time             `json:"connected_at,omitempty"`
	Pending     *PendingInfo           `json:"pending,omitempty"`
	Stats       protocol.ProtocolStats `json:"stats"`
	Breaker     string                 `json:"breaker,omitempty"`
}

// BoardService owns the single board connection the bridge exposes.
type BoardService struct {
	factory protocol.Factory
	scanner PortScanner
	local   afero.Fs
	config  *config.Config
	logger  *utils.ServiceLogger
	breaker *gobreaker.CircuitBreaker[any]

	mu          sync.Mutex
	session     *repl.Session
	files       *fileops.FS
	board       *utils.BoardLogger
	connectedAt time.Time
	// released is set by an explicit Disconnect; lost by a transport failure.
	released bool
	lost     bool
}

// NewBoardService creates a disconnected board service.
func NewBoardService(
	factory protocol.Factory,
	scanner PortScanner,
	local afero.Fs,
	cfg *config.Config,
	logger *zap.Logger,
) *BoardService {
	if local == nil {
		local = afero.NewOsFs()
	}
	bs := &BoardService{
		factory: factory,
		scanner: scanner,
		local:   local,
		config:  cfg,
		logger:  utils.NewServiceLogger(logger, "board-service"),
	}
	if cfg.Breaker.Enabled {
		bs.breaker = newBreaker(cfg.Breaker, bs.logger.Logger)
	}
	return bs
}

func newBreaker(cfg config.BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 3
	}
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "board",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return !IsLinkFailure(err)
		},
	})
}

// IsLinkFailure reports whether err means the link or the REPL state is
// broken, as opposed to a remote exception or a bad request.
func IsLinkFailure(err error) bool {
	if err == nil {
		return false
	}
	switch repl.KindOf(err) {
	case repl.KindTimeout, repl.KindTransport, repl.KindEnterRawFailed, repl.KindRejected:
		return true
	}
	return false
}

// Ports lists candidate boards.
func (bs *BoardService) Ports(ctx context.Context) ([]*discovery.DiscoveredDevice, error) {
	return bs.scanner.Scan(ctx)
}

// Connect opens device, or the configured port when device is empty, and
// brings the board to the friendly prompt. A previous connection is closed.
func (bs *BoardService) Connect(ctx context.Context, device string) (*BoardStatus, error) {
	if device == "" {
		device = bs.config.Serial.Port
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.session != nil {
		if err := bs.session.Close(); err != nil {
			bs.board.LogConnection("close", err)
		}
		bs.session = nil
		bs.files = nil
	}

	board := utils.NewBoardLogger(bs.logger.Logger, device)
	session := repl.NewSession(bs.config.ReplSessionConfig(), bs.factory, board.Logger, repl.WithFs(bs.local))
	if err := session.Open(ctx, device); err != nil {
		board.LogConnection("open", err)
		return nil, err
	}
	board.LogConnection("open", nil)

	if _, err := session.GetPrompt(ctx, bs.config.Repl.Timeout); err != nil {
		// A board busy running a program still counts as connected.
		board.Warn("Board did not show a prompt", zap.Error(err))
	}

	bs.session = session
	bs.files = fileops.New(session, bs.config.FileOptions(), bs.local, board.Logger)
	bs.board = board
	bs.connectedAt = time.Now()
	bs.released = false
	bs.lost = false
	return bs.statusLocked(), nil
}

// Disconnect closes the connection. Disconnecting twice is a no-op.
func (bs *BoardService) Disconnect(ctx context.Context) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	bs.released = true
	if bs.session == nil {
		return nil
	}
	err := bs.session.Close()
	bs.board.LogConnection("close", err)
	bs.session = nil
	bs.files = nil
	return err
}

// Reconnect opens the configured port when the board is not attached
// because it was never connected or its link failed. An explicit
// Disconnect suppresses it until the next Connect. It reports whether an
// attempt was made.
func (bs *BoardService) Reconnect(ctx context.Context) (bool, error) {
	if bs.config.Serial.Port == "" {
		return false, nil
	}

	bs.mu.Lock()
	attached := bs.session != nil && bs.session.IsOpen() && !bs.lost
	released := bs.released
	bs.mu.Unlock()
	if attached || released {
		return false, nil
	}

	_, err := bs.Connect(ctx, "")
	return true, err
}

func (bs *BoardService) markLost(session *repl.Session) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.session == session {
		bs.lost = true
	}
}

// Close releases the connection on shutdown.
func (bs *BoardService) Close() error {
	return bs.Disconnect(context.Background())
}

// Status returns the current connection snapshot.
func (bs *BoardService) Status() *BoardStatus {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.statusLocked()
}

func (bs *BoardService) statusLocked() *BoardStatus {
	status := &BoardStatus{Mode: repl.ModeUnknown.String()}
	if bs.breaker != nil {
		status.Breaker = bs.breaker.State().String()
	}
	if bs.session == nil {
		return status
	}

	connectedAt := bs.connectedAt
	status.Connected = bs.session.IsOpen()
	status.Device = bs.session.Device()
	status.Mode = bs.session.Mode().String()
	status.ConnectedAt = &connectedAt
	status.Stats = bs.session.Stats()
	if op := bs.session.Pending(); op != nil {
		status.Pending = &PendingInfo{ID: op.ID.String(), Name: op.Name, Started: op.Started}
	}
	return status
}

func (bs *BoardService) current() (*repl.Session, *fileops.FS, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.session == nil {
		return nil, nil, ErrNotConnected
	}
	return bs.session, bs.files, nil
}

// guarded runs fn against the board through the circuit breaker, logging
// it as one operation.
func guarded[T any](ctx context.Context, bs *BoardService, name string, fn func(*repl.Session, *fileops.FS) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	session, files, err := bs.current()
	if err != nil {
		return zero, err
	}

	opLogger := utils.NewOperationLogger(bs.logger.Logger, name, uuid.NewString())
	opLogger.Start(zap.String("device", session.Device()))

	call := func() (any, error) {
		return fn(session, files)
	}
	var result any
	if bs.breaker != nil {
		result, err = bs.breaker.Execute(call)
	} else {
		result, err = call()
	}
	if err != nil {
		if repl.KindOf(err) == repl.KindTransport {
			bs.markLost(session)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrBoardUnavailable, err)
		}
		switch repl.KindOf(err) {
		case repl.KindPreempted, repl.KindCanceled:
			opLogger.Warn(err.Error())
		default:
			opLogger.Error(err)
		}
		return zero, err
	}
	opLogger.Success()

	value, _ := result.(T)
	return value, nil
}

// Exec runs code and streams output fragments to onChunk.
func (bs *BoardService) Exec(ctx context.Context, code string, onChunk repl.ChunkFunc) (*repl.ResponseFrame, error) {
	return guarded(ctx, bs, "exec", func(s *repl.Session, _ *fileops.FS) (*repl.ResponseFrame, error) {
		return s.Run(ctx, []byte(code), onChunk)
	})
}

// Interrupt sends CTRL-C without touching the pending operation. It
// bypasses the breaker so a stuck board can always be interrupted.
func (bs *BoardService) Interrupt(ctx context.Context) error {
	session, _, err := bs.current()
	if err != nil {
		return err
	}
	return session.Interrupt(ctx)
}

// Stop cancels the pending operation and interrupts the board.
func (bs *BoardService) Stop(ctx context.Context) error {
	session, _, err := bs.current()
	if err != nil {
		return err
	}
	return session.Stop(ctx)
}

// Reset cancels the pending operation and soft reboots the board.
func (bs *BoardService) Reset(ctx context.Context) error {
	session, _, err := bs.current()
	if err != nil {
		return err
	}
	return session.Reset(ctx)
}

// Prompt resynchronizes the board to the friendly prompt.
func (bs *BoardService) Prompt(ctx context.Context) error {
	session, _, err := bs.current()
	if err != nil {
		return err
	}
	_, err = session.GetPrompt(ctx, bs.config.Repl.Timeout)
	return err
}

// ListFiles returns the names in dir.
func (bs *BoardService) ListFiles(ctx context.Context, dir string) ([]string, error) {
	return guarded(ctx, bs, "list", func(_ *repl.Session, fs *fileops.FS) ([]string, error) {
		return fs.List(ctx, dir)
	})
}

// ListEntries returns typed entries for dir.
func (bs *BoardService) ListEntries(ctx context.Context, dir string) ([]fileops.DirEntry, error) {
	return guarded(ctx, bs, "list detailed", func(_ *repl.Session, fs *fileops.FS) ([]fileops.DirEntry, error) {
		return fs.ListDetailed(ctx, dir)
	})
}

// Exists reports whether path exists on the board.
func (bs *BoardService) Exists(ctx context.Context, path string) (bool, error) {
	return guarded(ctx, bs, "exists", func(_ *repl.Session, fs *fileops.FS) (bool, error) {
		return fs.Exists(ctx, path)
	})
}

// ReadFile returns the content of path. Text reads normalize line endings;
// binary reads return the exact bytes.
func (bs *BoardService) ReadFile(ctx context.Context, path string, binary bool) ([]byte, error) {
	return guarded(ctx, bs, "read", func(_ *repl.Session, fs *fileops.FS) ([]byte, error) {
		if binary {
			return fs.ReadBytes(ctx, path)
		}
		return fs.Read(ctx, path)
	})
}

// WriteFile uploads content to path.
func (bs *BoardService) WriteFile(ctx context.Context, path string, content []byte, progress fileops.ProgressFunc) error {
	_, err := guarded(ctx, bs, "write", func(_ *repl.Session, fs *fileops.FS) ([]byte, error) {
		return fs.Write(ctx, path, content, progress)
	})
	return err
}

// RemoveFile deletes a file and reports whether the board accepted it.
func (bs *BoardService) RemoveFile(ctx context.Context, path string) (bool, error) {
	return guarded(ctx, bs, "remove", func(_ *repl.Session, fs *fileops.FS) (bool, error) {
		return fs.Remove(ctx, path)
	})
}

// RemoveDir deletes an empty directory and reports whether the board
// accepted it.
func (bs *BoardService) RemoveDir(ctx context.Context, path string) (bool, error) {
	return guarded(ctx, bs, "rmdir", func(_ *repl.Session, fs *fileops.FS) (bool, error) {
		return fs.Rmdir(ctx, path)
	})
}

// MakeDir creates a directory.
func (bs *BoardService) MakeDir(ctx context.Context, path string) error {
	_, err := guarded(ctx, bs, "mkdir", func(_ *repl.Session, fs *fileops.FS) (struct{}, error) {
		return struct{}{}, fs.Mkdir(ctx, path)
	})
	return err
}

// Rename moves a file or directory.
func (bs *BoardService) Rename(ctx context.Context, from, to string) error {
	_, err := guarded(ctx, bs, "rename", func(_ *repl.Session, fs *fileops.FS) (struct{}, error) {
		return struct{}{}, fs.Rename(ctx, from, to)
	})
	return err
}
