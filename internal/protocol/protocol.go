// internal/protocol/protocol.go
package protocol

import (
	"context"
	"errors"
	"time"
)

// ErrNotOpen is returned by transport calls made before Open or after Close.
var ErrNotOpen = errors.New("transport not open")

// Transport is the byte stream a REPL session drives. It offers no flow
// control; pacing is the caller's job.
type Transport interface {
	// Connection lifecycle
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	// Data communication
	Write(ctx context.Context, data []byte) error
	// Drain blocks until everything written so far has left the host.
	Drain() error
	// Readable delivers each fragment as it arrives. The channel is closed
	// when the transport closes or the underlying device fails.
	Readable() <-chan []byte
	// Poll returns the next queued fragment, or nil when nothing is pending.
	Poll() []byte

	// Identification and diagnostics
	Device() string
	Stats() ProtocolStats
}

// ProtocolStats provides protocol-level statistics
type ProtocolStats struct {
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	OperationCount int64         `json:"operation_count"`
	ErrorCount     int64         `json:"error_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// Factory builds an unopened transport for a device path.
type Factory func(device string) Transport
