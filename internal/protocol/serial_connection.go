// internal/protocol/serial_connection.go
package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate is the only rate MicroPython USB/UART REPLs are driven at.
	DefaultBaudRate = 115200

	readBufferSize = 1024
	readQueueDepth = 256
)

// SerialConfig represents serial connection configuration
type SerialConfig struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate"`
	DataBits int           `json:"data_bits"`
	StopBits int           `json:"stop_bits"`
	Parity   string        `json:"parity"`
	ReadPoll time.Duration `json:"read_poll"`
}

// SerialConnection implements Transport for serial ports
type SerialConnection struct {
	config   *SerialConfig
	openPort func(name string, mode *serial.Mode) (serial.Port, error)
	port     serial.Port
	logger   *zap.Logger
	mutex    sync.RWMutex
	isOpen   bool

	readable chan []byte
	done     chan struct{}
	readerWG sync.WaitGroup

	statsMu sync.Mutex
	stats   *ProtocolStats
}

// NewSerialConnection creates a new serial connection
func NewSerialConnection(config *SerialConfig, logger *zap.Logger) *SerialConnection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SerialConnection{
		config:   config,
		openPort: serial.Open,
		logger: logger.With(
			zap.String("protocol", "serial"),
			zap.String("port", config.Port),
		),
		stats: &ProtocolStats{
			IsConnected: false,
		},
	}
}

// SerialFactory returns a Factory that opens ports with the given template.
// The template's Port is replaced by the requested device.
func SerialFactory(template SerialConfig, logger *zap.Logger) Factory {
	return func(device string) Transport {
		cfg := template
		cfg.Port = device
		return NewSerialConnection(&cfg, logger)
	}
}

// Open opens the serial connection and starts the reader goroutine
func (sc *SerialConnection) Open(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.isOpen {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	baudRate := sc.config.BaudRate
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	dataBits := sc.config.DataBits
	if dataBits == 0 {
		dataBits = 8
	}

	sc.logger.Info("Opening serial port",
		zap.String("port", sc.config.Port),
		zap.Int("baud_rate", baudRate),
	)

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		StopBits: stopBits(sc.config.StopBits),
		Parity:   parity(sc.config.Parity),
	}

	port, err := sc.openPort(sc.config.Port, mode)
	if err != nil {
		sc.logger.Error("Failed to open serial port", zap.Error(err))
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	// A bounded read lets the reader notice Close without relying on the
	// driver unblocking a pending read.
	poll := sc.config.ReadPoll
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if err := port.SetReadTimeout(poll); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	sc.port = port
	sc.isOpen = true
	sc.readable = make(chan []byte, readQueueDepth)
	sc.done = make(chan struct{})

	sc.statsMu.Lock()
	sc.stats.IsConnected = true
	sc.stats.LastActivity = time.Now()
	sc.statsMu.Unlock()

	sc.readerWG.Add(1)
	go sc.readLoop(port, sc.readable, sc.done)

	sc.logger.Info("Serial port opened successfully")
	return nil
}

// Close closes the serial connection. Closing a closed connection is a no-op.
func (sc *SerialConnection) Close() error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if !sc.isOpen || sc.port == nil {
		return nil
	}

	close(sc.done)
	err := sc.port.Close()
	sc.readerWG.Wait()

	sc.port = nil
	sc.isOpen = false

	sc.statsMu.Lock()
	sc.stats.IsConnected = false
	sc.statsMu.Unlock()

	if err != nil {
		sc.logger.Error("Failed to close serial port", zap.Error(err))
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	sc.logger.Info("Serial port closed successfully")
	return nil
}

// IsOpen returns whether the connection is open
func (sc *SerialConnection) IsOpen() bool {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.isOpen && sc.port != nil
}

// Device returns the configured port path
func (sc *SerialConnection) Device() string {
	return sc.config.Port
}

// Write writes data to the serial port
func (sc *SerialConnection) Write(ctx context.Context, data []byte) error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotOpen
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	startTime := time.Now()
	n, err := sc.port.Write(data)
	if err != nil {
		sc.recordError()
		sc.logger.Error("Serial write failed", zap.Error(err))
		return fmt.Errorf("failed to write to serial port: %w", err)
	}

	if n != len(data) {
		return fmt.Errorf("incomplete write: wrote %d of %d bytes", n, len(data))
	}

	sc.statsMu.Lock()
	sc.stats.BytesWritten += int64(len(data))
	sc.stats.OperationCount++
	sc.stats.LastActivity = time.Now()
	sc.updateAverageLatency(time.Since(startTime))
	sc.statsMu.Unlock()

	sc.logger.Debug("Serial write completed", zap.Int("bytes", len(data)), zap.Binary("data", data))
	return nil
}

// Drain waits until the OS has transmitted all written bytes
func (sc *SerialConnection) Drain() error {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()

	if !sc.isOpen || sc.port == nil {
		return ErrNotOpen
	}
	if err := sc.port.Drain(); err != nil {
		sc.recordError()
		return fmt.Errorf("failed to drain serial port: %w", err)
	}
	return nil
}

// Readable returns the fragment channel of the current connection
func (sc *SerialConnection) Readable() <-chan []byte {
	sc.mutex.RLock()
	defer sc.mutex.RUnlock()
	return sc.readable
}

// Poll returns a queued fragment without blocking
func (sc *SerialConnection) Poll() []byte {
	ch := sc.Readable()
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

// Stats returns a snapshot of the connection statistics
func (sc *SerialConnection) Stats() ProtocolStats {
	sc.statsMu.Lock()
	defer sc.statsMu.Unlock()
	return *sc.stats
}

// readLoop copies port input into the readable channel until done is closed
// or the port fails.
func (sc *SerialConnection) readLoop(port serial.Port, out chan<- []byte, done <-chan struct{}) {
	defer sc.readerWG.Done()
	defer close(out)

	buffer := make([]byte, readBufferSize)
	for {
		n, err := port.Read(buffer)
		if err != nil {
			select {
			case <-done:
			default:
				sc.recordError()
				sc.logger.Error("Serial read failed", zap.Error(err))
			}
			return
		}
		if n == 0 {
			select {
			case <-done:
				return
			default:
				continue
			}
		}

		chunk := make([]byte, n)
		copy(chunk, buffer[:n])

		sc.statsMu.Lock()
		sc.stats.BytesRead += int64(n)
		sc.stats.LastActivity = time.Now()
		sc.statsMu.Unlock()

		sc.logger.Debug("Serial read completed", zap.Int("bytes", n), zap.Binary("data", chunk))

		select {
		case out <- chunk:
		case <-done:
			return
		}
	}
}

func (sc *SerialConnection) recordError() {
	sc.statsMu.Lock()
	sc.stats.ErrorCount++
	sc.statsMu.Unlock()
}

// updateAverageLatency updates the running average latency
func (sc *SerialConnection) updateAverageLatency(newLatency time.Duration) {
	if sc.stats.AverageLatency == 0 {
		sc.stats.AverageLatency = newLatency
	} else {
		sc.stats.AverageLatency = (sc.stats.AverageLatency + newLatency) / 2
	}
}

func parity(name string) serial.Parity {
	switch name {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func stopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}
