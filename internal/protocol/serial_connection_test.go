package protocol

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakePort is a serial.Port whose input is fed by the test. Reads honor the
// configured read timeout and fail once the port is closed.
type fakePort struct {
	incoming chan []byte
	closed   chan struct{}

	mu          sync.Mutex
	readTimeout time.Duration
	timeoutErr  error
	readErr     error
	written     bytes.Buffer
	drains      int
	closeCalls  int
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (p *fakePort) feed(s string) { p.incoming <- []byte(s) }

func (p *fakePort) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	timeout, err := p.readTimeout, p.readErr
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	select {
	case chunk := <-p.incoming:
		return copy(b, chunk), nil
	case <-p.closed:
		return 0, errors.New("port has been closed")
	case <-time.After(timeout):
		return 0, nil
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drains++
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return p.timeoutErr
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	if p.closeCalls == 1 {
		close(p.closed)
	}
	return nil
}

func (p *fakePort) SetMode(*serial.Mode) error { return nil }
func (p *fakePort) ResetInputBuffer() error    { return nil }
func (p *fakePort) ResetOutputBuffer() error   { return nil }
func (p *fakePort) SetDTR(bool) error          { return nil }
func (p *fakePort) SetRTS(bool) error          { return nil }
func (p *fakePort) Break(time.Duration) error  { return nil }

func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (p *fakePort) closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

func newFakeConnection(port *fakePort, logger *zap.Logger) (*SerialConnection, *serial.Mode) {
	sc := NewSerialConnection(&SerialConfig{Port: "/dev/ttyACM0", ReadPoll: 10 * time.Millisecond}, logger)
	var opened serial.Mode
	sc.openPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		if name != "/dev/ttyACM0" {
			return nil, errors.New("no such port")
		}
		opened = *mode
		return port, nil
	}
	return sc, &opened
}

func closedWithin(ch <-chan []byte, d time.Duration) bool {
	timeout := time.After(d)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return true
			}
		case <-timeout:
			return false
		}
	}
}

func TestSerialConnectionOpenConfiguresPort(t *testing.T) {
	port := newFakePort()
	sc, mode := newFakeConnection(port, nil)
	require.NoError(t, sc.Open(context.Background()))
	defer sc.Close()

	assert.Equal(t, serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}, *mode)
	assert.Equal(t, 10*time.Millisecond, port.readTimeout)
	assert.True(t, sc.IsOpen())
	assert.True(t, sc.Stats().IsConnected)
	assert.Equal(t, "/dev/ttyACM0", sc.Device())

	// A second Open keeps the existing port.
	require.NoError(t, sc.Open(context.Background()))
	assert.Zero(t, port.closes())
}

func TestSerialConnectionOpenFailures(t *testing.T) {
	sc := NewSerialConnection(&SerialConfig{Port: "/dev/ttyUSB9"}, nil)
	sc.openPort = func(string, *serial.Mode) (serial.Port, error) {
		return nil, errors.New("port busy")
	}
	err := sc.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial port")
	assert.False(t, sc.IsOpen())
	assert.Nil(t, sc.Readable())
	assert.Nil(t, sc.Poll())

	port := newFakePort()
	port.timeoutErr = errors.New("unsupported")
	sc, _ = newFakeConnection(port, nil)
	err = sc.Open(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set read timeout")
	assert.Equal(t, 1, port.closes())
	assert.False(t, sc.IsOpen())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc, _ = newFakeConnection(newFakePort(), nil)
	assert.ErrorIs(t, sc.Open(ctx), context.Canceled)
}

func TestSerialConnectionReadsAndWrites(t *testing.T) {
	port := newFakePort()
	sc, _ := newFakeConnection(port, nil)
	require.NoError(t, sc.Open(context.Background()))
	defer sc.Close()

	port.feed("raw REPL")
	select {
	case chunk := <-sc.Readable():
		assert.Equal(t, "raw REPL", string(chunk))
	case <-time.After(time.Second):
		t.Fatal("fragment was not delivered")
	}

	port.feed(">")
	require.Eventually(t, func() bool { return len(sc.Readable()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, ">", string(sc.Poll()))
	assert.Nil(t, sc.Poll())

	require.NoError(t, sc.Write(context.Background(), []byte{0x01}))
	require.NoError(t, sc.Drain())
	assert.Equal(t, []byte{0x01}, port.written.Bytes())
	assert.Equal(t, 1, port.drains)

	stats := sc.Stats()
	assert.EqualValues(t, 9, stats.BytesRead)
	assert.EqualValues(t, 1, stats.BytesWritten)
	assert.EqualValues(t, 1, stats.OperationCount)
}

func TestSerialConnectionCloseStopsReader(t *testing.T) {
	port := newFakePort()
	sc, _ := newFakeConnection(port, nil)
	require.NoError(t, sc.Open(context.Background()))
	readable := sc.Readable()

	require.NoError(t, sc.Close())
	assert.Equal(t, 1, port.closes())
	assert.False(t, sc.IsOpen())
	assert.False(t, sc.Stats().IsConnected)

	// Close returns only after the reader exited, so the channel is
	// already closed.
	select {
	case _, ok := <-readable:
		assert.False(t, ok)
	default:
		t.Fatal("readable channel still open after Close")
	}
	assert.Nil(t, sc.Poll())

	require.NoError(t, sc.Close())
	assert.Equal(t, 1, port.closes())
	assert.ErrorIs(t, sc.Write(context.Background(), []byte("x")), ErrNotOpen)
	assert.ErrorIs(t, sc.Drain(), ErrNotOpen)
}

func TestSerialConnectionReadFailureClosesReadable(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	port := newFakePort()
	sc, _ := newFakeConnection(port, zap.New(core))
	require.NoError(t, sc.Open(context.Background()))
	defer sc.Close()

	port.fail(errors.New("device unplugged"))
	assert.True(t, closedWithin(sc.Readable(), time.Second))
	assert.Nil(t, sc.Poll())

	assert.EqualValues(t, 1, sc.Stats().ErrorCount)
	entries := logs.FilterMessage("Serial read failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/dev/ttyACM0", entries[0].ContextMap()["port"])

	// The port is still released on Close.
	require.NoError(t, sc.Close())
	assert.Equal(t, 1, port.closes())
}

func TestSerialFactory(t *testing.T) {
	template := SerialConfig{BaudRate: 9600, Parity: "even", StopBits: 2}
	transport := SerialFactory(template, nil)("/dev/ttyUSB0")

	sc, ok := transport.(*SerialConnection)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", sc.Device())
	assert.Equal(t, 9600, sc.config.BaudRate)
	assert.Empty(t, template.Port)
	assert.Equal(t, serial.EvenParity, parity(sc.config.Parity))
	assert.Equal(t, serial.TwoStopBits, stopBits(sc.config.StopBits))
	assert.False(t, sc.IsOpen())
}
