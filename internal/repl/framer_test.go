package repl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"micropython-service/internal/protocol/prototest"
)

func openBoard(t *testing.T, board *prototest.Board) *Framer {
	t.Helper()
	transport := board.Factory()("/dev/sim0")
	require.NoError(t, transport.Open(context.Background()))
	t.Cleanup(func() { transport.Close() })
	return NewFramer(transport, nil)
}

func TestReadUntilReturnsWholeBuffer(t *testing.T) {
	board := prototest.NewBoard(nil)
	board.SetFragmentSize(3)
	framer := openBoard(t, board)

	board.Inject([]byte("noise raw REPL; CTRL-B to exit\r\n>"))

	var fragments [][]byte
	out, err := framer.ReadUntil(context.Background(), RawBanner, time.Second, func(f []byte) {
		fragments = append(fragments, f)
	})
	require.NoError(t, err)
	assert.Contains(t, string(out), "noise raw REPL; CTRL-B to exit")
	assert.Equal(t, out, Join(fragments))
	for _, f := range fragments {
		assert.LessOrEqual(t, len(f), 3)
	}
}

func TestReadUntilMatchAcrossFragments(t *testing.T) {
	board := prototest.NewBoard(nil)
	board.SetFragmentSize(1)
	framer := openBoard(t, board)

	board.Inject([]byte("OK\x04\x04>"))
	out, err := framer.ReadUntil(context.Background(), DialectTwoEOT.Terminator, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "OK\x04\x04>", string(out))
}

func TestReadUntilTimeoutIsBounded(t *testing.T) {
	board := prototest.NewBoard(nil)
	framer := openBoard(t, board)
	board.Inject([]byte("partial"))

	start := time.Now()
	out, err := framer.ReadUntil(context.Background(), FriendlyPrompt, 50*time.Millisecond, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 150*time.Millisecond)

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "partial", string(re.Buffer))
}

func TestReadUntilContextCanceled(t *testing.T) {
	framer := openBoard(t, prototest.NewBoard(nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := framer.ReadUntil(ctx, FriendlyPrompt, 0, nil)
	assert.ErrorIs(t, err, ErrCanceled)
}

func TestReadUntilTransportClosed(t *testing.T) {
	board := prototest.NewBoard(nil)
	transport := board.Factory()("/dev/sim0")
	require.NoError(t, transport.Open(context.Background()))
	framer := NewFramer(transport, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		transport.Close()
	}()
	_, err := framer.ReadUntil(context.Background(), FriendlyPrompt, time.Second, nil)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestWritePaced(t *testing.T) {
	board := prototest.NewBoard(nil)
	framer := openBoard(t, board)
	payload := []byte("0123456789abcdefghij")

	start := time.Now()
	err := framer.WritePaced(context.Background(), payload, ChunkPlan{Size: 8, Delay: 5 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, 3, board.WriteCalls())
	assert.Equal(t, 3, board.Drains())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
	assert.Equal(t, payload, board.Written())
}

func TestWritePacedCanceledBetweenChunks(t *testing.T) {
	board := prototest.NewBoard(nil)
	framer := openBoard(t, board)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	err := framer.WritePaced(ctx, make([]byte, 64), ChunkPlan{Size: 1, Delay: 10 * time.Millisecond})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, board.WriteCalls(), 64)
}

func TestDiscard(t *testing.T) {
	board := prototest.NewBoard(nil)
	board.SetFragmentSize(2)
	framer := openBoard(t, board)
	board.Inject([]byte("stale>"))

	assert.Equal(t, "stale>", string(framer.Discard()))
	assert.Nil(t, framer.Discard())
}
