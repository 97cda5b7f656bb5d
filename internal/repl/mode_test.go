package repl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnterThenExitIsFriendlyFromAnyMode(t *testing.T) {
	for _, start := range []Mode{ModeUnknown, ModeFriendly, ModeRaw} {
		t.Run(start.String(), func(t *testing.T) {
			enter := EnterRawTransition(start)
			assert.Equal(t, []byte{CtrlA}, enter.Send)
			assert.Equal(t, RawBanner, enter.Expect)
			assert.Equal(t, ModeRaw, enter.OnSuccess)
			assert.Equal(t, ModeUnknown, enter.OnFailure)

			exit := ExitRawTransition(enter.OnSuccess)
			assert.Equal(t, []byte{CtrlB}, exit.Send)
			assert.Nil(t, exit.Expect)
			assert.Equal(t, ModeFriendly, exit.OnSuccess)
		})
	}
}

func TestExitRawOutsideRawIsNoop(t *testing.T) {
	for _, start := range []Mode{ModeUnknown, ModeFriendly} {
		tr := ExitRawTransition(start)
		assert.True(t, tr.Noop())
		assert.Equal(t, start, tr.OnSuccess)
	}
}

func TestInterruptKeepsMode(t *testing.T) {
	for _, start := range []Mode{ModeUnknown, ModeFriendly, ModeRaw} {
		tr := InterruptTransition(start)
		assert.Equal(t, []byte{CtrlC}, tr.Send)
		assert.Equal(t, start, tr.OnSuccess)
	}
}

func TestResetTransition(t *testing.T) {
	assert.Equal(t, []byte{CtrlC, CtrlD}, ResetTransition(ModeFriendly).Send)
	assert.Equal(t, ModeUnknown, ResetTransition(ModeFriendly).OnSuccess)
	assert.Equal(t, ModeRaw, ResetTransition(ModeRaw).OnSuccess)
}

func TestPromptTransition(t *testing.T) {
	tr := PromptTransition(ModeUnknown)
	assert.Equal(t, []byte{'\r', CtrlC, CtrlB}, tr.Send)
	assert.Equal(t, FriendlyPrompt, tr.Expect)
	assert.Equal(t, ModeFriendly, tr.OnSuccess)
}
