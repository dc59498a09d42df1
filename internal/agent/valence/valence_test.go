package valence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitMovesMoodAndClampsAtBounds(t *testing.T) {
	b := New()
	assert.Equal(t, 0.0, b.Mood())

	b.Emit(EventActionSucceeded, nil)
	assert.InDelta(t, 0.03, b.Mood(), 1e-9)

	for i := 0; i < 100; i++ {
		b.Emit(EventCircuitOpened, nil)
	}
	assert.Equal(t, -1.0, b.Mood(), "mood must clamp at -1, never overshoot")

	for i := 0; i < 200; i++ {
		b.Emit(EventActionSucceeded, nil)
	}
	assert.Equal(t, 1.0, b.Mood(), "mood must clamp at 1, never overshoot")
}

func TestOnHandlerReceivesUpdatedMood(t *testing.T) {
	b := New()
	var seen float64
	var calls int
	b.On(EventActionFailed, func(kind EventKind, data any, mood float64) {
		calls++
		seen = mood
	})

	b.Emit(EventActionFailed, "nav timeout")
	assert.Equal(t, 1, calls)
	assert.InDelta(t, -0.05, seen, 1e-9)
}

func TestRetryBiasTracksMoodLinearly(t *testing.T) {
	b := New()
	assert.Equal(t, 1.0, b.RetryBias())

	b.Emit(EventCircuitOpened, nil) // mood -0.2
	assert.InDelta(t, 0.96, b.RetryBias(), 1e-9)
}

func TestEmitWithNoHandlersNeverPanics(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() {
		b.Emit(EventObstructionFound, nil)
	})
}
