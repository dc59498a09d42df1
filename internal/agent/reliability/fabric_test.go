package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/types"
)

func newTestFabric() *Fabric {
	fb := New(config.DefaultConfig())
	fb.clock = &fakeClock{}
	return fb
}

func TestExecuteNavigateSuccess(t *testing.T) {
	fb := newTestFabric()
	drv := &fakeDriver{url: "https://example.test/"}

	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolNavigate,
		Args: map[string]any{"url": "https://example.test/"},
	})

	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
}

func TestExecuteRetriesTransientTimeoutThenSucceeds(t *testing.T) {
	fb := newTestFabric()
	drv := &fakeDriver{
		url:          "https://flaky.test/",
		navigateErrs: []error{errors.New("navigation timeout exceeded"), errors.New("navigation timeout exceeded")},
	}

	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolNavigate,
		Args: map[string]any{"url": "https://flaky.test/"},
	})

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
}

func TestExecuteNotFoundNeverRetries(t *testing.T) {
	fb := newTestFabric()
	drv := &fakeDriver{
		url:          "https://gone.test/",
		navigateErrs: []error{errors.New("404 not found"), errors.New("404 not found")},
	}

	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolNavigate,
		Args: map[string]any{"url": "https://gone.test/"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrNotFound4xx, res.ErrorKind)
	assert.Equal(t, 1, res.Attempts)
}

// TestCircuitOpensAfterThreeFailures reproduces spec.md §8 scenario 2.
func TestCircuitOpensAfterThreeFailures(t *testing.T) {
	fb := newTestFabric()
	// auth-required is non-retryable (MaxAttempts=1), so each Execute call
	// consumes exactly one scripted error — isolating "number of Execute
	// calls" from "number of internal retry attempts".
	drv := &fakeDriver{
		url: "https://flaky.test/",
		navigateErrs: []error{
			errors.New("unauthorized"),
			errors.New("unauthorized"),
			errors.New("unauthorized"),
			errors.New("unauthorized"),
		},
	}
	call := types.ToolCall{Name: types.ToolNavigate, Args: map[string]any{"url": "https://flaky.test/"}}

	for i := 0; i < 3; i++ {
		res := fb.Execute(context.Background(), drv, call)
		require.False(t, res.Success)
		require.NotEqual(t, types.ErrCircuitOpen, res.ErrorKind, "call %d should attempt the driver, not short-circuit", i+1)
	}

	res := fb.Execute(context.Background(), drv, call)
	assert.Equal(t, types.ErrCircuitOpen, res.ErrorKind)
	assert.Equal(t, 0, res.Attempts)
}

func TestCircuitClosesOnSingleSuccess(t *testing.T) {
	fb := newTestFabric()
	fb.breaker.RecordFailure("site.test")
	fb.breaker.RecordFailure("site.test")

	drv := &fakeDriver{url: "https://site.test/"}
	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolNavigate,
		Args: map[string]any{"url": "https://site.test/"},
	})
	require.True(t, res.Success)

	st, ok := fb.breaker.State("site.test")
	assert.False(t, ok)
	_ = st
}

func TestClickObstructedThenDismissed(t *testing.T) {
	fb := newTestFabric()
	probeCalls := 0
	drv := &fakeDriver{
		url: "https://shop.test/",
		elements: map[string]types.Element{
			"e42": {Ref: "e42", Role: "button", Visible: true, W: 50, H: 20},
		},
		evalFn: func(script string) (any, error) {
			if script == `__agentDismissObstruction("cookie-banner")` {
				return true, nil
			}
			probeCalls++
			if probeCalls == 1 {
				return map[string]any{"obstructed": true, "category": "cookie-banner", "signature": "sig1"}, nil
			}
			return map[string]any{"obstructed": false}, nil
		},
	}

	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolClick,
		Args: map[string]any{"ref": "e42"},
	})

	assert.True(t, res.Success)
}

func TestClickObstructionNotDismissedFails(t *testing.T) {
	fb := newTestFabric()
	drv := &fakeDriver{
		url: "https://shop.test/",
		elements: map[string]types.Element{
			"e42": {Ref: "e42", Role: "button", Visible: true, W: 50, H: 20},
		},
		evalFn: func(script string) (any, error) {
			if script == `__agentDismissObstruction("modal")` {
				return false, nil
			}
			return map[string]any{"obstructed": true, "category": "modal", "signature": "sig2"}, nil
		},
	}

	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolClick,
		Args: map[string]any{"ref": "e42"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrObstruction, res.ErrorKind)
	assert.Equal(t, 1, drv.pressCalls, "escape strategy should have been tried")
}

func TestObstructionNotRetriedWithinSamePageLifetime(t *testing.T) {
	fb := newTestFabric()
	attempts := 0
	drv := &fakeDriver{
		url: "https://shop.test/",
		elements: map[string]types.Element{
			"e1": {Ref: "e1", Role: "button", Visible: true, W: 10, H: 10},
		},
		evalFn: func(script string) (any, error) {
			if script == `__agentDismissObstruction("modal")` {
				attempts++
				return false, nil
			}
			return map[string]any{"obstructed": true, "category": "modal", "signature": "stable-sig"}, nil
		},
	}

	call := types.ToolCall{Name: types.ToolClick, Args: map[string]any{"ref": "e1"}}
	fb.Execute(context.Background(), drv, call)
	fb.Execute(context.Background(), drv, call)

	assert.Equal(t, 1, attempts, "second call should skip the dismiss catalog for an already-seen obstruction identity")
}

func TestResolveRefMissingIsStaleElement(t *testing.T) {
	fb := newTestFabric()
	drv := &fakeDriver{url: "https://example.test/", elements: map[string]types.Element{}}

	res := fb.Execute(context.Background(), drv, types.ToolCall{
		Name: types.ToolClick,
		Args: map[string]any{"ref": "e99"},
	})

	assert.False(t, res.Success)
	assert.Equal(t, types.ErrStaleElement, res.ErrorKind)
}
