package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/driver"
	"github.com/ternlabs/tern/internal/agent/model"
	"github.com/ternlabs/tern/internal/agent/types"
)

// fakeDriver is a minimal PageDriver stub sufficient for orchestrator
// tests: it never interacts with a real page, only records calls and
// returns scripted data.
type fakeDriver struct {
	url   string
	title string
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, until driver.WaitUntil, timeout time.Duration) error {
	f.url = url
	return nil
}
func (f *fakeDriver) CurrentURL(ctx context.Context) (string, error) { return f.url, nil }
func (f *fakeDriver) Title(ctx context.Context) (string, error)      { return f.title, nil }
func (f *fakeDriver) AccessibilityTree(ctx context.Context) ([]types.Element, error) {
	return nil, nil
}
func (f *fakeDriver) ResolveRef(ctx context.Context, ref string) (types.Element, error) {
	return types.Element{Ref: ref, Visible: true}, nil
}
func (f *fakeDriver) Click(ctx context.Context, ref string, button driver.MouseButton, count int, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) Type(ctx context.Context, ref, text string, delay, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) Hover(ctx context.Context, ref string, timeout time.Duration) error { return nil }
func (f *fakeDriver) Scroll(ctx context.Context, ref string, dx, dy int) error            { return nil }
func (f *fakeDriver) Press(ctx context.Context, key string) error                        { return nil }
func (f *fakeDriver) Screenshot(ctx context.Context, ref string, fullPage bool) ([]byte, error) {
	return []byte("fake-png"), nil
}
func (f *fakeDriver) Evaluate(ctx context.Context, script string) (any, error) { return nil, nil }
func (f *fakeDriver) WaitFor(ctx context.Context, until driver.WaitUntil, timeout time.Duration) error {
	return nil
}
func (f *fakeDriver) ConsoleMessages(ctx context.Context, level string, drain bool) ([]driver.ConsoleMessage, error) {
	return nil, nil
}
func (f *fakeDriver) NetworkErrors(ctx context.Context, drain bool) ([]driver.NetworkError, error) {
	return nil, nil
}
func (f *fakeDriver) Close(ctx context.Context) error { return nil }

// scriptedModel returns one Completion per Complete call, in order, then
// repeats its last entry if Complete is called more times than scripted.
type scriptedModel struct {
	completions []model.Completion
	calls       int
}

func (m *scriptedModel) Complete(ctx context.Context, prompt string, tools []model.ToolSpec, timeout time.Duration) (model.Completion, error) {
	i := m.calls
	if i >= len(m.completions) {
		i = len(m.completions) - 1
	}
	m.calls++
	return m.completions[i], nil
}

func (m *scriptedModel) CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error) {
	return "", errors.New("not used in this test")
}

func (m *scriptedModel) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, errors.New("not used in this test")
}

func testConfig() *config.AgentConfig {
	cfg := config.DefaultConfig()
	cfg.MaxIterations = 10
	cfg.MaxConsecutiveFailures = 3
	cfg.GoalTimeout = 5 * time.Second
	return cfg
}

func TestRunEndsOnFinalAnswer(t *testing.T) {
	drv := &fakeDriver{url: "https://example.com"}
	m := &scriptedModel{completions: []model.Completion{
		{Thought: "I can answer directly", FinalAnswer: "the answer is 42"},
	}}
	o := New(Config{AgentConfig: testConfig(), Driver: drv, Model: m})

	answer, episode, err := o.Run(context.Background(), types.Goal{Text: "what is the answer"})
	require.NoError(t, err)
	assert.Equal(t, "the answer is 42", answer)
	assert.Equal(t, types.OutcomeSuccess, episode.Outcome)
	assert.True(t, episode.Success)
}

func TestRunStopsAfterFatalConsecutiveFailures(t *testing.T) {
	drv := &fakeDriver{url: "https://example.com"}
	// "nonexistent_tool" is not in the dispatch switch, so the Reliability
	// fabric fails it every time with an unknown-kind error (retried once
	// per step under the unknown policy, failing both attempts) — a
	// deterministic way to drive consecutive step failures.
	m := &scriptedModel{completions: []model.Completion{{ToolName: "nonexistent_tool"}}}
	cfg := testConfig()
	cfg.MaxConsecutiveFailures = 2

	o := New(Config{AgentConfig: cfg, Driver: drv, Model: m})

	_, episode, err := o.Run(context.Background(), types.Goal{Text: "do something broken"})
	require.Error(t, err)
	assert.Equal(t, types.OutcomeFailed, episode.Outcome)
	assert.False(t, episode.Success)
	assert.Equal(t, 2, countFailedSteps(episode))
}

// countFailedSteps counts "Step N: tool — failed(...)" lines in an
// Episode's StepsSummary (one line per step, per types.Step.OneLine).
func countFailedSteps(ep types.Episode) int {
	count := 0
	for _, l := range splitLines(ep.StepsSummary) {
		if containsFailed(l) {
			count++
		}
	}
	return count
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func containsFailed(s string) bool {
	for i := 0; i+6 <= len(s); i++ {
		if s[i:i+6] == "failed" {
			return true
		}
	}
	return false
}

func TestRunRespectsIterationBudget(t *testing.T) {
	drv := &fakeDriver{url: "https://example.com"}
	m := &scriptedModel{completions: []model.Completion{
		{ToolName: "hover", ToolArgs: map[string]any{"ref": "e1"}},
	}}
	cfg := testConfig()
	cfg.MaxIterations = 3
	cfg.MaxConsecutiveFailures = 1000 // never trip the failure breaker

	o := New(Config{AgentConfig: cfg, Driver: drv, Model: m})
	_, episode, err := o.Run(context.Background(), types.Goal{Text: "hover forever"})
	require.Error(t, err)
	assert.Equal(t, types.OutcomeTimeout, episode.Outcome)
	assert.Equal(t, 3, m.calls)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	drv := &fakeDriver{url: "https://example.com"}
	m := &scriptedModel{completions: []model.Completion{
		{ToolName: "hover", ToolArgs: map[string]any{"ref": "e1"}},
	}}
	cfg := testConfig()
	cfg.MaxIterations = 1000

	o := New(Config{AgentConfig: cfg, Driver: drv, Model: m})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, episode, err := o.Run(ctx, types.Goal{Text: "this should stop immediately"})
	require.Error(t, err)
	assert.Equal(t, types.OutcomeCancelled, episode.Outcome)
}
