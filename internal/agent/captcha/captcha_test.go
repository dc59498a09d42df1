package captcha

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/model"
)

type fakeModel struct {
	visionAnswer string
	visionDesc   string
	validation   string
}

func (f *fakeModel) Complete(ctx context.Context, prompt string, tools []model.ToolSpec, timeout time.Duration) (model.Completion, error) {
	return model.Completion{FinalAnswer: f.validation}, nil
}

func (f *fakeModel) CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error) {
	if prompt == describePrompt {
		return f.visionDesc, nil
	}
	return f.visionAnswer, nil
}

func (f *fakeModel) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, nil
}

func TestScoreImageConfidencePenalizesRefusalAndRewardsPlausibleAnswer(t *testing.T) {
	assert.Equal(t, 0.0, ScoreImageConfidence("I'm sorry, I cannot read this image"))
	assert.Equal(t, 0.95, ScoreImageConfidence("Abc123")) // ideal length; '1' costs the ambiguous-char penalty
	assert.Less(t, ScoreImageConfidence("O0Il1"), 1.0)
	assert.Equal(t, 0.0, ScoreImageConfidence(""))
}

func TestFormatAppropriateByType(t *testing.T) {
	assert.True(t, formatAppropriate(TypeText, "Abc123"))
	assert.False(t, formatAppropriate(TypeText, "abc 123"))
	assert.True(t, formatAppropriate(TypeMath, "42"))
	assert.False(t, formatAppropriate(TypeMath, "forty-two"))
}

func TestParseValidation(t *testing.T) {
	conf, valid := parseValidation("valid=true confidence=0.9")
	assert.True(t, valid)
	assert.Equal(t, 0.9, conf)

	conf, valid = parseValidation("not a parseable reply")
	assert.False(t, valid)
	assert.Equal(t, 0.3, conf)
}

func TestBandForBoundaries(t *testing.T) {
	th := config.DefaultConfig().CaptchaThresholds
	assert.Equal(t, BandHigh, BandFor(0.85, th))
	assert.Equal(t, BandGood, BandFor(0.80, th))
	assert.Equal(t, BandMedium, BandFor(0.60, th))
	assert.Equal(t, BandLow, BandFor(0.40, th))
}

func TestActionForEachBand(t *testing.T) {
	assert.Equal(t, ActionSubmit, actionFor(BandHigh))
	assert.Equal(t, ActionSubmitRetryOnReject, actionFor(BandGood))
	assert.Equal(t, ActionSubmitThenEscalate, actionFor(BandMedium))
	assert.Equal(t, ActionEscalate, actionFor(BandLow))
}

// TestEvaluateCleanCaptchaReachesHighBand reproduces the clean-text
// CAPTCHA scenario: a confident, well-formed vision answer validated by
// the text model combines to a HIGH-band score with an immediate submit
// decision, no escalation.
func TestEvaluateCleanCaptchaReachesHighBand(t *testing.T) {
	fm := &fakeModel{
		visionAnswer: "Abc123",
		visionDesc:   "A six-character distorted text CAPTCHA on a noisy background.",
		validation:   "valid=true confidence=0.90",
	}
	engine := New(config.DefaultConfig().CaptchaThresholds, fm)

	result, err := engine.Evaluate(context.Background(), []byte("fake-png-bytes"), TypeText, 1)
	require.NoError(t, err)

	assert.Equal(t, "Abc123", result.Answer)
	assert.Equal(t, 0.95, result.ImageConfidence)
	assert.Equal(t, 0.9, result.ContextConfidence)
	assert.InDelta(t, 0.94, result.Score, 1e-9)
	assert.Equal(t, BandHigh, result.Band)
	assert.Equal(t, ActionSubmit, result.Action)
}

func TestEvaluateRefusedAnswerReachesLowBand(t *testing.T) {
	fm := &fakeModel{
		visionAnswer: "I cannot determine the characters in this image",
		visionDesc:   "Heavily obscured text CAPTCHA.",
		validation:   "valid=false confidence=0.2",
	}
	engine := New(config.DefaultConfig().CaptchaThresholds, fm)

	result, err := engine.Evaluate(context.Background(), []byte("fake-png-bytes"), TypeText, 1)
	require.NoError(t, err)
	assert.Equal(t, BandLow, result.Band)
	assert.Equal(t, ActionEscalate, result.Action)
}

func TestMetricsRecordsPerBandSuccessRate(t *testing.T) {
	m := NewMetrics()
	m.Record(BandHigh, true)
	m.Record(BandHigh, true)
	m.Record(BandHigh, false)

	rate, ok := m.SuccessRate(BandHigh)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)

	_, ok = m.SuccessRate(BandLow)
	assert.False(t, ok)
}
