// Package captcha implements the dual-model CAPTCHA confidence engine:
// a vision solve plus a text validation pass, combined into one weighted
// score that decides whether to auto-submit or escalate to a human
// (spec.md §4.7).
package captcha

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternlabs/tern/internal/agent/config"
	"github.com/ternlabs/tern/internal/agent/model"
)

// Type is the closed set of CAPTCHA shapes the engine scores differently
// for format-appropriateness (spec.md §4.7 "format-appropriate" bonus).
type Type string

const (
	TypeText      Type = "text"
	TypeMath      Type = "math"
	TypeImageGrid Type = "image-grid"
)

// Band is the decision tier a combined score maps onto.
type Band string

const (
	BandHigh   Band = "high"
	BandGood   Band = "good"
	BandMedium Band = "medium"
	BandLow    Band = "low"
)

// Action is what the engine recommends doing with the solved answer.
type Action string

const (
	ActionSubmit              Action = "submit"               // HIGH: submit immediately
	ActionSubmitRetryOnReject Action = "submit-retry-on-reject" // GOOD: submit; one retry if the site rejects it
	ActionSubmitThenEscalate  Action = "submit-then-escalate"  // MEDIUM: submit once, then escalate
	ActionEscalate            Action = "escalate"              // LOW: escalate immediately, no submit attempt
)

const visionTimeout = 20 * time.Second
const textTimeout = 10 * time.Second

// Result is the outcome of one Evaluate call.
type Result struct {
	Answer            string
	Description       string
	ImageConfidence   float64
	ContextConfidence float64
	Score             float64
	Band              Band
	Action            Action
	Attempt           int
}

// Engine ties a ModelClient's vision and text capabilities to the scoring
// formula and decision table of spec.md §4.7.
type Engine struct {
	thresholds config.CaptchaThresholds
	model      model.ModelClient
	metrics    *Metrics
}

// New builds an Engine against thresholds and a ModelClient.
func New(thresholds config.CaptchaThresholds, mc model.ModelClient) *Engine {
	return &Engine{thresholds: thresholds, model: mc, metrics: NewMetrics()}
}

// Metrics exposes the engine's per-band success tracker.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Evaluate solves one CAPTCHA image and returns the scored decision.
// attempt is 1 for the first try and 2+ for a low/medium-band retry; from
// attempt 2 onward callers are expected to have already applied
// Enhance to image before calling again (spec.md §4.7 "enhanced on the
// second attempt onward").
func (e *Engine) Evaluate(ctx context.Context, image []byte, captchaType Type, attempt int) (Result, error) {
	answer, err := e.model.CompleteVision(ctx, solvePrompt(captchaType), image, visionTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("captcha: vision solve: %w", err)
	}
	description, err := e.model.CompleteVision(ctx, describePrompt, image, visionTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("captcha: vision describe: %w", err)
	}

	imageConf := ScoreImageConfidence(answer)

	validation, err := e.model.Complete(ctx, validatePrompt(captchaType, answer, description), nil, textTimeout)
	if err != nil {
		return Result{}, fmt.Errorf("captcha: text validate: %w", err)
	}
	contextConf, valid := parseValidation(validation.FinalAnswer)

	formatOK := formatAppropriate(captchaType, answer)
	score := Combine(imageConf, contextConf, formatOK, scorePenalties(answer, valid))

	band := BandFor(score, e.thresholds)
	result := Result{
		Answer:            strings.TrimSpace(answer),
		Description:       description,
		ImageConfidence:   imageConf,
		ContextConfidence: contextConf,
		Score:             score,
		Band:              band,
		Action:            actionFor(band),
		Attempt:           attempt,
	}
	return result, nil
}

// RecordOutcome feeds a submission result back into the per-band success
// tracker (spec.md §4.7 "record per-band success rate so thresholds can
// be retuned; this informs but does not alter behavior at runtime").
func (e *Engine) RecordOutcome(band Band, succeeded bool) {
	e.metrics.Record(band, succeeded)
}

func solvePrompt(t Type) string {
	return fmt.Sprintf("Solve this %s CAPTCHA. Reply with only the answer, no explanation.", t)
}

const describePrompt = "Describe this CAPTCHA challenge in one sentence: its type, what it's asking for, and anything unusual about its presentation."

func validatePrompt(t Type, answer, description string) string {
	return fmt.Sprintf(
		"A vision model solved a %s CAPTCHA with answer %q. It described the challenge as: %q. "+
			"Judge whether this answer plausibly solves the described challenge. "+
			"Reply with exactly one line: \"valid=<true|false> confidence=<0.0-1.0>\".",
		t, answer, description,
	)
}
