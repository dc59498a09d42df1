// Package model defines ModelClient, the single external capability the
// kernel uses to reach a language model — for the ReAct loop's next-action
// call and for CAPTCHA image scoring. Components never import a provider
// SDK directly; they depend on this interface so Anthropic, OpenAI,
// Gemini, and Ollama backends are interchangeable.
package model

import (
	"context"
	"time"
)

// ToolSpec describes one callable tool offered to the model, mirroring
// types.ToolName's closed set with a JSON schema for its arguments.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Completion is the model's answer to one Complete call: a thought, at
// most one requested tool call, and — when the model considers the goal
// finished — a final answer instead of a tool call.
type Completion struct {
	Thought     string
	ToolName    string
	ToolArgs    map[string]any
	FinalAnswer string // non-empty means the model is done; ToolName is empty
}

// ModelClient is the kernel's only language-model capability. Both
// methods are suspension points with a caller-supplied timeout, and an
// implementation never retries on its own. The Orchestrator retries a
// failed next-step Complete call whose error classifies as rate-limit,
// server-5xx, or transient-timeout, under the Reliability fabric's retry
// policy for that kind; the CAPTCHA engine's CompleteVision and Complete
// calls are made once and are not retried.
type ModelClient interface {
	// Complete asks for the next ReAct step: given prompt (system +
	// working-memory context) and the tools currently available, return
	// a thought plus either a tool call or a final answer.
	Complete(ctx context.Context, prompt string, tools []ToolSpec, timeout time.Duration) (Completion, error)

	// CompleteVision asks a vision-capable model to describe or transcribe
	// an image (PNG bytes), returning free text. Used by the CAPTCHA
	// confidence engine's vision-solve stage.
	CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error)

	// Embed returns a vector representation of text for semantic-memory
	// similarity search. The memory package treats the result as an opaque
	// []float64 and never computes embeddings itself (see DESIGN.md's
	// notes on model.ModelClient).
	Embed(ctx context.Context, text string) ([]float64, error)
}
