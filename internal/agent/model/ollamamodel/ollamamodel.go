// Package ollamamodel adapts github.com/ollama/ollama's API client to
// model.ModelClient for locally hosted models.
package ollamamodel

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/ternlabs/tern/internal/agent/model"
)

// Client adapts ollama's chat API to model.ModelClient.
type Client struct {
	sdk         *api.Client
	textModel   string
	visionModel string
}

// New constructs a Client against baseURL (default
// http://localhost:11434, matching the teacher's local-inference default).
func New(baseURL, textModel, visionModel string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		parsed, _ = url.Parse("http://localhost:11434")
	}
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	return &Client{
		sdk:         api.NewClient(parsed, httpClient),
		textModel:   textModel,
		visionModel: visionModel,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string, tools []model.ToolSpec, timeout time.Duration) (model.Completion, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &api.ChatRequest{
		Model:    c.textModel,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Tools:    toOllamaTools(tools),
		Stream:   boolPtr(false),
	}

	var completion model.Completion
	err := c.sdk.Chat(runCtx, req, func(resp api.ChatResponse) error {
		completion.Thought += resp.Message.Content
		if len(resp.Message.ToolCalls) > 0 {
			tc := resp.Message.ToolCalls[0]
			completion.ToolName = tc.Function.Name
			completion.ToolArgs = tc.Function.Arguments.ToMap()
		}
		return nil
	})
	if err != nil {
		return model.Completion{}, fmt.Errorf("ollamamodel: complete: %w", err)
	}
	if completion.ToolName == "" {
		completion.FinalAnswer = completion.Thought
	}
	return completion, nil
}

func (c *Client) CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &api.ChatRequest{
		Model: c.visionModel,
		Messages: []api.Message{
			{Role: "user", Content: prompt, Images: []api.ImageData{[]byte(base64.StdEncoding.EncodeToString(image))}},
		},
		Stream: boolPtr(false),
	}

	var out string
	err := c.sdk.Chat(runCtx, req, func(resp api.ChatResponse) error {
		out += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollamamodel: complete-vision: %w", err)
	}
	return out, nil
}

// embeddingModel is fixed rather than configurable: it only ever backs
// semantic-memory similarity scoring, never a user-facing completion.
const embeddingModel = "nomic-embed-text"

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.sdk.Embed(ctx, &api.EmbedRequest{Model: embeddingModel, Input: text})
	if err != nil {
		return nil, fmt.Errorf("ollamamodel: embed: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("ollamamodel: embed: no embedding returned")
	}
	out := make([]float64, len(resp.Embeddings[0]))
	for i, v := range resp.Embeddings[0] {
		out[i] = float64(v)
	}
	return out, nil
}

func toOllamaTools(tools []model.ToolSpec) []api.Tool {
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
			},
		})
	}
	return out
}

func boolPtr(b bool) *bool { return &b }
