// Package geminimodel adapts github.com/google/generative-ai-go to
// model.ModelClient.
package geminimodel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/ternlabs/tern/internal/agent/model"
)

// Client adapts genai.GenerativeModel to model.ModelClient.
type Client struct {
	gc          *genai.Client
	textModel   string
	visionModel string
}

// New constructs a Client against the given API key.
func New(ctx context.Context, apiKey, textModel, visionModel string) (*Client, error) {
	gc, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("geminimodel: new client: %w", err)
	}
	return &Client{gc: gc, textModel: textModel, visionModel: visionModel}, nil
}

func (c *Client) Complete(ctx context.Context, prompt string, tools []model.ToolSpec, timeout time.Duration) (model.Completion, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gm := c.gc.GenerativeModel(c.textModel)
	if len(tools) > 0 {
		gm.Tools = []*genai.Tool{toGenaiTool(tools)}
	}

	resp, err := gm.GenerateContent(runCtx, genai.Text(prompt))
	if err != nil {
		return model.Completion{}, fmt.Errorf("geminimodel: complete: %w", err)
	}
	return parseResponse(resp), nil
}

func (c *Client) CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gm := c.gc.GenerativeModel(c.visionModel)
	resp, err := gm.GenerateContent(runCtx, genai.ImageData("png", image), genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("geminimodel: complete-vision: %w", err)
	}
	return textOf(resp), nil
}

func toGenaiTool(tools []model.ToolSpec) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}

func parseResponse(resp *genai.GenerateContentResponse) model.Completion {
	var c model.Completion
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return c
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			c.Thought += string(p)
		case genai.FunctionCall:
			c.ToolName = p.Name
			if raw, err := json.Marshal(p.Args); err == nil {
				var args map[string]any
				_ = json.Unmarshal(raw, &args)
				c.ToolArgs = args
			}
		}
	}
	if c.ToolName == "" {
		c.FinalAnswer = c.Thought
	}
	return c
}

func textOf(resp *genai.GenerateContentResponse) string {
	var out string
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			out += string(t)
		}
	}
	return out
}

// embeddingModel is fixed rather than configurable: it only ever backs
// semantic-memory similarity scoring, never a user-facing completion.
const embeddingModel = "embedding-001"

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	em := c.gc.EmbeddingModel(embeddingModel)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("geminimodel: embed: %w", err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("geminimodel: embed: no embedding returned")
	}
	out := make([]float64, len(resp.Embedding.Values))
	for i, v := range resp.Embedding.Values {
		out[i] = float64(v)
	}
	return out, nil
}

// Close releases the underlying genai client.
func (c *Client) Close() error {
	return c.gc.Close()
}
