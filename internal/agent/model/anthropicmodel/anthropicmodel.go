// Package anthropicmodel adapts github.com/anthropics/anthropic-sdk-go to
// model.ModelClient.
package anthropicmodel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ternlabs/tern/internal/agent/model"
)

const defaultMaxTokens = 8192

// Client adapts the Anthropic Messages API to model.ModelClient.
type Client struct {
	sdk        anthropic.Client
	model      string
	visionModel string
}

// New constructs a Client. model is used for Complete, visionModel for
// CompleteVision; pass the same value for both if the account has one
// multimodal model.
func New(apiKey, textModel, visionModel string) *Client {
	return &Client{
		sdk:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:       textModel,
		visionModel: visionModel,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string, tools []model.ToolSpec, timeout time.Duration) (model.Completion, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(defaultMaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if len(tools) > 0 {
		params.Tools = toAnthropicTools(tools)
	}

	msg, err := c.sdk.Messages.New(runCtx, params)
	if err != nil {
		return model.Completion{}, fmt.Errorf("anthropicmodel: complete: %w", err)
	}

	return parseMessage(msg), nil
}

func (c *Client) CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	imgBlock := anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(image))
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.visionModel),
		MaxTokens: int64(defaultMaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(imgBlock, anthropic.NewTextBlock(prompt)),
		},
	}

	msg, err := c.sdk.Messages.New(runCtx, params)
	if err != nil {
		return "", fmt.Errorf("anthropicmodel: complete-vision: %w", err)
	}
	return textOf(msg), nil
}

// Embed has no Anthropic equivalent — the Messages API does not expose an
// embeddings endpoint. Callers (the memory package's semantic-similarity
// search) must tolerate this error and fall back to free-text matching.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	return nil, fmt.Errorf("anthropicmodel: embed: not supported by the Anthropic Messages API")
}

func toAnthropicTools(tools []model.ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: t.Schema["properties"]},
		}})
	}
	return out
}

func parseMessage(msg *anthropic.Message) model.Completion {
	var c model.Completion
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			c.Thought += b.Text
		case anthropic.ToolUseBlock:
			c.ToolName = b.Name
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			c.ToolArgs = args
		}
	}
	if c.ToolName == "" {
		c.FinalAnswer = c.Thought
	}
	return c
}

func textOf(msg *anthropic.Message) string {
	var out string
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += b.Text
		}
	}
	return out
}

