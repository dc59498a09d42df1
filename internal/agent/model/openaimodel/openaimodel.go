// Package openaimodel adapts github.com/openai/openai-go to
// model.ModelClient.
package openaimodel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ternlabs/tern/internal/agent/model"
)

// Client adapts the Chat Completions API to model.ModelClient.
type Client struct {
	sdk         openai.Client
	model       string
	visionModel string
}

// New constructs a Client. baseURL overrides the endpoint for
// OpenAI-compatible services (matches the teacher's optional-baseURL
// provider constructor style).
func New(apiKey, textModel, visionModel, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{sdk: openai.NewClient(opts...), model: textModel, visionModel: visionModel}
}

func (c *Client) Complete(ctx context.Context, prompt string, tools []model.ToolSpec, timeout time.Duration) (model.Completion, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
	}

	resp, err := c.sdk.Chat.Completions.New(runCtx, params)
	if err != nil {
		return model.Completion{}, fmt.Errorf("openaimodel: complete: %w", err)
	}
	return parseCompletion(resp), nil
}

func (c *Client) CompleteVision(ctx context.Context, prompt string, image []byte, timeout time.Duration) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	params := openai.ChatCompletionNewParams{
		Model: c.visionModel,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	}

	resp, err := c.sdk.Chat.Completions.New(runCtx, params)
	if err != nil {
		return "", fmt.Errorf("openaimodel: complete-vision: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// embeddingModel is fixed rather than configurable: it only ever backs
// semantic-memory similarity scoring, never a user-facing completion.
const embeddingModel = "text-embedding-3-small"

func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: embeddingModel,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openaimodel: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openaimodel: embed: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func toOpenAITools(tools []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Schema,
			},
		})
	}
	return out
}

func parseCompletion(resp *openai.ChatCompletion) model.Completion {
	var c model.Completion
	if len(resp.Choices) == 0 {
		return c
	}
	choice := resp.Choices[0]
	c.Thought = choice.Message.Content
	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		c.ToolName = tc.Function.Name
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		c.ToolArgs = args
	} else {
		c.FinalAnswer = c.Thought
	}
	return c
}
