// Package openai adapts github.com/openai/openai-go/v2's chat-completions
// API to the provider.LMProvider contract.
package openai

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/rlmrun/rlm/internal/rlm/provider"
)

// Client wraps the OpenAI chat-completions API.
type Client struct {
	sdk   sdk.Client
	model string
}

// New builds a Client against apiKey/baseURL (baseURL empty uses the
// default OpenAI endpoint, allowing self-hosted OpenAI-compatible servers
// too).
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model}
}

func toSDKMessages(messages []provider.Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case provider.RoleSystem:
			out = append(out, sdk.SystemMessage(m.Content))
		case provider.RoleAssistant:
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

// Complete implements provider.LMProvider. Structured output requests are
// sent as response_format:{type:"json_schema",...}, per spec §7.
func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts *provider.CompleteOptions) (*provider.CompletionResult, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    c.model,
		Messages: toSDKMessages(messages),
	}
	if opts != nil {
		if opts.MaxTokens > 0 {
			params.MaxCompletionTokens = sdk.Int(int64(opts.MaxTokens))
		}
		if opts.Temperature > 0 {
			params.Temperature = sdk.Float(opts.Temperature)
		}
		if len(opts.Stop) > 0 {
			params.Stop = sdk.ChatCompletionNewParamsStopUnion{OfStringArray: opts.Stop}
		}
		if opts.ResponseFormat != nil && opts.ResponseFormat.Type == "json_schema" && opts.ResponseFormat.JSONSchema != nil {
			js := opts.ResponseFormat.JSONSchema
			params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:        js.Name,
						Description: sdk.String(js.Description),
						Schema:      js.Schema,
						Strict:      sdk.Bool(js.Strict),
					},
				},
			}
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: no choices returned")
	}

	return &provider.CompletionResult{
		Text: resp.Choices[0].Message.Content,
		Usage: &provider.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Raw: resp,
	}, nil
}
