// Package anthropic adapts github.com/anthropics/anthropic-sdk-go to the
// provider.LMProvider contract. Anthropic has no native JSON-schema
// response mode, so structured-output requests are sent as a single
// forced tool call whose input schema is the requested JSON schema; the
// tool-call arguments become the provider.CompletionResult.Text.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rlmrun/rlm/internal/rlm/provider"
)

const defaultMaxTokens int64 = 1024

// Client wraps the Anthropic Messages API.
type Client struct {
	sdk       sdk.Client
	model     string
	maxTokens int64
}

// New builds a Client against apiKey/baseURL.
func New(apiKey, baseURL, model string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(apiKey))}
	if base := strings.TrimSpace(baseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(base, "/")))
	}
	if model == "" {
		model = string(sdk.ModelClaude3_7SonnetLatest)
	}
	return &Client{sdk: sdk.NewClient(opts...), model: model, maxTokens: defaultMaxTokens}
}

func splitSystem(messages []provider.Message) (string, []provider.Message) {
	var system []string
	var rest []provider.Message
	for _, m := range messages {
		if m.Role == provider.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

func toSDKMessages(messages []provider.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == provider.RoleAssistant {
			out = append(out, sdk.NewAssistantMessage(block))
		} else {
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

const structuredToolName = "emit_result"

// Complete implements provider.LMProvider.
func (c *Client) Complete(ctx context.Context, messages []provider.Message, opts *provider.CompleteOptions) (*provider.CompletionResult, error) {
	system, rest := splitSystem(messages)

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		Messages:  toSDKMessages(rest),
		MaxTokens: c.maxTokens,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	var forcedTool bool
	if opts != nil {
		if opts.MaxTokens > 0 {
			params.MaxTokens = int64(opts.MaxTokens)
		}
		if opts.Temperature > 0 {
			params.Temperature = sdk.Float(opts.Temperature)
		}
		if len(opts.Stop) > 0 {
			params.StopSequences = opts.Stop
		}
		if opts.ResponseFormat != nil && opts.ResponseFormat.Type == "json_schema" && opts.ResponseFormat.JSONSchema != nil {
			js := opts.ResponseFormat.JSONSchema
			params.Tools = []sdk.ToolUnionParam{{
				OfTool: &sdk.ToolParam{
					Name:        structuredToolName,
					Description: sdk.String(js.Description),
					InputSchema: sdk.ToolInputSchemaParam{ExtraFields: js.Schema},
				},
			}}
			params.ToolChoice = sdk.ToolChoiceUnionParam{
				OfTool: &sdk.ToolChoiceToolParam{Name: structuredToolName},
			}
			forcedTool = true
		}
	}

	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	text, err := extractText(resp, forcedTool)
	if err != nil {
		return nil, err
	}

	return &provider.CompletionResult{
		Text: text,
		Usage: &provider.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		Raw: resp,
	}, nil
}

func extractText(resp *sdk.Message, forcedTool bool) (string, error) {
	for _, block := range resp.Content {
		if forcedTool {
			if tu := block.AsToolUse(); tu.Name == structuredToolName {
				b, err := json.Marshal(tu.Input)
				if err != nil {
					return "", fmt.Errorf("anthropic completion: marshal tool input: %w", err)
				}
				return string(b), nil
			}
			continue
		}
		if txt := block.AsText(); txt.Text != "" {
			return txt.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic completion: no usable content block in response")
}
