// Package anthropic provides the Claude provider for the llm.Client interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/agent/llmerrors"
)

const defaultModel = "claude-sonnet-4-0"

// Client wraps the Anthropic SDK to implement llm.Client.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// NewClient creates a raw Claude client. Retry policy is applied at a
// higher level with llm.WithRetry.
func NewClient(apiKey, model string) llm.Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// convertMessages splits out the system prompt and folds the remaining
// turns into the strict user/assistant alternation the API requires.
// Consecutive same-role turns are merged into one message with multiple
// content blocks; tool results become tool_result blocks on user turns.
func convertMessages(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	if len(messages) == 0 {
		return "", nil, fmt.Errorf("message list cannot be empty")
	}

	var systemPrompt string
	var converted []anthropic.MessageParam

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(converted) > 0 && converted[len(converted)-1].Role == role {
			last := &converted[len(converted)-1]
			last.Content = append(last.Content, blocks...)
			return
		}
		converted = append(converted, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content

		case llm.RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			if len(blocks) == 0 {
				continue
			}
			appendBlocks(anthropic.MessageParamRoleUser, blocks)

		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				blocks = append(blocks, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						ID:    tc.ID,
						Input: tc.Parameters,
						Name:  tc.Name,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks)

		default:
			return "", nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}

	if len(converted) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	if converted[0].Role != anthropic.MessageParamRoleUser {
		return "", nil, fmt.Errorf("first message must be user role, got: %s", converted[0].Role)
	}
	return systemPrompt, converted, nil
}

// convertSchema flattens a tool input schema into the map shape the API
// expects.
func convertSchema(prop *llm.Property) map[string]any {
	schema := map[string]any{"type": prop.Type}
	if prop.Description != "" {
		schema["description"] = prop.Description
	}
	if len(prop.Enum) > 0 {
		schema["enum"] = prop.Enum
	}
	if prop.Items != nil {
		schema["items"] = convertSchema(prop.Items)
	}
	if len(prop.Properties) > 0 {
		nested := make(map[string]any, len(prop.Properties))
		for name, child := range prop.Properties {
			if child != nil {
				nested[name] = convertSchema(child)
			}
		}
		schema["properties"] = nested
	}
	return schema
}

// Complete implements llm.Client.
//
//nolint:gocritic // request passed by value to match the interface
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	systemPrompt, messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(in.Temperature)),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt, Type: "text"}}
	}

	if len(in.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			props := make(map[string]any, len(tool.InputSchema.Properties))
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				props[name] = convertSchema(&prop)
			}
			schema := anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: props,
				Required:   tool.InputSchema.Required,
			}
			tools = append(tools, anthropic.ToolUnionParamOfTool(schema, tool.Name))
		}
		params.Tools = tools

		switch in.ToolChoice {
		case "any":
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from Claude API")
	}

	var content string
	var toolCalls []llm.ToolCall
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			content += block.AsText().Text
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if err := json.Unmarshal(toolUse.Input, &args); err != nil {
				return llm.Response{}, fmt.Errorf("parse tool input for %s: %w", toolUse.Name, err)
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:         toolUse.ID,
				Name:       toolUse.Name,
				Parameters: args,
			})
		}
	}

	return llm.Response{
		Content:    content,
		ToolCalls:  toolCalls,
		StopReason: string(resp.StopReason),
	}, nil
}

// Stream implements llm.Client by running Complete in a goroutine and
// emitting the full text as one chunk.
//
//nolint:gocritic // request passed by value to match the interface
func (c *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	go func() {
		defer close(ch)
		resp, err := c.Complete(ctx, in)
		if err != nil {
			ch <- llm.StreamChunk{Error: err}
			return
		}
		ch <- llm.StreamChunk{Content: resp.Content}
		ch <- llm.StreamChunk{Done: true}
	}()
	return ch, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return string(c.model) }

// classifyError maps SDK failures onto retry categories.
func classifyError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return llmerrors.Wrap(llmerrors.ErrorTypeRateLimit, "Claude API rate limited", err)
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return llmerrors.Wrap(llmerrors.ErrorTypeAuth, "Claude API auth failure", err)
		case apierr.StatusCode == http.StatusBadRequest:
			return llmerrors.Wrap(llmerrors.ErrorTypeBadPrompt, "Claude API rejected request", err)
		case apierr.StatusCode >= 500:
			return llmerrors.Wrap(llmerrors.ErrorTypeTransient, "Claude API server error", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return llmerrors.Wrap(llmerrors.ErrorTypeTransient, "Claude API request failed", err)
}
