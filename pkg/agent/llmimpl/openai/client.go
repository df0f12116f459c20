// Package openai provides the OpenAI provider for the llm.Client interface
// using the official Go SDK's chat completions API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/agent/llmerrors"
)

const defaultModel = "gpt-4o"

// Client wraps the official OpenAI SDK to implement llm.Client.
type Client struct {
	client openai.Client
	model  string
}

// NewClient creates a raw OpenAI client. Retry policy is applied at a
// higher level with llm.WithRetry.
func NewClient(apiKey, model string) llm.Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// convertSchema flattens a property tree into function-parameter shape.
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

func convertMessages(messages []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			converted = append(converted, openai.SystemMessage(msg.Content))

		case llm.RoleUser:
			// Tool results are standalone "tool" role messages.
			for _, tr := range msg.ToolResults {
				converted = append(converted, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
			if msg.Content != "" {
				converted = append(converted, openai.UserMessage(msg.Content))
			}

		case llm.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				converted = append(converted, openai.AssistantMessage(msg.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args, err := json.Marshal(tc.Parameters)
				if err != nil {
					return nil, fmt.Errorf("encode tool call %s arguments: %w", tc.Name, err)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			converted = append(converted, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})

		default:
			return nil, fmt.Errorf("unsupported role %q at index %d", msg.Role, i)
		}
	}
	return converted, nil
}

// Complete implements llm.Client.
//
//nolint:gocritic // request passed by value to match the interface
func (c *Client) Complete(ctx context.Context, in llm.Request) (llm.Response, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(c.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(float64(in.Temperature)),
	}

	if len(in.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(in.Tools))
		for i := range in.Tools {
			tool := &in.Tools[i]
			props := make(map[string]any, len(tool.InputSchema.Properties))
			for name := range tool.InputSchema.Properties {
				prop := tool.InputSchema.Properties[name]
				props[name] = convertSchema(&prop)
			}
			tools[i] = openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters: openai.FunctionParameters{
						"type":       "object",
						"properties": props,
						"required":   tool.InputSchema.Required,
					},
				},
			}
		}
		params.Tools = tools

		if in.ToolChoice == "any" {
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String("required"),
			}
		}
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, classifyError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return llm.Response{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI API")
	}

	choice := &resp.Choices[0]
	out := llm.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
	}
	for i := range choice.Message.ToolCalls {
		tc := &choice.Message.ToolCalls[i]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return llm.Response{}, fmt.Errorf("parse tool arguments for %s: %w", tc.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: args,
		})
	}
	return out, nil
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
func (c *Client) ModelName() string { return c.model }

func classifyError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return llmerrors.Wrap(llmerrors.ErrorTypeRateLimit, "OpenAI API rate limited", err)
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return llmerrors.Wrap(llmerrors.ErrorTypeAuth, "OpenAI API auth failure", err)
		case apierr.StatusCode == http.StatusBadRequest:
			return llmerrors.Wrap(llmerrors.ErrorTypeBadPrompt, "OpenAI API rejected request", err)
		case apierr.StatusCode >= 500:
			return llmerrors.Wrap(llmerrors.ErrorTypeTransient, "OpenAI API server error", err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return llmerrors.Wrap(llmerrors.ErrorTypeTransient, "OpenAI API request failed", err)
}
