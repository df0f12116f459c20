// Package ollama provides a local-model provider for the llm.Client
// interface via the Ollama runtime.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"ticketpilot/pkg/agent/llm"
	"ticketpilot/pkg/agent/llmerrors"
)

const defaultHost = "http://localhost:11434"

// Client wraps the Ollama API client to implement llm.Client.
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a client for an Ollama server. hostURL may be empty
// for the local default.
func NewClient(hostURL, model string) llm.Client {
	if hostURL == "" {
		hostURL = defaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(defaultHost)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

func convertMessages(messages []llm.Message) ([]api.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	converted := make([]api.Message, 0, len(messages))

	for i := range messages {
		msg := &messages[i]

		// Tool results travel as separate "tool" role messages.
		for _, tr := range msg.ToolResults {
			converted = append(converted, api.Message{
				Role:       "tool",
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}

		out := api.Message{Role: string(msg.Role), Content: msg.Content}
		if len(msg.ToolCalls) > 0 {
			out.ToolCalls = make([]api.ToolCall, len(msg.ToolCalls))
			for j := range msg.ToolCalls {
				tc := &msg.ToolCalls[j]
				args := api.NewToolCallFunctionArguments()
				for k, v := range tc.Parameters {
					args.Set(k, v)
				}
				out.ToolCalls[j] = api.ToolCall{
					ID: tc.ID,
					Function: api.ToolCallFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				}
			}
		}
		if out.Content == "" && len(out.ToolCalls) == 0 {
			continue
		}
		converted = append(converted, out)
	}
	return converted, nil
}

func convertProperty(prop *llm.Property) api.ToolProperty {
	out := api.ToolProperty{
		Type:        api.PropertyType{prop.Type},
		Description: prop.Description,
	}
	if len(prop.Enum) > 0 {
		enum := make([]any, len(prop.Enum))
		for i, v := range prop.Enum {
			enum[i] = v
		}
		out.Enum = enum
	}
	if prop.Items != nil {
		out.Items = convertProperty(prop.Items)
	}
	return out
}

func convertTools(defs []llm.ToolDefinition) api.Tools {
	tools := make(api.Tools, len(defs))
	for i := range defs {
		td := &defs[i]
		props := api.NewToolPropertiesMap()
		for name := range td.InputSchema.Properties {
			prop := td.InputSchema.Properties[name]
			props.Set(name, convertProperty(&prop))
		}
		tools[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        td.Name,
				Description: td.Description,
				Parameters: api.ToolFunctionParameters{
					Type:       "object",
					Properties: props,
					Required:   td.InputSchema.Required,
				},
			},
		}
	}
	return tools
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
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": maxTokens,
		},
	}
	if len(in.Tools) > 0 {
		req.Tools = convertTools(in.Tools)
	}

	var response api.ChatResponse
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.Response{}, classifyError(err)
	}

	out := llm.Response{
		Content:    response.Message.Content,
		StopReason: stopReason(&response),
	}
	for i := range response.Message.ToolCalls {
		call := &response.Message.ToolCalls[i]
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: call.Function.Arguments.ToMap(),
		})
	}
	return out, nil
}

// Stream implements llm.Client by delegating to the native streaming API.
//
//nolint:gocritic // request passed by value to match the interface
func (c *Client) Stream(ctx context.Context, in llm.Request) (<-chan llm.StreamChunk, error) {
	messages, err := convertMessages(in.Messages)
	if err != nil {
		return nil, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	stream := true
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
		},
	}

	ch := make(chan llm.StreamChunk, 16)
	go func() {
		defer close(ch)
		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				ch <- llm.StreamChunk{Content: resp.Message.Content}
			}
			if resp.Done {
				ch <- llm.StreamChunk{Done: true}
			}
			return nil
		})
		if err != nil {
			ch <- llm.StreamChunk{Error: classifyError(err)}
		}
	}()
	return ch, nil
}

// ModelName returns the configured model identifier.
func (c *Client) ModelName() string { return c.model }

func stopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	if resp.DoneReason != "" {
		return resp.DoneReason
	}
	return "stop"
}

func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, "Ollama server unreachable", err)
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return llmerrors.Wrap(llmerrors.ErrorTypeBadPrompt, "Ollama model not available", err)
	default:
		return llmerrors.Wrap(llmerrors.ErrorTypeTransient, "Ollama request failed", err)
	}
}
