package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGateway implements Gateway for OpenAI chat completions.
type OpenAIGateway struct {
	client openai.Client
	name   string
}

// NewOpenAIGateway creates a new OpenAI gateway.
func NewOpenAIGateway(apiKey string) *OpenAIGateway {
	return &OpenAIGateway{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		name:   "openai",
	}
}

// Name returns the backend name.
func (g *OpenAIGateway) Name() string {
	return g.name
}

// Invoke makes a single API call to an OpenAI-compatible endpoint.
func (g *OpenAIGateway) Invoke(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, &Error{Provider: g.Name(), Kind: KindInvalidRequest, Message: err.Error()}
	}

	ctx, cancel := callContext(ctx, req)
	defer cancel()

	// Convert messages to OpenAI format
	messages := []openai.ChatCompletionMessageParamUnion{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue // Already handled above
		}

		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				// Assistant message with tool calls - need to construct manually
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					paramsJSON, err := json.Marshal(tc.Parameters)
					if err != nil {
						return nil, &Error{
							Provider: g.Name(),
							Kind:     KindInvalidRequest,
							Message:  fmt.Sprintf("failed to marshal tool parameters: %v", err),
						}
					}

					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(paramsJSON),
						},
					})
				}

				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	// Build request parameters
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}

	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	if len(req.Tools) > 0 {
		tools := []openai.ChatCompletionToolParam{}
		for _, tool := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	// Make API call
	response, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, g.mapError(err)
	}

	if len(response.Choices) == 0 {
		return nil, &Error{Provider: g.Name(), Kind: KindTransient, Message: "no response choices returned"}
	}

	choice := response.Choices[0]

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		var callParams map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &callParams); err != nil {
			return nil, &Error{
				Provider: g.Name(),
				Kind:     KindInvalidRequest,
				Message:  fmt.Sprintf("failed to parse tool arguments: %v", err),
			}
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:         tc.ID,
			Name:       tc.Function.Name,
			Parameters: callParams,
		})
	}

	return &Response{
		Content:      choice.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}

// mapError converts SDK errors into the unified taxonomy.
func (g *OpenAIGateway) mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Provider: g.Name(), Kind: KindTransient, Message: "request timed out: " + err.Error()}
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		var retryAfter *time.Duration
		if apierr.Response != nil {
			retryAfter = ParseRetryAfter(apierr.Response.Header.Get("Retry-After"), time.Now())
		}
		return FromHTTPStatus(g.Name(), apierr.StatusCode, apierr.Error(), retryAfter)
	}

	// Transport-level failures default to retryable.
	return &Error{Provider: g.Name(), Kind: KindTransient, Message: err.Error()}
}
