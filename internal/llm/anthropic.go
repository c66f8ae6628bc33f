package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

type AnthropicConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

type AnthropicModel struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicModel(cfg AnthropicConfig) (*AnthropicModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultAnthropicModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &AnthropicModel{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}, nil
}

func (m *AnthropicModel) Name() string {
	return string(m.model)
}

func (m *AnthropicModel) Stream(ctx context.Context, request Request, onText func(string)) (Response, error) {
	messages, err := toAnthropicMessages(request.Messages)
	if err != nil {
		return Response{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       m.model,
		MaxTokens:   int64(request.MaxTokens),
		Messages:    messages,
		Tools:       toAnthropicTools(request.Tools),
		Temperature: anthropic.Float(request.Temperature),
	}
	if request.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.System}}
	}

	stream := m.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return Response{}, fmt.Errorf("accumulate anthropic stream: %w", err)
		}
		if event.Type == "content_block_delta" && onText != nil {
			delta := event.AsContentBlockDelta()
			if delta.Delta.Type == "text_delta" && delta.Delta.Text != "" {
				onText(delta.Delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return Response{}, fmt.Errorf("anthropic stream: %w", err)
	}

	return fromAnthropicMessage(message), nil
}

func fromAnthropicMessage(message anthropic.Message) Response {
	response := Response{
		StopReason: fromAnthropicStopReason(message.StopReason),
		Usage: Usage{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			response.ToolCalls = append(response.ToolCalls, ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: inputOrEmptyObject(append(json.RawMessage(nil), block.Input...)),
			})
		}
	}
	response.Text = text.String()
	return response
}

func fromAnthropicStopReason(reason anthropic.StopReason) StopReason {
	switch reason {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return StopEndTurn
	case anthropic.StopReasonToolUse:
		return StopToolUse
	case anthropic.StopReasonMaxTokens:
		return StopMaxTokens
	default:
		return StopOther
	}
}

func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for i, message := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(message.Parts))
		for _, part := range message.Parts {
			switch part.Kind {
			case PartText:
				if part.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			case PartToolCall:
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, inputOrEmptyObject(part.ToolCall.Input), part.ToolCall.Name))
			case PartToolResult:
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.CallID, part.ToolResult.Content, part.ToolResult.IsError))
			default:
				return nil, fmt.Errorf("message %d: unsupported part kind %q", i, part.Kind)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		switch message.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, message.Role)
		}
	}
	return out, nil
}

func toAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		properties, required := schemaProperties(spec.InputSchema)
		toolParam := anthropic.ToolParam{
			Name:        spec.Name,
			Description: anthropic.String(spec.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: properties,
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return out
}
