package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/cenkalti/backoff/v5"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com"
	defaultOpenAIModel      = "gpt-5"
	defaultOpenAIMaxRetries = 3
	streamDoneMarker        = "[DONE]"
	maxErrorBodyBytes       = 4096
)

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	MaxRetries int
	RetryWait  time.Duration
	HTTPClient *http.Client
}

// OpenAIModel talks to any OpenAI-compatible /v1/chat/completions endpoint with stream=true.
type OpenAIModel struct {
	baseURL    string
	apiKey     string
	model      string
	maxRetries int
	retryWait  time.Duration
	client     *http.Client
}

func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultOpenAIMaxRetries
	}
	client := cfg.HTTPClient
	if client == nil {
		// Streams are bounded by ctx deadlines rather than a client timeout.
		client = &http.Client{}
	}
	return &OpenAIModel{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      model,
		maxRetries: maxRetries,
		retryWait:  cfg.RetryWait,
		client:     client,
	}, nil
}

func (m *OpenAIModel) Name() string {
	return m.model
}

func (m *OpenAIModel) Stream(ctx context.Context, request Request, onText func(string)) (Response, error) {
	payload, err := buildOpenAIPayload(m.model, request)
	if err != nil {
		return Response{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	resp, err := m.open(ctx, body)
	if err != nil {
		return Response{}, err
	}

	decoder := ssestream.NewDecoder(resp)
	defer func() { _ = decoder.Close() }()

	var (
		text   strings.Builder
		finish string
		usage  Usage
	)
	toolCalls := newToolCallAccumulator()
	for decoder.Next() {
		data := bytes.TrimSpace(decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == streamDoneMarker {
			break
		}

		var chunk openAIChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return Response{}, fmt.Errorf("decode chat completion chunk: %w", err)
		}
		if chunk.Error != nil {
			return Response{}, fmt.Errorf("chat completion stream error: %s", chunk.Error.Message)
		}
		if chunk.Usage != nil {
			usage = Usage{InputTokens: chunk.Usage.PromptTokens, OutputTokens: chunk.Usage.CompletionTokens}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if onText != nil {
					onText(choice.Delta.Content)
				}
			}
			for _, delta := range choice.Delta.ToolCalls {
				toolCalls.add(delta)
			}
			if choice.FinishReason != "" {
				finish = choice.FinishReason
			}
		}
	}
	if err := decoder.Err(); err != nil {
		return Response{}, fmt.Errorf("read chat completion stream: %w", err)
	}

	return Response{
		Text:       text.String(),
		ToolCalls:  toolCalls.calls(),
		StopReason: fromOpenAIFinishReason(finish),
		Usage:      usage,
	}, nil
}

// open retries connection failures, 429 and 5xx responses. Once a 2xx arrives the stream is
// handed to the caller and never retried, since text may already have been forwarded.
func (m *OpenAIModel) open(ctx context.Context, body []byte) (*http.Response, error) {
	policy := backoff.NewExponentialBackOff()
	if m.retryWait > 0 {
		policy.InitialInterval = m.retryWait
		policy.MaxInterval = 10 * m.retryWait
	}

	return backoff.Retry(ctx, func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build chat request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")
		httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)

		resp, err := m.client.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, fmt.Errorf("request chat completion: %w", err)
		}
		if resp.StatusCode < 400 {
			return resp, nil
		}

		rawBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		_ = resp.Body.Close()
		statusErr := fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(rawBody)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(m.maxRetries+1)))
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string                `json:"content"`
			ToolCalls []openAIToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type openAIToolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// toolCallAccumulator stitches streamed tool-call fragments back together by index.
type toolCallAccumulator struct {
	byIndex map[int]*pendingToolCall
}

type pendingToolCall struct {
	id        string
	name      string
	arguments strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: map[int]*pendingToolCall{}}
}

func (a *toolCallAccumulator) add(delta openAIToolCallDelta) {
	pending, ok := a.byIndex[delta.Index]
	if !ok {
		pending = &pendingToolCall{}
		a.byIndex[delta.Index] = pending
	}
	if delta.ID != "" {
		pending.id = delta.ID
	}
	if delta.Function.Name != "" {
		pending.name = delta.Function.Name
	}
	pending.arguments.WriteString(delta.Function.Arguments)
}

func (a *toolCallAccumulator) calls() []ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for index := range a.byIndex {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, index := range indexes {
		pending := a.byIndex[index]
		out = append(out, ToolCall{
			ID:    pending.id,
			Name:  pending.name,
			Input: inputOrEmptyObject(json.RawMessage(pending.arguments.String())),
		})
	}
	return out
}

func fromOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop", "":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopOther
	}
}

func buildOpenAIPayload(model string, request Request) (map[string]any, error) {
	messages := make([]map[string]any, 0, len(request.Messages)+1)
	if request.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": request.System})
	}
	for i, message := range request.Messages {
		converted, err := toOpenAIMessages(message)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		messages = append(messages, converted...)
	}

	payload := map[string]any{
		"model":          model,
		"messages":       messages,
		"stream":         true,
		"stream_options": map[string]any{"include_usage": true},
		"temperature":    request.Temperature,
	}
	if request.MaxTokens > 0 {
		payload["max_completion_tokens"] = request.MaxTokens
	}
	if len(request.Tools) > 0 {
		tools := make([]map[string]any, 0, len(request.Tools))
		for _, spec := range request.Tools {
			properties, required := schemaProperties(spec.InputSchema)
			parameters := map[string]any{"type": "object", "properties": properties}
			if len(required) > 0 {
				parameters["required"] = required
			}
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        spec.Name,
					"description": spec.Description,
					"parameters":  parameters,
				},
			})
		}
		payload["tools"] = tools
	}
	return payload, nil
}

const toolErrorPrefix = "error: "

// toOpenAIMessages splits tool results out into role=tool messages ahead of any user text.
func toOpenAIMessages(message Message) ([]map[string]any, error) {
	var (
		texts     []string
		toolCalls []map[string]any
		results   []map[string]any
	)
	for _, part := range message.Parts {
		switch part.Kind {
		case PartText:
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
		case PartToolCall:
			toolCalls = append(toolCalls, map[string]any{
				"id":   part.ToolCall.ID,
				"type": "function",
				"function": map[string]any{
					"name":      part.ToolCall.Name,
					"arguments": string(inputOrEmptyObject(part.ToolCall.Input)),
				},
			})
		case PartToolResult:
			content := part.ToolResult.Content
			if part.ToolResult.IsError {
				// role=tool has no error flag.
				content = toolErrorPrefix + content
			}
			results = append(results, map[string]any{
				"role":         "tool",
				"tool_call_id": part.ToolResult.CallID,
				"content":      content,
			})
		default:
			return nil, fmt.Errorf("unsupported part kind %q", part.Kind)
		}
	}

	switch message.Role {
	case RoleUser:
		out := results
		if len(texts) > 0 {
			out = append(out, map[string]any{"role": "user", "content": strings.Join(texts, "\n")})
		}
		return out, nil
	case RoleAssistant:
		if len(texts) == 0 && len(toolCalls) == 0 {
			return nil, nil
		}
		converted := map[string]any{"role": "assistant"}
		if len(texts) > 0 {
			converted["content"] = strings.Join(texts, "\n")
		} else {
			converted["content"] = nil
		}
		if len(toolCalls) > 0 {
			converted["tool_calls"] = toolCalls
		}
		return []map[string]any{converted}, nil
	default:
		return nil, fmt.Errorf("unsupported role %q", message.Role)
	}
}
