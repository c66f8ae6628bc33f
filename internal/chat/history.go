package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/salesql/salesql/internal/llm"
)

var ErrInvalidHistory = errors.New("invalid chat history")

// UIMessage is a chat message as sent by UI clients: role-tagged, made of
// typed parts. Content is accepted for clients that send a single string.
type UIMessage struct {
	ID      string   `json:"id,omitempty"`
	Role    string   `json:"role"`
	Parts   []UIPart `json:"parts,omitempty"`
	Content string   `json:"content,omitempty"`
}

// UIPart covers text parts and "tool-<name>" parts.
type UIPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty"`
	State      string          `json:"state,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	ErrorText  string          `json:"errorText,omitempty"`
}

const (
	partTypeText      = "text"
	partTypeStepStart = "step-start"
	toolPartPrefix    = "tool-"

	toolStateOutputAvailable = "output-available"
	toolStateOutputError     = "output-error"
)

// ConvertUIMessages turns UI history into model messages. Completed tool parts
// become a tool call on the assistant turn followed by a user turn carrying
// the result; tool parts still waiting for output are dropped.
func ConvertUIMessages(messages []UIMessage) ([]llm.Message, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: messages are required", ErrInvalidHistory)
	}
	out := make([]llm.Message, 0, len(messages))
	for i, message := range messages {
		switch message.Role {
		case string(llm.RoleUser):
			parts := userParts(message)
			if len(parts) == 0 {
				return nil, fmt.Errorf("%w: message %d has no text", ErrInvalidHistory, i)
			}
			out = append(out, llm.Message{Role: llm.RoleUser, Parts: parts})
		case string(llm.RoleAssistant):
			converted, err := assistantMessages(message)
			if err != nil {
				return nil, fmt.Errorf("%w: message %d: %v", ErrInvalidHistory, i, err)
			}
			out = append(out, converted...)
		default:
			return nil, fmt.Errorf("%w: message %d has unsupported role %q", ErrInvalidHistory, i, message.Role)
		}
	}
	return out, nil
}

func userParts(message UIMessage) []llm.Part {
	if len(message.Parts) == 0 {
		if strings.TrimSpace(message.Content) == "" {
			return nil
		}
		return []llm.Part{llm.TextPart(message.Content)}
	}
	parts := make([]llm.Part, 0, len(message.Parts))
	for _, part := range message.Parts {
		if part.Type == partTypeText && part.Text != "" {
			parts = append(parts, llm.TextPart(part.Text))
		}
	}
	return parts
}

func assistantMessages(message UIMessage) ([]llm.Message, error) {
	if len(message.Parts) == 0 {
		if message.Content == "" {
			return nil, nil
		}
		return []llm.Message{llm.AssistantText(message.Content)}, nil
	}

	var (
		out     []llm.Message
		current []llm.Part
		results []llm.Part
	)
	flush := func() {
		if len(current) > 0 {
			out = append(out, llm.Message{Role: llm.RoleAssistant, Parts: current})
		}
		if len(results) > 0 {
			out = append(out, llm.Message{Role: llm.RoleUser, Parts: results})
		}
		current, results = nil, nil
	}

	for _, part := range message.Parts {
		switch {
		case part.Type == partTypeStepStart:
			if len(results) > 0 {
				flush()
			}
		case part.Type == partTypeText:
			if part.Text == "" {
				continue
			}
			if len(results) > 0 {
				flush()
			}
			current = append(current, llm.TextPart(part.Text))
		case strings.HasPrefix(part.Type, toolPartPrefix):
			name := strings.TrimPrefix(part.Type, toolPartPrefix)
			if part.ToolCallID == "" || name == "" {
				return nil, fmt.Errorf("tool part %q needs a toolCallId", part.Type)
			}
			result, ok := toolResultFromPart(name, part)
			if !ok {
				continue
			}
			current = append(current, llm.ToolCallPart(llm.ToolCall{ID: part.ToolCallID, Name: name, Input: part.Input}))
			results = append(results, llm.ToolResultPart(result))
		}
	}
	flush()
	return out, nil
}

func toolResultFromPart(name string, part UIPart) (llm.ToolResult, bool) {
	switch part.State {
	case toolStateOutputAvailable:
		return llm.ToolResult{CallID: part.ToolCallID, Name: name, Content: outputText(part.Output)}, true
	case toolStateOutputError:
		return llm.ToolResult{CallID: part.ToolCallID, Name: name, Content: part.ErrorText, IsError: true}, true
	default:
		return llm.ToolResult{}, false
	}
}

// outputText unquotes JSON strings and keeps any other JSON value verbatim.
func outputText(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	return string(raw)
}
