package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/salesql/salesql/internal/chat"
)

const uiStreamHeader = "x-vercel-ai-ui-message-stream"

// uiStreamWriter serializes chat events as UI message stream frames over SSE.
type uiStreamWriter struct {
	w          http.ResponseWriter
	controller *http.ResponseController

	messageID string
	textID    string
}

func newUIStreamWriter(w http.ResponseWriter) *uiStreamWriter {
	return &uiStreamWriter{w: w, controller: http.NewResponseController(w)}
}

func (s *uiStreamWriter) writeHeaders() {
	header := s.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set(uiStreamHeader, "v1")
	s.w.WriteHeader(http.StatusOK)
}

func (s *uiStreamWriter) write(event chat.Event) error {
	switch event.Type {
	case chat.EventStart:
		s.messageID = event.MessageID
		return s.frame(map[string]any{"type": "start", "messageId": event.MessageID})
	case chat.EventStartStep:
		return s.frame(map[string]any{"type": "start-step"})
	case chat.EventTextDelta:
		if s.textID == "" {
			s.textID = fmt.Sprintf("%s-text-%d", s.messageID, event.Step)
			if err := s.frame(map[string]any{"type": "text-start", "id": s.textID}); err != nil {
				return err
			}
		}
		return s.frame(map[string]any{"type": "text-delta", "id": s.textID, "delta": event.Text})
	case chat.EventToolCall:
		if err := s.closeText(); err != nil {
			return err
		}
		input := event.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return s.frame(map[string]any{
			"type":       "tool-input-available",
			"toolCallId": event.ToolCallID,
			"toolName":   event.ToolName,
			"input":      input,
		})
	case chat.EventToolResult:
		return s.frame(map[string]any{"type": "tool-output-available", "toolCallId": event.ToolCallID, "output": event.Output})
	case chat.EventToolError:
		return s.frame(map[string]any{"type": "tool-output-error", "toolCallId": event.ToolCallID, "errorText": event.ErrorText})
	case chat.EventFinishStep:
		if err := s.closeText(); err != nil {
			return err
		}
		return s.frame(map[string]any{"type": "finish-step"})
	case chat.EventFinish:
		if err := s.closeText(); err != nil {
			return err
		}
		return s.frame(map[string]any{
			"type": "finish",
			"messageMetadata": map[string]any{
				"finishReason": event.FinishReason,
				"inputTokens":  event.Usage.InputTokens,
				"outputTokens": event.Usage.OutputTokens,
			},
		})
	case chat.EventError:
		return s.frame(map[string]any{"type": "error", "errorText": event.ErrorText})
	default:
		return nil
	}
}

func (s *uiStreamWriter) closeText() error {
	if s.textID == "" {
		return nil
	}
	id := s.textID
	s.textID = ""
	return s.frame(map[string]any{"type": "text-end", "id": id})
}

func (s *uiStreamWriter) done() error {
	return s.raw("[DONE]")
}

func (s *uiStreamWriter) frame(payload map[string]any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode stream frame: %w", err)
	}
	return s.raw(string(encoded))
}

func (s *uiStreamWriter) raw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.controller.Flush()
}
