package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/salesql/salesql/internal/chat"
	"github.com/salesql/salesql/internal/llm"
	"github.com/salesql/salesql/internal/query"
)

func TestChatStreamsUIMessageFrames(t *testing.T) {
	runner := &fakeChat{events: []chat.Event{
		{Type: chat.EventStart, MessageID: "msg-1"},
		{Type: chat.EventStartStep, Step: 1},
		{Type: chat.EventTextDelta, Step: 1, Text: "Let me "},
		{Type: chat.EventTextDelta, Step: 1, Text: "check."},
		{Type: chat.EventToolCall, Step: 1, ToolCallID: "c1", ToolName: "db", Input: json.RawMessage(`{"query":"select 1"}`)},
		{Type: chat.EventToolResult, Step: 1, ToolCallID: "c1", ToolName: "db", Output: []query.Row{{"n": 1}}},
		{Type: chat.EventFinishStep, Step: 1, FinishReason: chat.FinishToolCalls},
		{Type: chat.EventStartStep, Step: 2},
		{Type: chat.EventToolCall, Step: 2, ToolCallID: "c2", ToolName: "db", Input: json.RawMessage(`{"query":"drop table x"}`)},
		{Type: chat.EventToolError, Step: 2, ToolCallID: "c2", ToolName: "db", ErrorText: "SQL command 'drop' is not allowed"},
		{Type: chat.EventFinishStep, Step: 2, FinishReason: chat.FinishToolCalls},
		{Type: chat.EventFinish, FinishReason: chat.FinishMaxSteps},
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Chat: runner})

	rr := postJSON(h, "/v1/chat", `{"id":"chat-1","messages":[{"id":"u1","role":"user","parts":[{"type":"text","text":"how many?"}],"metadata":{"x":1}}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Content-Type") != "text/event-stream" || rr.Header().Get("x-vercel-ai-ui-message-stream") != "v1" {
		t.Fatalf("headers = %#v", rr.Header())
	}
	if len(runner.history) != 1 || runner.history[0].Parts[0].Text != "how many?" {
		t.Fatalf("history = %#v", runner.history)
	}

	frames := parseFrames(t, rr.Body.String())
	if frames[len(frames)-1] != "[DONE]" {
		t.Fatalf("last frame = %q", frames[len(frames)-1])
	}
	var types []string
	for _, frame := range frames[:len(frames)-1] {
		var payload map[string]any
		if err := json.Unmarshal([]byte(frame), &payload); err != nil {
			t.Fatalf("frame %q: %v", frame, err)
		}
		types = append(types, payload["type"].(string))
		switch payload["type"] {
		case "start":
			if payload["messageId"] != "msg-1" {
				t.Fatalf("start frame = %#v", payload)
			}
		case "text-delta":
			if payload["id"] != "msg-1-text-1" {
				t.Fatalf("text-delta frame = %#v", payload)
			}
		case "tool-input-available":
			if payload["toolName"] != "db" {
				t.Fatalf("tool input frame = %#v", payload)
			}
		case "tool-output-error":
			if payload["errorText"] != "SQL command 'drop' is not allowed" {
				t.Fatalf("tool error frame = %#v", payload)
			}
		case "finish":
			metadata := payload["messageMetadata"].(map[string]any)
			if metadata["finishReason"] != "max-steps" {
				t.Fatalf("finish frame = %#v", payload)
			}
		}
	}
	want := "start start-step text-start text-delta text-delta text-end tool-input-available tool-output-available finish-step " +
		"start-step tool-input-available tool-output-error finish-step finish"
	if strings.Join(types, " ") != want {
		t.Fatalf("frame types:\n got %s\nwant %s", strings.Join(types, " "), want)
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
		code string
	}{
		{name: "bad json", body: `{"messages":`, code: "INVALID_JSON"},
		{name: "no messages", body: `{"messages":[]}`, code: "INVALID_MESSAGES"},
		{name: "bad role", body: `{"messages":[{"role":"system","content":"x"}]}`, code: "INVALID_MESSAGES"},
	}
	for _, tc := range cases {
		runner := &fakeChat{}
		h := NewHandler(loadConfig(t, nil), Dependencies{Chat: runner})
		rr := postJSON(h, "/v1/chat", tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.name, rr.Code)
		}
		if body := decodeBody(t, rr); body["error_code"] != tc.code {
			t.Fatalf("%s: body = %#v", tc.name, body)
		}
		if runner.called {
			t.Fatalf("%s: orchestration started", tc.name)
		}
	}

	h := NewHandler(loadConfig(t, nil), Dependencies{})
	if rr := postJSON(h, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured status = %d", rr.Code)
	}
}

func TestUIStreamWriterClosesOpenTextOnFinish(t *testing.T) {
	runner := &fakeChat{events: []chat.Event{
		{Type: chat.EventStart, MessageID: "m"},
		{Type: chat.EventStartStep, Step: 1},
		{Type: chat.EventTextDelta, Step: 1, Text: "partial"},
		{Type: chat.EventError, ErrorText: "model request failed"},
		{Type: chat.EventFinish, FinishReason: chat.FinishError},
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Chat: runner})
	rr := postJSON(h, "/v1/chat", `{"messages":[{"role":"user","content":"hi"}]}`)

	frames := parseFrames(t, rr.Body.String())
	var types []string
	for _, frame := range frames[:len(frames)-1] {
		var payload map[string]any
		_ = json.Unmarshal([]byte(frame), &payload)
		types = append(types, payload["type"].(string))
	}
	if strings.Join(types, " ") != "start start-step text-start text-delta error text-end finish" {
		t.Fatalf("frame types = %v", types)
	}
}

func parseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, block := range strings.Split(strings.TrimSpace(body), "\n\n") {
		if !strings.HasPrefix(block, "data: ") {
			t.Fatalf("malformed frame %q", block)
		}
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	if len(frames) == 0 {
		t.Fatal("no frames")
	}
	return frames
}

type fakeChat struct {
	events  []chat.Event
	history []llm.Message
	called  bool
}

func (f *fakeChat) Stream(ctx context.Context, history []llm.Message) <-chan chat.Event {
	f.called = true
	f.history = history
	out := make(chan chat.Event)
	go func() {
		defer close(out)
		for _, event := range f.events {
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
