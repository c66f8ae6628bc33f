package chat

import (
	"encoding/json"

	"github.com/salesql/salesql/internal/llm"
)

type EventType string

const (
	EventStart      EventType = "start"
	EventStartStep  EventType = "start-step"
	EventTextDelta  EventType = "text-delta"
	EventToolCall   EventType = "tool-call"
	EventToolResult EventType = "tool-result"
	EventToolError  EventType = "tool-error"
	EventFinishStep EventType = "finish-step"
	EventFinish     EventType = "finish"
	EventError      EventType = "error"
)

type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool-calls"
	FinishLength    FinishReason = "length"
	FinishMaxSteps  FinishReason = "max-steps"
	FinishError     FinishReason = "error"
	FinishOther     FinishReason = "other"
)

// Event is one item of the ordered stream a run produces. Only the fields
// relevant to Type are set.
type Event struct {
	Type      EventType
	MessageID string
	Step      int

	Text string

	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	Output     any
	ErrorText  string

	FinishReason FinishReason
	Usage        llm.Usage
}

// Emitter receives events in production order. A non-nil error stops the run.
type Emitter func(Event) error

func finishReasonFor(stop llm.StopReason) FinishReason {
	switch stop {
	case llm.StopEndTurn:
		return FinishStop
	case llm.StopToolUse:
		return FinishToolCalls
	case llm.StopMaxTokens:
		return FinishLength
	default:
		return FinishOther
	}
}
