// Package llm adapts hosted language models to one streaming, tool-calling interface.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

var ErrEmptyResponse = errors.New("llm: model returned an empty response")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type PartKind string

const (
	PartText       PartKind = "text"
	PartToolCall   PartKind = "tool_call"
	PartToolResult PartKind = "tool_result"
)

type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Part is one piece of a message. Exactly one of Text, ToolCall or ToolResult is set, as named by Kind.
type Part struct {
	Kind       PartKind
	Text       string
	ToolCall   ToolCall
	ToolResult ToolResult
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func ToolCallPart(call ToolCall) Part {
	return Part{Kind: PartToolCall, ToolCall: call}
}

func ToolResultPart(result ToolResult) Part {
	return Part{Kind: PartToolResult, ToolResult: result}
}

// Message is one conversation turn. Tool results travel in user messages.
type Message struct {
	Role  Role
	Parts []Part
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart(text)}}
}

type ToolSpec struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
}

// NewToolSpec derives the input schema from T's json and jsonschema struct tags.
func NewToolSpec[T any](name, description string) (ToolSpec, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return ToolSpec{}, fmt.Errorf("create %s input schema: %w", name, err)
	}
	return ToolSpec{Name: name, Description: description, InputSchema: schema}, nil
}

type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolSpec
	MaxTokens   int
	Temperature float64
}

type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// Model streams one model turn. onText receives text deltas in order as they arrive; the returned
// Response holds the full turn including any tool calls.
type Model interface {
	Name() string
	Stream(ctx context.Context, request Request, onText func(string)) (Response, error)
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

func schemaProperties(schema *jsonschema.Schema) (map[string]*jsonschema.Schema, []string) {
	if schema == nil {
		return map[string]*jsonschema.Schema{}, nil
	}
	properties := schema.Properties
	if properties == nil {
		properties = map[string]*jsonschema.Schema{}
	}
	return properties, schema.Required
}

func inputOrEmptyObject(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage("{}")
	}
	return input
}
