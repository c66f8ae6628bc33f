package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/salesql/salesql/internal/llm"
	"github.com/salesql/salesql/internal/observability"
	"github.com/salesql/salesql/internal/query"
	"github.com/salesql/salesql/internal/sqlguard"
)

const (
	defaultMaxSteps  = 5
	defaultMaxTokens = 4096
)

type Config struct {
	Logger    *slog.Logger
	Model     llm.Model
	Validator *sqlguard.Validator
	Engine    query.Engine
	Clock     clockwork.Clock

	MaxSteps         int
	MaxTokens        int
	Temperature      float64
	RowLimit         int
	ToolTimeout      time.Duration
	RequestTimeout   time.Duration
	MaxToolResultLen int

	// NewMessageID overrides the generator for stream message ids.
	NewMessageID func() string
}

func (cfg *Config) Validate() error {
	if cfg.Model == nil {
		return errors.New("model is required")
	}
	if cfg.Engine == nil {
		return errors.New("query engine is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = sqlguard.NewValidator(sqlguard.DefaultPolicy())
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.NewMessageID == nil {
		cfg.NewMessageID = uuid.NewString
	}
	if cfg.MaxSteps == 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.MaxSteps < 0 {
		return errors.New("max steps must be greater than 0")
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxTokens < 0 {
		return errors.New("max tokens must be greater than 0")
	}
	if cfg.ToolTimeout < 0 || cfg.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// Orchestrator drives one conversation per Run: it alternates model turns
// with schema/db tool dispatch until the model stops calling tools or the
// step budget is spent.
type Orchestrator struct {
	log       *slog.Logger
	model     llm.Model
	validator *sqlguard.Validator
	engine    query.Engine
	clock     clockwork.Clock
	tools     []llm.ToolSpec
	newID     func() string

	maxSteps         int
	maxTokens        int
	temperature      float64
	rowLimit         int
	toolTimeout      time.Duration
	requestTimeout   time.Duration
	maxToolResultLen int
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tools, err := buildToolSpecs()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		log:              cfg.Logger,
		model:            cfg.Model,
		validator:        cfg.Validator,
		engine:           cfg.Engine,
		clock:            cfg.Clock,
		tools:            tools,
		newID:            cfg.NewMessageID,
		maxSteps:         cfg.MaxSteps,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
		rowLimit:         cfg.RowLimit,
		toolTimeout:      cfg.ToolTimeout,
		requestTimeout:   cfg.RequestTimeout,
		maxToolResultLen: cfg.MaxToolResultLen,
	}, nil
}

type RunResult struct {
	MessageID    string
	Steps        int
	FinishReason FinishReason
	Usage        llm.Usage
	// Messages is the input history followed by every turn the run added.
	Messages []llm.Message
}

// Stream runs the conversation in a goroutine and delivers its events on the
// returned channel, which is closed when the run ends. Cancelling ctx stops
// the run and unblocks the producer.
func (o *Orchestrator) Stream(ctx context.Context, history []llm.Message) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		_, _ = o.Run(ctx, history, func(event Event) error {
			select {
			case events <- event:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return events
}

// Run executes the conversation synchronously, calling emit for each event.
// Tool failures are returned to the model; only model or emit failures end the
// run with an error.
func (o *Orchestrator) Run(ctx context.Context, history []llm.Message, emit Emitter) (RunResult, error) {
	if emit == nil {
		emit = func(Event) error { return nil }
	}
	if o.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.requestTimeout)
		defer cancel()
	}

	started := o.clock.Now()
	result := RunResult{
		MessageID: o.newID(),
		Messages:  append([]llm.Message(nil), history...),
	}
	log := observability.LoggerWithTrace(ctx, o.log).With("message_id", result.MessageID, "model", o.model.Name())
	defer func() {
		observability.ObserveChatRun(string(result.FinishReason), result.Steps, o.clock.Since(started))
	}()

	if err := emit(Event{Type: EventStart, MessageID: result.MessageID}); err != nil {
		result.FinishReason = FinishError
		return result, err
	}
	system := SystemPrompt(started)

	for step := 1; step <= o.maxSteps; step++ {
		result.Steps = step
		if err := emit(Event{Type: EventStartStep, Step: step}); err != nil {
			result.FinishReason = FinishError
			return result, err
		}

		response, err := o.modelTurn(ctx, system, result.Messages, step, emit)
		if err != nil {
			return o.fail(&result, log, emit, err)
		}
		result.Usage = result.Usage.Add(response.Usage)
		result.Messages = append(result.Messages, assistantMessage(response))

		if len(response.ToolCalls) == 0 {
			reason := finishReasonFor(response.StopReason)
			if reason == FinishToolCalls {
				reason = FinishStop
			}
			result.FinishReason = reason
			if err := o.finish(&result, emit, reason); err != nil {
				return result, err
			}
			log.Info("chat run finished", "steps", step, "finish_reason", reason, "input_tokens", result.Usage.InputTokens, "output_tokens", result.Usage.OutputTokens)
			return result, nil
		}

		parts := make([]llm.Part, 0, len(response.ToolCalls))
		for _, call := range response.ToolCalls {
			if err := ctx.Err(); err != nil {
				return o.fail(&result, log, emit, err)
			}
			if err := emit(Event{Type: EventToolCall, Step: step, ToolCallID: call.ID, ToolName: call.Name, Input: call.Input}); err != nil {
				result.FinishReason = FinishError
				return result, err
			}

			outcome := o.dispatch(ctx, call)
			event := Event{Type: EventToolResult, Step: step, ToolCallID: call.ID, ToolName: call.Name, Output: outcome.Output}
			if outcome.Err != nil {
				log.Debug("tool call failed", "step", step, "tool", call.Name, "error", outcome.Err)
				event = Event{Type: EventToolError, Step: step, ToolCallID: call.ID, ToolName: call.Name, ErrorText: outcome.Err.Error()}
			}
			if err := emit(event); err != nil {
				result.FinishReason = FinishError
				return result, err
			}
			parts = append(parts, llm.ToolResultPart(outcome.result(call)))
		}
		result.Messages = append(result.Messages, llm.Message{Role: llm.RoleUser, Parts: parts})

		if err := emit(Event{Type: EventFinishStep, Step: step, FinishReason: FinishToolCalls}); err != nil {
			result.FinishReason = FinishError
			return result, err
		}
	}

	result.FinishReason = FinishMaxSteps
	log.Info("chat run reached step limit", "steps", result.Steps, "max_steps", o.maxSteps)
	if err := emit(Event{Type: EventFinish, FinishReason: FinishMaxSteps, Usage: result.Usage}); err != nil {
		return result, err
	}
	return result, nil
}

func (o *Orchestrator) modelTurn(ctx context.Context, system string, messages []llm.Message, step int, emit Emitter) (llm.Response, error) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var emitErr error
	response, err := o.model.Stream(turnCtx, llm.Request{
		System:      system,
		Messages:    messages,
		Tools:       o.tools,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
	}, func(text string) {
		if emitErr != nil {
			return
		}
		if emitErr = emit(Event{Type: EventTextDelta, Step: step, Text: text}); emitErr != nil {
			cancel()
		}
	})
	if emitErr != nil {
		return llm.Response{}, &emitError{err: emitErr}
	}
	if err != nil {
		return llm.Response{}, fmt.Errorf("model turn %d: %w", step, err)
	}
	return response, nil
}

func (o *Orchestrator) finish(result *RunResult, emit Emitter, reason FinishReason) error {
	if err := emit(Event{Type: EventFinishStep, Step: result.Steps, FinishReason: reason}); err != nil {
		return err
	}
	return emit(Event{Type: EventFinish, FinishReason: reason, Usage: result.Usage})
}

// fail reports err to the stream when the consumer is still listening.
func (o *Orchestrator) fail(result *RunResult, log *slog.Logger, emit Emitter, err error) (RunResult, error) {
	result.FinishReason = FinishError
	var lost *emitError
	if errors.As(err, &lost) {
		return *result, lost.err
	}
	log.Warn("chat run failed", "step", result.Steps, "error", err)
	if emitErr := emit(Event{Type: EventError, ErrorText: clientErrorText(err)}); emitErr == nil {
		_ = emit(Event{Type: EventFinish, FinishReason: FinishError, Usage: result.Usage})
	}
	return *result, err
}

type emitError struct {
	err error
}

func (e *emitError) Error() string {
	return fmt.Sprintf("emit event: %v", e.err)
}

func (e *emitError) Unwrap() error {
	return e.err
}

func clientErrorText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return "model request failed"
	}
}

func assistantMessage(response llm.Response) llm.Message {
	parts := make([]llm.Part, 0, len(response.ToolCalls)+1)
	if response.Text != "" {
		parts = append(parts, llm.TextPart(response.Text))
	}
	for _, call := range response.ToolCalls {
		parts = append(parts, llm.ToolCallPart(call))
	}
	return llm.Message{Role: llm.RoleAssistant, Parts: parts}
}
