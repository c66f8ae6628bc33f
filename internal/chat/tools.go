package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/salesql/salesql/internal/catalog"
	"github.com/salesql/salesql/internal/llm"
	"github.com/salesql/salesql/internal/observability"
	"github.com/salesql/salesql/internal/query"
	"github.com/salesql/salesql/internal/sqlguard"
)

type ToolName string

const (
	ToolSchema ToolName = "schema"
	ToolDB     ToolName = "db"
)

var ErrUnknownTool = errors.New("unknown tool")

func ParseToolName(name string) (ToolName, error) {
	switch ToolName(name) {
	case ToolSchema, ToolDB:
		return ToolName(name), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
}

type schemaToolInput struct{}

type dbToolInput struct {
	Query string `json:"query" jsonschema:"The SQL query to ran."`
}

func buildToolSpecs() ([]llm.ToolSpec, error) {
	schemaSpec, err := llm.NewToolSpec[schemaToolInput](string(ToolSchema), "Call this tool to get database schema information.")
	if err != nil {
		return nil, fmt.Errorf("schema tool: %w", err)
	}
	dbSpec, err := llm.NewToolSpec[dbToolInput](string(ToolDB), "Call this tool to query a database.")
	if err != nil {
		return nil, fmt.Errorf("db tool: %w", err)
	}
	return []llm.ToolSpec{dbSpec, schemaSpec}, nil
}

type toolOutcome struct {
	// Content is what the model sees; Output is the structured form sent to clients.
	Content string
	Output  any
	Err     error
}

func (o toolOutcome) result(call llm.ToolCall) llm.ToolResult {
	if o.Err != nil {
		return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: o.Err.Error(), IsError: true}
	}
	return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: o.Content}
}

func (o *Orchestrator) dispatch(ctx context.Context, call llm.ToolCall) toolOutcome {
	started := o.clock.Now()
	name, err := ParseToolName(call.Name)
	if err != nil {
		observability.ObserveToolCall("unknown", true, o.clock.Since(started))
		return toolOutcome{Err: err}
	}

	if o.toolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.toolTimeout)
		defer cancel()
	}

	var outcome toolOutcome
	switch name {
	case ToolSchema:
		schema := catalog.Describe()
		outcome = toolOutcome{Content: schema, Output: schema}
	case ToolDB:
		outcome = o.runQuery(ctx, call.Input)
	}
	observability.ObserveToolCall(string(name), outcome.Err != nil, o.clock.Since(started))
	return outcome
}

func (o *Orchestrator) runQuery(ctx context.Context, rawInput json.RawMessage) toolOutcome {
	var input map[string]any
	if len(rawInput) > 0 {
		if err := json.Unmarshal(rawInput, &input); err != nil {
			return toolOutcome{Err: &sqlguard.Rejection{Reason: sqlguard.ReasonInvalidInput}}
		}
	}

	sqlText, err := o.validator.ValidateInput(input)
	if err != nil {
		if rejection, ok := sqlguard.AsRejection(err); ok {
			observability.IncrementQueryRejection(string(rejection.Reason))
		}
		return toolOutcome{Err: err}
	}

	result, err := o.engine.Execute(ctx, query.Request{SQL: sqlText, RowLimit: o.rowLimit})
	observability.ObserveQuery(len(result.Rows), result.Duration, err)
	if err != nil {
		return toolOutcome{Err: err}
	}

	content, kept, err := renderRows(result, o.maxToolResultLen)
	if err != nil {
		return toolOutcome{Err: err}
	}
	return toolOutcome{Content: content, Output: kept}
}

// renderRows encodes rows as a JSON array no longer than maxLen bytes,
// cutting only between rows. maxLen <= 0 disables the cap.
func renderRows(result query.Result, maxLen int) (string, []query.Row, error) {
	rows := result.Rows
	if rows == nil {
		rows = []query.Row{}
	}

	var b bytes.Buffer
	b.WriteByte('[')
	kept := 0
	for _, row := range rows {
		raw, err := json.Marshal(row)
		if err != nil {
			return "", nil, fmt.Errorf("encode row %d: %w", kept, err)
		}
		size := len(raw) + 1
		if kept > 0 {
			size++
		}
		if maxLen > 0 && b.Len()+size > maxLen {
			break
		}
		if kept > 0 {
			b.WriteByte(',')
		}
		b.Write(raw)
		kept++
	}
	b.WriteByte(']')

	switch {
	case kept < len(rows):
		fmt.Fprintf(&b, "\n\n[result truncated: showing %d of %d rows]", kept, len(rows))
	case result.Truncated:
		fmt.Fprintf(&b, "\n\n[result truncated: only the first %d rows were returned]", kept)
	}
	return b.String(), rows[:kept], nil
}
