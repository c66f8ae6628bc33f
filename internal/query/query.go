package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrExecution = errors.New("query: execution failed")

// Row maps column name to value.
type Row map[string]any

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns   []string
	Rows      []Row
	Truncated bool
	Duration  time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	Ping(ctx context.Context) error
}

// ExecutionError carries a store-level failure unchanged.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

func executionFailure(err error) error {
	if err == nil {
		return nil
	}
	var existing *ExecutionError
	if errors.As(err, &existing) {
		return err
	}
	return &ExecutionError{Err: err}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Collect runs sqlText exactly as given and scans at most rowLimit rows (0 means no limit).
func Collect(ctx context.Context, db queryer, sqlText string, rowLimit int) (Result, error) {
	if db == nil {
		return Result{}, fmt.Errorf("database handle is required")
	}
	start := time.Now()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return Result{}, executionFailure(err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, executionFailure(fmt.Errorf("query columns: %w", err))
	}

	result := Result{Columns: columns, Rows: make([]Row, 0)}
	for rows.Next() {
		if rowLimit > 0 && len(result.Rows) >= rowLimit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, executionFailure(fmt.Errorf("scan row: %w", err))
		}
		row := make(Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, executionFailure(err)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	default:
		return typed
	}
}
