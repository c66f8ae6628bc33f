// Package postgres runs validated queries against PostgreSQL inside read-only transactions.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/salesql/salesql/internal/query"
)

type Engine struct {
	db *sql.DB
}

var _ query.Engine = (*Engine)(nil)

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Execute runs the query in a READ ONLY transaction that is always rolled back, so a statement
// that slipped past validation still cannot change data.
func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	if e.db == nil {
		return query.Result{}, fmt.Errorf("database handle is required")
	}

	tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return query.Collect(ctx, tx, request.SQL, request.RowLimit)
}

func (e *Engine) Ping(ctx context.Context) error {
	if e.db == nil {
		return fmt.Errorf("database handle is required")
	}
	return e.db.PingContext(ctx)
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}
