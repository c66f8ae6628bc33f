package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/salesql/salesql/internal/auth"
	"github.com/salesql/salesql/internal/observability"
	"github.com/salesql/salesql/internal/query"
	"github.com/salesql/salesql/internal/sqlguard"
)

const maxQueryBodyBytes = 64 << 10

type queryRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

type queryResponse struct {
	Columns   []string       `json:"columns"`
	Rows      []query.Row    `json:"rows"`
	Truncated bool           `json:"truncated"`
	Stats     map[string]any `json:"stats"`
}

type validateResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Token    string `json:"token,omitempty"`
	Message  string `json:"message,omitempty"`
}

func handleValidateQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := auth.RequireRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	var request queryRequest
	if err := decodeJSONBody(w, r, maxQueryBodyBytes, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid validate request body", false, map[string]any{"details": err.Error()})
		return
	}

	if _, err := deps.Validator.Validate(request.SQL); err != nil {
		rejection, ok := sqlguard.AsRejection(err)
		if !ok {
			writeError(r.Context(), w, http.StatusInternalServerError, "VALIDATION_FAILED", err.Error(), false, nil)
			return
		}
		writeJSON(w, http.StatusOK, validateResponse{
			Reason:  string(rejection.Reason),
			Token:   rejection.Token,
			Message: rejection.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Accepted: true})
}

func handleQuery(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.QueryEngine == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query dependencies are not configured", false, nil)
		return
	}
	if err := auth.RequireRole(r.Context(), auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request queryRequest
	if err := decodeJSONBody(w, r, maxQueryBodyBytes, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.SQL) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_REQUIRED", "sql is required", false, nil)
		return
	}

	sqlText, err := deps.Validator.Validate(request.SQL)
	if err != nil {
		extra := map[string]any{}
		if rejection, ok := sqlguard.AsRejection(err); ok {
			observability.IncrementQueryRejection(string(rejection.Reason))
			extra["reason"] = string(rejection.Reason)
			if rejection.Token != "" {
				extra["token"] = rejection.Token
			}
		}
		writeError(r.Context(), w, http.StatusBadRequest, "SQL_NOT_ALLOWED", err.Error(), false, extra)
		return
	}

	result, err := deps.QueryEngine.Execute(r.Context(), query.Request{
		SQL:      sqlText,
		RowLimit: effectiveRowLimit(request.RowLimit, deps.RowLimit),
	})
	observability.ObserveQuery(len(result.Rows), result.Duration, err)
	if err != nil {
		if !errors.Is(err, query.ErrExecution) {
			writeError(r.Context(), w, http.StatusInternalServerError, "QUERY_ENGINE_ERROR", "query engine failed", true, map[string]any{"details": err.Error()})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{"details": err.Error()})
		return
	}

	rows := result.Rows
	if rows == nil {
		rows = []query.Row{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Columns:   result.Columns,
		Rows:      rows,
		Truncated: result.Truncated,
		Stats: map[string]any{
			"duration_ms": result.Duration.Milliseconds(),
			"row_count":   len(rows),
		},
	})
}

// effectiveRowLimit lets callers lower the server limit but never raise it.
func effectiveRowLimit(requested, server int) int {
	switch {
	case requested <= 0:
		return server
	case server <= 0 || requested < server:
		return requested
	default:
		return server
	}
}
