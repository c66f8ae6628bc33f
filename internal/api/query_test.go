package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/salesql/salesql/internal/query"
)

func TestQueryEndpointExecutesAcceptedSQL(t *testing.T) {
	engine := &fakeEngine{result: query.Result{
		Columns:  []string{"id", "name"},
		Rows:     []query.Row{{"id": int64(1), "name": "Laptop"}},
		Duration: 3 * time.Millisecond,
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{QueryEngine: engine, RowLimit: 50})

	rr := postJSON(h, "/v1/query", `{"sql":"  SELECT * FROM products  ","row_limit":500}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	if len(engine.requests) != 1 || engine.requests[0].SQL != "  SELECT * FROM products  " || engine.requests[0].RowLimit != 50 {
		t.Fatalf("engine requests = %#v", engine.requests)
	}
	body := decodeBody(t, rr)
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 || rows[0].(map[string]any)["name"] != "Laptop" {
		t.Fatalf("rows = %#v", body["rows"])
	}
	stats := body["stats"].(map[string]any)
	if stats["duration_ms"] != float64(3) || stats["row_count"] != float64(1) {
		t.Fatalf("stats = %#v", stats)
	}
}

func TestQueryEndpointRejectsDisallowedSQL(t *testing.T) {
	cases := []struct {
		sql    string
		reason string
		token  any
	}{
		{sql: "SELECT name FROM products; DROP TABLE products", reason: "multiple_statements"},
		{sql: "update products set price=0", reason: "command_not_allowed", token: "update"},
		{sql: "select * from sales where region = 'vacuum-sealed'", reason: "blocked_keyword", token: "vacuum"},
	}
	for _, tc := range cases {
		engine := &fakeEngine{}
		h := NewHandler(loadConfig(t, nil), Dependencies{QueryEngine: engine})
		rr := postJSON(h, "/v1/query", `{"sql":`+quote(tc.sql)+`}`)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%q: status = %d", tc.sql, rr.Code)
		}
		body := decodeBody(t, rr)
		extra, _ := body["context"].(map[string]any)
		if body["error_code"] != "SQL_NOT_ALLOWED" || extra["reason"] != tc.reason || extra["token"] != tc.token {
			t.Fatalf("%q: body = %#v", tc.sql, body)
		}
		if len(engine.requests) != 0 {
			t.Fatalf("%q: engine was called", tc.sql)
		}
	}
}

func TestQueryEndpointErrors(t *testing.T) {
	execErr := &query.ExecutionError{Err: errors.New("Parser Error: syntax error at end of input")}
	cases := []struct {
		name   string
		engine *fakeEngine
		body   string
		status int
		code   string
	}{
		{name: "bad json", engine: &fakeEngine{}, body: `{"sql":`, status: http.StatusBadRequest, code: "INVALID_JSON"},
		{name: "unknown field", engine: &fakeEngine{}, body: `{"sql":"select 1","params":{}}`, status: http.StatusBadRequest, code: "INVALID_JSON"},
		{name: "blank sql", engine: &fakeEngine{}, body: `{"sql":"   "}`, status: http.StatusBadRequest, code: "SQL_REQUIRED"},
		{name: "execution", engine: &fakeEngine{err: execErr}, body: `{"sql":"select from"}`, status: http.StatusBadRequest, code: "QUERY_EXECUTION_FAILED"},
		{name: "engine", engine: &fakeEngine{err: errors.New("no snapshot published")}, body: `{"sql":"select 1"}`, status: http.StatusInternalServerError, code: "QUERY_ENGINE_ERROR"},
	}
	for _, tc := range cases {
		h := NewHandler(loadConfig(t, nil), Dependencies{QueryEngine: tc.engine})
		rr := postJSON(h, "/v1/query", tc.body)
		if rr.Code != tc.status {
			t.Fatalf("%s: status = %d", tc.name, rr.Code)
		}
		if body := decodeBody(t, rr); body["error_code"] != tc.code {
			t.Fatalf("%s: body = %#v", tc.name, body)
		}
	}

	h := NewHandler(loadConfig(t, nil), Dependencies{})
	if rr := postJSON(h, "/v1/query", `{"sql":"select 1"}`); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured status = %d", rr.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})

	accepted := decodeBody(t, postJSON(h, "/v1/query/validate", `{"sql":"SeLeCt count(*) from sales"}`))
	if accepted["accepted"] != true {
		t.Fatalf("accepted body = %#v", accepted)
	}

	rejected := decodeBody(t, postJSON(h, "/v1/query/validate", `{"sql":"select updated_at from products"}`))
	if rejected["accepted"] != false || rejected["reason"] != "blocked_keyword" || rejected["token"] != "update" {
		t.Fatalf("rejected body = %#v", rejected)
	}
	if rejected["message"] != "Blocked SQL keyword detected: update" {
		t.Fatalf("message = %#v", rejected["message"])
	}
}

func TestEffectiveRowLimit(t *testing.T) {
	cases := []struct{ requested, server, want int }{
		{0, 100, 100},
		{10, 100, 10},
		{1000, 100, 100},
		{10, 0, 10},
		{0, 0, 0},
	}
	for _, tc := range cases {
		if got := effectiveRowLimit(tc.requested, tc.server); got != tc.want {
			t.Fatalf("effectiveRowLimit(%d, %d) = %d, want %d", tc.requested, tc.server, got, tc.want)
		}
	}
}

func postJSON(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func quote(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `\"`) + `"`
}

type fakeEngine struct {
	result   query.Result
	err      error
	pingErr  error
	requests []query.Request
}

func (e *fakeEngine) Execute(_ context.Context, request query.Request) (query.Result, error) {
	e.requests = append(e.requests, request)
	return e.result, e.err
}

func (e *fakeEngine) Ping(context.Context) error {
	return e.pingErr
}
