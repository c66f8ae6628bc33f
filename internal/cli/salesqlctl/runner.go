package salesqlctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"
)

const streamDoneMarker = "[DONE]"

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type call struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("salesqlctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "SaleSQL API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Second), "HTTP timeout for non-streaming commands (e.g. 10s)")
	rowLimit := fs.Int("row-limit", 0, "Row limit for the query command (0 uses the server default)")
	verbose := fs.Bool("v", false, "Print tool calls and results while streaming an answer")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	command := strings.TrimSpace(fs.Arg(0))
	argument := strings.TrimSpace(strings.Join(fs.Args()[1:], " "))
	endpoint := strings.TrimRight(*baseURL, "/")

	var c call
	switch command {
	case "health":
		c = call{method: http.MethodGet, path: "/v1/health"}
	case "ready":
		c = call{method: http.MethodGet, path: "/v1/ready"}
	case "schema":
		c = call{method: http.MethodGet, path: "/v1/schema"}
	case "validate", "query", "ask":
		if argument == "" {
			_, _ = fmt.Fprintf(stderr, "%s requires an argument\n\n", command)
			writeUsage(stderr)
			return 2
		}
		switch command {
		case "validate":
			c = call{method: http.MethodPost, path: "/v1/query/validate", body: map[string]any{"sql": argument}}
		case "query":
			body := map[string]any{"sql": argument}
			if *rowLimit > 0 {
				body["row_limit"] = *rowLimit
			}
			c = call{method: http.MethodPost, path: "/v1/query", body: body}
		case "ask":
			client := defaults.HTTPClient
			if client == nil {
				// The answer streams for as long as the server's request timeout allows.
				client = &http.Client{}
			}
			return ask(ctx, client, endpoint, *apiKey, argument, *verbose, stdout, stderr)
		}
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	code, responseBody, err := doRequest(ctx, client, c.method, endpoint+c.path, *apiKey, c.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func newRequest(ctx context.Context, method, url, apiKey string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}
	return req, nil
}

func doRequest(ctx context.Context, client *http.Client, method, url, apiKey string, body any) (int, []byte, error) {
	req, err := newRequest(ctx, method, url, apiKey, body)
	if err != nil {
		return 0, nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

// streamFrame is the subset of UI message stream fields the CLI renders.
type streamFrame struct {
	Type            string          `json:"type"`
	Delta           string          `json:"delta"`
	ToolName        string          `json:"toolName"`
	Input           json.RawMessage `json:"input"`
	Output          json.RawMessage `json:"output"`
	ErrorText       string          `json:"errorText"`
	MessageMetadata struct {
		FinishReason string `json:"finishReason"`
	} `json:"messageMetadata"`
}

func ask(ctx context.Context, client *http.Client, endpoint, apiKey, question string, verbose bool, stdout, stderr io.Writer) int {
	body := map[string]any{
		"id": uuid.NewString(),
		"messages": []map[string]any{{
			"id":    uuid.NewString(),
			"role":  "user",
			"parts": []map[string]any{{"type": "text", "text": question}},
		}},
	}
	req, err := newRequest(ctx, http.MethodPost, endpoint+"/v1/chat", apiKey, body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", resp.StatusCode, strings.TrimSpace(string(raw)))
		return 1
	}

	decoder := ssestream.NewDecoder(resp)
	defer func() { _ = decoder.Close() }()

	exit := 0
	wroteText := false
	for decoder.Next() {
		data := bytes.TrimSpace(decoder.Event().Data)
		if len(data) == 0 {
			continue
		}
		if string(data) == streamDoneMarker {
			break
		}

		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_, _ = fmt.Fprintf(stderr, "decode stream frame: %v\n", err)
			return 1
		}
		switch frame.Type {
		case "text-delta":
			_, _ = io.WriteString(stdout, frame.Delta)
			wroteText = true
		case "tool-input-available":
			if verbose {
				_, _ = fmt.Fprintf(stderr, "[%s] %s\n", frame.ToolName, compactJSON(frame.Input))
			}
		case "tool-output-available":
			if verbose {
				_, _ = fmt.Fprintf(stderr, "[result] %s\n", compactJSON(frame.Output))
			}
		case "tool-output-error":
			if verbose {
				_, _ = fmt.Fprintf(stderr, "[tool error] %s\n", frame.ErrorText)
			}
		case "error":
			_, _ = fmt.Fprintf(stderr, "chat failed: %s\n", frame.ErrorText)
			exit = 1
		case "finish":
			if verbose && frame.MessageMetadata.FinishReason != "" {
				_, _ = fmt.Fprintf(stderr, "[finish] %s\n", frame.MessageMetadata.FinishReason)
			}
		}
	}
	if wroteText {
		_, _ = fmt.Fprintln(stdout)
	}
	if err := decoder.Err(); err != nil {
		_, _ = fmt.Fprintf(stderr, "read chat stream: %v\n", err)
		return 1
	}
	return exit
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: salesqlctl [flags] <command> [argument]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health              GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready               GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  schema              GET /v1/schema")
	_, _ = fmt.Fprintln(w, "  validate <sql>      POST /v1/query/validate")
	_, _ = fmt.Fprintln(w, "  query <sql>         POST /v1/query")
	_, _ = fmt.Fprintln(w, "  ask <question>      POST /v1/chat (streams the answer)")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
