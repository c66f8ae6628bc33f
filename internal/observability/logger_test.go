package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/salesql/salesql/internal/config"
)

func TestNewLoggerJSONCarriesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Profile:       config.ProfileProd,
		Service:       config.ServiceConfig{Name: "salesql-api"},
		Database:      config.DatabaseConfig{Driver: config.DriverPostgres},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}

	NewLogger(cfg, &buf).Info("ready")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["service"] != "salesql-api" || line["profile"] != "prod" || line["db_driver"] != "postgres" {
		t.Fatalf("log line = %#v", line)
	}
	if _, ok := line["source"]; ok {
		t.Fatal("source should only be added at debug level")
	}
}

func TestNewLoggerConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Config{
		Service:       config.ServiceConfig{Name: "salesql-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelWarn},
	}
	logger := NewLogger(cfg, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "error", errors.New("boom"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "boom") {
		t.Fatalf("console output = %s", out)
	}
}

func TestNewLoggerNilWriter(t *testing.T) {
	NewLogger(config.Config{}, nil).Info("discarded")
}
