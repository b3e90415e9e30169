package utils

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ============================================================
// Тесты InitLogger
// ============================================================

func TestInitLogger_Defaults(t *testing.T) {
	logger := InitLogger(LogConfig{})

	if logger == nil || logger.Logger == nil {
		t.Fatal("InitLogger returned incomplete logger")
	}
}

func TestInitLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", "console", ""} {
		t.Run(format, func(t *testing.T) {
			if InitLogger(LogConfig{Level: "debug", Format: format, Development: true}) == nil {
				t.Fatalf("InitLogger returned nil for format %q", format)
			}
		})
	}
}

func readLogLines(t *testing.T, path string) []map[string]interface{} {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Log entry is not valid JSON: %v (%s)", err, line)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestInitLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.log")

	logger := InitLogger(LogConfig{Level: "info", Format: "json", Output: path})
	logger.Info("decision recorded", Symbol("BTCUSDT"), Reason("low_range"))
	logger.Debug("filtered out by level")
	_ = logger.Sync()

	entries := readLogLines(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0]["message"] != "decision recorded" {
		t.Errorf("unexpected message: %v", entries[0]["message"])
	}
	if entries[0]["symbol"] != "BTCUSDT" || entries[0]["reason"] != "low_range" {
		t.Errorf("fields missing: %v", entries[0])
	}
	if _, ok := entries[0]["timestamp"]; !ok {
		t.Error("timestamp key missing")
	}
}

func TestInitLogger_InvalidFileOutput(t *testing.T) {
	logger := InitLogger(LogConfig{Level: "info", Output: "/nonexistent/directory/log.txt"})

	// Fallback на stderr, без паники
	if logger == nil {
		t.Fatal("InitLogger returned nil for invalid output")
	}
	logger.Info("still works")
}

// ============================================================
// Тесты глобального логгера
// ============================================================

func TestGlobalLogger(t *testing.T) {
	globalMu.Lock()
	globalLogger = nil
	globalMu.Unlock()

	logger := GetGlobalLogger()
	if logger == nil {
		t.Fatal("GetGlobalLogger returned nil")
	}
	if GetGlobalLogger() != logger {
		t.Error("GetGlobalLogger returned different loggers")
	}
	if L() != logger {
		t.Error("L() returned different logger")
	}
}

func TestInitAndSetGlobalLogger(t *testing.T) {
	logger := InitGlobalLogger(LogConfig{Level: "debug", Format: "text"})
	if GetGlobalLogger() != logger {
		t.Error("InitGlobalLogger did not set the logger")
	}

	nop := NewNopLogger()
	SetGlobalLogger(nop)
	if L() != nop {
		t.Error("SetGlobalLogger did not set the logger")
	}
}

// ============================================================
// Тесты parseLevel
// ============================================================

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{" Info ", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

// ============================================================
// Тесты дочерних логгеров
// ============================================================

func TestLogger_WithHelpers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "child.log")
	base := InitLogger(LogConfig{Level: "debug", Format: "json", Output: path})

	base.WithComponent("selector").WithSymbol("SOLUSDT").WithDecisionID("d-1").Info("scored")
	_ = base.Sync()

	entries := readLogLines(t, path)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e["component"] != "selector" || e["symbol"] != "SOLUSDT" || e["decision_id"] != "d-1" {
		t.Errorf("context fields missing: %v", e)
	}
}

// ============================================================
// Тесты конструкторов полей
// ============================================================

func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name  string
		field zap.Field
		key   string
	}{
		{"Symbol", Symbol("BTCUSDT"), "symbol"},
		{"Component", Component("gate"), "component"},
		{"DecisionID", DecisionID("abc"), "decision_id"},
		{"SignalID", SignalID("sig"), "signal_id"},
		{"Stage", Stage("filters"), "stage"},
		{"Reason", Reason("high_spread"), "reason"},
		{"State", State("COOLDOWN"), "state"},
		{"Side", Side("buy"), "side"},
		{"Price", Price(100.5), "price"},
		{"Bps", Bps("tp", 22), "tp_bps"},
		{"PNL", PNL(-1.5), "pnl"},
		{"Latency", Latency(12.3), "latency_ms"},
		{"RequestID", RequestID("req"), "request_id"},
		{"Symbols", Symbols([]string{"A", "B"}), "symbols"},
		{"String", String("s", "v"), "s"},
		{"Int", Int("i", 1), "i"},
		{"Int64", Int64("i64", 1), "i64"},
		{"Float64", Float64("f", 1), "f"},
		{"Bool", Bool("b", true), "b"},
		{"Any", Any("a", struct{}{}), "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.field.Key != tt.key {
				t.Errorf("%s key = %q, want %q", tt.name, tt.field.Key, tt.key)
			}
		})
	}

	if Err(errors.New("x")).Key != "error" {
		t.Error("Err key should be error")
	}
}
