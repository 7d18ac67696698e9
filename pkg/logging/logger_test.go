package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"saferoute/pkg/config"
)

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	serverLog := filepath.Join(tempDir, "server.log")
	requestLog := filepath.Join(tempDir, "requests.log")

	// A previous run's log must be rotated away.
	if err := os.WriteFile(serverLog, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.LogConfig{
		Server:   config.LogSettings{Path: serverLog, Level: "DEBUG"},
		Requests: config.LogSettings{Path: requestLog, Level: "INFO"},
	}

	original := slog.Default()
	defer slog.SetDefault(original)

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Debug("debug line", "k", "v")
	RequestLogger.Info("Request Processed", "path", "/health")
	cleanup()

	old, err := os.ReadFile(serverLog + ".old")
	if err != nil || string(old) != "previous run\n" {
		t.Errorf("expected rotated .old file, got %q (err %v)", old, err)
	}

	content, _ := os.ReadFile(serverLog)
	if !strings.Contains(string(content), "debug line") {
		t.Errorf("server log missing debug line: %s", content)
	}

	reqContent, _ := os.ReadFile(requestLog)
	if !strings.Contains(string(reqContent), "path=/health") {
		t.Errorf("request log missing entry: %s", reqContent)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMultiHandler_RespectsLevels(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}}
	logger := slog.New(h).With("component", "test")

	logger.Debug("only debug")
	logger.Info("both")

	if !strings.Contains(debugBuf.String(), "only debug") || !strings.Contains(debugBuf.String(), "component=test") {
		t.Errorf("debug handler missing records: %s", debugBuf.String())
	}
	if strings.Contains(infoBuf.String(), "only debug") {
		t.Errorf("info handler received a debug record: %s", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "both") {
		t.Errorf("info handler missing info record: %s", infoBuf.String())
	}
}
