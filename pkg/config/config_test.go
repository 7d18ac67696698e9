package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"saferoute/pkg/model"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		content       string // empty means no file
		validate      func(*testing.T, *Config)
		checkFile     func(*testing.T, string)
		expectedError bool
	}{
		{
			name: "NewFile_Defaults",
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Analysis.Speed != 55.0 {
					t.Errorf("expected default speed 55, got %v", cfg.Analysis.Speed)
				}
				if cfg.Analysis.Conditions() != model.DefaultConditions() {
					t.Errorf("expected default conditions, got %+v", cfg.Analysis.Conditions())
				}
				if time.Duration(cfg.Backend.Timeout) != 30*time.Second {
					t.Errorf("expected 30s timeout, got %v", time.Duration(cfg.Backend.Timeout))
				}
				if !cfg.Backend.RequireNarrative {
					t.Error("expected require_narrative to default to true")
				}
			},
			checkFile: func(t *testing.T, path string) {
				content, err := os.ReadFile(path)
				if err != nil {
					t.Fatalf("failed to read config file: %v", err)
				}
				if !strings.Contains(string(content), "weather: Clear") {
					t.Error("config file missing default weather")
				}
				if !strings.Contains(string(content), "# Options: none, edge-tts") {
					t.Error("config file missing engine options comment")
				}
			},
		},
		{
			name:    "ExistingFile_Override",
			content: "backend:\n  endpoint: https://analysis.example.com/process_route\n  timeout: 1m\nanalysis:\n  traffic: Heavy\n",
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Backend.Endpoint != "https://analysis.example.com/process_route" {
					t.Errorf("unexpected endpoint %q", cfg.Backend.Endpoint)
				}
				if time.Duration(cfg.Backend.Timeout) != time.Minute {
					t.Errorf("expected 1m timeout, got %v", time.Duration(cfg.Backend.Timeout))
				}
				if cfg.Analysis.Traffic != "Heavy" {
					t.Errorf("expected Heavy traffic, got %q", cfg.Analysis.Traffic)
				}
				// Untouched fields keep their defaults.
				if cfg.Analysis.Weather != "Clear" {
					t.Errorf("expected default weather, got %q", cfg.Analysis.Weather)
				}
			},
			checkFile: func(t *testing.T, path string) {
				content, _ := os.ReadFile(path)
				if strings.Contains(string(content), "# SafeRoute Configuration") {
					t.Error("existing config file must not be rewritten")
				}
			},
		},
		{
			name:          "InvalidWeather",
			content:       "analysis:\n  weather: Hail\n",
			expectedError: true,
		},
		{
			name:          "InvalidEngine",
			content:       "tts:\n  engine: windows-sapi\n",
			expectedError: true,
		},
		{
			name:          "MalformedYAML",
			content:       "backend: [",
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "configs", "saferoute.yaml")
			if tt.content != "" {
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
					t.Fatalf("failed to setup test file: %v", err)
				}
			}

			cfg, err := Load(path)
			if tt.expectedError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
			if tt.checkFile != nil {
				tt.checkFile(t, path)
			}
		})
	}
}

func TestLoad_EnvFallback(t *testing.T) {
	t.Setenv("SAFEROUTE_BYPASS_VALUE", "tunnel-secret")
	t.Setenv("SAFEROUTE_BACKEND_ENDPOINT", "https://tunnel.example.dev/process_route")

	path := filepath.Join(t.TempDir(), "saferoute.yaml")
	if err := os.WriteFile(path, []byte("backend:\n  bypass_header: X-Tunnel-Skip\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Backend.BypassValue != "tunnel-secret" {
		t.Errorf("expected bypass value from env, got %q", cfg.Backend.BypassValue)
	}
	if cfg.Backend.Endpoint != "https://tunnel.example.dev/process_route" {
		t.Errorf("expected endpoint from env, got %q", cfg.Backend.Endpoint)
	}

	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), "tunnel-secret") {
		t.Error("env secrets must not be written to disk")
	}
}

func TestGenerateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "saferoute.yaml")
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	// Existing files are left alone.
	if err := os.WriteFile(path, []byte("custom"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault failed: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "custom" {
		t.Error("GenerateDefault overwrote an existing file")
	}
}
