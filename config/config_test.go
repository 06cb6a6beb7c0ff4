package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigLayering(t *testing.T) {
	home := t.TempDir()
	wd := t.TempDir()
	t.Setenv("HOME", home)

	writeFile(t, filepath.Join(home, ".stepwise", "config.yaml"), `
llm: anthropic
model: claude-user
retry:
  max_attempts: 3
  delay: 2s
`)
	writeFile(t, filepath.Join(wd, ".stepwise", "config.yaml"), `
model: gpt-project
providers: [web-search]
`)
	explicit := filepath.Join(wd, "run.yaml")
	writeFile(t, explicit, `
sampling:
  max_tokens: 4096
notebook: false
`)

	orig, _ := os.Getwd()
	if err := os.Chdir(wd); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(orig) })

	cfg, err := LoadConfig(explicit)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LLMClient != "anthropic" {
		t.Errorf("LLMClient = %q, want anthropic", cfg.LLMClient)
	}
	if cfg.Model != "gpt-project" {
		t.Errorf("Model = %q, want project override", cfg.Model)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Delay != 2*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Sampling.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d", cfg.Sampling.MaxTokens)
	}
	if cfg.Sampling.Temperature == nil || *cfg.Sampling.Temperature != 0.4 {
		t.Errorf("temperature default lost: %v", cfg.Sampling.Temperature)
	}
	if cfg.NotebookEnabled() {
		t.Error("notebook should be disabled by explicit config")
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0] != "web-search" {
		t.Errorf("Providers = %v", cfg.Providers)
	}
}

func TestLoadConfigMissingExplicit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.MaxVerifications != 4 {
		t.Errorf("MaxVerifications = %d", cfg.MaxVerifications)
	}
	if cfg.Retry.MaxAttempts != 20 || cfg.Retry.Delay != 20*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if !cfg.NotebookEnabled() {
		t.Error("notebook should default on")
	}
	over := cfg.ArgumentOverrides["web-search---tavily-search"]
	if over["include_raw_content"] != false {
		t.Errorf("tavily override = %v", over)
	}
}

func TestUseSystemRole(t *testing.T) {
	tests := []struct {
		mode, model string
		want        bool
	}{
		{"auto", "gpt-4o", true},
		{"auto", "o1-preview", false},
		{"auto", "O1-mini", false},
		{"always", "o1-preview", true},
		{"never", "gpt-4o", false},
		{"", "deepseek-chat", true},
	}
	for _, tt := range tests {
		t.Run(tt.mode+"/"+tt.model, func(t *testing.T) {
			cfg := &Config{SystemRole: tt.mode, Model: tt.model}
			if got := cfg.UseSystemRole(); got != tt.want {
				t.Errorf("UseSystemRole() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) { c.Model = "gpt-4o" }, ""},
		{"mock needs no model", func(c *Config) { c.LLMClient = "mock" }, ""},
		{"unknown llm", func(c *Config) { c.LLMClient = "llama"; c.Model = "x" }, "unknown llm"},
		{"missing model", func(c *Config) {}, "no model"},
		{"zero attempts", func(c *Config) { c.Model = "m"; c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"server without command", func(c *Config) {
			c.Model = "m"
			c.MCPServers = []MCPServer{{Name: "x"}}
		}, "command"},
		{"bad log level", func(c *Config) { c.Model = "m"; c.LogLevel = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseServersJSONC(t *testing.T) {
	data := []byte(`{
  // search provider
  "mcpServers": {
    "web-search": {
      "command": "npx",
      "args": ["-y", "tavily-mcp"],
      "env": {"TAVILY_API_KEY": ""},
    },
    "edgeone-pages-mcp-server": {"command": "npx", "args": ["edgeone-pages-mcp"]},
  },
}`)
	servers, err := ParseServers(data)
	if err != nil {
		t.Fatalf("ParseServers: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[0].Name != "edgeone-pages-mcp-server" || servers[1].Name != "web-search" {
		t.Errorf("servers not sorted by name: %+v", servers)
	}
	if _, ok := servers[1].Env["TAVILY_API_KEY"]; !ok {
		t.Errorf("env not decoded: %+v", servers[1])
	}
}

func TestServersFileMerges(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", t.TempDir())
	serversPath := filepath.Join(dir, "servers.jsonc")
	writeFile(t, serversPath, `{"mcpServers": {"web-search": {"command": "search-v2"}}}`)
	cfgPath := filepath.Join(dir, "config.yaml")
	writeFile(t, cfgPath, `
mcp_servers_file: `+serversPath+`
mcp_servers:
  - name: web-search
    command: search-v1
  - name: fetch
    command: fetcher
`)
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	s, ok := cfg.Server("web-search")
	if !ok || s.Command != "search-v2" {
		t.Errorf("web-search = %+v, want file entry to win", s)
	}
	if got := strings.Join(cfg.ServerNames(), ","); got != "web-search,fetch" {
		t.Errorf("ServerNames = %s", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	var sb strings.Builder
	logger, err := NewLogger(&sb, "trace")
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(context.Background(), LevelTrace, "payload")
	if !strings.Contains(sb.String(), "level=TRACE") {
		t.Errorf("output = %q", sb.String())
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
