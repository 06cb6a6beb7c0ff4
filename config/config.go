package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/stepwise/errors"
	"gopkg.in/yaml.v3"
)

type MCPServer struct {
	Name    string            `yaml:"name" json:"-"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args"`
	Env     map[string]string `yaml:"env" json:"env"`
}

type Sampling struct {
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
	MaxTokens   int64    `yaml:"max_tokens"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	// Linear grows the delay by Delay on every attempt, capped at MaxDelay.
	Linear bool `yaml:"linear"`
}

type Config struct {
	LLMClient string   `yaml:"llm"`
	Model     string   `yaml:"model"`
	BaseURL   string   `yaml:"base_url"`
	APIKeyEnv string   `yaml:"api_key_env"`
	Sampling  Sampling `yaml:"sampling"`
	Retry     Retry    `yaml:"retry"`

	SystemPrompt string `yaml:"system_prompt"`
	// SystemRole is "auto", "always" or "never".
	SystemRole string `yaml:"system_role"`

	MCPServers     []MCPServer `yaml:"mcp_servers"`
	MCPServersFile string      `yaml:"mcp_servers_file"`
	Providers      []string    `yaml:"providers"`

	Exclude            []string                  `yaml:"exclude"`
	SummarizeProviders []string                  `yaml:"summarize_providers"`
	PostTaskProvider   string                    `yaml:"post_task_provider"`
	ArgumentOverrides  map[string]map[string]any `yaml:"argument_overrides"`
	MaxVerifications   int                       `yaml:"max_verifications"`
	Notebook           *bool                     `yaml:"notebook"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration every file is layered over.
func Default() *Config {
	temperature, topP := 0.4, 0.7
	notebook := true
	return &Config{
		LLMClient: "openai",
		Sampling: Sampling{
			Temperature: &temperature,
			TopP:        &topP,
			MaxTokens:   1024,
		},
		Retry: Retry{
			MaxAttempts: 20,
			Delay:       20 * time.Second,
		},
		SystemRole: "auto",
		Exclude: []string{
			"edgeone-pages-mcp-server---*",
			"*---tavily-extract",
		},
		SummarizeProviders: []string{"web-search"},
		PostTaskProvider:   "edgeone-pages-mcp-server",
		ArgumentOverrides: map[string]map[string]any{
			"web-search---tavily-search": {
				"include_domains":     []any{},
				"include_raw_content": false,
			},
		},
		MaxVerifications: 4,
		Notebook:         &notebook,
		LogLevel:         "info",
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. An explicit path, if
// given, is applied last.
func LoadConfig(explicit string) (*Config, error) {
	cfg := Default()

	// Load user-level config first
	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".stepwise", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	// Load project-level config, overriding user-level
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".stepwise", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	if explicit != "" {
		if err := loadFromFile(explicit, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading config '%s'", explicit)
		}
	}

	if cfg.MCPServersFile != "" {
		servers, err := LoadServersFile(cfg.MCPServersFile)
		if err != nil {
			return nil, err
		}
		cfg.MCPServers = mergeServers(cfg.MCPServers, servers)
	}
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Unmarshal overwrites only the fields present in the YAML, so each
	// later file replaces what it mentions.
	return yaml.Unmarshal(data, cfg)
}

// mergeServers appends extra servers, replacing same-named entries.
func mergeServers(base, extra []MCPServer) []MCPServer {
	idx := make(map[string]int, len(base))
	for i, s := range base {
		idx[s.Name] = i
	}
	for _, s := range extra {
		if i, ok := idx[s.Name]; ok {
			base[i] = s
			continue
		}
		idx[s.Name] = len(base)
		base = append(base, s)
	}
	return base
}

// Server finds a configured MCP server by name.
func (c *Config) Server(name string) (MCPServer, bool) {
	for _, s := range c.MCPServers {
		if s.Name == name {
			return s, true
		}
	}
	return MCPServer{}, false
}

// ServerNames lists the configured MCP server names in configuration order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.MCPServers))
	for _, s := range c.MCPServers {
		names = append(names, s.Name)
	}
	return names
}

// NotebookEnabled reports whether the in-process plan stack is offered.
func (c *Config) NotebookEnabled() bool {
	return c.Notebook == nil || *c.Notebook
}

// UseSystemRole decides whether the instruction goes in a system message.
// In auto mode o1-family models, which reject system messages, get a single
// user message instead.
func (c *Config) UseSystemRole() bool {
	switch strings.ToLower(c.SystemRole) {
	case "always":
		return true
	case "never":
		return false
	default:
		return !strings.Contains(strings.ToLower(c.Model), "o1")
	}
}

// Validate checks the fields the orchestrator relies on.
func (c *Config) Validate() error {
	switch c.LLMClient {
	case "openai", "anthropic", "bedrock", "gemini", "mock":
	default:
		return errors.New("unknown llm '%s' (valid: openai, anthropic, bedrock, gemini, mock)", c.LLMClient)
	}
	if c.LLMClient != "mock" && c.Model == "" {
		return errors.New("no model configured")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry.max_attempts must be at least 1")
	}
	for _, s := range c.MCPServers {
		if s.Name == "" || s.Command == "" {
			return errors.New("every MCP server needs a name and a command")
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
