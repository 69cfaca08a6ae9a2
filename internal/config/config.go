package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the complete finagent configuration.
type Config struct {
	LogLevel      string       `yaml:"log_level"`
	MaxIterations int          `yaml:"max_iterations"`
	LLM           LLMConfig    `yaml:"llm"`
	MCP           MCPConfig    `yaml:"mcp"`
	Server        ServerConfig `yaml:"server"`
}

// LLMConfig selects the chat completion endpoint and model.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"` // supports ${VAR} expansion
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

// MCPConfig points the tool gateway at its provider.
type MCPConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServerURL       string `yaml:"server_url"`
	FinalAnswerTool string `yaml:"final_answer_tool"`
}

// ServerConfig configures the transport adapter.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	CardURL string `yaml:"card_url"` // external URL advertised on the agent card
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		MaxIterations: 20,
		LLM: LLMConfig{
			BaseURL: "https://api.tokenfactory.nebius.com/v1/",
			APIKey:  "${NEBIUS_API_KEY}",
			Model:   "moonshotai/Kimi-K2-Instruct",
		},
		MCP: MCPConfig{
			Enabled:         false,
			ServerURL:       "http://127.0.0.1:9020",
			FinalAnswerTool: "submit_answer",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9019,
		},
	}
}

// Load reads and parses the YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	cfg.expand()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadWithDefaults loads config with fallback to default locations.
// Checks: ./finagent.yaml, ./configs/finagent.yaml,
// ~/.config/finagent/finagent.yaml, /etc/finagent/finagent.yaml.
func LoadWithDefaults() (*Config, error) {
	locations := []string{
		"./finagent.yaml",
		"./configs/finagent.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "finagent", "finagent.yaml"))
	}

	locations = append(locations, "/etc/finagent/finagent.yaml")

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return Load(loc)
		}
	}

	// No config found - fall back to defaults (not an error)
	cfg := Default()
	cfg.expand()
	return cfg, nil
}

// expand applies ${VAR} expansion to the fields that commonly carry
// secrets or per-host endpoints.
func (c *Config) expand() {
	c.LLM.BaseURL = ExpandEnv(c.LLM.BaseURL)
	c.LLM.APIKey = ExpandEnv(c.LLM.APIKey)
	c.MCP.ServerURL = ExpandEnv(c.MCP.ServerURL)
	c.Server.CardURL = ExpandEnv(c.Server.CardURL)
}

// Validate checks config correctness.
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm: model is required")
	}

	if c.MCP.Enabled && c.MCP.ServerURL == "" {
		return fmt.Errorf("mcp: server_url is required when mcp is enabled")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}

	return nil
}

// BaseCardURL resolves the externally visible URL for the agent card.
func (c *Config) BaseCardURL() string {
	if c.Server.CardURL != "" {
		return c.Server.CardURL
	}
	return fmt.Sprintf("http://%s:%d/", c.Server.Host, c.Server.Port)
}
