// Package config loads the agentflow configuration file.
//
// The file is YAML. ${VAR} references are expanded from the environment
// before parsing, unset fields fall back to Default, and a small set of
// environment variables override the result:
//
//	llm:
//	  name: google
//	  api_key: ${GEMINI_API_KEY}
//	engine:
//	  max_concurrent: 4
//	  node_timeout: 60s
//	store:
//	  driver: sqlite
//	  dsn: agentflow.db
package config

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/dshills/agentflow/graph"
	"github.com/dshills/agentflow/graph/model/provider"
	"github.com/dshills/agentflow/graph/tool"
)

// Config holds the global configuration.
type Config struct {
	LLM       provider.Config `yaml:"llm"`
	Engine    EngineConfig    `yaml:"engine"`
	Store     StoreConfig     `yaml:"store"`
	Tools     ToolsConfig     `yaml:"tools"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig maps onto graph engine options.
type EngineConfig struct {
	MaxConcurrent int                      `yaml:"max_concurrent"`
	NodeTimeout   time.Duration            `yaml:"node_timeout"`
	KindTimeouts  map[string]time.Duration `yaml:"kind_timeouts"`
	// TerminalKind receives blocking results. "none" disables routing.
	TerminalKind string `yaml:"terminal_kind"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	SearchEndpoint   string `yaml:"search_endpoint"`
	DoclingURL       string `yaml:"docling_url"`
	MaxDocumentBytes int64  `yaml:"max_document_bytes"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	UploadDir    string        `yaml:"upload_dir"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// TelemetryConfig holds configuration for OpenTelemetry export. An empty
// endpoint disables tracing.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used for every field a file leaves
// unset.
func Default() Config {
	return Config{
		LLM: provider.Config{Name: provider.Google, MaxAttempts: 3},
		Engine: EngineConfig{
			MaxConcurrent: graph.DefaultMaxConcurrent,
			TerminalKind:  graph.DefaultTerminalKind,
		},
		Store: StoreConfig{Driver: "memory"},
		Tools: ToolsConfig{
			SearchEndpoint:   tool.DefaultSearchEndpoint,
			MaxDocumentBytes: 50 << 20,
		},
		Server: ServerConfig{
			Address:      ":8000",
			UploadDir:    "uploads",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Telemetry: TelemetryConfig{ServiceName: "agentflow"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from path and applies defaults and environment
// overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		parsed, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg = parsed
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration after expanding ${VAR} references.
// Defaults and overrides are not applied.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := mergo.Merge(c, Default()); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	applyEnvOverrides(c)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// apiKeyEnv lists the variables consulted, in order, for a provider's key.
var apiKeyEnv = map[string][]string{
	provider.Google:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"gemini":           {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	provider.OpenAI:    {"OPENAI_API_KEY"},
	provider.Anthropic: {"ANTHROPIC_API_KEY"},
	"claude":           {"ANTHROPIC_API_KEY"},
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AGENTFLOW_LLM_PROVIDER"); val != "" {
		cfg.LLM.Name = val
	}
	if val := os.Getenv("AGENTFLOW_LLM_MODEL"); val != "" {
		cfg.LLM.Model = val
	}
	if cfg.LLM.APIKey == "" {
		for _, name := range apiKeyEnv[strings.ToLower(cfg.LLM.Name)] {
			if val := os.Getenv(name); val != "" {
				cfg.LLM.APIKey = val
				break
			}
		}
	}

	if val := os.Getenv("AGENTFLOW_STORE_DRIVER"); val != "" {
		cfg.Store.Driver = val
	}
	if val := os.Getenv("AGENTFLOW_STORE_DSN"); val != "" {
		cfg.Store.DSN = val
	}
	if val := os.Getenv("DOCLING_URL"); val != "" {
		cfg.Tools.DoclingURL = val
	}
	if val := os.Getenv("AGENTFLOW_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("AGENTFLOW_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("AGENTFLOW_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("AGENTFLOW_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.LLM.MaxAttempts < 0 {
		return fmt.Errorf("llm configuration: max_attempts must not be negative, got %d", c.LLM.MaxAttempts)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	return nil
}

// Validate performs validation of engine configuration.
func (c *EngineConfig) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.NodeTimeout < 0 {
		return fmt.Errorf("node_timeout must not be negative")
	}
	for kind, d := range c.KindTimeouts {
		if d < 0 {
			return fmt.Errorf("timeout for %q must not be negative", kind)
		}
	}
	return nil
}

// Options returns the engine options described by c.
func (c EngineConfig) Options() []graph.Option {
	opts := []graph.Option{graph.WithOptions(graph.Options{
		MaxConcurrentNodes: c.MaxConcurrent,
		DefaultNodeTimeout: c.NodeTimeout,
		KindTimeouts:       maps.Clone(c.KindTimeouts),
		TerminalKind:       c.TerminalKind,
	})}
	if strings.EqualFold(c.TerminalKind, "none") {
		opts = append(opts, graph.WithTerminalKind(""))
	}
	return opts
}

// Validate performs validation of store configuration.
func (c *StoreConfig) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	switch driver {
	case "memory", "mem", "sqlite", "sqlite3":
	case "mysql":
		if c.DSN == "" {
			return fmt.Errorf("mysql driver requires a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	c.Driver = driver
	return nil
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "text", "json":
		c.Format = format
	default:
		return fmt.Errorf("invalid log format %q, supported formats: text, json", c.Format)
	}
	return nil
}

// NewLogger builds a slog logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
