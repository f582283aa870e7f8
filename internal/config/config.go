package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration for spdropbot.
type Config struct {
	General       GeneralConfig       `json:"general"`
	Pipeline      PipelineConfig      `json:"pipeline"`
	WhatsApp      WhatsAppConfig      `json:"whatsapp"`
	LLM           LLMConfig           `json:"llm"`
	Transcription TranscriptionConfig `json:"transcription"`
	Vision        VisionConfig        `json:"vision"`
	Database      DatabaseConfig      `json:"database"`
	Knowledge     KnowledgeConfig     `json:"knowledge"`
	Demo          DemoConfig          `json:"demo"`
	Admin         AdminConfig         `json:"admin"`
	Metrics       MetricsConfig       `json:"metrics"`
	Events        EventsConfig        `json:"events"`
}

type GeneralConfig struct {
	DataDir   string `json:"dataDir"`
	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`         // "text" | "json"
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

// PipelineConfig tunes buffering, the agent lane and reply pacing.
type PipelineConfig struct {
	QuietPeriodMs          int    `json:"quietPeriodMs"`
	AgentLaneSize          int    `json:"agentLaneSize"`
	DispatchTimeoutSeconds int    `json:"dispatchTimeoutSeconds"`
	Apology                string `json:"apology"`
	ChunkThreshold         int    `json:"chunkThreshold"` // runes
	MinDelayMs             int    `json:"minDelayMs"`
	MaxDelayMs             int    `json:"maxDelayMs"`
	PerCharDelayMs         int    `json:"perCharDelayMs"`
}

func (p PipelineConfig) QuietPeriod() time.Duration {
	return time.Duration(p.QuietPeriodMs) * time.Millisecond
}

func (p PipelineConfig) DispatchTimeout() time.Duration {
	return time.Duration(p.DispatchTimeoutSeconds) * time.Second
}

func (p PipelineConfig) MinDelay() time.Duration {
	return time.Duration(p.MinDelayMs) * time.Millisecond
}

func (p PipelineConfig) MaxDelay() time.Duration {
	return time.Duration(p.MaxDelayMs) * time.Millisecond
}

func (p PipelineConfig) PerCharDelay() time.Duration {
	return time.Duration(p.PerCharDelayMs) * time.Millisecond
}

type WhatsAppConfig struct {
	ListenAddr          string  `json:"listenAddr"`
	WebhookPath         string  `json:"webhookPath"`
	WebhookSecret       string  `json:"webhookSecret,omitempty"`
	BridgeURL           string  `json:"bridgeUrl"`
	SendRatePerSecond   float64 `json:"sendRatePerSecond"`
	SendBurst           int     `json:"sendBurst"`
	MediaTimeoutSeconds int     `json:"mediaTimeoutSeconds"`
}

type LLMConfig struct {
	APIBase           string   `json:"apiBase"`
	APIKey            string   `json:"apiKey,omitempty"`
	Model             string   `json:"model"`
	Temperature       float64  `json:"temperature"`
	MaxTokens         int      `json:"maxTokens"`
	MaxIterations     int      `json:"maxIterations"`
	HistoryLimit      int      `json:"historyLimit"`
	ParallelTools     int      `json:"parallelTools"`
	SystemPromptFile  string   `json:"systemPromptFile,omitempty"`
	RequestsPerMinute int      `json:"requestsPerMinute"`
	DisabledTools     []string `json:"disabledTools,omitempty"`
	FallbackModels    []string `json:"fallbackModels,omitempty"` // tried in order when the primary model fails
}

type TranscriptionConfig struct {
	Enabled  bool   `json:"enabled"`
	APIBase  string `json:"apiBase"`
	APIKey   string `json:"apiKey,omitempty"`
	Model    string `json:"model"`
	Language string `json:"language"`
}

type VisionConfig struct {
	Enabled   bool   `json:"enabled"`
	APIBase   string `json:"apiBase"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" | "postgres"
	Path   string `json:"path"`   // sqlite file
	DSN    string `json:"dsn,omitempty"`
}

type KnowledgeConfig struct {
	FAQFile       string  `json:"faqFile"`
	ScriptsFile   string  `json:"scriptsFile,omitempty"`
	MinConfidence float64 `json:"minConfidence"`
}

// DemoConfig holds the shared demo platform account handed out by the agent.
type DemoConfig struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type AdminConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listenAddr"`
	APIKey     string `json:"apiKey,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// EventsConfig configures the optional AMQP outcome publisher.
type EventsConfig struct {
	Enabled    bool   `json:"enabled"`
	URL        string `json:"url,omitempty"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routingKey"`
}

// DefaultConfigDir returns the default config directory (~/.spdropbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spdropbot"
	}
	return filepath.Join(home, ".spdropbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing files
// are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(ExpandPath(p)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandEnv()
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults behaves like Load but falls back to Defaults when the file does
// not exist, so a fresh checkout runs on environment variables alone.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		cfg := Defaults()
		cfg.expandEnv()
		cfg.expandPaths()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// expandEnv resolves ${VAR} references that come from Defaults rather than
// from the file.
func (c *Config) expandEnv() {
	for _, s := range []*string{
		&c.WhatsApp.BridgeURL,
		&c.WhatsApp.WebhookSecret,
		&c.LLM.APIKey,
		&c.Transcription.APIKey,
		&c.Vision.APIKey,
		&c.Database.DSN,
		&c.Admin.APIKey,
		&c.Events.URL,
		&c.Demo.Password,
	} {
		*s = stripUnresolved(ExpandEnvVars(*s))
	}
}

func (c *Config) expandPaths() {
	c.General.DataDir = ExpandPath(c.General.DataDir)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Database.Path = ExpandPath(c.Database.Path)
	c.Knowledge.FAQFile = ExpandPath(c.Knowledge.FAQFile)
	c.Knowledge.ScriptsFile = ExpandPath(c.Knowledge.ScriptsFile)
	c.LLM.SystemPromptFile = ExpandPath(c.LLM.SystemPromptFile)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// stripUnresolved blanks a secret that still holds a ${VAR} reference.
func stripUnresolved(s string) string {
	if envVarPattern.MatchString(s) {
		return ""
	}
	return s
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	p := cfg.Pipeline
	if p.QuietPeriodMs < 100 {
		errs = append(errs, "pipeline.quietPeriodMs must be >= 100")
	}
	if p.AgentLaneSize < 1 || p.AgentLaneSize > 64 {
		errs = append(errs, "pipeline.agentLaneSize must be between 1 and 64")
	}
	if p.DispatchTimeoutSeconds < 1 {
		errs = append(errs, "pipeline.dispatchTimeoutSeconds must be >= 1")
	}
	if p.ChunkThreshold < 20 {
		errs = append(errs, "pipeline.chunkThreshold must be >= 20")
	}
	if p.MinDelayMs < 0 || p.PerCharDelayMs < 0 {
		errs = append(errs, "pipeline delays must not be negative")
	}
	if p.MaxDelayMs < p.MinDelayMs {
		errs = append(errs, "pipeline.maxDelayMs must be >= pipeline.minDelayMs")
	}

	if !strings.HasPrefix(cfg.WhatsApp.WebhookPath, "/") {
		errs = append(errs, "whatsapp.webhookPath must start with /")
	}
	if u, err := url.Parse(cfg.WhatsApp.BridgeURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "whatsapp.bridgeUrl must be an absolute URL")
	}
	if cfg.WhatsApp.SendRatePerSecond <= 0 || cfg.WhatsApp.SendBurst < 1 {
		errs = append(errs, "whatsapp.sendRatePerSecond must be > 0 and whatsapp.sendBurst >= 1")
	}

	if cfg.LLM.APIBase == "" || cfg.LLM.Model == "" {
		errs = append(errs, "llm.apiBase and llm.model are required")
	}
	if cfg.LLM.MaxIterations < 1 || cfg.LLM.MaxIterations > 50 {
		errs = append(errs, "llm.maxIterations must be between 1 and 50")
	}
	if cfg.LLM.HistoryLimit < 0 {
		errs = append(errs, "llm.historyLimit must be >= 0")
	}
	if cfg.LLM.ParallelTools < 1 {
		errs = append(errs, "llm.parallelTools must be >= 1")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if cfg.Knowledge.MinConfidence < 0 || cfg.Knowledge.MinConfidence >= 1 {
		errs = append(errs, "knowledge.minConfidence must be in [0, 1)")
	}

	if cfg.Admin.Enabled && cfg.Admin.APIKey == "" {
		errs = append(errs, "admin.apiKey is required when the admin API is enabled")
	}
	if cfg.Events.Enabled && (cfg.Events.URL == "" || cfg.Events.Exchange == "") {
		errs = append(errs, "events.url and events.exchange are required when events are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
