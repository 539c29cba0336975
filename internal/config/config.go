package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for huddle.
type Config struct {
	General       GeneralConfig             `json:"general"`
	Providers     map[string]ProviderConfig `json:"providers"`
	Orchestration OrchestrationConfig       `json:"orchestration"`
	Channels      ChannelsConfig            `json:"channels"`
	Memory        MemoryConfig              `json:"memory"`
	Extraction    ExtractionConfig          `json:"extraction"`
	RateLimit     RateLimitConfig           `json:"rateLimit"`
	Metrics       MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string   `json:"logLevel"`
	LogFile               string   `json:"logFile,omitempty"` // optional log file path
	DefaultProvider       string   `json:"defaultProvider"`
	FailoverChain         []string `json:"failoverChain,omitempty"` // provider failover order
	MaxConcurrentMessages int      `json:"maxConcurrentMessages"`   // bus dispatcher concurrency
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	Type         string `json:"type,omitempty"` // "openai" | "ollama"; defaults by name
	APIBase      string `json:"apiBase,omitempty"`
	APIKey       string `json:"apiKey,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// OrchestrationConfig holds the limits of the consult-then-synthesize flow.
type OrchestrationConfig struct {
	MaxConsultedSpecialists   int     `json:"maxConsultedSpecialists"`
	SelectorTranscriptChars   int     `json:"selectorTranscriptChars"`
	SelectorTranscriptItems   int     `json:"selectorTranscriptItems"`
	SpecialistTranscriptChars int     `json:"specialistTranscriptChars"`
	SpecialistTranscriptItems int     `json:"specialistTranscriptItems"`
	MaxSpecialistOutputChars  int     `json:"maxSpecialistOutputChars"`
	SelectorTemperature       float64 `json:"selectorTemperature"`
	SelectorModel             string  `json:"selectorModel,omitempty"`    // empty: lead's model
	SelectorProvider          string  `json:"selectorProvider,omitempty"` // empty: lead's provider
	SelectorTimeoutSeconds    int     `json:"selectorTimeoutSeconds"`
	SpecialistTimeoutSeconds  int     `json:"specialistTimeoutSeconds"`
	DefaultTeam               string  `json:"defaultTeam,omitempty"`
	AgentsDir                 string  `json:"agentsDir"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Web      WebConfig      `json:"web"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
	TeamID    string         `json:"teamId,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type WebConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"` // websocket origin patterns
}

type MemoryConfig struct {
	Enabled              bool   `json:"enabled"`
	DBPath               string `json:"dbPath"`
	MaxHistoryPerSession int    `json:"maxHistoryPerSession"`
}

type ExtractionConfig struct {
	Enabled          bool `json:"enabled"`
	MaxCharsPerFile  int  `json:"maxCharsPerFile"`
	MaxTotalChars    int  `json:"maxTotalChars"`
	CSVPreviewLines  int  `json:"csvPreviewLines"`
	TimeoutSeconds   int  `json:"timeoutSeconds"`
	MaxDownloadBytes int  `json:"maxDownloadBytes"`
}

type RateLimitConfig struct {
	Enabled        bool `json:"enabled"`
	RequestsPerMin int  `json:"requestsPerMinute"`
	Burst          int  `json:"burst"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.huddle).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".huddle"
	}
	return filepath.Join(home, ".huddle")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return parse(path, data)
}

// LoadOrDefaults loads path, or returns the env-expanded defaults when the
// file does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	data, err := json.Marshal(Defaults())
	if err != nil {
		return nil, fmt.Errorf("cannot marshal defaults: %w", err)
	}
	return parse("(defaults)", data)
}

func parse(path string, data []byte) (*Config, error) {
	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Memory.DBPath = ExpandPath(cfg.Memory.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Orchestration.AgentsDir = ExpandPath(cfg.Orchestration.AgentsDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
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
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
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

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	o := cfg.Orchestration
	if o.MaxConsultedSpecialists < 0 || o.MaxConsultedSpecialists > 10 {
		errs = append(errs, "orchestration.maxConsultedSpecialists must be between 0 and 10")
	}
	if o.SelectorTranscriptChars < 1 || o.SpecialistTranscriptChars < 1 {
		errs = append(errs, "orchestration transcript char budgets must be >= 1")
	}
	if o.SelectorTranscriptItems < 1 || o.SpecialistTranscriptItems < 1 {
		errs = append(errs, "orchestration transcript item counts must be >= 1")
	}
	if o.MaxSpecialistOutputChars < 1 {
		errs = append(errs, "orchestration.maxSpecialistOutputChars must be >= 1")
	}
	if o.SelectorTemperature < 0 || o.SelectorTemperature > 2 {
		errs = append(errs, "orchestration.selectorTemperature must be between 0 and 2")
	}
	if o.SelectorTimeoutSeconds < 1 || o.SpecialistTimeoutSeconds < 1 {
		errs = append(errs, "orchestration timeouts must be >= 1 second")
	}

	if cfg.Channels.Web.Port < 0 || cfg.Channels.Web.Port > 65535 {
		errs = append(errs, "channels.web.port must be between 0 and 65535")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	if cfg.Memory.MaxHistoryPerSession < 1 {
		errs = append(errs, "memory.maxHistoryPerSession must be >= 1")
	}
	if cfg.Extraction.MaxCharsPerFile < 1 || cfg.Extraction.MaxTotalChars < cfg.Extraction.MaxCharsPerFile {
		errs = append(errs, "extraction.maxTotalChars must be >= extraction.maxCharsPerFile >= 1")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.RequestsPerMin < 1 || cfg.RateLimit.Burst < 1) {
		errs = append(errs, "rateLimit.requestsPerMinute and rateLimit.burst must be >= 1")
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}
	for _, provName := range cfg.General.FailoverChain {
		if _, ok := cfg.Providers[provName]; !ok {
			errs = append(errs, fmt.Sprintf("general.failoverChain references unknown provider: %s", provName))
		}
	}
	for name, pc := range cfg.Providers {
		switch pc.ProviderType(name) {
		case "openai", "ollama":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: unknown type %q", name, pc.Type))
		}
		if pc.Enabled && pc.ProviderType(name) == "openai" && pc.APIBase == "" && name != "openai" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiBase is required for OpenAI-compatible providers", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProviderType returns the wire protocol for the provider entry. Entries
// named "ollama" or "ollama-*" default to ollama; everything else speaks
// the OpenAI-compatible protocol.
func (pc ProviderConfig) ProviderType(name string) string {
	if pc.Type != "" {
		return pc.Type
	}
	if name == "ollama" || strings.HasPrefix(name, "ollama-") {
		return "ollama"
	}
	return "openai"
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
