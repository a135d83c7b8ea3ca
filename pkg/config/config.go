// Package config loads the medfit configuration from a TOML file overlaid with
// MEDFIT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/papercomputeco/medfit/pkg/auth"
	"github.com/papercomputeco/medfit/pkg/generate"
	"github.com/papercomputeco/medfit/pkg/retry"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "MEDFIT_CONFIG"

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Config is the full medfit configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Generation GenerationConfig `toml:"generation"`
	Retry      RetryConfig      `toml:"retry"`
	Search     SearchConfig     `toml:"search"`
	Store      StoreConfig      `toml:"store"`
	Auth       AuthConfig       `toml:"auth"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen" env:"MEDFIT_LISTEN"`
	// WatchAuth reloads auth users when the config file changes.
	WatchAuth bool `toml:"watch_auth" env:"MEDFIT_WATCH_AUTH"`
	// MCP mounts the MCP endpoint at /mcp.
	MCP bool `toml:"mcp" env:"MEDFIT_MCP"`
}

type LogConfig struct {
	Debug bool   `toml:"debug" env:"MEDFIT_DEBUG"`
	File  string `toml:"file" env:"MEDFIT_LOG_FILE"`
}

type GenerationConfig struct {
	Provider        string        `toml:"provider" env:"MEDFIT_PROVIDER"`
	Model           string        `toml:"model" env:"MEDFIT_MODEL"`
	APIKey          string        `toml:"api_key" env:"MEDFIT_GEMINI_API_KEY"`
	BaseURL         string        `toml:"base_url" env:"MEDFIT_GENERATION_URL"`
	Temperature     float32       `toml:"temperature" env:"MEDFIT_TEMPERATURE"`
	TopK            int           `toml:"top_k" env:"MEDFIT_TOP_K"`
	TopP            float32       `toml:"top_p" env:"MEDFIT_TOP_P"`
	MaxOutputTokens int           `toml:"max_output_tokens" env:"MEDFIT_MAX_OUTPUT_TOKENS"`
	Timeout         time.Duration `toml:"timeout" env:"MEDFIT_GENERATION_TIMEOUT"`
	Safety          SafetyConfig  `toml:"safety"`
}

// SafetyConfig holds one blocking threshold per harm category.
type SafetyConfig struct {
	Harassment       string `toml:"harassment" env:"MEDFIT_SAFETY_HARASSMENT"`
	HateSpeech       string `toml:"hate_speech" env:"MEDFIT_SAFETY_HATE_SPEECH"`
	SexuallyExplicit string `toml:"sexually_explicit" env:"MEDFIT_SAFETY_SEXUALLY_EXPLICIT"`
	DangerousContent string `toml:"dangerous_content" env:"MEDFIT_SAFETY_DANGEROUS_CONTENT"`
}

type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts" env:"MEDFIT_RETRY_ATTEMPTS"`
	BaseDelay   time.Duration `toml:"base_delay" env:"MEDFIT_RETRY_BASE_DELAY"`
}

type SearchConfig struct {
	Debounce time.Duration `toml:"debounce" env:"MEDFIT_SEARCH_DEBOUNCE"`
	Timeout  time.Duration `toml:"timeout" env:"MEDFIT_SEARCH_TIMEOUT"`
}

type StoreConfig struct {
	Driver string `toml:"driver" env:"MEDFIT_STORE_DRIVER"`
	DSN    string `toml:"dsn" env:"MEDFIT_STORE_DSN"`
}

type AuthConfig struct {
	Users []auth.User `toml:"users"`
}

// Default returns the configuration used when no file or variable overrides a value.
func Default() *Config {
	g := generate.DefaultSettings()
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080"},
		Generation: GenerationConfig{
			Provider:        ProviderGemini,
			Model:           g.Model,
			Temperature:     g.Temperature,
			TopK:            g.TopK,
			TopP:            g.TopP,
			MaxOutputTokens: g.MaxOutputTokens,
			Timeout:         2 * time.Minute,
			Safety: SafetyConfig{
				Harassment:       string(generate.BlockMediumAndAbove),
				HateSpeech:       string(generate.BlockMediumAndAbove),
				SexuallyExplicit: string(generate.BlockMediumAndAbove),
				DangerousContent: string(generate.BlockMediumAndAbove),
			},
		},
		Retry:  RetryConfig{MaxAttempts: 3, BaseDelay: time.Second},
		Search: SearchConfig{Debounce: 300 * time.Millisecond, Timeout: 10 * time.Second},
		Store:  StoreConfig{Driver: "sqlite", DSN: "medfit.db"},
	}
}

// Load reads path (when non-empty), applies environment overrides and validates the result.
// An empty path falls back to $MEDFIT_CONFIG.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		cfg.Path = path
	}

	// Auth users are file-only, so each env-backed section is parsed on its own.
	for _, section := range []any{
		&cfg.Server, &cfg.Log, &cfg.Generation, &cfg.Retry, &cfg.Search, &cfg.Store,
	} {
		if err := env.Parse(section); err != nil {
			return nil, fmt.Errorf("parse environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadUsers reads only the auth users from a config file.
func LoadUsers(path string) ([]auth.User, error) {
	var file struct {
		Auth AuthConfig `toml:"auth"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode users from %s: %w", path, err)
	}
	return file.Auth.Users, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Generation.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		errs = append(errs, fmt.Errorf("unknown generation provider %q", c.Generation.Provider))
	}
	if c.Generation.Model == "" {
		errs = append(errs, errors.New("generation model is required"))
	}
	if c.Generation.MaxOutputTokens <= 0 {
		errs = append(errs, errors.New("max_output_tokens must be positive"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max_attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry base_delay must not be negative"))
	}
	if c.Search.Debounce < 0 {
		errs = append(errs, errors.New("search debounce must not be negative"))
	}
	if err := c.GenerationSettings().Validate(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// GenerationSettings converts the generation section into generator settings.
func (c *Config) GenerationSettings() generate.Settings {
	g := c.Generation
	return generate.Settings{
		Model:           g.Model,
		Temperature:     g.Temperature,
		TopK:            g.TopK,
		TopP:            g.TopP,
		MaxOutputTokens: g.MaxOutputTokens,
		Safety: map[generate.HarmCategory]generate.BlockThreshold{
			generate.HarmHarassment:       generate.BlockThreshold(g.Safety.Harassment),
			generate.HarmHateSpeech:       generate.BlockThreshold(g.Safety.HateSpeech),
			generate.HarmSexuallyExplicit: generate.BlockThreshold(g.Safety.SexuallyExplicit),
			generate.HarmDangerousContent: generate.BlockThreshold(g.Safety.DangerousContent),
		},
	}
}

// RetryPolicy converts the retry section into a policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		Backoff:     retry.Exponential(c.Retry.BaseDelay),
	}
}
