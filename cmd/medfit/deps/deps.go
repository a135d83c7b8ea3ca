// Package deps wires configuration into the collaborators shared by the medfit commands.
package deps

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/pkg/auth"
	"github.com/papercomputeco/medfit/pkg/config"
	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/disease"
	"github.com/papercomputeco/medfit/pkg/generate"
	"github.com/papercomputeco/medfit/pkg/generate/gemini"
	"github.com/papercomputeco/medfit/pkg/generate/ollama"
	"github.com/papercomputeco/medfit/pkg/logger"
	"github.com/papercomputeco/medfit/pkg/search"
	"github.com/papercomputeco/medfit/pkg/storage"
)

const (
	ConfigFlag = "config"
	DebugFlag  = "debug"
)

// AddPersistentFlags registers the flags every subcommand understands.
func AddPersistentFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP(ConfigFlag, "c", "", "Path to the TOML config file (default: $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().Bool(DebugFlag, false, "Enable debug logging")
}

// LoadConfig reads the configuration named by the --config flag and applies --debug.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString(ConfigFlag)
	debug, _ := cmd.Flags().GetBool(DebugFlag)

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Log.Debug = true
	}
	return cfg, nil
}

// NewLogger builds the logger selected by the log section. The returned
// closer releases the log file, if one is used.
func NewLogger(cfg *config.Config) (*zap.Logger, io.Closer, error) {
	if cfg.Log.File != "" {
		return logger.NewFileLogger(cfg.Log.File, cfg.Log.Debug)
	}
	return logger.NewLogger(cfg.Log.Debug), nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenStore opens the configured disease record store.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (disease.Store, error) {
	store, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not open %s store: %w", cfg.Store.Driver, err)
	}
	log.Info("using disease store", zap.String("driver", cfg.Store.Driver))
	return store, nil
}

// NewGenerator creates the text generator of the configured provider.
func NewGenerator(ctx context.Context, cfg *config.Config, log *zap.Logger) (generate.Generator, error) {
	settings := cfg.GenerationSettings()

	switch cfg.Generation.Provider {
	case config.ProviderOllama:
		baseURL := cfg.Generation.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		log.Info("using ollama generator", zap.String("url", baseURL), zap.String("model", settings.Model))
		return ollama.New(baseURL, settings, log), nil

	default:
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:   cfg.Generation.APIKey,
			BaseURL:  cfg.Generation.BaseURL,
			Settings: settings,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("could not create gemini generator: %w", err)
		}
		log.Info("using gemini generator", zap.String("model", settings.Model))
		return client, nil
	}
}

// ConversationFactory returns a constructor of conversations sharing gen and
// the configured retry policy and timeout.
func ConversationFactory(cfg *config.Config, gen generate.Generator, log *zap.Logger) func(...conversation.Option) *conversation.Conversation {
	return func(opts ...conversation.Option) *conversation.Conversation {
		base := []conversation.Option{
			conversation.WithLogger(log),
			conversation.WithRetryPolicy(cfg.RetryPolicy()),
			conversation.WithTimeout(cfg.Generation.Timeout),
		}
		return conversation.New(gen, append(base, opts...)...)
	}
}

// SearchOptions returns the search pipeline options of the search section.
func SearchOptions(cfg *config.Config) []search.Option {
	return []search.Option{
		search.WithDelay(cfg.Search.Debounce),
		search.WithTimeout(cfg.Search.Timeout),
	}
}

// NewAuthManager creates a session manager over the configured users.
func NewAuthManager(cfg *config.Config, log *zap.Logger) *auth.Manager {
	if len(cfg.Auth.Users) == 0 {
		log.Warn("no auth users configured; nobody can sign in")
	}
	return auth.NewManager(auth.NewDirectory(cfg.Auth.Users), log)
}
