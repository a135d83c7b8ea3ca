package chatcmder

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/medfit/cmd/medfit/deps"
	"github.com/papercomputeco/medfit/tui"
)

const chatLongDesc string = `Open the medfit terminal UI.

Sign in with an API token, then search the disease catalog or ask the
medical assistant. Logs are written to a file so they never draw over
the interface; set [log] file in the config to choose it.

Examples:
  medfit chat
  medfit chat --config ~/.medfit/medfit.toml --debug`

const chatShortDesc string = "Open the medfit terminal UI"

type chatCommander struct{}

func NewChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	return &cobra.Command{
		Use:   "chat",
		Short: chatShortDesc,
		Long:  chatLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}
}

func (c *chatCommander) run(ctx context.Context, cmd *cobra.Command) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("medfit chat needs an interactive terminal")
	}

	cfg, err := deps.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(os.TempDir(), "medfit-chat.log")
	}

	logger, closer, err := deps.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logger.Sync()

	store, err := deps.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	gen, err := deps.NewGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return tui.Run(ctx, tui.Deps{
		Auth:            deps.NewAuthManager(cfg, logger),
		Querier:         store,
		NewConversation: deps.ConversationFactory(cfg, gen, logger),
		SearchOptions:   deps.SearchOptions(cfg),
		Logger:          logger,
	})
}
