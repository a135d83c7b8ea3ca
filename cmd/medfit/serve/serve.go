package servecmder

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/api"
	"github.com/papercomputeco/medfit/cmd/medfit/deps"
	"github.com/papercomputeco/medfit/pkg/auth"
	"github.com/papercomputeco/medfit/pkg/config"
	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/mcpserver"
)

const serveLongDesc string = `Serve the medfit HTTP API.

Users sign in with an API token from the [[auth.users]] table of the
config file and receive a session used as a bearer token for the
disease search and chat endpoints. With --mcp the MCP tools are
also served at /mcp.

Examples:
  medfit serve
  medfit serve --listen :9090 --mcp
  medfit serve --config /etc/medfit.toml --watch-auth`

const serveShortDesc string = "Serve the medfit HTTP API"

type serveCommander struct {
	listen    string
	mcp       bool
	watchAuth bool
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().BoolVar(&cmder.mcp, "mcp", false, "Serve the MCP tools at /mcp")
	cmd.Flags().BoolVar(&cmder.watchAuth, "watch-auth", false, "Reload auth users when the config file changes")

	return cmd
}

func (c *serveCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := deps.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.Server.ListenAddr = c.listen
	}
	if c.mcp {
		cfg.Server.MCP = true
	}
	if c.watchAuth {
		cfg.Server.WatchAuth = true
	}

	logger, closer, err := deps.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := deps.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	gen, err := deps.NewGenerator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	newConversation := deps.ConversationFactory(cfg, gen, logger)
	manager := deps.NewAuthManager(cfg, logger)

	if cfg.Server.WatchAuth {
		if cfg.Path == "" {
			return fmt.Errorf("--watch-auth needs a config file")
		}
		if err := auth.Watch(ctx, cfg.Path, config.LoadUsers, manager, logger); err != nil {
			return err
		}
	}

	apiDeps := api.Deps{
		Querier: store,
		Auth:    manager,
		NewConversation: func() *conversation.Conversation {
			return newConversation()
		},
	}
	if cfg.Server.MCP {
		apiDeps.MCPHandler = mcpserver.HTTPHandler(mcpserver.New(mcpserver.Deps{
			Querier:         store,
			NewConversation: apiDeps.NewConversation,
			Logger:          logger,
			Version:         cmd.Root().Version,
		}))
	}

	server, err := api.New(api.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ChatWaitTimeout: cfg.Generation.Timeout,
		MCP:             cfg.Server.MCP,
	}, apiDeps, logger)
	if err != nil {
		return fmt.Errorf("could not create api server: %w", err)
	}

	errs := make(chan error, 1)
	go func() {
		errs <- server.Run()
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api server shutdown", zap.Error(err))
		}
		return nil
	}
}
