package mcpcmder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/medfit/cmd/medfit/deps"
	"github.com/papercomputeco/medfit/pkg/conversation"
	"github.com/papercomputeco/medfit/pkg/mcpserver"
)

const mcpLongDesc string = `Serve the medfit MCP tools over stdin/stdout.

Registers search_diseases, and ask_medical_assistant unless
--search-only is set. Stdout carries the protocol, so logs go to the
configured log file.

Examples:
  medfit mcp
  medfit mcp --search-only`

const mcpShortDesc string = "Serve the MCP tools over stdio"

type mcpCommander struct {
	searchOnly bool
}

func NewMCPCmd() *cobra.Command {
	cmder := &mcpCommander{}

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: mcpShortDesc,
		Long:  mcpLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().BoolVar(&cmder.searchOnly, "search-only", false, "Only register the search_diseases tool")

	return cmd
}

func (c *mcpCommander) run(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := deps.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Log.File == "" {
		cfg.Log.File = filepath.Join(os.TempDir(), "medfit-mcp.log")
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

	mcpDeps := mcpserver.Deps{
		Querier: store,
		Logger:  logger,
		Version: cmd.Root().Version,
	}
	if !c.searchOnly {
		gen, err := deps.NewGenerator(ctx, cfg, logger)
		if err != nil {
			return err
		}
		newConversation := deps.ConversationFactory(cfg, gen, logger)
		mcpDeps.NewConversation = func() *conversation.Conversation { return newConversation() }
	}

	logger.Info("serving mcp over stdio", zap.Bool("search_only", c.searchOnly))
	if err := mcpserver.RunStdio(ctx, mcpserver.New(mcpDeps)); err != nil {
		return fmt.Errorf("mcp server failed: %w", err)
	}
	return nil
}
