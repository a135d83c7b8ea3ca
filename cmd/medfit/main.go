package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	chatcmder "github.com/papercomputeco/medfit/cmd/medfit/chat"
	"github.com/papercomputeco/medfit/cmd/medfit/deps"
	mcpcmder "github.com/papercomputeco/medfit/cmd/medfit/mcp"
	migratecmder "github.com/papercomputeco/medfit/cmd/medfit/migrate"
	seedcmder "github.com/papercomputeco/medfit/cmd/medfit/seed"
	servecmder "github.com/papercomputeco/medfit/cmd/medfit/serve"
)

var version = "dev"

const rootLongDesc string = `medfit is a disease catalog and medical assistant.

Search diseases by name, read their diagnosis and treatment, and ask
an LLM-backed assistant medical questions from the terminal, over
HTTP or through MCP tools.`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "medfit",
		Short:         "Disease catalog and medical assistant",
		Long:          rootLongDesc,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	deps.AddPersistentFlags(cmd)

	cmd.AddCommand(
		servecmder.NewServeCmd(),
		chatcmder.NewChatCmd(),
		seedcmder.NewSeedCmd(),
		migratecmder.NewMigrateCmd(),
		mcpcmder.NewMCPCmd(),
	)

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
