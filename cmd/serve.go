package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sshmcp-project/sshmcp/pkg/mcpserver"
)

func getServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP tools over stdio",
		Long: `Serve starts the MCP server on stdin/stdout. All logging goes to the
log file so the stdio stream stays clean for the MCP client.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv, err := mcpserver.New(settings)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
