package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sshmcp-project/sshmcp/pkg/config"
	"github.com/sshmcp-project/sshmcp/pkg/logger"
)

var (
	cfgFile  string
	settings *config.Settings
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sshmcp",
	Short: "sshmcp is an MCP server for SSH remote operations",
	Long: `sshmcp exposes SSH command execution, file transfer and directory
operations as MCP tools over stdio, with connection pooling, result
caching and destructive-command protection.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		settings, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logger.InitLoggerOutputs(settings.LogLevel, settings.LogPath)
		logger.InitProduction()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (YAML or JSON, optional)")

	rootCmd.AddCommand(getServeCmd())
	rootCmd.AddCommand(getPingCmd())
}
