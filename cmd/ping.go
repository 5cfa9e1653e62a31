package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sshmcp-project/sshmcp/pkg/sshclient"
)

var (
	pingHost     string
	pingPort     int
	pingUser     string
	pingPassword string
	pingKeyPath  string
)

func getPingCmd() *cobra.Command {
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Wait until a host accepts SSH connections",
		Long: `Ping dials the target with exponential backoff until a connection
succeeds or the retry window elapses. Useful for freshly booted hosts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pingPassword == "" && pingKeyPath == "" {
				return fmt.Errorf("either --password or --key must be provided")
			}

			target := sshclient.Target{Host: pingHost, Port: pingPort}
			creds := sshclient.Credentials{
				Username:       pingUser,
				Password:       pingPassword,
				PrivateKeyPath: pingKeyPath,
			}
			if err := sshclient.WaitForSSH(cmd.Context(),
				sshclient.NewDefaultDialer(), target, creds); err != nil {
				return fmt.Errorf("host %s did not become reachable: %w", target.Addr(), err)
			}

			fmt.Printf("%s is reachable\n", target.Addr())
			return nil
		},
	}

	pingCmd.Flags().StringVar(&pingHost, "host", "", "target host")
	pingCmd.Flags().IntVar(&pingPort, "port", 22, "SSH port")
	pingCmd.Flags().StringVar(&pingUser, "user", "", "SSH username")
	pingCmd.Flags().StringVar(&pingPassword, "password", "", "SSH password")
	pingCmd.Flags().StringVar(&pingKeyPath, "key", "", "path to a private key file")
	_ = pingCmd.MarkFlagRequired("host")
	_ = pingCmd.MarkFlagRequired("user")

	return pingCmd
}
