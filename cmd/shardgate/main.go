// Command shardgate runs gateway shards with a shared cache and a
// rate-limited REST client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "shardgate",
		Short: "Sharded gateway sessions, REST rate limiting and a consistent cache",
		Long: `shardgate keeps gateway shards connected, applies their events to an
in-memory cache and dispatches REST requests within the per-route and global
rate limits.

Configuration is read from a YAML file (see --config) and SHARDGATE_*
environment variables, which take precedence.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "shardgate.yaml", "Path to the config file")

	rootCmd.AddCommand(newRunCmd(&configPath))
	rootCmd.AddCommand(newGatewayInfoCmd(&configPath))
	rootCmd.AddCommand(newBucketKeyCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
