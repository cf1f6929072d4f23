package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/shardgate/core/rest"
	"github.com/codewandler/shardgate/internal/codec"
	"github.com/codewandler/shardgate/internal/config"
)

func newGatewayInfoCmd(configPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "gateway-info",
		Short: "Print the gateway URL, recommended shard count and session start limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			client, err := rest.NewClient(restOptions(cfg, cfg.Logger()))
			if err != nil {
				return err
			}
			gb, err := client.GatewayBot(cmd.Context())
			if err != nil {
				return fmt.Errorf("query gateway: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				data, err := codec.Indented{}.Marshal(gb)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			}
			fmt.Fprintf(out, "url:                %s\n", gb.URL)
			fmt.Fprintf(out, "recommended shards: %d\n", gb.Shards)
			fmt.Fprintf(out, "max concurrency:    %d\n", gb.SessionStartLimit.MaxConcurrency)
			fmt.Fprintf(out, "session starts:     %d of %d left, reset in %s\n",
				gb.SessionStartLimit.Remaining,
				gb.SessionStartLimit.Total,
				time.Duration(gb.SessionStartLimit.ResetAfter)*time.Millisecond,
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw answer as JSON")
	return cmd
}
