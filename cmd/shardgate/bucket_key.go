package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codewandler/shardgate/core/rest"
)

func newBucketKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bucket-key METHOD TEMPLATE [param=value...]",
		Short: "Print the rate limit bucket key of a request",
		Long: `Print the rate limit bucket key a request resolves to.

Requests with the same key share a bucket until the API reports a bucket
hash for it. The first major parameter of the template (channel_id,
guild_id or webhook_id) splits the key; all other parameters do not.

Example:
  shardgate bucket-key GET /channels/{channel_id}/messages/{message_id} channel_id=1 message_id=2`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			route := rest.NewRoute(rest.Method(strings.ToUpper(args[0])), args[1])
			var params []string
			for _, kv := range args[2:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok {
					return fmt.Errorf("parameter %q is not name=value", kv)
				}
				params = append(params, k, v)
			}
			req := rest.NewRequest(route, params...)
			path, err := req.Path()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "route: %s\n", route)
			fmt.Fprintf(out, "path:  %s\n", path)
			fmt.Fprintf(out, "key:   %s\n", req.BucketKey())
			return nil
		},
	}
}
