package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSourcesCmd constructs the `localdex sources` command, which lists the
// distinct source paths currently indexed in a collection.
func NewSourcesCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List indexed source paths for a collection",
		Long: `List the distinct source paths currently indexed in a collection, across
both the in-memory cache and the persisted shards.

Example:
  localdex sources --key docs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore()
			if err != nil {
				return fmt.Errorf("sources: %w", err)
			}
			defer closeCore(ctx, c)

			if !c.IndexExists(key) {
				return fmt.Errorf("sources: collection %q does not exist", key)
			}

			list, err := c.ListSources(ctx, key)
			if err != nil {
				return fmt.Errorf("sources: %w", err)
			}

			for _, s := range list {
				fmt.Println(s)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Collection key to list sources for (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
