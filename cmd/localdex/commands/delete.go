package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewDeleteCmd constructs the `localdex delete` command, which removes
// previously indexed documents from a collection.
func NewDeleteCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "delete [files...]",
		Short: "Remove documents from a collection",
		Long: `Remove one or more previously indexed source paths from a collection.
Their chunks are marked deleted in the persisted index and dropped from the
in-memory cache; they no longer appear in search results.

Example:
  localdex delete --key docs ./old-notes.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore()
			if err != nil {
				return fmt.Errorf("delete: %w", err)
			}
			defer closeCore(ctx, c)

			if err := c.DeleteIndex(ctx, key, args); err != nil {
				return fmt.Errorf("delete: %w", err)
			}

			slog.Default().Info("delete: complete", slog.String("key", key), slog.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Collection key to delete from (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
