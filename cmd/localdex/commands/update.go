package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

// NewUpdateCmd constructs the `localdex update` command, which re-chunks,
// re-embeds, and re-indexes files already present in a collection.
func NewUpdateCmd() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "update [files...]",
		Short: "Re-index documents whose content has changed",
		Long: `Re-chunk, re-embed, and re-index one or more files already indexed in a
collection. Unlike 'localdex index', update replaces the existing chunks
and vectors for each source path rather than skipping it as a duplicate.

Example:
  localdex update --key docs ./README.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore()
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			defer closeCore(ctx, c)

			if err := c.UpdateIndex(ctx, key, args); err != nil {
				return fmt.Errorf("update: %w", err)
			}

			slog.Default().Info("update: complete", slog.String("key", key), slog.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Collection key to update (required)")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
