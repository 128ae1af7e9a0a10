package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/localdex/localdex/internal/core"
)

// NewIndexCmd constructs the `localdex index` command, which chunks, embeds,
// and indexes one or more local files into a collection.
func NewIndexCmd() *cobra.Command {
	var key string
	var copyIntoDocs bool

	cmd := &cobra.Command{
		Use:   "index [files...]",
		Short: "Index one or more documents into a collection",
		Long: `Chunk, embed, and index one or more local files into a named collection.

Each file is deduplicated by source path within the collection: a path that
is already indexed is skipped with a warning, whatever its current content.
With --copy, the path compared is that of the copy in the collection's Docs
directory. To re-index changed content, use 'localdex update' instead.

Examples:
  localdex index --key docs ./README.md ./CHANGELOG.md
  localdex index --key docs --copy ./notes/onboarding.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore()
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}
			defer closeCore(ctx, c)

			var indexErr error
			if copyIntoDocs {
				indexErr = c.CreateIndexCopy(ctx, key, args)
			} else {
				indexErr = c.CreateIndex(ctx, key, args)
			}
			if indexErr != nil {
				return fmt.Errorf("index: %w", indexErr)
			}

			slog.Default().Info("index: complete", slog.String("key", key), slog.Int("files", len(args)))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Collection key to index into (required)")
	cmd.Flags().BoolVar(&copyIntoDocs, "copy", false, "Copy files into the collection's document store instead of indexing them in place")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

// closeCore flushes and closes every collection the Core opened. Errors are
// logged rather than returned, so a shutdown failure never masks the
// command's own result.
func closeCore(ctx context.Context, c *core.Core) {
	if err := c.Close(ctx); err != nil {
		slog.Default().Warn("commands: close core", "err", err)
	}
}
