package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewSearchCmd constructs the `localdex search` command, which embeds a
// query string and returns the merged, ranked nearest neighbours from a
// collection's cache and disk shards as a JSON document.
func NewSearchCmd() *cobra.Command {
	var key string
	var topK int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search a collection and print ranked results as JSON",
		Long: `Embed a query string and search a collection's in-memory and persisted
shards, merging both result streams by ascending distance. Prints the
result as a JSON document to stdout.

Example:
  localdex search --key docs "how is the dump threshold configured?"
  localdex search --key docs --top-k 10 "chunking invariants"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			c, err := buildCore()
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer closeCore(ctx, c)

			resp, err := c.VectorSearch(ctx, key, args[0], topK)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Collection key to search (required)")
	cmd.Flags().IntVar(&topK, "top-k", 5, "Maximum number of results to return")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
