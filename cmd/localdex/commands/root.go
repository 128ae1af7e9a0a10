// Package commands defines all Cobra CLI commands for the localdex binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/localdex/localdex/internal/audit"
	"github.com/localdex/localdex/internal/config"
	"github.com/localdex/localdex/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "localdex",
		Short: "localdex — a local document indexing and retrieval engine",
		Long: `localdex indexes local documents into per-collection vector and metadata
stores, and serves nearest-neighbour search over them.

Each collection is identified by a key. Documents are chunked, embedded
through a configurable embedding backend, and kept in a write-through
in-memory cache that is periodically dumped to an on-disk index.

The embedding backend is selected via the EMBED_ENDPOINT environment
variable or a YAML config file (~/.localdex/config.yaml).
See 'localdex --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.localdex/config.yaml)")

	root.AddCommand(
		NewIndexCmd(),
		NewUpdateCmd(),
		NewDeleteCmd(),
		NewSearchCmd(),
		NewSourcesCmd(),
		NewVersionCmd(),
	)

	return root
}
