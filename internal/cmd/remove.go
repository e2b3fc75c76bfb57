package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/install"
)

var removeCmd = &cobra.Command{
	Use:   "remove <spec>",
	Short: "Delete a version's environment",
	Long: `Delete the spec's environment. The ready marker is removed first, then
the package manager tears the environment down; a directory that survives
is quarantined and swept so a later scan never mistakes it for a usable
installation.`,
	Example: `  # Remove an old version
  constructor-manager remove napari=0.4.15`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := parseSpecArg(args[0])
		if err != nil {
			return err
		}

		mgr, err := requireManager(cmd.Context())
		if err != nil {
			return err
		}

		sink := newProgressSink()
		result, err := runTask(cmd.Context(), func(ctx context.Context) (*install.Result, error) {
			return mgr.Remove(ctx, spec, sink.Handle)
		})
		sink.Close()
		if err != nil {
			return err
		}

		return emitJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(removeCmd)
}
