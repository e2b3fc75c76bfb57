package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/manager"
)

var cleanCmd = &cobra.Command{
	Use:   "clean <package>",
	Short: "Delete broken environments and stale lock artifacts",
	Long: `Delete environments of the package that were created but never finished
(no ready marker), along with leftovers of interrupted lock runs in the
state directory. Environments with an operation currently in flight are
left alone.`,
	Example: `  # Sweep abandoned napari environments
  constructor-manager clean napari`,
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

		report, err := runTask(cmd.Context(), func(ctx context.Context) (*manager.CleanReport, error) {
			return mgr.Clean(ctx, spec.Name)
		})
		if err != nil {
			return err
		}

		return emitJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
