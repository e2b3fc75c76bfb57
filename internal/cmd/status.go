package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/manager"
)

var statusCmd = &cobra.Command{
	Use:   "status <package>",
	Short: "Show the package's environments and their lifecycle state",
	Long: `Reconcile recorded environment state against what is actually on disk,
then list the package's environment records. Repairs made by the
reconciliation pass are included in the document.`,
	Example: `  # Show the state of every napari environment
  constructor-manager status napari`,
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

		report, err := runTask(cmd.Context(), func(ctx context.Context) (*manager.StatusReport, error) {
			return mgr.Status(ctx, spec.Name)
		})
		if err != nil {
			return err
		}

		return emitJSON(report)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
