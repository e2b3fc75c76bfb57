package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/state"
)

var launchCmd = &cobra.Command{
	Use:   "launch <spec>",
	Short: "Start the application from its environment",
	Long: `Start the application out of the spec's ready environment, detached from
this process. A spec without a version launches the newest installed one.`,
	Example: `  # Launch the newest installed version
  constructor-manager launch napari

  # Launch a specific version
  constructor-manager launch napari=0.4.17`,
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

		record, err := runTask(cmd.Context(), func(ctx context.Context) (*state.Record, error) {
			return mgr.Launch(ctx, spec)
		})
		if err != nil {
			return err
		}

		return emitJSON(record)
	},
}

func init() {
	rootCmd.AddCommand(launchCmd)
}
