package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/manager"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <spec>",
	Short: "Rebuild an environment from scratch",
	Long: `Delete the spec's environment and re-create it: from its recorded
lockfile when one exists, otherwise by resolving fresh. The old
environment's ready marker is removed before recreation begins, so a
half-deleted environment is never reported usable. This operation is
irreversible.`,
	Example: `  # Rebuild the newest installed version
  constructor-manager restore napari

  # Rebuild a specific version
  constructor-manager restore napari=0.4.17`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := parseSpecArg(args[0])
		if err != nil {
			return err
		}
		channels, err := cmd.Flags().GetStringArray("channel")
		if err != nil {
			return fmt.Errorf("get channel flag: %w", err)
		}

		mgr, err := requireManager(cmd.Context())
		if err != nil {
			return err
		}

		sink := newProgressSink()
		result, err := runTask(cmd.Context(), func(ctx context.Context) (*install.Result, error) {
			return mgr.Restore(ctx, spec, manager.RestoreOptions{
				Channels:   channels,
				OnProgress: sink.Handle,
			})
		})
		sink.Close()
		if err != nil {
			return err
		}

		return emitJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringArrayP("channel", "c", nil, "channel to install from (repeatable)")
}
