package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// lockDocument is the JSON document the lock command emits.
type lockDocument struct {
	Environment string `json:"environment"`
	Lockfile    string `json:"lockfile"`
}

var lockCmd = &cobra.Command{
	Use:   "lock <spec>",
	Short: "Snapshot an environment into a lockfile",
	Long: `Generate a fully resolved lockfile for the spec's environment and attach
its path to the environment's record, so a later restore can rebuild the
exact package set. Relocking is skipped when the installed packages have
not changed since the last lock.`,
	Example: `  # Lock the newest installed version
  constructor-manager lock napari

  # Lock a specific version against an explicit channel
  constructor-manager lock napari=0.4.17 -c conda-forge`,
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

		path, err := runTask(cmd.Context(), func(ctx context.Context) (string, error) {
			return mgr.Lock(ctx, spec, channels)
		})
		if err != nil {
			return err
		}

		// The spec may have been pinned inside Lock; the lockfile is named
		// after the environment it snapshots.
		env := strings.TrimSuffix(filepath.Base(path), ".lock")
		return emitJSON(lockDocument{Environment: env, Lockfile: path})
	},
}

func init() {
	rootCmd.AddCommand(lockCmd)

	lockCmd.Flags().StringArrayP("channel", "c", nil, "channel recorded in the lockfile (repeatable)")
}
