package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/resolver"
)

var checkUpdatesCmd = &cobra.Command{
	Use:   "check-updates <spec>",
	Short: "Check whether a newer version is published",
	Long: `Check the package index for versions newer than the one named in the
spec. A spec without a version compares against the newest installed
environment. The result document lists every published version, the found
updates, and whether the latest one already has a ready environment.`,
	Example: `  # Check for updates to the running version
  constructor-manager check-updates napari

  # Check from a known version, including pre-releases
  constructor-manager check-updates napari=0.4.15 --dev

  # When the target is already installed, drop old versions and launch it
  constructor-manager check-updates napari=0.4.15 --clean-and-launch`,
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
		dev, err := cmd.Flags().GetBool("dev")
		if err != nil {
			return fmt.Errorf("get dev flag: %w", err)
		}
		cleanAndLaunch, err := cmd.Flags().GetBool("clean-and-launch")
		if err != nil {
			return fmt.Errorf("get clean-and-launch flag: %w", err)
		}

		mgr, err := requireManager(cmd.Context())
		if err != nil {
			return err
		}

		q := resolver.Query{
			Package:    spec.Name,
			Current:    spec.Version,
			Build:      spec.Build,
			Channels:   channels,
			IncludeDev: dev,
		}

		var res *resolver.QueryResult
		if cleanAndLaunch {
			sink := newProgressSink()
			res, err = runTask(cmd.Context(), func(ctx context.Context) (*resolver.QueryResult, error) {
				return mgr.CheckUpdatesCleanAndLaunch(ctx, q, sink.Handle)
			})
			sink.Close()
		} else {
			res, err = runTask(cmd.Context(), func(ctx context.Context) (*resolver.QueryResult, error) {
				return mgr.CheckUpdates(ctx, q)
			})
		}
		if err != nil {
			return err
		}

		return emitJSON(res)
	},
}

func init() {
	rootCmd.AddCommand(checkUpdatesCmd)

	checkUpdatesCmd.Flags().StringArrayP("channel", "c", nil, "channel to query (repeatable)")
	checkUpdatesCmd.Flags().Bool("dev", false, "include pre-release and dev versions")
	checkUpdatesCmd.Flags().Bool("clean-and-launch", false, "when the target is installed, remove other versions and launch it")
}
