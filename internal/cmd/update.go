package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/install"
	"github.com/jmgilman/constructor-manager/internal/manager"
)

var updateCmd = &cobra.Command{
	Use:   "update <spec>",
	Short: "Install a version into its own environment",
	Long: `Install the spec's version of the application into a fresh environment
under the installation prefix. A spec without a version targets the latest
published one. Plugins are installed together with the application when the
solver allows it, and one by one otherwise; a plugin that fails to install
is reported in the result document without failing the update.

Updating a version whose environment is already ready re-verifies it and
returns without touching the package manager.`,
	Example: `  # Update to the latest published version
  constructor-manager update napari

  # Install a specific version with explicit plugins
  constructor-manager update napari=0.4.17 --plugin napari-svg --plugin napari-console

  # Install without any plugins
  constructor-manager update napari=0.4.17 --no-plugins`,
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
		pluginList, err := cmd.Flags().GetStringArray("plugin")
		if err != nil {
			return fmt.Errorf("get plugin flag: %w", err)
		}
		noPlugins, err := cmd.Flags().GetBool("no-plugins")
		if err != nil {
			return fmt.Errorf("get no-plugins flag: %w", err)
		}

		mgr, err := requireManager(cmd.Context())
		if err != nil {
			return err
		}

		// nil means "discover from the catalog"; an empty non-nil list
		// means "none".
		var plugins []string
		switch {
		case noPlugins:
			plugins = []string{}
		case len(pluginList) > 0:
			plugins = pluginList
		}

		sink := newProgressSink()
		result, err := runTask(cmd.Context(), func(ctx context.Context) (*install.Result, error) {
			return mgr.Update(ctx, spec, manager.UpdateOptions{
				Plugins:    plugins,
				Channels:   channels,
				IncludeDev: dev,
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
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().StringArrayP("channel", "c", nil, "channel to install from (repeatable)")
	updateCmd.Flags().Bool("dev", false, "allow pre-release and dev versions as the update target")
	updateCmd.Flags().StringArray("plugin", nil, "plugin to install (repeatable; default: discover from the catalog)")
	updateCmd.Flags().Bool("no-plugins", false, "install the application without any plugins")
	updateCmd.MarkFlagsMutuallyExclusive("plugin", "no-plugins")
}
