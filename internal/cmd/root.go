// Package cmd implements the constructor-manager CLI using Cobra. It
// exposes the update workflows (check-updates, update, lock, restore,
// remove, clean, status, launch) plus configuration, channel token, and
// log inspection commands. Every terminal operation emits one structured
// JSON document on standard output.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/anaconda"
	"github.com/jmgilman/constructor-manager/internal/auth"
	"github.com/jmgilman/constructor-manager/internal/conda"
	"github.com/jmgilman/constructor-manager/internal/condalock"
	"github.com/jmgilman/constructor-manager/internal/config"
	"github.com/jmgilman/constructor-manager/internal/flags"
	"github.com/jmgilman/constructor-manager/internal/manager"
	"github.com/jmgilman/constructor-manager/internal/prefix"
	"github.com/jmgilman/constructor-manager/internal/prompt"
	"github.com/jmgilman/constructor-manager/internal/resolver"
	"github.com/jmgilman/constructor-manager/internal/slogger"
	"github.com/jmgilman/constructor-manager/internal/state"
)

// appConfig holds the loaded application configuration.
var appConfig *config.Config

// configLoader is used for reading and writing configuration keys.
var configLoader *config.Loader

// mgr is the update manager; mgrErr records why it could not be built.
// Commands that mutate or query environments require it; config, auth,
// version and logs work without one.
var (
	mgr       *manager.Manager
	mgrLayout *prefix.Layout
	mgrErr    error
)

// Persistent flag values.
var (
	prefixFlag string
	verbosity  int
)

var rootCmd = &cobra.Command{
	Use:   "constructor-manager",
	Short: "Manage updates of a conda-distributed application",
	Long: `constructor-manager keeps a conda-distributed desktop application up to
date. Each version is installed into its own environment under the
installation prefix; updates create the new environment alongside the old
one and only mark it ready once it is verified, so a failed or interrupted
update never damages the running version.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := slogger.New(slogger.Config{Verbosity: verbosity})

		initManager(logger)

		// Store dependencies in context for subcommands
		ctx := slogger.WithLogger(cmd.Context(), logger)
		ctx = WithConfig(ctx, appConfig)
		ctx = WithLoader(ctx, configLoader)
		if mgr != nil {
			ctx = WithManager(ctx, mgr)
		}
		if mgrLayout != nil {
			ctx = WithLayout(ctx, mgrLayout)
		}
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// A failed command still produces one JSON document on standard output: the
// error document, alongside cobra's plain-text line on standard error.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		_ = emitJSON(errorDocument{Error: err.Error()})
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&prefixFlag, "prefix", "", "installation prefix (default: auto-detect)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
}

func initConfig() {
	loader, err := config.NewLoader()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
		return
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		return
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config validation failed: %v\n", err)
	}

	appConfig = cfg
	configLoader = loader
}

// initManager wires the update manager and its collaborators. Failure is
// recorded, not fatal: commands that need the manager surface it through
// requireManager, everything else keeps working.
func initManager(logger *slog.Logger) {
	mgr, mgrLayout, mgrErr = buildManager(logger)
	if mgrErr != nil {
		logger.Debug("update manager unavailable", "error", mgrErr)
	}
}

func buildManager(logger *slog.Logger) (*manager.Manager, *prefix.Layout, error) {
	root := prefixFlag
	if root == "" && appConfig != nil {
		root = appConfig.Prefix
	}
	if root == "" {
		detected, err := prefix.DetectRoot()
		if err != nil {
			return nil, nil, err
		}
		root = detected
	}
	layout, err := prefix.NewLayout(root)
	if err != nil {
		return nil, nil, err
	}
	if err := layout.EnsureDirs(); err != nil {
		return nil, layout, err
	}

	var (
		channel      = config.DefaultChannel
		pluginsURL   string
		indexURL     = config.DefaultIndexURL
		indexTimeout = 60 * time.Second
		condaCfg     = conda.ClientConfig{}
		lockCfg      = condalock.ClientConfig{}
		lockPath     string
	)
	if appConfig != nil {
		channel = appConfig.Channel
		pluginsURL = appConfig.PluginsURL
		indexURL = appConfig.Index.URL
		indexTimeout = time.Duration(appConfig.Index.TimeoutSeconds) * time.Second
		condaCfg.Binary = appConfig.Conda.Binary
		condaCfg.Timeout = time.Duration(appConfig.Conda.TimeoutMinutes) * time.Minute
		lockCfg.Timeout = time.Duration(appConfig.Lock.TimeoutMinutes) * time.Minute
		lockPath = appConfig.Lock.Binary

		extra, err := flags.FromConfig(appConfig.Conda.Flags)
		if err != nil {
			return nil, layout, fmt.Errorf("parse conda flags: %w", err)
		}
		condaCfg.ExtraArgs = flags.ToArgs(extra)
	}

	condaClient, err := conda.NewClient(condaCfg)
	if err != nil {
		return nil, layout, err
	}

	indexCfg := anaconda.ClientConfig{
		BaseURL:   indexURL,
		UserAgent: "constructor-manager/" + Version,
		Timeout:   indexTimeout,
	}
	// Channel tokens are optional; a machine without a usable keyring still
	// queries public channels.
	if tokens, err := auth.Open(auth.Config{}); err == nil {
		indexCfg.Tokens = tokens
	}
	index := anaconda.NewClient(indexCfg)

	lockResolver := condalock.NewResolver(condalock.ResolverConfig{
		Path:     lockPath,
		Conda:    condaClient,
		Prompter: prompt.New(),
		Layout:   layout,
	})
	locks := condalock.NewLazyClient(lockResolver, lockCfg)

	versions := resolver.New(index, layout, channel, logger)
	store := state.NewStore(layout.StateDir())

	m := manager.NewManager(store, condaClient, locks, versions, index, manager.BinLauncher{}, manager.Config{
		Layout:         layout,
		PluginsURL:     pluginsURL,
		DefaultChannel: channel,
		Logger:         logger,
	})
	return m, layout, nil
}
