package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmgilman/constructor-manager/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "View and modify configuration",
	Long: `View and modify constructor-manager configuration.

With no arguments, displays all configuration.
With one argument, displays the value for the specified key.
With two arguments, sets the value for the specified key.`,
	Example: `  # Show all config
  constructor-manager config

  # Show value for a specific key
  constructor-manager config conda.binary

  # Set a value
  constructor-manager config channel conda-forge

  # Open config file in editor
  constructor-manager config --edit`,
	Args: cobra.RangeArgs(0, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		editFlag, _ := cmd.Flags().GetBool("edit")
		if editFlag {
			return runEdit(cmd)
		}

		loader, err := loaderFor(cmd)
		if err != nil {
			return err
		}

		switch len(args) {
		case 0:
			return runShowAll(cmd, loader)
		case 1:
			return runShowKey(loader, args[0])
		case 2:
			return runSetKey(loader, args[0], args[1])
		}

		return nil
	},
}

// loaderFor returns the loader wired in by the root command, constructing
// one only when initConfig could not run.
func loaderFor(cmd *cobra.Command) (*config.Loader, error) {
	if loader := LoaderFromContext(cmd.Context()); loader != nil {
		return loader, nil
	}
	loader, err := config.NewLoader()
	if err != nil {
		return nil, fmt.Errorf("init config loader: %w", err)
	}
	return loader, nil
}

func runEdit(cmd *cobra.Command) error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		return config.ErrNoEditor
	}

	loader, err := loaderFor(cmd)
	if err != nil {
		return err
	}

	// Ensure config exists (Load creates it if missing)
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	editorCmd := exec.Command(editor, loader.Path())
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	return editorCmd.Run()
}

func runShowAll(cmd *cobra.Command, loader *config.Loader) error {
	cfg := ConfigFromContext(cmd.Context())
	if cfg == nil {
		loaded, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	fmt.Print(string(out))
	return nil
}

func runShowKey(loader *config.Loader, key string) error {
	if err := config.ValidateKey(key); err != nil {
		return err
	}

	// Load to ensure file exists
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	value, err := loader.Get(key)
	if err != nil {
		return err
	}

	if value == nil {
		fmt.Println("")
		return nil
	}

	switch v := value.(type) {
	case string:
		fmt.Println(v)
	case map[string]any, []any:
		out, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal value: %w", err)
		}
		fmt.Print(string(out))
	default:
		fmt.Println(value)
	}

	return nil
}

func runSetKey(loader *config.Loader, key, value string) error {
	// Load first to ensure file exists
	if _, err := loader.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := loader.Set(key, value); err != nil {
		return err
	}

	fmt.Printf("Set %s = %s\n", key, value)
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.Flags().Bool("edit", false, "open config file in $EDITOR")
}
