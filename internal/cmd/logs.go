package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs [operation]",
	Short: "Show the output of past operations",
	Long: `Show the subprocess output captured for mutating operations (update,
restore, remove, lock, clean). Without an argument the most recent
operation's log is shown; with one, the most recent log of that operation.`,
	Example: `  # Tail the most recent operation log
  constructor-manager logs

  # Show the last update's full output
  constructor-manager logs update -n 0

  # Follow a running update
  constructor-manager logs update -f`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := cmd.Flags().GetBool("list")
		if err != nil {
			return fmt.Errorf("get list flag: %w", err)
		}
		lines, err := cmd.Flags().GetInt("lines")
		if err != nil {
			return fmt.Errorf("get lines flag: %w", err)
		}
		follow, err := cmd.Flags().GetBool("follow")
		if err != nil {
			return fmt.Errorf("get follow flag: %w", err)
		}

		layout, err := requireLayout(cmd.Context())
		if err != nil {
			return err
		}

		entries, err := logging.List(layout.LogDir())
		if err != nil {
			return err
		}
		if list {
			return emitJSON(entries)
		}

		operation := ""
		if len(args) == 1 {
			operation = args[0]
		}
		entry, ok := newestEntry(entries, operation)
		if !ok {
			if operation == "" {
				return fmt.Errorf("no operation logs under %s", layout.LogDir())
			}
			return fmt.Errorf("no %s logs under %s", operation, layout.LogDir())
		}

		if follow {
			ctx, stop := interruptContext(cmd)
			defer stop()
			return logging.Follow(ctx, entry.Path, os.Stdout, 0)
		}

		text, err := logging.Tail(entry.Path, lines)
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

// newestEntry picks the most recent log, optionally restricted to one
// operation. Entries arrive newest first.
func newestEntry(entries []logging.Entry, operation string) (logging.Entry, bool) {
	for _, e := range entries {
		if operation == "" || e.Operation == operation {
			return e, true
		}
	}
	return logging.Entry{}, false
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().Bool("list", false, "list stored operation logs as JSON")
	logsCmd.Flags().IntP("lines", "n", 100, "lines to show from the end (0 = whole file)")
	logsCmd.Flags().BoolP("follow", "f", false, "keep streaming as the log grows")
}
