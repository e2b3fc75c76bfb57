package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/constructor-manager/internal/auth"
	"github.com/jmgilman/constructor-manager/internal/prompt"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage channel tokens",
	Long: `Manage anaconda.org API tokens for private channels. Tokens are stored
in the system credential store and attached to index queries for their
channel.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login <channel>",
	Short: "Store a token for a channel",
	Example: `  # Store a token for a private channel
  constructor-manager auth login my-org-channel`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := auth.Open(auth.Config{})
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}

		prompter := prompt.New()
		token, err := prompter.Secret(fmt.Sprintf("Token for %s: ", args[0]))
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		if token == "" {
			return errors.New("empty token")
		}

		if err := store.SetToken(args[0], token); err != nil {
			return fmt.Errorf("store token: %w", err)
		}

		prompter.Print("Token stored securely.")
		return nil
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout <channel>",
	Short: "Delete a channel's stored token",
	Example: `  # Forget the token for a channel
  constructor-manager auth logout my-org-channel`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := auth.Open(auth.Config{})
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}

		if err := store.DeleteToken(args[0]); err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				fmt.Printf("%s: no token stored\n", args[0])
				return nil
			}
			return fmt.Errorf("delete token: %w", err)
		}

		fmt.Printf("%s: token deleted\n", args[0])
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List channels with stored tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := auth.Open(auth.Config{})
		if err != nil {
			return fmt.Errorf("open credential store: %w", err)
		}

		channels, err := store.Channels()
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		if len(channels) == 0 {
			fmt.Println("No channel tokens stored")
			return nil
		}
		for _, channel := range channels {
			fmt.Println(channel)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
}
