package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"civitscraper/pkg/auth"
	"civitscraper/pkg/ui"
)

func newAuthCmd() *cobra.Command {
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage Civitai API keys",
		Long: `Manage stored Civitai API keys.

Keys are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation

An API key is optional; public images download without one.
Never share your API key or config files!`,
	}

	authCmd.AddCommand(newLoginCmd(), newLogoutCmd(), newListCmd(), newUseCmd())
	return authCmd
}

func newLoginCmd() *cobra.Command {
	var key string
	var guide bool

	cmd := &cobra.Command{
		Use:   "login [name]",
		Short: "Store an API key securely",
		Long: `Store a Civitai API key in the system keychain or an encrypted file.

The account name defaults to "default". Without --key you are prompted for
the key; input is hidden when reading from a terminal.`,
		Example: `  # Interactive login
  civitscraper auth login

  # Store a second key under a name
  civitscraper auth login work --key 0123456789abcdef`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "default"
			if len(args) > 0 {
				name = strings.TrimSpace(args[0])
			}

			manager, err := auth.NewManager()
			if err != nil {
				return fatal("failed to initialize credential manager: %w", err)
			}

			if guide {
				auth.ShowAPIKeyGuide(cmd.OutOrStdout())
			}

			if key == "" {
				key, err = readSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Civitai API key: ")
				if err != nil {
					return fatal("failed to read API key: %w", err)
				}
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return fatal("API key is required")
			}

			if err := manager.Store(&auth.Account{Name: name, APIKey: key}); err != nil {
				return fatal("failed to store credentials: %w", err)
			}
			ui.PrintSuccess(fmt.Sprintf("Account saved: %s (%s)", name, auth.MaskKey(key)))
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "API key (prompted for when omitted)")
	cmd.Flags().BoolVar(&guide, "guide", false, "show how to create an API key first")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "logout [name]",
		Short: "Remove stored API keys",
		Example: `  # Remove the default account
  civitscraper auth logout

  # Remove every stored account
  civitscraper auth logout --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := auth.NewManager()
			if err != nil {
				return fatal("failed to initialize credential manager: %w", err)
			}

			if all {
				if err := manager.DeleteAll(); err != nil {
					return fatal("failed to remove all accounts: %w", err)
				}
				ui.PrintSuccess("All accounts removed")
				return nil
			}

			name := "default"
			if len(args) > 0 {
				name = args[0]
			}
			if err := manager.Delete(name); err != nil {
				return fatal("failed to remove account: %w", err)
			}
			ui.PrintSuccess("Account removed: " + name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "remove every stored account")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored accounts",
		Long:  `List all stored accounts with masked keys, newest first.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := auth.NewManager()
			if err != nil {
				return fatal("failed to initialize credential manager: %w", err)
			}

			accounts, err := manager.List()
			if err != nil {
				return fatal("failed to list accounts: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(accounts) == 0 {
				ui.PrintInfo("No stored accounts", "Use 'civitscraper auth login' to add one")
				return nil
			}

			var defaultName string
			if def, err := manager.RetrieveDefault(); err == nil {
				defaultName = def.Name
			}

			ui.PrintHighlight("Stored Accounts")
			for _, account := range accounts {
				masked := auth.SanitizeAccount(account)
				marker := " "
				if account.Name == defaultName {
					marker = "*"
				}
				fmt.Fprintf(out, " %s %-20s %s  %s\n", marker, masked.Name, masked.APIKey,
					ui.Dim(masked.LastModified.Format("2006-01-02 15:04")))
			}
			fmt.Fprintln(out, "\n* used when no --account is given")
			return nil
		},
	}
}

func newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <name>",
		Short: "Set the account used when --account is not given",
		Long: `Mark a stored account as the default. Without a default the most
recently stored account is used.`,
		Example: `  civitscraper auth use work`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := auth.NewManager()
			if err != nil {
				return fatal("failed to initialize credential manager: %w", err)
			}
			if err := manager.SetDefault(args[0]); err != nil {
				return fatal("failed to set default account: %w", err)
			}
			ui.PrintSuccess("Default account: " + args[0])
			return nil
		},
	}
}

// readSecret reads one line, hiding the input when in is a terminal.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
