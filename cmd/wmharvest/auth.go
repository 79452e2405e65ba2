package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"wmharvest/pkg/auth"
	"wmharvest/pkg/ui"
)

var clientID string

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Webmaster API tokens",
	Long: `Manage stored Yandex Webmaster OAuth tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - WMHARVEST_TOKEN environment variable (read only)

Never share your token or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [account]",
	Short: "Store a Webmaster OAuth token securely",
	Long: `Store a Webmaster OAuth token in the system keychain or an encrypted file.

The account name only labels the stored token; it defaults to "default".`,
	Example: `  # Interactive login
  wmharvest auth login

  # Store a second token under its own name
  wmharvest auth login agency --client-id 0123456789abcdef`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [account]",
	Short: "Remove a stored token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

// statusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List stored accounts",
	Long:  `List stored accounts with masked tokens.`,
	RunE:  runAuthStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(authStatusCmd)

	loginCmd.Flags().StringVar(&clientID, "client-id", "", "OAuth application id used in the token link")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		return err
	}

	name := auth.DefaultAccount
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	reader := bufio.NewReader(os.Stdin)
	auth.ShowTokenGuide(clientID)

	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Account '%s' already has a token. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Print("OAuth token (hidden): ")
	token, err := readSecret(reader)
	if err != nil {
		ui.PrintError("Failed to read token", err.Error())
		return err
	}
	if len(token) < 20 || strings.ContainsAny(token, " \t") {
		err := errors.New("a Webmaster OAuth token is a single word of at least 20 characters")
		ui.PrintError("That doesn't look like a token", err.Error())
		return err
	}

	account := &auth.Account{Name: name, Token: token, LastModified: time.Now()}
	if err := manager.Store(account); err != nil {
		ui.PrintError("Failed to store token", err.Error())
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Token stored for account '%s'", name))
	ui.PrintInfo("Token", auth.MaskString(token))
	if name != auth.DefaultAccount {
		fmt.Println("\nUse it with:")
		fmt.Printf("  wmharvest collect --account %s\n", name)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		return err
	}

	name := auth.DefaultAccount
	if len(args) > 0 {
		name = args[0]
	}

	if err := manager.Delete(name); err != nil {
		ui.PrintError("Failed to remove account", err.Error())
		return err
	}
	ui.PrintSuccess("Account removed: " + name)
	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		return err
	}

	accounts, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list accounts", err.Error())
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'wmharvest auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. Account: %s\n", i+1, sanitized.Name)
		fmt.Printf("   Token: %s\n", sanitized.Token)
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

// readSecret reads a line from the terminal without echo, or from reader when stdin is not a terminal
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
