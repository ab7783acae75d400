package cli

import (
	"github.com/spf13/cobra"

	httphandler "github.com/ericfisherdev/reelqueue/internal/adapter/driving/http"
)

func newAccountsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage connected creator accounts",
	}

	var state string
	authorizeCmd := &cobra.Command{
		Use:   "authorize-url",
		Short: "Print the URL that starts the OAuth authorization flow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := opts.client.AuthorizeURL(cmd.Context(), state)
			if err != nil {
				return err
			}
			if done, err := opts.printJSON(cmd, resp); done {
				return err
			}
			cmd.Println(resp.URL)
			cmd.Printf("state: %s\n", resp.State)
			return nil
		},
	}
	authorizeCmd.Flags().StringVar(&state, "state", "", "Opaque state value echoed back on redirect")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List connected accounts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				accounts, err := opts.client.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				if done, err := opts.printJSON(cmd, accounts); done {
					return err
				}
				if len(accounts) == 0 {
					cmd.Println("No accounts connected")
					return nil
				}
				for i := range accounts {
					printAccount(cmd, accounts[i])
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "connect [code]",
			Short: "Connect an account with an OAuth authorization code",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				acct, err := opts.client.ConnectAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if done, err := opts.printJSON(cmd, acct); done {
					return err
				}
				cmd.Printf("Connected %s (@%s)\n", acct.AccountID, acct.Username)
				return nil
			},
		},
		authorizeCmd,
		&cobra.Command{
			Use:   "disconnect [account-id]",
			Short: "Disconnect an account and cancel its scheduled posts",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := opts.client.DisconnectAccount(cmd.Context(), args[0]); err != nil {
					return err
				}
				cmd.Printf("Disconnected %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "refresh [account-id]",
			Short: "Force a token refresh",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				acct, err := opts.client.RefreshAccount(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if done, err := opts.printJSON(cmd, acct); done {
					return err
				}
				cmd.Printf("Refreshed %s, access token valid until %s\n", acct.AccountID, acct.AccessExpiresAt)
				return nil
			},
		},
	)
	return cmd
}

func printAccount(cmd *cobra.Command, a httphandler.AccountResponse) {
	cmd.Printf("%s\n", a.AccountID)
	cmd.Printf("  User:     @%s (%s)\n", a.Username, a.DisplayName)
	cmd.Printf("  Status:   %s\n", a.Status)
	cmd.Printf("  Expires:  %s\n", a.AccessExpiresAt)
	cmd.Println()
}
