package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"idm-connector/internal/models"
	"idm-connector/internal/store"
)

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create, read, update and delete accounts and their memberships",
	}

	cmd.AddCommand(newAccountCreateCommand(rootOpts))
	cmd.AddCommand(newAccountGetCommand(rootOpts))
	cmd.AddCommand(newAccountListCommand(rootOpts))
	cmd.AddCommand(newAccountUpdateCommand(rootOpts))
	cmd.AddCommand(newAccountDeleteCommand(rootOpts))
	cmd.AddCommand(newMembershipCommand(rootOpts, "grant"))
	cmd.AddCommand(newMembershipCommand(rootOpts, "revoke"))

	return cmd
}

type accountFlags struct {
	username, fullName, email string
	active                    bool
}

func (f *accountFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.username, "username", "", "unique login name")
	cmd.Flags().StringVar(&f.fullName, "full-name", "", "display name")
	cmd.Flags().StringVar(&f.email, "email", "", "email address")
	cmd.Flags().BoolVar(&f.active, "active", true, "whether the account is enabled")
}

// input sets only the flags given on the command line.
func (f *accountFlags) input(cmd *cobra.Command) models.AccountInput {
	var in models.AccountInput
	if cmd.Flags().Changed("username") {
		in.Username = &f.username
	}
	if cmd.Flags().Changed("full-name") {
		in.FullName = &f.fullName
	}
	if cmd.Flags().Changed("email") {
		in.Email = &f.email
	}
	if cmd.Flags().Changed("active") {
		in.IsActive = &f.active
	}
	return in
}

func newAccountCreateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &accountFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := st.CreateAccount(commandContext(cmd), flags.input(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newAccountGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			acc, err := st.GetAccount(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, acc)
		},
	}
}

func newAccountListCommand(rootOpts *RootOptions) *cobra.Command {
	var opts store.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts ordered by id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			accounts, err := st.ListAccounts(commandContext(cmd), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, accounts)
		},
	}
	registerListFlags(cmd, &opts, "username")
	return cmd
}

func newAccountUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &accountFlags{}
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the given attributes of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.UpdateAccount(commandContext(cmd), args[0], flags.input(cmd))
		},
	}
	flags.register(cmd)
	return cmd
}

func newAccountDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account and its memberships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteAccount(commandContext(cmd), args[0])
		},
	}
}

func newMembershipCommand(rootOpts *RootOptions, action string) *cobra.Command {
	short := "Grant a permission to an account"
	if action == "revoke" {
		short = "Revoke a permission from an account"
	}
	return &cobra.Command{
		Use:   action + " <account-id> <permission-uid>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if action == "revoke" {
				return st.Revoke(commandContext(cmd), args[0], args[1])
			}
			return st.Grant(commandContext(cmd), args[0], args[1])
		},
	}
}

func registerListFlags(cmd *cobra.Command, opts *store.ListOptions, nameFlag string) {
	cmd.Flags().StringVar(&opts.Name, nameFlag, "", "only the entry with this "+nameFlag)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum entries (0 = all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "entries to skip")
}
