package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"idm-connector/internal/models"
	"idm-connector/internal/store"
)

// NewPermissionCommand creates the permission command group.
func NewPermissionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Create, read, update and delete permissions",
	}

	cmd.AddCommand(newPermissionCreateCommand(rootOpts))
	cmd.AddCommand(newPermissionGetCommand(rootOpts))
	cmd.AddCommand(newPermissionListCommand(rootOpts))
	cmd.AddCommand(newPermissionUpdateCommand(rootOpts))
	cmd.AddCommand(newPermissionDeleteCommand(rootOpts))

	return cmd
}

type permissionFlags struct {
	code, displayName, category string
}

func (f *permissionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.code, "code", "", "unique permission code")
	cmd.Flags().StringVar(&f.displayName, "display-name", "", "human readable name")
	cmd.Flags().StringVar(&f.category, "category", "", "grouping category")
}

func (f *permissionFlags) input(cmd *cobra.Command) models.PermissionInput {
	var in models.PermissionInput
	if cmd.Flags().Changed("code") {
		in.Code = &f.code
	}
	if cmd.Flags().Changed("display-name") {
		in.DisplayName = &f.displayName
	}
	if cmd.Flags().Changed("category") {
		in.Category = &f.category
	}
	return in
}

func newPermissionCreateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &permissionFlags{}
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a permission and print its uid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			uid, err := st.CreatePermission(commandContext(cmd), flags.input(cmd))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), uid)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newPermissionGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <uid>",
		Short: "Print one permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			perm, err := st.GetPermission(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, perm)
		},
	}
}

func newPermissionListCommand(rootOpts *RootOptions) *cobra.Command {
	var opts store.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permissions ordered by uid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			perms, err := st.ListPermissions(commandContext(cmd), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, perms)
		},
	}
	registerListFlags(cmd, &opts, "code")
	return cmd
}

func newPermissionUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &permissionFlags{}
	cmd := &cobra.Command{
		Use:   "update <uid>",
		Short: "Change the given attributes of a permission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.UpdatePermission(commandContext(cmd), args[0], flags.input(cmd))
		},
	}
	flags.register(cmd)
	return cmd
}

func newPermissionDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <uid>",
		Short: "Delete a permission and its memberships",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, _, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeletePermission(commandContext(cmd), args[0])
		},
	}
}
