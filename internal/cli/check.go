package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"idm-connector/internal/entity"
	"idm-connector/internal/processor"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var binlog bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify configuration, connectivity, tables and grants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, logger, err := rootOpts.openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := processor.ValidateRules(&cfg.Processor); err != nil {
				return err
			}
			if !cmd.Flags().Changed("binlog") {
				binlog = cfg.Binlog.Enabled
			}
			if err := st.Check(commandContext(cmd), binlog); err != nil {
				return err
			}
			logger.Info("All checks passed")
			fmt.Fprintln(cmd.OutOrStdout(), "OK")
			return nil
		},
	}
	cmd.Flags().BoolVar(&binlog, "binlog", false, "also check replication grants and binlog settings (default binlog.enabled)")
	return cmd
}

// schemaEntry describes one object class for the host framework.
type schemaEntry struct {
	Kind       entity.Kind        `json:"kind"`
	Identity   string             `json:"identity"`
	Name       string             `json:"name"`
	Attributes []entity.Attribute `json:"attributes"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the attribute schema of every entity kind",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := make([]schemaEntry, 0, len(entity.Kinds))
			for _, kind := range entity.Kinds {
				d, err := entity.Lookup(kind)
				if err != nil {
					return err
				}
				entries = append(entries, schemaEntry{
					Kind:       kind,
					Identity:   d.IDColumn,
					Name:       d.NameColumn,
					Attributes: d.Attributes,
				})
			}
			return printJSON(cmd, entries)
		},
	}
}
