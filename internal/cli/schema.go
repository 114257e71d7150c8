package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vantage-sec/vantage/internal/catalog"
)

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Catalogue schema tools",
	}
	cmd.AddCommand(newSchemaExportCommand())
	return cmd
}

func newSchemaExportCommand() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalogue JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := catalog.JSONSchema()
			if err != nil {
				return fmt.Errorf("failed to render schema: %w", err)
			}
			if outputFile == "" {
				fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return nil
			}
			if err := os.WriteFile(outputFile, append(schema, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write schema: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outputFile, "output-file", "", "write the schema to a file instead of stdout")
	return cmd
}
