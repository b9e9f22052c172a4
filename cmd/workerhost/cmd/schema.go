package cmd

import (
	"github.com/spf13/cobra"

	"github.com/reglet-dev/reglet-workers/application/schema"
)

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of worker.yaml",
		Args:  cobra.NoArgs,
		// The schema needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := schema.ManifestSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(out, '\n'))
			return err
		},
	}
}
