package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the worker's hooks, functions and classes as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			rt, err := a.runtime(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := rt.Close(cmd.Context()); err == nil {
					err = cerr
				}
			}()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rt.Inspect())
		},
	}
}
