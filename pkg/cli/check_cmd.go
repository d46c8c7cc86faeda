package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"athena-runner/internal/sqlguard"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "check <sql|->",
		Short:       "Check whether a query would be accepted, without running it",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args[0])
			if err != nil {
				return err
			}
			kind, err := sqlguard.Classify(sql)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"allowed":   true,
					"statement": string(kind),
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ok: %s statement allowed\n", kind)
			return nil
		},
	}
}
