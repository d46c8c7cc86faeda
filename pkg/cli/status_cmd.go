package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"athena-runner/internal/domain"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show the current state of a query execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			h := domain.ExecutionHandle(args[0])
			st, err := eng.Status(cmd.Context(), h)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"execution_id":       h.String(),
					"state":              st.State.String(),
					"reason":             st.Reason,
					"data_scanned_bytes": st.Stats.DataScannedBytes,
					"execution_ms":       st.Stats.TotalExecutionMillis,
				})
			}
			fields := [][2]string{
				{"Execution ID", h.String()},
				{"State", st.State.String()},
			}
			if st.Reason != "" {
				fields = append(fields, [2]string{"Reason", st.Reason})
			}
			fields = append(fields,
				[2]string{"Data scanned", formatBytes(st.Stats.DataScannedBytes)},
				[2]string{"Execution time", formatMillis(st.Stats.TotalExecutionMillis)},
			)
			printFields(cmd.OutOrStdout(), fields)
			return nil
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Ask Athena to stop a query execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			h := domain.ExecutionHandle(args[0])
			if err := eng.Cancel(cmd.Context(), h); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"execution_id": h.String(), "status": "cancel_requested"})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancel requested for %s\n", h)
			return nil
		},
	}
}
