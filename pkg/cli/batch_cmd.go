package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"athena-runner/internal/batch"
	"athena-runner/internal/domain"
)

func newBatchCmd(a *app) *cobra.Command {
	var requestID string

	cmd := &cobra.Command{
		Use:   "batch <manifest.yaml>",
		Short: "Run every query of a manifest under one request id",
		Example: `  athenaq batch weekly.yaml --concurrency 2

  # weekly.yaml
  request_id: weekly-report
  queries:
    - name: enrolments
      sql: SELECT course, COUNT(*) AS n FROM enrolments GROUP BY course
      filename: enrolments.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := batch.LoadManifest(args[0])
			if err != nil {
				return err
			}
			if requestID != "" {
				m.RequestID = requestID
			}
			if m.RequestID == "" {
				m.RequestID = uuid.NewString()
			}

			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			report := batch.Run(cmd.Context(), eng, m, a.cfg.Concurrency, a.logger)

			if getOutputFormat(cmd) == "json" {
				if err := printJSON(cmd.OutOrStdout(), batchReportJSON(report)); err != nil {
					return err
				}
			} else {
				rows := make([]table.Row, 0, len(report.Items))
				for _, it := range report.Items {
					if it.Err != nil {
						rows = append(rows, table.Row{it.Item.Name, domain.Kind(it.Err), "-", "-", "-"})
						continue
					}
					art := it.Result.Artifact
					rows = append(rows, table.Row{it.Item.Name, "ok", art.LocalPath, formatBytes(art.ByteSize), formatRows(art.RowCount)})
				}
				printTable(cmd.OutOrStdout(), table.Row{"Query", "Status", "Path", "Size", "Rows"}, rows)
				for _, it := range report.Items {
					if it.Err != nil {
						a.logger.Error("query failed", "query", it.Item.Name, "error", it.Err)
					}
				}
			}

			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d of %d queries failed", n, len(report.Items))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestID, "request-id", "", "Override the manifest's request id")
	cmd.Flags().Int("concurrency", 0, "Queries in flight at once (default from config)")
	return cmd
}

func batchReportJSON(r *batch.Report) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(r.Items))
	for _, it := range r.Items {
		entry := map[string]interface{}{
			"name":     it.Item.Name,
			"filename": it.Item.Filename,
		}
		if it.Err != nil {
			entry["error"] = it.Err.Error()
			entry["kind"] = domain.Kind(it.Err)
			entry["retryable"] = domain.Retryable(it.Err)
		} else {
			entry["execution_id"] = it.Result.Handle.String()
			entry["path"] = it.Result.Artifact.LocalPath
			entry["byte_size"] = it.Result.Artifact.ByteSize
			entry["row_count"] = it.Result.Artifact.RowCount
		}
		items = append(items, entry)
	}
	return map[string]interface{}{
		"request_id": r.RequestID,
		"failed":     r.Failed(),
		"queries":    items,
	}
}
