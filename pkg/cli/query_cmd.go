package cli

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"athena-runner/internal/domain"
)

// readSQL returns arg, or stdin when arg is "-".
func readSQL(cmd *cobra.Command, arg string) (string, error) {
	if arg != "-" {
		return arg, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read SQL from stdin: %w", err)
	}
	return string(data), nil
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		filename  string
		requestID string
	)

	cmd := &cobra.Command{
		Use:   "query <sql|->",
		Short: "Run a read-only query and save its result",
		Long: `Run a read-only query and save its result.

The query must be a single SELECT, WITH or VALUES statement. The result is
written to <results-dir>/<request-id>/<filename>; a random request id is
used when --request-id is omitted.`,
		Example: `  athenaq query "SELECT COUNT(*) AS total FROM students" --filename count.csv
  echo "SELECT * FROM grades LIMIT 10" | athenaq query - --request-id r1 -f grades.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd, args[0])
			if err != nil {
				return err
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}

			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := eng.Run(cmd.Context(), domain.QueryRequest{
				SQL:           sql,
				RequestID:     requestID,
				LocalFilename: filename,
			})
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), queryResultJSON(requestID, res))
			}
			printFields(cmd.OutOrStdout(), [][2]string{
				{"Request ID", requestID},
				{"Execution ID", res.Handle.String()},
				{"Path", res.Artifact.LocalPath},
				{"Size", formatBytes(res.Artifact.ByteSize)},
				{"Rows", formatRows(res.Artifact.RowCount)},
				{"Data scanned", formatBytes(res.Stats.DataScannedBytes)},
				{"Execution time", formatMillis(res.Stats.TotalExecutionMillis)},
				{"Source", res.Artifact.Source.URI()},
			})
			return nil
		},
	}

	cmd.Flags().StringVarP(&filename, "filename", "f", "result.csv", "Local filename for the result")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Request id grouping results (default: random UUID)")
	return cmd
}

func queryResultJSON(requestID string, res *domain.QueryResult) map[string]interface{} {
	out := map[string]interface{}{
		"request_id":         requestID,
		"execution_id":       res.Handle.String(),
		"path":               res.Artifact.LocalPath,
		"byte_size":          res.Artifact.ByteSize,
		"row_count":          res.Artifact.RowCount,
		"source":             res.Artifact.Source.URI(),
		"data_scanned_bytes": res.Stats.DataScannedBytes,
		"execution_ms":       res.Stats.TotalExecutionMillis,
		"polls":              res.Polls,
	}
	if res.Artifact.SQLPath != "" {
		out["sql_path"] = res.Artifact.SQLPath
	}
	return out
}
