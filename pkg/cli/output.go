package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	v, _ := cmd.Root().PersistentFlags().GetString("output")
	return v
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable renders rows under header in the light box style.
func printTable(w io.Writer, header table.Row, rows []table.Row) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	t.AppendRows(rows)
	t.Render()
}

// printFields renders a two-column key/value table.
func printFields(w io.Writer, fields [][2]string) {
	rows := make([]table.Row, len(fields))
	for i, f := range fields {
		rows[i] = table.Row{f[0], f[1]}
	}
	printTable(w, table.Row{"Field", "Value"}, rows)
}

func formatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

func formatRows(rows *int64) string {
	if rows == nil {
		return "-"
	}
	return strconv.FormatInt(*rows, 10)
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}
