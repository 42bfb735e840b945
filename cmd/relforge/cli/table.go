package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/relforge/relforge/internal/domain"
)

func renderTable(headers []string, rows [][]string) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       text.AlignLeft,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func printRunSummary(run domain.Run) {
	rows := make([][]string, 0, len(run.Results))
	for _, res := range run.Results {
		rows = append(rows, []string{
			res.JobID,
			string(res.Stage),
			string(res.Status),
			res.Duration.Round(time.Millisecond).String(),
			res.Error,
		})
	}
	fmt.Println(renderTable([]string{"JOB", "STAGE", "STATUS", "TOOK", "ERROR"}, rows))
	fmt.Printf("run %s: %s\n", run.ID, run.Conclusion)
}
