package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relforge/relforge/internal/domain"
	"github.com/relforge/relforge/internal/infrastructure/config"
	"github.com/relforge/relforge/internal/infrastructure/history_sqlite"
)

var (
	historyLimit int
	historyJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded pipeline runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		store, err := history_sqlite.Open(cfg.Run.HistoryPath)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		runs, err := store.ListRuns(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		if historyJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}

		rows := make([][]string, 0, len(runs))
		for _, r := range runs {
			rows = append(rows, []string{
				r.ID,
				string(r.Event),
				r.Ref,
				r.StartedAt.Format("2006-01-02 15:04:05"),
				string(r.Conclusion),
				fmt.Sprintf("%d/%d", countStatus(r, domain.StatusSuccess), len(r.Results)),
			})
		}
		fmt.Println(renderTable([]string{"RUN", "EVENT", "REF", "STARTED", "CONCLUSION", "OK"}, rows))
		return nil
	},
}

func countStatus(r domain.Run, s domain.JobStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "max runs to list")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")

	rootCmd.AddCommand(historyCmd)
}
