package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relforge/relforge/internal/application"
	"github.com/relforge/relforge/internal/infrastructure/config"
)

var planJSON bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Print the instantiated job graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		graph, err := application.BuildGraph(pipelineSpec(cfg))
		if err != nil {
			return err
		}

		jobs, err := graph.TopoSort()
		if err != nil {
			return err
		}

		if planJSON {
			type node struct {
				ID        string   `json:"id"`
				Stage     string   `json:"stage"`
				Needs     []string `json:"needs,omitempty"`
				Condition string   `json:"condition"`
			}
			out := make([]node, 0, len(jobs))
			for _, j := range jobs {
				out = append(out, node{
					ID:        j.ID,
					Stage:     string(j.Stage),
					Needs:     j.Needs,
					Condition: string(j.Condition),
				})
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		rows := make([][]string, 0, len(jobs))
		for _, j := range jobs {
			needs := strings.Join(j.Needs, ", ")
			if len(j.Needs) > 4 {
				needs = fmt.Sprintf("%s, … (%d)", strings.Join(j.Needs[:2], ", "), len(j.Needs))
			}
			rows = append(rows, []string{j.ID, string(j.Stage), needs, string(j.Condition)})
		}
		fmt.Println(renderTable([]string{"JOB", "STAGE", "NEEDS", "CONDITION"}, rows))
		return nil
	},
}

func init() {
	planCmd.Flags().BoolVar(&planJSON, "json", false, "print JSON")

	rootCmd.AddCommand(planCmd)
}
