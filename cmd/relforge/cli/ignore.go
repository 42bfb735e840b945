package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relforge/relforge/internal/infrastructure/config"
)

var ignoreCmd = &cobra.Command{
	Use:   "ignore",
	Short: "Manage trigger ignore globs in the config file",
}

var ignoreAddCmd = &cobra.Command{
	Use:   "add <glob>",
	Short: "Add an ignore glob (paths matching it never trigger a run)",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		glob := args[0]
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		for _, g := range cfg.Trigger.Ignore {
			if g == glob {
				fmt.Printf("no change (glob %q already present)\n", glob)
				return nil
			}
		}

		cfg.Trigger.Ignore = append(cfg.Trigger.Ignore, glob)
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}

		fmt.Printf("added: %s\n", glob)
		return nil
	},
}

var ignoreRemoveCmd = &cobra.Command{
	Use:   "remove <glob>",
	Short: "Remove an ignore glob",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		glob := args[0]
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		kept := cfg.Trigger.Ignore[:0]
		changed := false
		for _, g := range cfg.Trigger.Ignore {
			if g == glob {
				changed = true
				continue
			}
			kept = append(kept, g)
		}

		if !changed {
			fmt.Printf("no change (glob %q not found)\n", glob)
			return nil
		}

		cfg.Trigger.Ignore = kept
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		fmt.Printf("removed: %s\n", glob)

		return nil
	},
}

func init() {
	ignoreCmd.AddCommand(ignoreAddCmd)
	ignoreCmd.AddCommand(ignoreRemoveCmd)

	rootCmd.AddCommand(ignoreCmd)
}
