package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/linkup/internal/state"
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func runStore() *state.RunStore {
	cfg := loadConfig()
	return state.NewRunStore(cfg.DataDir)
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect workflow runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workflow runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := runStore()
		runs, err := store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No workflow runs recorded.")
			return nil
		}

		sort.Slice(runs, func(i, j int) bool {
			return runs[i].UpdatedAt.After(runs[j].UpdatedAt)
		})

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tKEY\tSTATE\tSTEP\tRETRIES\tUPDATED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
				r.Kind, r.IdempotencyKey, r.State, r.CurrentStep, r.RetryCount,
				r.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <kind> <idempotency-key>",
	Short: "Show one workflow run as JSON",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := runStore()
		run, err := store.FindByKey(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	},
}
