package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackmason/stackmason/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
		runID  string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent build runs",
		Long: `List recent build runs from the history database, most recent first.
With --run, show the per-stack results of one run.`,
		Example: `  # Last 20 runs
  mason history

  # One run's stack results
  mason history --run 6f1c9d2e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if dbPath == "" {
				return fmt.Errorf("run history is disabled; set --db")
			}
			store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
			if err != nil {
				return err
			}
			if err := store.Init(ctx); err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(ctx); err != nil {
				return err
			}

			if runID != "" {
				run, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				results, err := store.ListStackResults(ctx, runID)
				if err != nil {
					return err
				}

				if jsonOutput {
					return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
						"run":     run,
						"results": results,
					})
				}

				fmt.Printf("run %s namespace=%s status=%s started=%s\n",
					run.ID, run.Namespace, run.Status, run.StartedAt.Format(time.RFC3339))
				for _, result := range results {
					line := fmt.Sprintf("  %s (%s): %s", result.Name, result.FQN, result.Status)
					if result.Failure != nil {
						line += " - " + *result.Failure
					}
					fmt.Println(line)
				}
				return nil
			}

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}

			for _, run := range runs {
				completed := "-"
				if run.CompletedAt != nil {
					completed = run.CompletedAt.Format(time.RFC3339)
				}
				names := run.StackNames()
				fmt.Printf("%s  %-10s  %-9s  started=%s completed=%s stacks=%d\n",
					run.ID, run.Namespace, run.Status,
					run.StartedAt.Format(time.RFC3339), completed, len(names))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	cmd.Flags().StringVar(&runID, "run", "", "show one run's stack results")

	return cmd
}
