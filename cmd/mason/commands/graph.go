package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/stack"
)

func newGraphCommand() *cobra.Command {
	var targets []string

	cmd := &cobra.Command{
		Use:   "graph [env files...] [config]",
		Short: "Print the dependency graph in DOT format",
		Long: `Print the build's stack dependency graph in Graphviz DOT format.
No provider calls are made.`,
		Example: `  # Render the full graph
  mason graph conf/stacks.yaml | dot -Tpng -o graph.png

  # Only a target and its dependencies
  mason graph --targets web conf/stacks.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}

			buildCtx := stack.NewContext(cfg, nil, targets)
			stacks, err := loadStacks(buildCtx, cfg)
			if err != nil {
				return err
			}

			// Render-only plan: a nil runner means nothing launches.
			p, err := engine.NewPlan(fmt.Sprintf("build %s", cfg.Namespace), stacks, nil, nil)
			if err != nil {
				return err
			}
			if len(targets) > 0 {
				p, err = p.Prune(targets)
				if err != nil {
					return err
				}
			}

			fmt.Print(p.DOT())
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&targets, "targets", nil, "restrict the graph to these stacks and their dependencies")

	return cmd
}
