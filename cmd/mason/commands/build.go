package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/hooks"
	"github.com/stackmason/stackmason/pkg/policy"
	"github.com/stackmason/stackmason/pkg/stack"
	"github.com/stackmason/stackmason/pkg/stores"
)

func newBuildCommand() *cobra.Command {
	var (
		outline      bool
		dumpDir      string
		tail         bool
		force        []string
		targets      []string
		maxParallel  int
		pollInterval time.Duration
		noWait       bool
	)

	cmd := &cobra.Command{
		Use:   "build [env files...] [config]",
		Short: "Build the configured stacks",
		Long: `Build every stack in the configuration, in dependency order.

This command:
  - Loads the config, interpolating any environment files given before it
  - Evaluates the policy gate over the planned stack set
  - Runs pre-build hooks
  - Launches stacks in parallel as their dependencies complete
  - Runs post-build hooks and records the run in the history store`,
		Example: `  # Build from the default config
  mason build

  # Interpolate an environment file into the config
  mason build conf/stage.env conf/stacks.yaml

  # Show the ordered plan without touching the provider
  mason build --outline conf/stacks.yaml

  # Restrict the build and allow a locked stack through
  mason build --targets web --force database conf/stacks.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(args)
			if err != nil {
				return err
			}

			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}

			buildCtx := stack.NewContext(cfg, force, targets)
			stacks, err := loadStacks(buildCtx, cfg)
			if err != nil {
				return err
			}

			provider, publisher, err := newProvider(ctx, cfg, tel, !noWait)
			if err != nil {
				return err
			}

			gate, err := policy.NewEngine(tel.Logger, tel.Events)
			if err != nil {
				return err
			}
			if err := gate.LoadPaths(ctx, cfg.PolicyPaths); err != nil {
				return err
			}

			bc := engine.BuildConfig{
				Config:    cfg,
				Context:   buildCtx,
				Stacks:    stacks,
				Provider:  provider,
				Publisher: publisher,
				Hooks:     hooks.NewRunner(tel.Logger, tel.Metrics),
				Policy:    gate,
				Logger:    tel.Logger,
				Metrics:   tel.Metrics,
				Events:    tel.Events,
				Options: engine.BuildOptions{
					Outline:      outline,
					DumpDir:      dumpDir,
					Tail:         tail,
					Targets:      targets,
					MaxParallel:  maxParallel,
					PollInterval: pollInterval,
				},
			}

			// Outlines and dumps make no provider calls, so they leave no
			// run record either.
			if dbPath != "" && !outline && dumpDir == "" {
				store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
				if err != nil {
					return err
				}
				if err := store.Init(ctx); err != nil {
					return err
				}
				if err := store.Migrate(ctx); err != nil {
					return err
				}
				defer store.Close()
				bc.Store = store
			}

			action := engine.NewBuildAction(bc)
			buildErr := action.Execute(ctx)
			printStatuses(action.Statuses())
			return buildErr
		},
	}

	cmd.Flags().BoolVar(&outline, "outline", false, "print the ordered plan without building")
	cmd.Flags().StringVar(&dumpDir, "dump", "", "write templates and parameters to this directory instead of building")
	cmd.Flags().BoolVar(&tail, "tail", false, "stream provider stack events while building")
	cmd.Flags().StringSliceVar(&force, "force", nil, "locked stacks that may be updated this run")
	cmd.Flags().StringSliceVar(&targets, "targets", nil, "restrict the build to these stacks and their dependencies")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max concurrent stack launches (0 for default)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 0, "event tail poll cadence (0 for default)")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "return from submissions without waiting for stacks to stabilize")

	return cmd
}

// printStatuses writes each completed stack's terminal status to stdout.
func printStatuses(statuses map[string]engine.Status) {
	if len(statuses) == 0 {
		return
	}

	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	if jsonOutput {
		out := make(map[string]string, len(statuses))
		for name, status := range statuses {
			out[name] = status.String()
		}
		_ = json.NewEncoder(os.Stdout).Encode(out)
		return
	}

	for _, name := range names {
		fmt.Printf("%s: %s\n", name, statuses[name])
	}
}
