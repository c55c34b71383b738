package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/stack"
)

func newInfoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [env files...] [config]",
		Short: "Print deployed stack outputs",
		Long: `Describe every configured stack against the provider and print the
outputs of the ones that are deployed.`,
		Example: `  # Outputs of every deployed stack
  mason info conf/stacks.yaml

  # Machine-readable
  mason info --json conf/stacks.yaml`,
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

			buildCtx := stack.NewContext(cfg, nil, nil)
			provider, _, err := newProvider(ctx, cfg, tel, false)
			if err != nil {
				return err
			}

			type stackInfo struct {
				FQN     string            `json:"fqn"`
				Status  string            `json:"status,omitempty"`
				Outputs map[string]string `json:"outputs,omitempty"`
				Missing bool              `json:"missing,omitempty"`
			}

			var mu sync.Mutex
			infos := make(map[string]stackInfo, len(cfg.Stacks))

			group, groupCtx := errgroup.WithContext(ctx)
			group.SetLimit(8)
			for i := range cfg.Stacks {
				def := &cfg.Stacks[i]
				group.Go(func() error {
					fqn := buildCtx.FQN(def.Name)
					desc, err := provider.GetStack(groupCtx, fqn)
					if errors.Is(err, engine.ErrStackNotFound) {
						mu.Lock()
						infos[def.Name] = stackInfo{FQN: fqn, Missing: true}
						mu.Unlock()
						return nil
					}
					if err != nil {
						return err
					}
					mu.Lock()
					infos[def.Name] = stackInfo{FQN: fqn, Status: desc.Status, Outputs: desc.Outputs}
					mu.Unlock()
					return nil
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			names := make([]string, 0, len(infos))
			for name := range infos {
				names = append(names, name)
			}
			sort.Strings(names)

			if jsonOutput {
				ordered := make([]stackInfo, 0, len(names))
				for _, name := range names {
					ordered = append(ordered, infos[name])
				}
				return json.NewEncoder(os.Stdout).Encode(ordered)
			}

			for _, name := range names {
				info := infos[name]
				if info.Missing {
					fmt.Printf("%s: not deployed\n", info.FQN)
					continue
				}
				fmt.Printf("%s (%s):\n", info.FQN, info.Status)
				keys := make([]string, 0, len(info.Outputs))
				for key := range info.Outputs {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					fmt.Printf("  %s: %s\n", key, info.Outputs[key])
				}
			}
			return nil
		},
	}

	return cmd
}
