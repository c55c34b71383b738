package commands

import (
	"context"
	"fmt"

	"github.com/stackmason/stackmason/pkg/config"
	"github.com/stackmason/stackmason/pkg/engine"
	"github.com/stackmason/stackmason/pkg/stack"
	"github.com/stackmason/stackmason/pkg/telemetry"
	"github.com/stackmason/stackmason/providers/cloudformation"
	"github.com/stackmason/stackmason/providers/memory"
)

// loadConfig resolves the build config from positional args. The last arg is
// the config file and any args before it are environment files interpolated
// into it; with no args the --config flag is used.
func loadConfig(args []string) (*config.Config, error) {
	path := configPath
	var envPaths []string
	if len(args) > 0 {
		path = args[len(args)-1]
		envPaths = args[:len(args)-1]
	}
	return config.Load(path, envPaths)
}

// newTelemetry builds the command's telemetry from the global flags.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = metricsAddr
	}
	return telemetry.NewTelemetry(cfg)
}

// newProvider builds the stack provider and template publisher selected by
// the --provider flag.
func newProvider(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry, wait bool) (engine.Provider, engine.TemplatePublisher, error) {
	switch providerName {
	case "memory":
		return memory.NewProvider(), memory.NewPublisher(), nil
	case "cloudformation":
		provider, err := cloudformation.New(ctx, cloudformation.Config{
			Region: cfg.Region,
			Wait:   wait,
		}, tel.Logger, tel.Metrics)
		if err != nil {
			return nil, nil, err
		}
		publisher, err := cloudformation.NewPublisher(ctx, cloudformation.PublisherConfig{
			Bucket: cfg.Bucket,
			Prefix: cfg.BucketPrefix,
			Region: cfg.Region,
		}, tel.Logger)
		if err != nil {
			return nil, nil, err
		}
		return provider, publisher, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}

// loadStacks materializes every configured stack, loading blueprints from
// their template paths.
func loadStacks(buildCtx *stack.Context, cfg *config.Config) ([]*stack.Stack, error) {
	stacks := make([]*stack.Stack, 0, len(cfg.Stacks))
	for i := range cfg.Stacks {
		s, err := stack.New(buildCtx, &cfg.Stacks[i])
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, s)
	}
	return stacks, nil
}
