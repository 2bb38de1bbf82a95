/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/internal/config"
	"github.com/llm-d/llm-d-core-autoscaler/internal/controller"
	"github.com/llm-d/llm-d-core-autoscaler/internal/fleet"
	"github.com/llm-d/llm-d-core-autoscaler/internal/metrics"
	"github.com/llm-d/llm-d-core-autoscaler/internal/probe"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning/rest"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning/simulated"
	"github.com/llm-d/llm-d-core-autoscaler/internal/resolver"
	"github.com/llm-d/llm-d-core-autoscaler/internal/server"
)

// metricsDisabled turns off the HTTP server when used as metricsBindAddress.
const metricsDisabled = "0"

func newRunCommand(v *viper.Viper, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the autoscaling loop (same as the root command)",
		Args:  cobra.NoArgs,
		RunE:  runE(v, opts),
	}
}

func runE(v *viper.Viper, opts *rootOptions) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(v, opts)
		if err != nil {
			return err
		}
		return runAutoscaler(commandContext(cmd), cfg)
	}
}

// runAutoscaler resolves the configured servers and runs the fleet loop and
// HTTP server until ctx is cancelled.
func runAutoscaler(ctx context.Context, cfg *config.Config) error {
	logger := ctrl.LoggerFrom(ctx)
	logger.Info("Starting core autoscaler", "version", version.Info(), "build", version.BuildContext())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.RegisterBuildInfo(reg); err != nil {
		return fmt.Errorf("registering build info: %w", err)
	}
	emitter, err := metrics.NewEmitter(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	client, err := newProvider(cfg.Provider)
	if err != nil {
		return err
	}
	instrumented := provisioning.NewInstrumented(client, emitter)

	loop, err := newFleet(ctx, cfg, instrumented, emitter)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsBindAddress != metricsDisabled {
		srv := server.New(cfg.MetricsBindAddress, reg, loop)
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Core autoscaler stopped")
	return nil
}

// newFleet resolves the configured servers and builds one controller per
// resolved server.
func newFleet(ctx context.Context, cfg *config.Config, client provisioning.Client, recorder controller.Recorder) (*fleet.Loop, error) {
	res := resolver.New(client, resolver.WithMaxTries(cfg.Resolve.MaxTries))
	resolved, unresolved, err := res.ResolveAll(ctx, cfg.Servers)
	if err != nil {
		return nil, fmt.Errorf("resolving servers: %w", err)
	}

	policy := controller.Policy{
		MaxCores:         cfg.MaxCores,
		ThresholdPercent: cfg.UtilizationThresholdPercent,
	}
	sampler := probe.New(cfg.Probe.DialTimeout, cfg.Probe.ReadTimeout)

	scalers := make([]fleet.Scaler, 0, len(resolved))
	for _, t := range resolved {
		scalers = append(scalers, controller.New(t, client, controller.Options{
			Policy: policy,
			Settle: controller.SettleOptions{
				PollInterval: cfg.Settle.PollInterval,
				Timeout:      cfg.Settle.Timeout,
			},
			Sampler:  sampler,
			Recorder: recorder,
		}))
	}

	return fleet.New(scalers, unresolved, fleet.Options{
		InterTargetDelay: cfg.Loop.InterTargetDelay,
		InterCycleDelay:  cfg.Loop.InterCycleDelay,
		Parallel:         cfg.Loop.Parallel,
		Policy:           policy,
	}), nil
}

// newProvider builds the configured provisioning backend.
func newProvider(cfg config.ProviderConfig) (provisioning.Client, error) {
	switch cfg.Type {
	case config.ProviderREST:
		c, err := rest.NewClient(cfg.Username, cfg.Password,
			rest.WithEndpoint(cfg.Endpoint),
			rest.WithTimeout(cfg.RequestTimeout))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderSimulated:
		inv, err := simulated.LoadInventory(cfg.InventoryFile)
		if err != nil {
			return nil, err
		}
		return simulated.New(inv), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
