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

// Package cmd implements the core-autoscaler command line.
package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/internal/config"
	"github.com/llm-d/llm-d-core-autoscaler/internal/logging"
)

// rootOptions holds flags that are not configuration keys.
type rootOptions struct {
	configFile string
	servers    []string
	zap        logging.Options
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"max-cores":             "maxCores",
	"utilization-threshold": "utilizationThresholdPercent",
	"settle-poll-interval":  "settle.pollInterval",
	"settle-timeout":        "settle.timeout",
	"inter-target-delay":    "loop.interTargetDelay",
	"inter-cycle-delay":     "loop.interCycleDelay",
	"parallel":              "loop.parallel",
	"probe-dial-timeout":    "probe.dialTimeout",
	"probe-read-timeout":    "probe.readTimeout",
	"provider":              "provider.type",
	"provider-endpoint":     "provider.endpoint",
	"provider-timeout":      "provider.requestTimeout",
	"inventory-file":        "provider.inventoryFile",
	"resolve-max-tries":     "resolve.maxTries",
	"metrics-bind-address":  "metricsBindAddress",
}

// NewRootCommand returns the core-autoscaler command tree. The root command
// runs the fleet loop until SIGINT or SIGTERM.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()

	root := &cobra.Command{
		Use:   programName,
		Short: "Scale server CPU cores up from their reported load average",
		Long: `core-autoscaler polls every configured server for its load average and
asks the provisioning provider for one more core whenever utilization is above
the threshold, up to a fixed maximum. It never scales down.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			logging.NewLogger(opts.zap)
			gin.SetMode(ginMode(opts.zap.Development))
		},
		RunE: runE(v, opts),
	}

	addConfigFlags(root.PersistentFlags(), opts)
	if err := bindFlags(v, root.PersistentFlags()); err != nil {
		panic(err)
	}

	goFlags := flag.NewFlagSet("zap", flag.ExitOnError)
	opts.zap.BindFlags(goFlags)
	root.PersistentFlags().AddGoFlagSet(goFlags)

	root.AddCommand(newRunCommand(v, opts))
	root.AddCommand(newResolveCommand(v, opts))
	root.AddCommand(newProbeCommand(v, opts))
	root.AddCommand(newVersionCommand())
	return root
}

// ginMode keeps gin's route dump and debug warnings for development logging only.
func ginMode(development bool) string {
	if development {
		return gin.DebugMode
	}
	return gin.ReleaseMode
}

// Execute runs the root command with process arguments. Cancelling ctx stops
// the fleet loop and the HTTP server.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func addConfigFlags(fs *pflag.FlagSet, opts *rootOptions) {
	d := config.Default()

	fs.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	fs.StringArrayVar(&opts.servers, "server", nil,
		"server to autoscale as host:port; repeatable, replaces the servers list from the config file")

	fs.Int("max-cores", d.MaxCores, "maximum cores per server")
	fs.Float64("utilization-threshold", d.UtilizationThresholdPercent,
		"scale up when load/cores*100 is strictly above this percentage")
	fs.Duration("settle-poll-interval", d.Settle.PollInterval, "interval between provisioning state polls")
	fs.Duration("settle-timeout", d.Settle.Timeout, "maximum wait for the provider to settle; 0 waits forever")
	fs.Duration("inter-target-delay", d.Loop.InterTargetDelay, "delay after each server")
	fs.Duration("inter-cycle-delay", d.Loop.InterCycleDelay, "delay after each pass over all servers")
	fs.Bool("parallel", d.Loop.Parallel, "run one worker per server")
	fs.Duration("probe-dial-timeout", d.Probe.DialTimeout, "load probe connect timeout")
	fs.Duration("probe-read-timeout", d.Probe.ReadTimeout, "load probe read timeout")
	fs.String("provider", d.Provider.Type, "provisioning provider: rest or simulated")
	fs.String("provider-endpoint", d.Provider.Endpoint, "REST provider base URL")
	fs.Duration("provider-timeout", d.Provider.RequestTimeout, "REST provider request timeout")
	fs.String("inventory-file", "", "YAML inventory for the simulated provider")
	fs.Int("resolve-max-tries", d.Resolve.MaxTries, "attempts to read the provider inventory at startup")
	fs.String("metrics-bind-address", d.MetricsBindAddress,
		"address for /metrics, /healthz, /readyz and /status; 0 disables")
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

// loadConfig layers flags over environment over the config file over defaults.
func loadConfig(v *viper.Viper, opts *rootOptions) (*config.Config, error) {
	config.SetDefaults(v)
	config.BindEnv(v)

	if opts.configFile != "" {
		v.SetConfigFile(opts.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", opts.configFile, err)
		}
	}

	if len(opts.servers) > 0 {
		targets, err := config.ParseServerAddresses(opts.servers)
		if err != nil {
			return nil, err
		}
		servers := make([]map[string]any, 0, len(targets))
		for _, t := range targets {
			servers = append(servers, map[string]any{"address": t.Address, "port": t.Port})
		}
		v.Set("servers", servers)
	}

	return config.Load(v)
}

// commandContext attaches the root logger to the command's context.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := logr.FromContext(ctx); err != nil {
		ctx = logr.NewContext(ctx, ctrl.Log.WithName(programName))
	}
	return ctx
}
