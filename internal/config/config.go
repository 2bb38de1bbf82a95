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

// Package config holds the autoscaler configuration and its viper bindings.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/internal/logging"
)

const (
	// EnvPrefix is prepended to every environment override, e.g. CORE_AUTOSCALER_MAXCORES.
	EnvPrefix = "CORE_AUTOSCALER"

	ProviderREST      = "rest"
	ProviderSimulated = "simulated"

	DefaultProviderEndpoint = "https://api.profitbricks.com/cloudapi/v4"
)

var ErrNoServers = errors.New("at least one server must be configured")

// Target is one autoscaled server as configured by the operator.
type Target struct {
	// Address is a hostname or IP. Hostnames are resolved once at startup.
	Address string `mapstructure:"address" yaml:"address"`
	// Port is where the load-average service listens.
	Port int `mapstructure:"port" yaml:"port"`
}

// String returns address:port.
func (t Target) String() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// Config is the complete autoscaler configuration.
type Config struct {
	Servers []Target `mapstructure:"servers"`

	// MaxCores caps the core count of every server. Scale-up stops here.
	MaxCores int `mapstructure:"maxCores"`
	// UtilizationThresholdPercent triggers a scale-up when utilization is strictly greater.
	UtilizationThresholdPercent float64 `mapstructure:"utilizationThresholdPercent"`

	Settle   SettleConfig   `mapstructure:"settle"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Provider ProviderConfig `mapstructure:"provider"`
	Resolve  ResolveConfig  `mapstructure:"resolve"`

	// MetricsBindAddress serves /metrics, /healthz, /readyz and /status. "0" disables it.
	MetricsBindAddress string `mapstructure:"metricsBindAddress"`
}

// SettleConfig controls the wait for the provider to finish provisioning.
type SettleConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	// Timeout bounds the wait; 0 waits until the context is cancelled.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoopConfig controls the cadence of the fleet loop.
type LoopConfig struct {
	InterTargetDelay time.Duration `mapstructure:"interTargetDelay"`
	InterCycleDelay  time.Duration `mapstructure:"interCycleDelay"`
	Parallel         bool          `mapstructure:"parallel"`
}

type ProbeConfig struct {
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
}

// ProviderConfig selects and configures the provisioning backend.
type ProviderConfig struct {
	Type           string        `mapstructure:"type"`
	Endpoint       string        `mapstructure:"endpoint"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	// InventoryFile seeds the simulated provider.
	InventoryFile string `mapstructure:"inventoryFile"`
}

// ResolveConfig controls the startup inventory scan.
type ResolveConfig struct {
	MaxTries int `mapstructure:"maxTries"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		MaxCores:                    3,
		UtilizationThresholdPercent: 100,
		Settle: SettleConfig{
			PollInterval: time.Second,
		},
		Loop: LoopConfig{
			InterTargetDelay: 5 * time.Second,
		},
		Probe: ProbeConfig{
			DialTimeout: 5 * time.Second,
			ReadTimeout: 10 * time.Second,
		},
		Provider: ProviderConfig{
			Type:           ProviderREST,
			Endpoint:       DefaultProviderEndpoint,
			RequestTimeout: 30 * time.Second,
		},
		Resolve: ResolveConfig{
			MaxTries: 5,
		},
		MetricsBindAddress: ":8080",
	}
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("maxCores", d.MaxCores)
	v.SetDefault("utilizationThresholdPercent", d.UtilizationThresholdPercent)

	v.SetDefault("settle.pollInterval", d.Settle.PollInterval)
	v.SetDefault("settle.timeout", d.Settle.Timeout)

	v.SetDefault("loop.interTargetDelay", d.Loop.InterTargetDelay)
	v.SetDefault("loop.interCycleDelay", d.Loop.InterCycleDelay)
	v.SetDefault("loop.parallel", d.Loop.Parallel)

	v.SetDefault("probe.dialTimeout", d.Probe.DialTimeout)
	v.SetDefault("probe.readTimeout", d.Probe.ReadTimeout)

	v.SetDefault("provider.type", d.Provider.Type)
	v.SetDefault("provider.endpoint", d.Provider.Endpoint)
	v.SetDefault("provider.username", "")
	v.SetDefault("provider.password", "")
	v.SetDefault("provider.requestTimeout", d.Provider.RequestTimeout)
	v.SetDefault("provider.inventoryFile", "")

	v.SetDefault("resolve.maxTries", d.Resolve.MaxTries)
	v.SetDefault("metricsBindAddress", d.MetricsBindAddress)
}

// BindEnv enables CORE_AUTOSCALER_* overrides. Nested keys use underscores,
// e.g. CORE_AUTOSCALER_PROVIDER_PASSWORD for provider.password.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load unmarshals v into a Config, drops duplicate servers and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	cfg.Servers = DedupeTargets(cfg.Servers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}
	for i, t := range c.Servers {
		if t.Address == "" {
			return fmt.Errorf("servers[%d]: address is required", i)
		}
		if t.Port < 1 || t.Port > 65535 {
			return fmt.Errorf("servers[%d] (%s): port must be between 1 and 65535, got %d", i, t.Address, t.Port)
		}
	}
	if c.MaxCores < 1 {
		return fmt.Errorf("maxCores must be >= 1, got %d", c.MaxCores)
	}
	if c.UtilizationThresholdPercent <= 0 {
		return fmt.Errorf("utilizationThresholdPercent must be > 0, got %.1f", c.UtilizationThresholdPercent)
	}
	if c.Settle.PollInterval <= 0 {
		return fmt.Errorf("settle.pollInterval must be > 0, got %s", c.Settle.PollInterval)
	}
	if c.Settle.Timeout < 0 {
		return fmt.Errorf("settle.timeout must be >= 0, got %s", c.Settle.Timeout)
	}
	if c.Loop.InterTargetDelay < 0 || c.Loop.InterCycleDelay < 0 {
		return fmt.Errorf("loop delays must be >= 0, got interTargetDelay=%s interCycleDelay=%s",
			c.Loop.InterTargetDelay, c.Loop.InterCycleDelay)
	}
	if c.Probe.DialTimeout <= 0 || c.Probe.ReadTimeout <= 0 {
		return fmt.Errorf("probe timeouts must be > 0, got dialTimeout=%s readTimeout=%s",
			c.Probe.DialTimeout, c.Probe.ReadTimeout)
	}
	if c.Resolve.MaxTries < 1 {
		return fmt.Errorf("resolve.maxTries must be >= 1, got %d", c.Resolve.MaxTries)
	}
	switch c.Provider.Type {
	case ProviderREST:
		if c.Provider.Endpoint == "" {
			return errors.New("provider.endpoint is required for the rest provider")
		}
		if c.Provider.Username == "" || c.Provider.Password == "" {
			return fmt.Errorf("provider.username and provider.password are required for the rest provider (set %s_PROVIDER_USERNAME and %s_PROVIDER_PASSWORD)",
				EnvPrefix, EnvPrefix)
		}
		if c.Provider.RequestTimeout <= 0 {
			return fmt.Errorf("provider.requestTimeout must be > 0, got %s", c.Provider.RequestTimeout)
		}
	case ProviderSimulated:
		if c.Provider.InventoryFile == "" {
			return errors.New("provider.inventoryFile is required for the simulated provider")
		}
	default:
		return fmt.Errorf("provider.type must be %q or %q, got %q", ProviderREST, ProviderSimulated, c.Provider.Type)
	}
	return nil
}

// ParseServerAddress parses a host:port flag value into a Target.
func ParseServerAddress(s string) (Target, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return Target{}, fmt.Errorf("invalid server %q: %w", s, err)
	}
	if host == "" {
		return Target{}, fmt.Errorf("invalid server %q: missing host", s)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("invalid server %q: port must be between 1 and 65535", s)
	}
	return Target{Address: host, Port: port}, nil
}

// ParseServerAddresses parses every host:port value, failing on the first invalid entry.
func ParseServerAddresses(values []string) ([]Target, error) {
	out := make([]Target, 0, len(values))
	for _, s := range values {
		t, err := ParseServerAddress(s)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// DedupeTargets removes repeated address:port entries. The first entry wins.
func DedupeTargets(targets []Target) []Target {
	if len(targets) == 0 {
		return targets
	}
	seen := make(map[string]int, len(targets))
	out := make([]Target, 0, len(targets))
	for i, t := range targets {
		key := t.String()
		if first, dup := seen[key]; dup {
			ctrl.Log.Info("Duplicate server entry found - first entry wins",
				"server", key,
				"winningIndex", first,
				"duplicateIndex", i)
			continue
		}
		seen[key] = i
		out = append(out, t)
	}
	ctrl.Log.V(logging.DEBUG).Info("Parsed server list",
		"serverCount", len(out))
	return out
}
