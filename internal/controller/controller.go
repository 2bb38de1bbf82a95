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

package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/internal/logging"
	"github.com/llm-d/llm-d-core-autoscaler/internal/probe"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
	"github.com/llm-d/llm-d-core-autoscaler/internal/resolver"
)

const DefaultSettlePollInterval = time.Second

// SettleOptions bounds the wait for a SETTLED provisioning state.
type SettleOptions struct {
	PollInterval time.Duration
	// Timeout of 0 waits until the context is cancelled.
	Timeout time.Duration
}

// Options configures a Controller.
type Options struct {
	Policy  Policy
	Settle  SettleOptions
	Sampler probe.Sampler
	// Clock times hotplug operations. Defaults to the real clock.
	Clock    clock.PassiveClock
	Recorder Recorder
}

// Controller drives scale-up for one resolved server. Its methods are safe
// for concurrent use and are serialized per server.
type Controller struct {
	target   resolver.ResolvedTarget
	name     string
	client   provisioning.Client
	sampler  probe.Sampler
	policy   Policy
	settle   SettleOptions
	clock    clock.PassiveClock
	recorder Recorder

	// mu serializes every operation that talks to the probe or the provider.
	mu sync.Mutex

	statusMu sync.RWMutex
	obs      Observation
}

// New returns an IDLE controller for target.
func New(target resolver.ResolvedTarget, client provisioning.Client, opts Options) *Controller {
	c := &Controller{
		target:   target,
		name:     target.Target.String(),
		client:   client,
		sampler:  opts.Sampler,
		policy:   opts.Policy,
		settle:   opts.Settle,
		clock:    opts.Clock,
		recorder: opts.Recorder,
	}
	if c.sampler == nil {
		c.sampler = &probe.Probe{}
	}
	if c.settle.PollInterval <= 0 {
		c.settle.PollInterval = DefaultSettlePollInterval
	}
	if c.clock == nil {
		c.clock = clock.RealClock{}
	}
	if c.recorder == nil {
		c.recorder = noopRecorder{}
	}
	c.obs = Observation{State: StateIdle, MaxCores: opts.Policy.MaxCores}
	return c
}

// Name is the host:port the controller samples.
func (c *Controller) Name() string {
	return c.name
}

// Target returns the resolved server this controller manages.
func (c *Controller) Target() resolver.ResolvedTarget {
	return c.target
}

// Status returns a copy of the current observation.
func (c *Controller) Status() Observation {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	obs := c.obs
	if obs.Load != nil {
		l := *obs.Load
		obs.Load = &l
	}
	if obs.Utilization != nil {
		u := *obs.Utilization
		obs.Utilization = &u
	}
	return obs
}

// FetchSettledCores waits for the datacenter to settle and returns the
// server's core count. The value is only returned if the datacenter is
// still SETTLED after the read.
func (c *Controller) FetchSettledCores(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.setState(StateIdle)
	return c.fetchSettledCores(c.scoped(ctx))
}

// SampleLoad reads the load average once and records it.
func (c *Controller) SampleLoad(ctx context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.setState(StateIdle)
	return c.sampleLoad(c.scoped(ctx))
}

// Utilization samples the load and reads the settled core count. The bool is
// false when the sample failed; the error is only set for provider failures.
func (c *Controller) Utilization(ctx context.Context) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.setState(StateIdle)

	ctx = c.scoped(ctx)
	load, err := c.sampleLoad(ctx)
	if err != nil {
		return 0, false, nil
	}
	cores, err := c.fetchSettledCores(ctx)
	if err != nil {
		c.clearUtilization()
		return 0, false, err
	}
	return c.recordUtilization(load, cores), true, nil
}

// MaybeScaleUp runs one decision for the server. It never returns an error;
// failures are reported in the Result and logged.
func (c *Controller) MaybeScaleUp(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.setState(StateIdle)

	ctx = c.scoped(ctx)
	logger := ctrl.LoggerFrom(ctx)

	load, err := c.sampleLoad(ctx)
	if err != nil {
		logger.Info("Load sample failed, skipping server this cycle", "error", err.Error())
		return c.finish(Result{Action: ActionSkipped, Err: err})
	}

	cores, err := c.fetchSettledCores(ctx)
	if err != nil {
		c.clearUtilization()
		return c.finish(c.failure(ctx, Result{Load: &load}, err))
	}
	util := c.recordUtilization(load, cores)
	res := Result{Cores: cores, Load: &load, Utilization: &util}

	decision := c.policy.Evaluate(cores, util)
	res.Reason = decision.Reason
	switch decision.Action {
	case ActionNone:
		logger.V(logging.DEBUG).Info("No scale-up needed", "reason", decision.Reason)
		res.Action = ActionNone
		return c.finish(res)
	case ActionSaturated:
		logger.Info("Server is saturated: "+decision.Reason,
			"cores", cores,
			"maxCores", c.policy.MaxCores,
			"utilization", util)
		c.recorder.ObserveSaturation(c.name)
		res.Action = ActionSaturated
		return c.finish(res)
	}

	res.RequestedCores = decision.TargetCores
	c.setState(StateScaling)
	logger.Info("Adding core to server", "cores", cores, "requestedCores", decision.TargetCores, "utilization", util)

	start := c.clock.Now()
	update := provisioning.ServerUpdate{ServerID: c.target.ServerID, Cores: decision.TargetCores}
	if err := c.client.UpdateServer(ctx, c.target.DatacenterID, update); err != nil {
		return c.finish(c.failure(ctx, res, fmt.Errorf("%w: updating server: %w", ErrProviderRequest, err)))
	}

	if err := c.waitSettled(ctx); err != nil {
		return c.finish(c.failure(ctx, res, err))
	}
	res.Hotplug = c.clock.Since(start)
	res.Action = ActionScaleUp

	c.statusMu.Lock()
	c.obs.Cores = decision.TargetCores
	c.obs.LastHotplug = res.Hotplug
	c.statusMu.Unlock()
	c.recorder.ObserveScaleUp(c.name, res.Hotplug)
	c.recorder.ObserveCores(c.name, decision.TargetCores, c.policy.MaxCores)

	logger.Info("Core added",
		"totalCores", decision.TargetCores,
		"hotplugDuration", res.Hotplug.String())
	return c.finish(res)
}

func (c *Controller) scoped(ctx context.Context) context.Context {
	logger := ctrl.LoggerFrom(ctx).WithValues("server", c.name)
	return logr.NewContext(ctx, logger)
}

func (c *Controller) setState(s State) {
	c.statusMu.Lock()
	c.obs.State = s
	c.statusMu.Unlock()
}

func (c *Controller) finish(res Result) Result {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.obs.LastAction = res.Action
	c.obs.LastError = ""
	if res.Err != nil {
		c.obs.LastError = res.Err.Error()
	}
	return res
}

// failure classifies a settle or provider error and logs it as a warning.
func (c *Controller) failure(ctx context.Context, res Result, err error) Result {
	logger := ctrl.LoggerFrom(ctx)
	res.Err = err
	switch {
	case errors.Is(err, ErrSettleTimeout):
		res.Action = ActionDeferred
		c.recorder.ObserveSettleTimeout(c.name)
		logger.Info("Datacenter did not settle in time, deferring decision to next cycle",
			"datacenterID", c.target.DatacenterID,
			"timeout", c.settle.Timeout.String())
	default:
		res.Action = ActionFailed
		if errors.Is(err, ErrProviderRequest) {
			c.recorder.ObserveProviderError(c.name)
		}
		logger.Info("Provider request failed, retrying next cycle", "error", err.Error())
	}
	return res
}

func (c *Controller) sampleLoad(ctx context.Context) (float64, error) {
	c.setState(StateSampling)

	load, err := c.sampler.Sample(ctx, c.target.Address, c.target.Port)
	now := c.clock.Now()

	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.obs.SampledAt = now
	if err != nil {
		c.obs.Load = nil
		c.obs.Utilization = nil
		c.recorder.ClearUtilization(c.name)
		c.recorder.ObserveProbeFailure(c.name, string(probe.KindOf(err)))
		return 0, err
	}
	c.obs.Load = &load
	c.recorder.ObserveLoad(c.name, load)
	ctrl.LoggerFrom(ctx).V(logging.TRACE).Info("Sampled load", "load", load)
	return load, nil
}

func (c *Controller) recordUtilization(load float64, cores int) float64 {
	util := Utilization(load, cores)
	c.statusMu.Lock()
	c.obs.Utilization = &util
	c.statusMu.Unlock()
	c.recorder.ObserveUtilization(c.name, util)
	return util
}

// clearUtilization drops the utilization of the previous cycle. It must not
// outlive the load it was computed from.
func (c *Controller) clearUtilization() {
	c.statusMu.Lock()
	c.obs.Utilization = nil
	c.statusMu.Unlock()
	c.recorder.ClearUtilization(c.name)
}

func (c *Controller) fetchSettledCores(ctx context.Context) (int, error) {
	logger := ctrl.LoggerFrom(ctx)
	c.setState(StateAwaitingSettled)

	waitCtx, cancel := c.settleContext(ctx)
	defer cancel()

	for {
		if err := c.pollSettled(ctx, waitCtx); err != nil {
			return 0, err
		}
		server, err := c.client.GetServer(waitCtx, c.target.DatacenterID, c.target.ServerID)
		if err != nil {
			return 0, c.settleError(ctx, waitCtx, fmt.Errorf("%w: reading server: %w", ErrProviderRequest, err))
		}
		state, err := c.client.GetDatacenterState(waitCtx, c.target.DatacenterID)
		if err != nil {
			return 0, c.settleError(ctx, waitCtx, fmt.Errorf("%w: reading datacenter state: %w", ErrProviderRequest, err))
		}
		if !state.IsSettled() {
			logger.V(logging.DEBUG).Info("Datacenter left SETTLED during core read, discarding it",
				"datacenterID", c.target.DatacenterID, "state", state.String())
			continue
		}
		if server.Cores < 1 {
			return 0, fmt.Errorf("%w: provider reported %d cores for server %s", ErrProviderRequest, server.Cores, server.ID)
		}

		c.statusMu.Lock()
		c.obs.Cores = server.Cores
		c.statusMu.Unlock()
		c.recorder.ObserveCores(c.name, server.Cores, c.policy.MaxCores)
		return server.Cores, nil
	}
}

func (c *Controller) waitSettled(ctx context.Context) error {
	c.setState(StateAwaitingSettled)
	waitCtx, cancel := c.settleContext(ctx)
	defer cancel()
	return c.pollSettled(ctx, waitCtx)
}

func (c *Controller) settleContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.settle.Timeout > 0 {
		return context.WithTimeout(ctx, c.settle.Timeout)
	}
	return context.WithCancel(ctx)
}

// pollSettled polls the datacenter state until it is SETTLED or waitCtx ends.
func (c *Controller) pollSettled(ctx, waitCtx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	var last provisioning.State

	err := wait.PollUntilContextCancel(waitCtx, c.settle.PollInterval, true, func(pollCtx context.Context) (bool, error) {
		state, err := c.client.GetDatacenterState(pollCtx, c.target.DatacenterID)
		if err != nil {
			return false, fmt.Errorf("%w: reading datacenter state: %w", ErrProviderRequest, err)
		}
		if state.IsSettled() {
			return true, nil
		}
		if state != last {
			logger.Info("Datacenter is provisioning, waiting until it settles",
				"datacenterID", c.target.DatacenterID,
				"state", state.String())
			last = state
		}
		return false, nil
	})
	return c.settleError(ctx, waitCtx, err)
}

// settleError maps the end of waitCtx onto ErrSettleTimeout. Cancellation of
// the parent context is returned as is.
func (c *Controller) settleError(ctx, waitCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitCtx.Err() != nil && (wait.Interrupted(err) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: datacenter %s after %s", ErrSettleTimeout, c.target.DatacenterID, c.settle.Timeout)
	}
	return err
}
