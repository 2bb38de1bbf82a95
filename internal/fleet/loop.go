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

// Package fleet runs the autoscaling loop over every resolved server.
package fleet

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/api/v1alpha1"
	"github.com/llm-d/llm-d-core-autoscaler/internal/controller"
	"github.com/llm-d/llm-d-core-autoscaler/internal/logging"
	"github.com/llm-d/llm-d-core-autoscaler/internal/resolver"
)

const DefaultInterTargetDelay = 5 * time.Second

// Scaler is the part of a controller.Controller the loop drives.
type Scaler interface {
	Name() string
	Target() resolver.ResolvedTarget
	Status() controller.Observation
	MaybeScaleUp(ctx context.Context) controller.Result
}

var _ Scaler = &controller.Controller{}

// Options configures the loop cadence.
type Options struct {
	// InterTargetDelay is slept after each server.
	InterTargetDelay time.Duration
	// InterCycleDelay is slept after a full pass over the fleet.
	InterCycleDelay time.Duration
	// Parallel runs one worker per server instead of a single sequential pass.
	Parallel bool
	// Policy is reported on the status endpoint.
	Policy controller.Policy
	Clock  clock.Clock
}

// Loop drives every Scaler until its context is cancelled.
type Loop struct {
	scalers    []Scaler
	unresolved []resolver.Unresolved
	opts       Options
	clock      clock.Clock

	cycles  atomic.Int64
	running atomic.Bool
}

// New returns a loop over scalers. unresolved servers are only reported in Status.
func New(scalers []Scaler, unresolved []resolver.Unresolved, opts Options) *Loop {
	l := &Loop{
		scalers:    scalers,
		unresolved: unresolved,
		opts:       opts,
		clock:      opts.Clock,
	}
	if l.clock == nil {
		l.clock = clock.RealClock{}
	}
	return l
}

// Cycles returns the number of completed passes.
func (l *Loop) Cycles() int64 {
	return l.cycles.Load()
}

// Running reports whether Run is active.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run loops until ctx is cancelled. Per-server failures never stop it, and
// cancellation is a clean exit.
func (l *Loop) Run(ctx context.Context) error {
	logger := ctrl.LoggerFrom(ctx)
	l.running.Store(true)
	defer l.running.Store(false)

	logger.Info("Starting fleet loop",
		"servers", len(l.scalers),
		"parallel", l.opts.Parallel,
		"interTargetDelay", l.opts.InterTargetDelay.String(),
		"interCycleDelay", l.opts.InterCycleDelay.String())

	if l.opts.Parallel {
		l.runParallel(ctx)
	} else {
		for ctx.Err() == nil {
			if !l.runSequentialPass(ctx) {
				break
			}
			l.cycles.Add(1)
			logger.V(logging.DEBUG).Info("Fleet pass completed", "cycle", l.cycles.Load())
			if !l.sleep(ctx, l.opts.InterCycleDelay) {
				break
			}
		}
	}

	logger.Info("Fleet loop stopped", "cycles", l.cycles.Load())
	return nil
}

// RunCycle performs exactly one pass and returns the result for each server
// in order. In parallel mode the servers run concurrently and no delays are
// slept.
func (l *Loop) RunCycle(ctx context.Context) []controller.Result {
	results := make([]controller.Result, len(l.scalers))
	if l.opts.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, s := range l.scalers {
			g.Go(func() error {
				results[i] = l.step(gctx, s)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, s := range l.scalers {
			if ctx.Err() != nil {
				break
			}
			results[i] = l.step(ctx, s)
		}
	}
	l.cycles.Add(1)
	return results
}

// runSequentialPass returns false if ctx was cancelled during the pass.
func (l *Loop) runSequentialPass(ctx context.Context) bool {
	for _, s := range l.scalers {
		if ctx.Err() != nil {
			return false
		}
		l.step(ctx, s)
		if !l.sleep(ctx, l.opts.InterTargetDelay) {
			return false
		}
	}
	return true
}

// runParallel gives every server its own worker. A worker's pass is one
// server, so it sleeps both delays between decisions.
func (l *Loop) runParallel(ctx context.Context) {
	var g errgroup.Group
	completed := make([]atomic.Int64, len(l.scalers))
	for i, s := range l.scalers {
		g.Go(func() error {
			for ctx.Err() == nil {
				l.step(ctx, s)
				l.recordParallelPass(completed, i)
				if !l.sleep(ctx, l.opts.InterTargetDelay+l.opts.InterCycleDelay) {
					break
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}

// recordParallelPass advances the cycle counter to the pass count of the slowest worker.
func (l *Loop) recordParallelPass(completed []atomic.Int64, i int) {
	completed[i].Add(1)
	lowest := completed[0].Load()
	for j := range completed {
		if n := completed[j].Load(); n < lowest {
			lowest = n
		}
	}
	for {
		cur := l.cycles.Load()
		if lowest <= cur || l.cycles.CompareAndSwap(cur, lowest) {
			return
		}
	}
}

func (l *Loop) step(ctx context.Context, s Scaler) controller.Result {
	logPreState(ctx, s, l.opts.Policy.MaxCores)
	res := s.MaybeScaleUp(ctx)
	logPostState(ctx, s, res, l.opts.Policy.MaxCores)
	return res
}

// sleep waits for d or until ctx is done. It returns false if ctx ended.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(d):
		return true
	}
}

// Status returns a snapshot of every configured server.
func (l *Loop) Status() *v1alpha1.FleetStatus {
	fs := v1alpha1.NewFleetStatus(metav1.NewTime(l.clock.Now()), v1alpha1.PolicyStatus{
		MaxCores:                    l.opts.Policy.MaxCores,
		UtilizationThresholdPercent: l.opts.Policy.ThresholdPercent,
	})
	fs.Cycles = l.cycles.Load()
	for _, s := range l.scalers {
		fs.Servers = append(fs.Servers, serverStatus(s.Target(), s.Status()))
	}
	for _, u := range l.unresolved {
		st := v1alpha1.ServerStatus{
			Address:  u.Address,
			Port:     u.Port,
			State:    v1alpha1.StateUnresolved,
			MaxCores: l.opts.Policy.MaxCores,
		}
		if u.Err != nil {
			st.LastError = u.Err.Error()
		}
		fs.Servers = append(fs.Servers, st)
	}
	return fs
}

func serverStatus(t resolver.ResolvedTarget, obs controller.Observation) v1alpha1.ServerStatus {
	st := v1alpha1.ServerStatus{
		Address:            t.Address,
		Port:               t.Port,
		IP:                 t.IP,
		DatacenterID:       t.DatacenterID,
		ServerID:           t.ServerID,
		State:              obs.State.String(),
		Cores:              obs.Cores,
		MaxCores:           obs.MaxCores,
		Load:               obs.Load,
		UtilizationPercent: obs.Utilization,
		LastAction:         string(obs.LastAction),
		LastError:          obs.LastError,
	}
	if !obs.SampledAt.IsZero() {
		ts := metav1.NewTime(obs.SampledAt)
		st.LastSampleTime = &ts
	}
	if obs.LastHotplug > 0 {
		st.LastHotplugDuration = &metav1.Duration{Duration: obs.LastHotplug}
	}
	return st
}
