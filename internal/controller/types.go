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
	"errors"
	"time"
)

var (
	// ErrSettleTimeout means the datacenter did not reach SETTLED within the configured timeout.
	ErrSettleTimeout = errors.New("timed out waiting for datacenter to settle")
	// ErrProviderRequest wraps any failed provisioning call.
	ErrProviderRequest = errors.New("provider request failed")
)

// State is the phase a Controller is in.
type State string

const (
	StateIdle            State = "IDLE"
	StateSampling        State = "SAMPLING"
	StateAwaitingSettled State = "AWAITING_SETTLED"
	StateScaling         State = "SCALING"
	StateUnresolved      State = "UNRESOLVED"
)

func (s State) String() string {
	return string(s)
}

// Action is what MaybeScaleUp did.
type Action string

const (
	// ActionScaleUp means a core was added and the datacenter settled.
	ActionScaleUp Action = "scale_up"
	// ActionNone means utilization did not exceed the threshold.
	ActionNone Action = "none"
	// ActionSkipped means the load sample failed.
	ActionSkipped Action = "skipped"
	// ActionSaturated means a scale-up was warranted but the server is at max cores.
	ActionSaturated Action = "saturated"
	// ActionDeferred means a settle wait timed out.
	ActionDeferred Action = "deferred"
	// ActionFailed means a provider request failed.
	ActionFailed Action = "failed"
)

func (a Action) String() string {
	return string(a)
}

// Observation is the last known state of a server.
type Observation struct {
	State State
	// Cores is the core count from the last settled read or completed scale-up; 0 if never read.
	Cores    int
	MaxCores int
	// Load is nil when the last sample failed or none was taken.
	Load *float64
	// Utilization is nil whenever Load is nil or Cores is unknown.
	Utilization *float64
	SampledAt   time.Time
	// LastHotplug is how long the last successful scale-up took to settle.
	LastHotplug time.Duration
	LastAction  Action
	LastError   string
}

// Result describes one MaybeScaleUp call.
type Result struct {
	Action Action
	// Cores is the settled core count the decision was based on.
	Cores int
	// RequestedCores is set when a core change was issued.
	RequestedCores int
	Load           *float64
	Utilization    *float64
	// Hotplug is set for ActionScaleUp.
	Hotplug time.Duration
	Reason  string
	Err     error
}

// Recorder receives control-loop events. metrics.Emitter implements it.
type Recorder interface {
	ObserveLoad(server string, load float64)
	ObserveCores(server string, cores, maxCores int)
	ObserveUtilization(server string, percent float64)
	ClearUtilization(server string)
	ObserveProbeFailure(server, kind string)
	ObserveScaleUp(server string, hotplug time.Duration)
	ObserveSaturation(server string)
	ObserveSettleTimeout(server string)
	ObserveProviderError(server string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveLoad(string, float64) {}
func (noopRecorder) ObserveCores(string, int, int) {}
func (noopRecorder) ObserveUtilization(string, float64) {}
func (noopRecorder) ClearUtilization(string) {}
func (noopRecorder) ObserveProbeFailure(string, string) {}
func (noopRecorder) ObserveScaleUp(string, time.Duration) {}
func (noopRecorder) ObserveSaturation(string) {}
func (noopRecorder) ObserveSettleTimeout(string) {}
func (noopRecorder) ObserveProviderError(string) {}
