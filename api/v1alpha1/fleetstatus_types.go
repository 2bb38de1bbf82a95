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

// Package v1alpha1 contains the JSON types served on the autoscaler's /status endpoint.
package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// GroupVersion is the apiVersion written on every FleetStatus document.
	GroupVersion = "coreautoscaler.llm-d.ai/v1alpha1"
	// KindFleetStatus is the kind written on every FleetStatus document.
	KindFleetStatus = "FleetStatus"
)

// Server states reported in ServerStatus.State.
const (
	StateIdle            = "IDLE"
	StateSampling        = "SAMPLING"
	StateAwaitingSettled = "AWAITING_SETTLED"
	StateScaling         = "SCALING"
	StateUnresolved      = "UNRESOLVED"
)

// FleetStatus is a point-in-time view of every configured server.
type FleetStatus struct {
	metav1.TypeMeta `json:",inline"`

	// GeneratedAt is when this snapshot was taken.
	GeneratedAt metav1.Time `json:"generatedAt"`

	// Cycles is the number of completed fleet passes.
	// In parallel mode it counts passes of the slowest worker.
	Cycles int64 `json:"cycles"`

	// Policy is the fleet-wide scale-up policy.
	Policy PolicyStatus `json:"policy"`

	// Servers lists resolved servers in configuration order followed by unresolved ones.
	Servers []ServerStatus `json:"servers"`
}

// PolicyStatus mirrors the configured scale-up policy.
type PolicyStatus struct {
	MaxCores                    int     `json:"maxCores"`
	UtilizationThresholdPercent float64 `json:"utilizationThresholdPercent"`
}

// ServerStatus describes one configured server.
type ServerStatus struct {
	// Address and Port are as configured.
	Address string `json:"address"`
	Port    int    `json:"port"`

	// IP is the address that matched the provider inventory.
	// +optional
	IP string `json:"ip,omitempty"`

	// DatacenterID and ServerID identify the server at the provider. Empty when unresolved.
	// +optional
	DatacenterID string `json:"datacenterId,omitempty"`
	// +optional
	ServerID string `json:"serverId,omitempty"`

	// State is the controller phase, or UNRESOLVED.
	State string `json:"state"`

	// Cores is the last settled core count. Zero means not yet read.
	// +optional
	Cores int `json:"cores,omitempty"`

	MaxCores int `json:"maxCores"`

	// Load is the last load-average sample. Absent when the last probe failed.
	// +optional
	Load *float64 `json:"load,omitempty"`

	// UtilizationPercent is load / cores * 100 from the last full observation.
	// +optional
	UtilizationPercent *float64 `json:"utilizationPercent,omitempty"`

	// LastSampleTime is when the load was last probed, successfully or not.
	// +optional
	LastSampleTime *metav1.Time `json:"lastSampleTime,omitempty"`

	// LastHotplugDuration is how long the last added core took to settle.
	// +optional
	LastHotplugDuration *metav1.Duration `json:"lastHotplugDuration,omitempty"`

	// LastAction is the outcome of the last decision, e.g. "scale_up" or "saturated".
	// +optional
	LastAction string `json:"lastAction,omitempty"`

	// LastError is the last probe, provider or resolution error.
	// +optional
	LastError string `json:"lastError,omitempty"`
}

// NewFleetStatus returns an empty FleetStatus with its type metadata set.
func NewFleetStatus(now metav1.Time, policy PolicyStatus) *FleetStatus {
	return &FleetStatus{
		TypeMeta: metav1.TypeMeta{
			APIVersion: GroupVersion,
			Kind:       KindFleetStatus,
		},
		GeneratedAt: now,
		Policy:      policy,
		Servers:     []ServerStatus{},
	}
}

// Resolved returns the number of servers with provider ids.
func (f *FleetStatus) Resolved() int {
	n := 0
	for _, s := range f.Servers {
		if s.State != StateUnresolved {
			n++
		}
	}
	return n
}
