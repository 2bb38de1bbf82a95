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

// Package controller implements the per-server scale-up state machine.
//
// A Controller owns the observed state of one server (core count, last load
// sample, last hotplug duration) and drives the decision to add a core.
//
// # States
//
//	IDLE ──► SAMPLING ──► AWAITING_SETTLED ──► IDLE
//	                           │
//	                           ▼
//	                        SCALING ──► AWAITING_SETTLED ──► IDLE
//
// UNRESOLVED is reported for servers dropped at startup; no Controller runs
// for them.
//
// # Settled reads
//
// The provider applies core changes asynchronously. While a datacenter is
// IN_PROGRESS, GetServer may return the old core count, and acting on it would
// add another core on every cycle until the server reaches its cap. The
// controller therefore never reads cores for a decision unless the datacenter
// is SETTLED, and re-reads the state after the core read. If the state moved
// in between, the read is discarded and retried.
//
// The wait is bounded by SettleOptions.Timeout. A timeout is reported as
// ErrSettleTimeout and the decision is deferred to the next cycle.
//
// # Decision Flow
//
//  1. Sample the load average (probe failure: skip this cycle)
//  2. Read the settled core count
//  3. Compute utilization = load / cores * 100
//  4. If utilization > threshold and cores < maxCores, request cores+1
//  5. Wait for the datacenter to settle and record the hotplug duration
//
// Operations on one Controller are serialized, so there is never more than
// one outstanding core change per server.
package controller
