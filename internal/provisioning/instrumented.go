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

package provisioning

import (
	"context"
	"time"
)

// Operation names reported to a RequestObserver.
const (
	OpListDatacenters    = "list_datacenters"
	OpGetDatacenter      = "get_datacenter"
	OpGetDatacenterState = "get_datacenter_state"
	OpGetServer          = "get_server"
	OpUpdateServer       = "update_server"
)

// RequestObserver receives the outcome of every provider call.
type RequestObserver interface {
	ObserveProviderRequest(operation string, duration time.Duration, err error)
}

// Instrumented wraps a Client and reports each call to a RequestObserver.
type Instrumented struct {
	client   Client
	observer RequestObserver
}

var _ Client = &Instrumented{}

// NewInstrumented returns client wrapped with request telemetry.
func NewInstrumented(client Client, observer RequestObserver) *Instrumented {
	return &Instrumented{client: client, observer: observer}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	i.observer.ObserveProviderRequest(op, time.Since(start), err)
}

func (i *Instrumented) ListDatacenters(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := i.client.ListDatacenters(ctx)
	i.observe(OpListDatacenters, start, err)
	return ids, err
}

func (i *Instrumented) GetDatacenter(ctx context.Context, datacenterID string) (*Datacenter, error) {
	start := time.Now()
	dc, err := i.client.GetDatacenter(ctx, datacenterID)
	i.observe(OpGetDatacenter, start, err)
	return dc, err
}

func (i *Instrumented) GetDatacenterState(ctx context.Context, datacenterID string) (State, error) {
	start := time.Now()
	state, err := i.client.GetDatacenterState(ctx, datacenterID)
	i.observe(OpGetDatacenterState, start, err)
	return state, err
}

func (i *Instrumented) GetServer(ctx context.Context, datacenterID, serverID string) (*Server, error) {
	start := time.Now()
	server, err := i.client.GetServer(ctx, datacenterID, serverID)
	i.observe(OpGetServer, start, err)
	return server, err
}

func (i *Instrumented) UpdateServer(ctx context.Context, datacenterID string, update ServerUpdate) error {
	start := time.Now()
	err := i.client.UpdateServer(ctx, datacenterID, update)
	i.observe(OpUpdateServer, start, err)
	return err
}
