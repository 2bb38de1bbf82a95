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

// Package provisioning defines the capability the autoscaler needs from an
// infrastructure provider: inventory discovery, datacenter provisioning state,
// and core-count reads and updates.
//
// Implementations live in sub-packages:
//   - rest: JSON-over-HTTPS client for a Cloud API style provider
//   - simulated: in-memory provider backed by a YAML inventory
//   - mock: gomock mock for unit tests
package provisioning

import (
	"context"
)

//go:generate mockgen -destination=mock/mock_client.go -package=mock . Client

// Client is the provider capability used by the resolver and the server
// controllers. A single instance is shared by the whole process.
type Client interface {
	// ListDatacenters returns the ids of all datacenters visible to the account.
	ListDatacenters(ctx context.Context) ([]string, error)

	// GetDatacenter returns a datacenter with its servers, NICs and bound IPs.
	GetDatacenter(ctx context.Context, datacenterID string) (*Datacenter, error)

	// GetDatacenterState returns the provisioning state of a datacenter.
	// Mutations on any server in the datacenter move it out of StateSettled
	// until the provider has applied them.
	GetDatacenterState(ctx context.Context, datacenterID string) (State, error)

	// GetServer returns the provider's view of a single server.
	GetServer(ctx context.Context, datacenterID, serverID string) (*Server, error)

	// UpdateServer requests a change to a server. The call returns once the
	// provider has accepted the request, not when it has been applied.
	UpdateServer(ctx context.Context, datacenterID string, update ServerUpdate) error
}
