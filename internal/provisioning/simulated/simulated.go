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

// Package simulated implements an in-memory provisioning provider.
//
// The provider is seeded from a YAML inventory and models the asynchronous
// behaviour of a real provider: an accepted update keeps its datacenter
// IN_PROGRESS for SettlePolls state reads, and GetServer keeps returning the
// old core count until the update has been applied.
//
// Inventory format:
//
//	settlePolls: 2
//	datacenters:
//	  - id: D1
//	    name: web
//	    servers:
//	      - id: S1
//	        name: web-1
//	        cores: 2
//	        nics:
//	          - ips: ["10.0.0.5"]
package simulated

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
)

var (
	ErrDatacenterNotFound = errors.New("datacenter not found")
	ErrServerNotFound     = errors.New("server not found")
	ErrInvalidCores       = errors.New("core count must be at least 1")
)

// Inventory is the on-disk description of the simulated provider.
type Inventory struct {
	// SettlePolls is how many GetDatacenterState calls report IN_PROGRESS after an update.
	SettlePolls int                 `yaml:"settlePolls"`
	Datacenters []DatacenterFixture `yaml:"datacenters"`
}

// DatacenterFixture describes one datacenter in the inventory.
type DatacenterFixture struct {
	ID      string          `yaml:"id"`
	Name    string          `yaml:"name,omitempty"`
	Servers []ServerFixture `yaml:"servers"`
}

// ServerFixture describes one server in the inventory.
type ServerFixture struct {
	ID    string       `yaml:"id"`
	Name  string       `yaml:"name,omitempty"`
	Cores int          `yaml:"cores"`
	NICs  []NICFixture `yaml:"nics,omitempty"`
}

// NICFixture describes one NIC in the inventory.
type NICFixture struct {
	IPs []string `yaml:"ips"`
}

// ParseInventory decodes a YAML inventory and validates it.
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	if inv.SettlePolls < 0 {
		return nil, fmt.Errorf("settlePolls must be >= 0, got %d", inv.SettlePolls)
	}
	seen := make(map[string]struct{})
	for _, dc := range inv.Datacenters {
		if dc.ID == "" {
			return nil, errors.New("datacenter without id")
		}
		for _, s := range dc.Servers {
			if s.ID == "" {
				return nil, fmt.Errorf("server without id in datacenter %s", dc.ID)
			}
			if s.Cores < 1 {
				return nil, fmt.Errorf("server %s: %w", s.ID, ErrInvalidCores)
			}
			if _, dup := seen[s.ID]; dup {
				return nil, fmt.Errorf("duplicate server id %s", s.ID)
			}
			seen[s.ID] = struct{}{}
		}
	}
	return &inv, nil
}

// LoadInventory reads and parses an inventory file.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory %s: %w", path, err)
	}
	return ParseInventory(data)
}

type datacenter struct {
	id        string
	name      string
	servers   []*server
	remaining int
	pending   map[string]int
}

type server struct {
	id    string
	name  string
	cores int
	ips   [][]string
}

// Provider is the simulated provisioning.Client. It is safe for concurrent use.
type Provider struct {
	mu          sync.Mutex
	settlePolls int
	order       []string
	datacenters map[string]*datacenter
	updates     map[string][]int
}

var _ provisioning.Client = &Provider{}

// New builds a provider from an inventory.
func New(inv *Inventory) *Provider {
	p := &Provider{
		settlePolls: inv.SettlePolls,
		datacenters: make(map[string]*datacenter, len(inv.Datacenters)),
		updates:     make(map[string][]int),
	}
	for _, dcf := range inv.Datacenters {
		dc := &datacenter{id: dcf.ID, name: dcf.Name, pending: make(map[string]int)}
		for _, sf := range dcf.Servers {
			s := &server{id: sf.ID, name: sf.Name, cores: sf.Cores}
			for _, nic := range sf.NICs {
				s.ips = append(s.ips, append([]string(nil), nic.IPs...))
			}
			dc.servers = append(dc.servers, s)
		}
		p.order = append(p.order, dc.id)
		p.datacenters[dc.id] = dc
	}
	return p
}

// ListDatacenters returns datacenter ids in inventory order.
func (p *Provider) ListDatacenters(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...), nil
}

// GetDatacenter returns a copy of the datacenter.
func (p *Provider) GetDatacenter(ctx context.Context, datacenterID string) (*provisioning.Datacenter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, ok := p.datacenters[datacenterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatacenterNotFound, datacenterID)
	}
	out := &provisioning.Datacenter{ID: dc.id, Name: dc.name}
	for _, s := range dc.servers {
		out.Servers = append(out.Servers, s.snapshot())
	}
	return out, nil
}

// GetDatacenterState reports IN_PROGRESS while an update is being applied.
// Each call while in progress counts as one poll; the pending updates are
// applied when the last poll is consumed.
func (p *Provider) GetDatacenterState(ctx context.Context, datacenterID string) (provisioning.State, error) {
	if err := ctx.Err(); err != nil {
		return provisioning.StateUnknown, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, ok := p.datacenters[datacenterID]
	if !ok {
		return provisioning.StateUnknown, fmt.Errorf("%w: %s", ErrDatacenterNotFound, datacenterID)
	}
	if dc.remaining == 0 {
		return provisioning.StateSettled, nil
	}
	dc.remaining--
	if dc.remaining == 0 {
		dc.apply()
	}
	return provisioning.StateInProgress, nil
}

// GetServer returns the server as currently applied. Pending updates are not visible.
func (p *Provider) GetServer(ctx context.Context, datacenterID, serverID string) (*provisioning.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.lookup(datacenterID, serverID)
	if err != nil {
		return nil, err
	}
	snap := s.snapshot()
	return &snap, nil
}

// UpdateServer queues a core-count change.
func (p *Provider) UpdateServer(ctx context.Context, datacenterID string, update provisioning.ServerUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if update.Cores < 1 {
		return ErrInvalidCores
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.lookup(datacenterID, update.ServerID); err != nil {
		return err
	}
	dc := p.datacenters[datacenterID]
	dc.pending[update.ServerID] = update.Cores
	p.updates[update.ServerID] = append(p.updates[update.ServerID], update.Cores)
	if p.settlePolls == 0 {
		dc.apply()
		return nil
	}
	dc.remaining = p.settlePolls
	return nil
}

// Updates returns every core count requested for serverID, in order.
func (p *Provider) Updates(serverID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.updates[serverID]...)
}

// Cores returns the applied core count of a server, or 0 if it does not exist.
func (p *Provider) Cores(serverID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dc := range p.datacenters {
		for _, s := range dc.servers {
			if s.id == serverID {
				return s.cores
			}
		}
	}
	return 0
}

func (p *Provider) lookup(datacenterID, serverID string) (*server, error) {
	dc, ok := p.datacenters[datacenterID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatacenterNotFound, datacenterID)
	}
	for _, s := range dc.servers {
		if s.id == serverID {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrServerNotFound, datacenterID, serverID)
}

func (dc *datacenter) apply() {
	for _, s := range dc.servers {
		if cores, ok := dc.pending[s.id]; ok {
			s.cores = cores
		}
	}
	dc.pending = make(map[string]int)
}

func (s *server) snapshot() provisioning.Server {
	out := provisioning.Server{ID: s.id, Name: s.name, Cores: s.cores}
	for _, ips := range s.ips {
		out.NICs = append(out.NICs, provisioning.NIC{IPs: append([]string(nil), ips...)})
	}
	return out
}
