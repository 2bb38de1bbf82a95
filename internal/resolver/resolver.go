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

// Package resolver maps configured servers onto provider datacenter and
// server ids by scanning the provider inventory for a matching NIC address.
//
// Resolution runs once at startup. The steady-state loop only uses the ids
// it produces.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/internal/config"
	"github.com/llm-d/llm-d-core-autoscaler/internal/logging"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
)

var (
	// ErrNotFound means no server in the inventory has a NIC bound to the target's address.
	ErrNotFound = errors.New("no provider server found for address")

	// ErrDuplicateServer means an earlier target already resolved to the same provider server.
	ErrDuplicateServer = errors.New("provider server already claimed by")

	// ErrNoTargets means none of the configured servers could be resolved.
	ErrNoTargets = errors.New("no resolvable targets")
)

const defaultInitialInterval = 500 * time.Millisecond

// ResourceID identifies a server at the provider.
type ResourceID struct {
	DatacenterID string `json:"datacenterId"`
	ServerID     string `json:"serverId"`
}

// ResolvedTarget is a configured server together with its provider ids.
type ResolvedTarget struct {
	config.Target
	// IP is the address that matched the provider inventory.
	IP string
	ResourceID
}

// Unresolved is a configured server that was dropped at startup.
type Unresolved struct {
	config.Target
	Err error
}

// HostLookup resolves a hostname to its addresses.
type HostLookup interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Resolver scans the provider inventory.
type Resolver struct {
	client          provisioning.Client
	lookup          HostLookup
	maxTries        uint
	initialInterval time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithHostLookup replaces the DNS resolver used for hostnames.
func WithHostLookup(l HostLookup) Option {
	return func(r *Resolver) {
		r.lookup = l
	}
}

// WithMaxTries bounds the attempts made to read the inventory.
func WithMaxTries(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxTries = uint(n)
		}
	}
}

// WithInitialInterval sets the first retry delay of the inventory read.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Resolver) {
		r.initialInterval = d
	}
}

// New returns a Resolver backed by client.
func New(client provisioning.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client:          client,
		lookup:          net.DefaultResolver,
		maxTries:        5,
		initialInterval: defaultInitialInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ids of the first server, in inventory order, with a
// NIC bound to ip. The bool is false when no server matches.
func (r *Resolver) Resolve(ctx context.Context, ip string) (ResourceID, bool, error) {
	inv, err := r.snapshot(ctx)
	if err != nil {
		return ResourceID{}, false, err
	}
	id, ok := inv[ip]
	return id, ok, nil
}

// ResolveAll resolves every target against a single inventory snapshot.
// Targets that cannot be resolved are returned separately and logged, as are
// targets that resolve to a server an earlier target already claimed. Each
// provider server is controlled by at most one target.
// ErrNoTargets is returned when nothing resolved.
func (r *Resolver) ResolveAll(ctx context.Context, targets []config.Target) ([]ResolvedTarget, []Unresolved, error) {
	logger := ctrl.LoggerFrom(ctx)

	inv, err := r.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}

	var (
		resolved   []ResolvedTarget
		unresolved []Unresolved
		claimed    = make(map[ResourceID]config.Target)
	)
	for _, t := range targets {
		rt, err := r.match(ctx, inv, t)
		if err == nil {
			if owner, ok := claimed[rt.ResourceID]; ok {
				err = fmt.Errorf("%w %s (%s/%s)", ErrDuplicateServer, owner.String(), rt.DatacenterID, rt.ServerID)
			}
		}
		if err != nil {
			logger.Info("Ignoring server", "server", t.String(), "reason", err.Error())
			unresolved = append(unresolved, Unresolved{Target: t, Err: err})
			continue
		}
		logger.V(logging.DEBUG).Info("Resolved server",
			"server", t.String(),
			"ip", rt.IP,
			"datacenterID", rt.DatacenterID,
			"serverID", rt.ServerID)
		claimed[rt.ResourceID] = t
		resolved = append(resolved, rt)
	}
	if len(resolved) == 0 {
		return nil, unresolved, ErrNoTargets
	}
	return resolved, unresolved, nil
}

func (r *Resolver) match(ctx context.Context, inv inventory, t config.Target) (ResolvedTarget, error) {
	ips, err := r.addresses(ctx, t.Address)
	if err != nil {
		return ResolvedTarget{}, fmt.Errorf("looking up %s: %w", t.Address, err)
	}
	for _, ip := range ips {
		if id, ok := inv[ip]; ok {
			return ResolvedTarget{Target: t, IP: ip, ResourceID: id}, nil
		}
	}
	return ResolvedTarget{}, fmt.Errorf("%w %s (%v)", ErrNotFound, t.Address, ips)
}

func (r *Resolver) addresses(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}
	return r.lookup.LookupHost(ctx, host)
}

// inventory maps an IP to the first server, in scan order, bound to it.
type inventory map[string]ResourceID

// snapshot reads the full inventory, retrying transient provider failures.
func (r *Resolver) snapshot(ctx context.Context) (inventory, error) {
	logger := ctrl.LoggerFrom(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval

	inv, err := backoff.Retry(ctx, func() (inventory, error) {
		return r.scan(ctx, logger)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Info("Reading provider inventory failed, retrying", "error", err.Error(), "retryIn", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("reading provider inventory: %w", err)
	}
	return inv, nil
}

func (r *Resolver) scan(ctx context.Context, logger logr.Logger) (inventory, error) {
	ids, err := r.client.ListDatacenters(ctx)
	if err != nil {
		return nil, permanentOnCancel(ctx, err)
	}
	inv := make(inventory)
	for _, dcID := range ids {
		dc, err := r.client.GetDatacenter(ctx, dcID)
		if err != nil {
			return nil, permanentOnCancel(ctx, err)
		}
		if dc.ID != "" {
			dcID = dc.ID
		}
		for _, s := range dc.Servers {
			for _, ip := range s.Addresses() {
				if _, taken := inv[ip]; taken {
					continue
				}
				inv[ip] = ResourceID{DatacenterID: dcID, ServerID: s.ID}
			}
		}
	}
	logger.V(logging.TRACE).Info("Scanned provider inventory", "datacenters", len(ids), "addresses", len(inv))
	return inv, nil
}

func permanentOnCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(err)
	}
	return err
}
