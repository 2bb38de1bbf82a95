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

import "strings"

// State is the provider-owned provisioning state of a datacenter.
type State string

const (
	// StateSettled means no provisioning operation is in flight; reads are authoritative.
	StateSettled State = "SETTLED"
	// StateInProgress means a provisioning operation is being applied.
	StateInProgress State = "IN_PROGRESS"
	// StateUnknown covers any state the provider reports that we do not recognise.
	StateUnknown State = "UNKNOWN"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsSettled reports whether reads taken in this state can be trusted.
func (s State) IsSettled() bool {
	return s == StateSettled
}

// ParseProviderState maps a raw provider state string onto a State.
// AVAILABLE is settled; INPROCESS and BUSY are in progress.
func ParseProviderState(raw string) State {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "AVAILABLE", string(StateSettled):
		return StateSettled
	case "INPROCESS", "BUSY", string(StateInProgress):
		return StateInProgress
	default:
		return StateUnknown
	}
}

// Datacenter is a provider datacenter and the servers it contains.
type Datacenter struct {
	ID      string
	Name    string
	Servers []Server
}

// Server is a provider server.
type Server struct {
	ID    string
	Name  string
	Cores int
	NICs  []NIC
}

// NIC is a network interface with its bound addresses.
type NIC struct {
	IPs []string
}

// Addresses returns every address bound to the server, in NIC order.
func (s *Server) Addresses() []string {
	var ips []string
	for _, nic := range s.NICs {
		ips = append(ips, nic.IPs...)
	}
	return ips
}

// ServerUpdate is a requested change to a server. Only the core count can be changed.
type ServerUpdate struct {
	ServerID string
	Cores    int
}
