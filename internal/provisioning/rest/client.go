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

// Package rest implements provisioning.Client against a ProfitBricks Cloud API
// style JSON endpoint.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
)

const (
	// DefaultEndpoint is the public Cloud API v4 base URL.
	DefaultEndpoint = "https://api.profitbricks.com/cloudapi/v4"

	defaultTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is kept in APIError.
	maxErrorBody = 4096
)

var ErrMissingCredentials = errors.New("provider username and password are required")

// APIError is returned when the provider answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider API %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client talks to the provider over HTTPS with basic auth. It is safe for concurrent use.
type Client struct {
	endpoint   string
	username   string
	password   string
	httpClient *http.Client
}

var _ provisioning.Client = &Client{}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient builds a client for the given account.
func NewClient(username, password string, opts ...Option) (*Client, error) {
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	c := &Client{
		endpoint:   DefaultEndpoint,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Wire types. Only the fields the autoscaler reads are declared.

type collection[T any] struct {
	Items []T `json:"items"`
}

type metadata struct {
	State string `json:"state"`
}

type datacenterResource struct {
	ID         string   `json:"id"`
	Metadata   metadata `json:"metadata"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
	Entities struct {
		Servers *collection[serverResource] `json:"servers"`
	} `json:"entities"`
}

type serverResource struct {
	ID         string `json:"id"`
	Properties struct {
		Name  string `json:"name"`
		Cores int    `json:"cores"`
	} `json:"properties"`
	Entities struct {
		NICs *collection[nicResource] `json:"nics"`
	} `json:"entities"`
}

type nicResource struct {
	Properties struct {
		IPs []string `json:"ips"`
	} `json:"properties"`
}

type serverPatch struct {
	Cores int `json:"cores"`
}

// ListDatacenters returns the ids of every datacenter visible to the account.
func (c *Client) ListDatacenters(ctx context.Context) ([]string, error) {
	var list collection[datacenterResource]
	if err := c.do(ctx, http.MethodGet, "/datacenters", nil, &list); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Items))
	for _, dc := range list.Items {
		ids = append(ids, dc.ID)
	}
	return ids, nil
}

// GetDatacenter returns a datacenter with its servers and their NICs.
func (c *Client) GetDatacenter(ctx context.Context, datacenterID string) (*provisioning.Datacenter, error) {
	var res datacenterResource
	path := "/datacenters/" + url.PathEscape(datacenterID) + "?depth=3"
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	dc := &provisioning.Datacenter{ID: res.ID, Name: res.Properties.Name}
	if res.Entities.Servers != nil {
		for _, s := range res.Entities.Servers.Items {
			dc.Servers = append(dc.Servers, s.toServer())
		}
	}
	return dc, nil
}

// GetDatacenterState returns the provisioning state of a datacenter.
func (c *Client) GetDatacenterState(ctx context.Context, datacenterID string) (provisioning.State, error) {
	var res datacenterResource
	if err := c.do(ctx, http.MethodGet, "/datacenters/"+url.PathEscape(datacenterID), nil, &res); err != nil {
		return provisioning.StateUnknown, err
	}
	return provisioning.ParseProviderState(res.Metadata.State), nil
}

// GetServer returns a single server.
func (c *Client) GetServer(ctx context.Context, datacenterID, serverID string) (*provisioning.Server, error) {
	var res serverResource
	path := "/datacenters/" + url.PathEscape(datacenterID) + "/servers/" + url.PathEscape(serverID) + "?depth=2"
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	s := res.toServer()
	return &s, nil
}

// UpdateServer requests a new core count. The provider applies it asynchronously.
func (c *Client) UpdateServer(ctx context.Context, datacenterID string, update provisioning.ServerUpdate) error {
	path := "/datacenters/" + url.PathEscape(datacenterID) + "/servers/" + url.PathEscape(update.ServerID)
	return c.do(ctx, http.MethodPatch, path, serverPatch{Cores: update.Cores}, nil)
}

func (s serverResource) toServer() provisioning.Server {
	out := provisioning.Server{ID: s.ID, Name: s.Properties.Name, Cores: s.Properties.Cores}
	if s.Entities.NICs != nil {
		for _, nic := range s.Entities.NICs.Items {
			out.NICs = append(out.NICs, provisioning.NIC{IPs: nic.Properties.IPs})
		}
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
