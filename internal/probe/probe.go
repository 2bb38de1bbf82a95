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

// Package probe samples the load average a server publishes over plain TCP.
//
// The server writes a line such as "Load: 0.42 0.10 0.05" and closes the
// connection. Only the first value after "Load:" is used.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"
)

const (
	DefaultDialTimeout = 5 * time.Second
	DefaultReadTimeout = 10 * time.Second

	// MaxPayload bounds how much is read from a single connection. Longer
	// payloads are rejected as malformed rather than truncated.
	MaxPayload = 64 * 1024
)

var (
	// ErrUnreachable matches any *Error of KindUnreachable.
	ErrUnreachable = errors.New("metric endpoint unreachable")
	// ErrMalformedResponse matches any *Error of KindMalformedResponse.
	ErrMalformedResponse = errors.New("malformed metric response")
)

var loadPattern = regexp.MustCompile(`Load:\s*([0-9]*\.?[0-9]+)`)

// Kind classifies a probe failure.
type Kind string

const (
	KindUnreachable       Kind = "unreachable"
	KindMalformedResponse Kind = "malformed_response"
)

// Error is returned by Sample.
type Error struct {
	Kind    Kind
	Address string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("probe %s: %s", e.Address, e.Kind)
	}
	return fmt.Sprintf("probe %s: %s: %v", e.Address, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

// KindOf returns the failure kind of err, or "" if err is not a probe error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Sampler reads one load sample from a target.
type Sampler interface {
	Sample(ctx context.Context, address string, port int) (float64, error)
}

// Probe is the TCP Sampler. The zero value uses the default timeouts.
type Probe struct {
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

var _ Sampler = &Probe{}

// New returns a Probe with the given timeouts. Non-positive values select the defaults.
func New(dialTimeout, readTimeout time.Duration) *Probe {
	return &Probe{DialTimeout: dialTimeout, ReadTimeout: readTimeout}
}

// Sample connects to address:port, reads until the server closes the
// connection and parses the first load value. A server that sends more than
// MaxPayload bytes gets a KindMalformedResponse error. There are no retries.
func (p *Probe) Sample(ctx context.Context, address string, port int) (float64, error) {
	hostPort := net.JoinHostPort(address, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: orDefault(p.DialTimeout, DefaultDialTimeout)}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return 0, &Error{Kind: KindUnreachable, Address: hostPort, Err: err}
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(orDefault(p.ReadTimeout, DefaultReadTimeout))
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return 0, &Error{Kind: KindUnreachable, Address: hostPort, Err: err}
	}

	// Unblock the read if the context is cancelled mid-transfer.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	payload, err := io.ReadAll(io.LimitReader(conn, MaxPayload+1))
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return 0, &Error{Kind: KindUnreachable, Address: hostPort, Err: err}
	}
	if len(payload) > MaxPayload {
		return 0, &Error{Kind: KindMalformedResponse, Address: hostPort,
			Err: fmt.Errorf("payload exceeds %d bytes", MaxPayload)}
	}

	load, err := ParseLoad(payload)
	if err != nil {
		return 0, &Error{Kind: KindMalformedResponse, Address: hostPort, Err: err}
	}
	return load, nil
}

// ParseLoad extracts the first number following "Load:" in payload.
func ParseLoad(payload []byte) (float64, error) {
	if len(payload) == 0 {
		return 0, errors.New("empty payload")
	}
	m := loadPattern.FindSubmatch(payload)
	if m == nil {
		return 0, fmt.Errorf("no load value in %q", truncate(payload, 64))
	}
	v, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing load value %q: %w", m[1], err)
	}
	return v, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
