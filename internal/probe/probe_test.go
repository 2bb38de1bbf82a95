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

package probe

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLoad(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    float64
		wantErr bool
	}{
		{name: "three averages", payload: "Load: 0.42 0.10 0.05\n", want: 0.42},
		{name: "no space", payload: "Load:1.5", want: 1.5},
		{name: "leading dot", payload: "Load: .75 0.1", want: 0.75},
		{name: "integer", payload: "Load: 3 2 1", want: 3},
		{name: "prefixed banner", payload: "host web-1\nLoad: 2.50 1.00 0.50\n", want: 2.5},
		{name: "first match wins", payload: "Load: 1.0\nLoad: 9.0\n", want: 1.0},
		{name: "no token", payload: "Uptime: 12 days\n", wantErr: true},
		{name: "token without number", payload: "Load: n/a\n", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLoad([]byte(tt.payload))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

// serveOnce accepts a single connection, writes payload and closes.
func serveOnce(t *testing.T, payload string) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte(payload))
		_ = conn.Close()
	}()
	return splitAddr(t, ln.Addr().String())
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestSample(t *testing.T) {
	host, port := serveOnce(t, "Load: 0.42 0.10 0.05\n")

	load, err := (&Probe{}).Sample(context.Background(), host, port)
	require.NoError(t, err)
	assert.InDelta(t, 0.42, load, 1e-9)
}

func TestSampleMalformed(t *testing.T) {
	host, port := serveOnce(t, "hello\n")

	_, err := New(time.Second, time.Second).Sample(context.Background(), host, port)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.NotErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, KindMalformedResponse, KindOf(err))
}

func TestSampleEmptyPayload(t *testing.T) {
	host, port := serveOnce(t, "")

	_, err := New(time.Second, time.Second).Sample(context.Background(), host, port)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSamplePayloadLimit(t *testing.T) {
	line := "Load: 1.25\n"

	host, port := serveOnce(t, strings.Repeat(" ", MaxPayload-len(line))+line)
	load, err := New(time.Second, time.Second).Sample(context.Background(), host, port)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, load, 1e-9)

	host, port = serveOnce(t, strings.Repeat(" ", MaxPayload)+line)
	_, err = New(time.Second, time.Second).Sample(context.Background(), host, port)
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.ErrorContains(t, err, "exceeds")
}

func TestSampleUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitAddr(t, ln.Addr().String())
	require.NoError(t, ln.Close())

	_, err = New(time.Second, time.Second).Sample(context.Background(), host, port)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, KindUnreachable, KindOf(err))

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, net.JoinHostPort(host, strconv.Itoa(port)), pe.Address)
}

func TestSampleReadTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	// Accept but never write or close.
	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		<-done
		_ = conn.Close()
	}()
	host, port := splitAddr(t, ln.Addr().String())

	_, err = New(time.Second, 50*time.Millisecond).Sample(context.Background(), host, port)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("other")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
