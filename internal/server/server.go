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

// Package server exposes the autoscaler's metrics, health and status over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/llm-d/llm-d-core-autoscaler/api/v1alpha1"
)

const shutdownTimeout = 5 * time.Second

// StatusSource is the part of fleet.Loop the server reads.
type StatusSource interface {
	Status() *v1alpha1.FleetStatus
	Running() bool
}

// Server serves /metrics, /healthz, /readyz and /status.
type Server struct {
	addr   string
	engine *gin.Engine
	source StatusSource
}

// New builds the handler tree. Nothing listens until Start.
func New(addr string, gatherer prometheus.Gatherer, source StatusSource) *Server {
	s := &Server{
		addr:   addr,
		engine: gin.New(),
		source: source,
	}
	s.engine.Use(gin.Recovery())

	metricsHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	s.engine.GET("/metrics", func(c *gin.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})
	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/readyz", s.handleReadyz)
	s.engine.GET("/status", s.handleStatus)
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// handleReadyz reports ready once the fleet loop is running.
func (s *Server) handleReadyz(c *gin.Context) {
	if !s.source.Running() {
		c.String(http.StatusServiceUnavailable, "fleet loop not running")
		return
	}
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

// Start listens on the configured address and blocks until ctx is cancelled
// or the listener fails. Cancellation shuts the server down gracefully and
// returns nil.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	logger := ctrl.LoggerFrom(ctx)
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving HTTP endpoints", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Failed to cleanly shut down the HTTP server")
		return err
	}
	logger.Info("HTTP server stopped")
	return nil
}
