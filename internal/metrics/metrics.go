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

// Package metrics exposes the autoscaler's Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"

	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
)

const (
	namespace = "core_autoscaler"

	labelServer    = "server"
	labelKind      = "kind"
	labelOperation = "operation"
	labelResult    = "result"
)

// Emitter records per-server control-loop metrics and provider request telemetry.
type Emitter struct {
	load            *prometheus.GaugeVec
	cores           *prometheus.GaugeVec
	maxCores        *prometheus.GaugeVec
	utilization     *prometheus.GaugeVec
	scaleUps        *prometheus.CounterVec
	saturations     *prometheus.CounterVec
	probeFailures   *prometheus.CounterVec
	settleTimeouts  *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
	hotplugDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var _ provisioning.RequestObserver = &Emitter{}

// NewEmitter creates the metrics and registers them with reg.
func NewEmitter(reg prometheus.Registerer) (*Emitter, error) {
	e := &Emitter{
		load: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_average",
			Help:      "Last sampled one-minute load average of the server.",
		}, []string{labelServer}),
		cores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cores",
			Help:      "Core count of the server as of the last settled read.",
		}, []string{labelServer}),
		maxCores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "max_cores",
			Help:      "Configured core cap of the server.",
		}, []string{labelServer}),
		utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_utilization_percent",
			Help:      "Load average divided by cores, in percent.",
		}, []string{labelServer}),
		scaleUps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scale_ups_total",
			Help:      "Cores added to the server.",
		}, []string{labelServer}),
		saturations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saturation_events_total",
			Help:      "Cycles where a scale-up was warranted but the server was already at max cores.",
		}, []string{labelServer}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Failed load samples by failure kind.",
		}, []string{labelServer, labelKind}),
		settleTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settle_timeouts_total",
			Help:      "Waits for a settled provisioning state that timed out.",
		}, []string{labelServer}),
		providerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Control-loop cycles aborted by a provider request failure.",
		}, []string{labelServer}),
		hotplugDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hotplug_duration_seconds",
			Help:      "Time from requesting a core until the datacenter settled.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		}, []string{labelServer}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider API requests by operation and result.",
		}, []string{labelOperation, labelResult}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Provider API request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelOperation}),
	}

	collectors := []prometheus.Collector{
		e.load, e.cores, e.maxCores, e.utilization,
		e.scaleUps, e.saturations, e.probeFailures, e.settleTimeouts, e.providerErrors,
		e.hotplugDuration, e.requests, e.requestDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// RegisterBuildInfo registers core_autoscaler_build_info. Registering twice is not an error.
func RegisterBuildInfo(reg prometheus.Registerer) error {
	err := reg.Register(versioncollector.NewCollector(namespace))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

// ObserveLoad records a successful load sample.
func (e *Emitter) ObserveLoad(server string, load float64) {
	e.load.WithLabelValues(server).Set(load)
}

// ObserveCores records a settled core count and the cap it is measured against.
func (e *Emitter) ObserveCores(server string, cores, maxCores int) {
	e.cores.WithLabelValues(server).Set(float64(cores))
	e.maxCores.WithLabelValues(server).Set(float64(maxCores))
}

// ObserveUtilization records the computed utilization.
func (e *Emitter) ObserveUtilization(server string, percent float64) {
	e.utilization.WithLabelValues(server).Set(percent)
}

// ClearUtilization removes the utilization series until the next full observation.
func (e *Emitter) ClearUtilization(server string) {
	e.utilization.DeleteLabelValues(server)
}

// ObserveProbeFailure counts a failed sample.
func (e *Emitter) ObserveProbeFailure(server, kind string) {
	if kind == "" {
		kind = "unknown"
	}
	e.probeFailures.WithLabelValues(server, kind).Inc()
}

// ObserveScaleUp counts an added core and its hotplug time.
func (e *Emitter) ObserveScaleUp(server string, hotplug time.Duration) {
	e.scaleUps.WithLabelValues(server).Inc()
	e.hotplugDuration.WithLabelValues(server).Observe(hotplug.Seconds())
}

func (e *Emitter) ObserveSaturation(server string) {
	e.saturations.WithLabelValues(server).Inc()
}

func (e *Emitter) ObserveSettleTimeout(server string) {
	e.settleTimeouts.WithLabelValues(server).Inc()
}

func (e *Emitter) ObserveProviderError(server string) {
	e.providerErrors.WithLabelValues(server).Inc()
}

// ObserveProviderRequest implements provisioning.RequestObserver.
func (e *Emitter) ObserveProviderRequest(operation string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	e.requests.WithLabelValues(operation, result).Inc()
	e.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
