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

package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/llm-d/llm-d-core-autoscaler/internal/config"
	"github.com/llm-d/llm-d-core-autoscaler/internal/probe"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning/mock"
	"github.com/llm-d/llm-d-core-autoscaler/internal/provisioning/simulated"
	"github.com/llm-d/llm-d-core-autoscaler/internal/resolver"
)

var testTarget = resolver.ResolvedTarget{
	Target:     config.Target{Address: "10.0.0.5", Port: 777},
	IP:         "10.0.0.5",
	ResourceID: resolver.ResourceID{DatacenterID: "D1", ServerID: "S1"},
}

// stubSampler returns a fixed load, or err when set, and counts calls.
type stubSampler struct {
	mu    sync.Mutex
	load  float64
	err   error
	calls int
}

func (s *stubSampler) Sample(context.Context, string, int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.load, s.err
}

// countingRecorder counts the events the controller reports.
type countingRecorder struct {
	noopRecorder
	mu             sync.Mutex
	saturations    int
	scaleUps       int
	settleTimeouts int
	providerErrors int
	clears         int
	probeFailures  map[string]int
}

func (r *countingRecorder) ClearUtilization(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func (r *countingRecorder) ObserveSaturation(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saturations++
}

func (r *countingRecorder) ObserveScaleUp(string, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scaleUps++
}

func (r *countingRecorder) ObserveSettleTimeout(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleTimeouts++
}

func (r *countingRecorder) ObserveProviderError(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providerErrors++
}

func (r *countingRecorder) ObserveProbeFailure(_ string, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.probeFailures == nil {
		r.probeFailures = make(map[string]int)
	}
	r.probeFailures[kind]++
}

func simulatedProvider(cores, settlePolls int) *simulated.Provider {
	return simulated.New(&simulated.Inventory{
		SettlePolls: settlePolls,
		Datacenters: []simulated.DatacenterFixture{{
			ID: "D1",
			Servers: []simulated.ServerFixture{{
				ID:    "S1",
				Cores: cores,
				NICs:  []simulated.NICFixture{{IPs: []string{"10.0.0.5"}}},
			}},
		}},
	})
}

var _ = Describe("Controller", func() {
	var (
		ctx      context.Context
		mockCtrl *gomock.Controller
		client   *mock.MockClient
		sampler  *stubSampler
		recorder *countingRecorder
		opts     Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockCtrl = gomock.NewController(GinkgoT())
		client = mock.NewMockClient(mockCtrl)
		sampler = &stubSampler{load: 2.5}
		recorder = &countingRecorder{}
		opts = Options{
			Policy:   Policy{MaxCores: 3, ThresholdPercent: 100},
			Settle:   SettleOptions{PollInterval: time.Millisecond},
			Sampler:  sampler,
			Recorder: recorder,
		}
	})

	Describe("FetchSettledCores", func() {
		It("should only return the core count read while SETTLED", func() {
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateInProgress, nil).Times(3),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 4}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
			)

			cores, err := New(testTarget, client, opts).FetchSettledCores(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cores).To(Equal(4))
		})

		It("should discard a read taken while the state moved", func() {
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 2}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateInProgress, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateInProgress, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 3}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
			)

			c := New(testTarget, client, opts)
			cores, err := c.FetchSettledCores(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cores).To(Equal(3))
			Expect(c.Status().Cores).To(Equal(3))
			Expect(c.Status().State).To(Equal(StateIdle))
		})

		It("should treat UNKNOWN as not settled", func() {
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateUnknown, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil).Times(2),
			)
			client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 1}, nil)

			cores, err := New(testTarget, client, opts).FetchSettledCores(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cores).To(Equal(1))
		})

		It("should return ErrSettleTimeout when the datacenter never settles", func() {
			opts.Settle.Timeout = 30 * time.Millisecond
			client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateInProgress, nil).MinTimes(1)

			_, err := New(testTarget, client, opts).FetchSettledCores(ctx)
			Expect(err).To(MatchError(ErrSettleTimeout))
			Expect(errors.Is(err, ErrProviderRequest)).To(BeFalse())
		})

		It("should return the parent context error when cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			client.EXPECT().GetDatacenterState(gomock.Any(), "D1").DoAndReturn(
				func(context.Context, string) (provisioning.State, error) {
					cancel()
					return provisioning.StateInProgress, nil
				}).MinTimes(1)

			_, err := New(testTarget, client, opts).FetchSettledCores(cctx)
			Expect(err).To(MatchError(context.Canceled))
			Expect(errors.Is(err, ErrSettleTimeout)).To(BeFalse())
		})

		It("should wrap provider failures", func() {
			boom := errors.New("boom")
			client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateUnknown, boom)

			_, err := New(testTarget, client, opts).FetchSettledCores(ctx)
			Expect(err).To(MatchError(ErrProviderRequest))
			Expect(err).To(MatchError(boom))
		})

		It("should reject a core count below one", func() {
			client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil).Times(2)
			client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 0}, nil)

			_, err := New(testTarget, client, opts).FetchSettledCores(ctx)
			Expect(err).To(MatchError(ErrProviderRequest))
		})
	})

	Describe("Utilization", func() {
		It("should compute load / cores * 100 from a settled read", func() {
			client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil).Times(2)
			client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 2}, nil)

			util, ok, err := New(testTarget, client, opts).Utilization(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(util).To(BeNumerically("~", 125, 1e-9))
		})

		It("should be absent without touching the provider when the sample fails", func() {
			sampler.err = &probe.Error{Kind: probe.KindUnreachable, Address: "10.0.0.5:777"}

			c := New(testTarget, client, opts)
			_, ok, err := c.Utilization(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(c.Status().Load).To(BeNil())
			Expect(c.Status().Utilization).To(BeNil())
		})
	})

	Describe("SampleLoad", func() {
		It("should record the sample in the observation", func() {
			fakeClock := clocktesting.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
			opts.Clock = fakeClock

			c := New(testTarget, client, opts)
			load, err := c.SampleLoad(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(load).To(Equal(2.5))

			obs := c.Status()
			Expect(obs.Load).NotTo(BeNil())
			Expect(*obs.Load).To(Equal(2.5))
			Expect(obs.SampledAt).To(Equal(fakeClock.Now()))
		})
	})

	Describe("MaybeScaleUp", func() {
		It("should add exactly one core and then report saturation at max cores", func() {
			provider := simulatedProvider(2, 2)
			c := New(testTarget, provider, opts)

			res := c.MaybeScaleUp(ctx)
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal(ActionScaleUp))
			Expect(res.Cores).To(Equal(2))
			Expect(res.RequestedCores).To(Equal(3))
			Expect(*res.Utilization).To(BeNumerically("~", 125, 1e-9))
			Expect(provider.Updates("S1")).To(Equal([]int{3}))
			Expect(provider.Cores("S1")).To(Equal(3))

			// Same load on 3 cores is 83%: nothing to do.
			res = c.MaybeScaleUp(ctx)
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal(ActionNone))
			Expect(res.Cores).To(Equal(3))
			Expect(provider.Updates("S1")).To(Equal([]int{3}))

			// Still above threshold at max cores: saturation, no request.
			sampler.load = 3.5
			res = c.MaybeScaleUp(ctx)
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Action).To(Equal(ActionSaturated))
			Expect(res.Cores).To(Equal(3))
			Expect(res.RequestedCores).To(BeZero())
			Expect(provider.Updates("S1")).To(Equal([]int{3}))

			Expect(recorder.scaleUps).To(Equal(1))
			Expect(recorder.saturations).To(Equal(1))
			Expect(c.Status().LastAction).To(Equal(ActionSaturated))
		})

		It("should drop the previous utilization when the core read fails", func() {
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 2}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateUnknown, errors.New("503")),
			)
			sampler.load = 1
			c := New(testTarget, client, opts)

			res := c.MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionNone))
			Expect(c.Status().Utilization).NotTo(BeNil())
			Expect(*c.Status().Utilization).To(BeNumerically("~", 50, 1e-9))

			sampler.load = 3
			res = c.MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionFailed))
			Expect(res.Err).To(MatchError(ErrProviderRequest))

			obs := c.Status()
			Expect(obs.Load).NotTo(BeNil())
			Expect(*obs.Load).To(Equal(3.0))
			Expect(obs.Utilization).To(BeNil())
			Expect(recorder.clears).To(Equal(1))
		})

		It("should not scale up when utilization equals the threshold", func() {
			sampler.load = 2.0
			client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil).Times(2)
			client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 2}, nil)

			res := New(testTarget, client, opts).MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionNone))
			Expect(*res.Utilization).To(BeNumerically("~", 100, 1e-9))
		})

		It("should skip the cycle when the probe fails", func() {
			sampler.err = &probe.Error{Kind: probe.KindMalformedResponse, Address: "10.0.0.5:777"}

			c := New(testTarget, client, opts)
			res := c.MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionSkipped))
			Expect(res.Err).To(MatchError(probe.ErrMalformedResponse))
			Expect(recorder.probeFailures).To(HaveKeyWithValue(string(probe.KindMalformedResponse), 1))
			Expect(c.Status().LastError).NotTo(BeEmpty())
		})

		It("should report a failed update without retrying", func() {
			boom := errors.New("422 unprocessable")
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 2}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().UpdateServer(gomock.Any(), "D1", provisioning.ServerUpdate{ServerID: "S1", Cores: 3}).Return(boom).Times(1),
			)

			res := New(testTarget, client, opts).MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionFailed))
			Expect(res.RequestedCores).To(Equal(3))
			Expect(res.Err).To(MatchError(ErrProviderRequest))
			Expect(res.Err).To(MatchError(boom))
			Expect(recorder.providerErrors).To(Equal(1))
		})

		It("should defer when the datacenter does not settle after the update", func() {
			opts.Settle.Timeout = 30 * time.Millisecond
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 2}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().UpdateServer(gomock.Any(), "D1", provisioning.ServerUpdate{ServerID: "S1", Cores: 3}).Return(nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateInProgress, nil).MinTimes(1),
			)

			c := New(testTarget, client, opts)
			res := c.MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionDeferred))
			Expect(res.RequestedCores).To(Equal(3))
			Expect(res.Err).To(MatchError(ErrSettleTimeout))
			Expect(recorder.settleTimeouts).To(Equal(1))
			Expect(c.Status().LastHotplug).To(BeZero())
		})

		It("should measure the hotplug duration until the datacenter settles", func() {
			fakeClock := clocktesting.NewFakeClock(time.Now())
			opts.Clock = fakeClock
			gomock.InOrder(
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().GetServer(gomock.Any(), "D1", "S1").Return(&provisioning.Server{ID: "S1", Cores: 1}, nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
				client.EXPECT().UpdateServer(gomock.Any(), "D1", provisioning.ServerUpdate{ServerID: "S1", Cores: 2}).Return(nil),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").DoAndReturn(
					func(context.Context, string) (provisioning.State, error) {
						fakeClock.Step(4 * time.Second)
						return provisioning.StateInProgress, nil
					}).Times(3),
				client.EXPECT().GetDatacenterState(gomock.Any(), "D1").Return(provisioning.StateSettled, nil),
			)

			c := New(testTarget, client, opts)
			res := c.MaybeScaleUp(ctx)
			Expect(res.Action).To(Equal(ActionScaleUp))
			Expect(res.Hotplug).To(Equal(12 * time.Second))
			Expect(c.Status().LastHotplug).To(Equal(12 * time.Second))
			Expect(c.Status().Cores).To(Equal(2))
		})

		It("should never have two core changes in flight for one server", func() {
			opts.Policy.MaxCores = 5
			sampler.load = 10
			provider := simulatedProvider(2, 3)
			c := New(testTarget, provider, opts)

			var wg sync.WaitGroup
			for range 2 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					Expect(c.MaybeScaleUp(ctx).Action).To(Equal(ActionScaleUp))
				}()
			}
			wg.Wait()

			Expect(provider.Updates("S1")).To(Equal([]int{3, 4}))
			Expect(provider.Cores("S1")).To(Equal(4))
		})
	})
})
