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

package e2e

import (
	"fmt"
	"net"
	"strconv"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/llm-d/llm-d-core-autoscaler/api/v1alpha1"
)

const (
	eventuallyTimeout  = 15 * time.Second
	eventuallyInterval = 50 * time.Millisecond
)

var _ = Describe("core-autoscaler", func() {
	Context("with one overloaded and one idle server", Ordered, func() {
		var (
			busy, idle *loadServer
			a          *autoscaler
		)

		BeforeAll(func() {
			busy = startLoadServer("127.0.0.1", 2.5)
			idle = startLoadServer("127.0.0.2", 0.5)
			inventory := writeInventory(2, "127.0.0.1", "127.0.0.2")
			a = startAutoscaler(inventory, []string{busy.Address(), idle.Address()})
		})

		It("should add one core to the overloaded server", func() {
			Eventually(func(g Gomega) {
				s := a.server(busy.Address())
				g.Expect(s).NotTo(BeNil())
				g.Expect(s.Cores).To(Equal(3))
				g.Expect(s.ServerID).To(Equal("srv-1"))
				g.Expect(s.LastHotplugDuration).NotTo(BeNil())
			}, eventuallyTimeout, eventuallyInterval).Should(Succeed())
		})

		It("should leave the idle server alone", func() {
			Eventually(func(g Gomega) {
				s := a.server(idle.Address())
				g.Expect(s).NotTo(BeNil())
				g.Expect(s.Load).NotTo(BeNil())
				g.Expect(s.Cores).To(Equal(2))
				g.Expect(s.LastAction).To(Equal("none"))
			}, eventuallyTimeout, eventuallyInterval).Should(Succeed())
			Consistently(func() int {
				if s := a.server(idle.Address()); s != nil {
					return s.Cores
				}
				return 0
			}, 500*time.Millisecond, eventuallyInterval).Should(Equal(2))
		})

		It("should report saturation once the cap is reached", func() {
			busy.SetLoad(3.5)
			Eventually(func(g Gomega) {
				s := a.server(busy.Address())
				g.Expect(s).NotTo(BeNil())
				g.Expect(s.LastAction).To(Equal("saturated"))
				g.Expect(s.Cores).To(Equal(3))
			}, eventuallyTimeout, eventuallyInterval).Should(Succeed())

			Expect(a.metrics()).To(ContainSubstring(
				fmt.Sprintf(`core_autoscaler_scale_ups_total{server=%q} 1`, busy.Address())))
			Expect(a.metrics()).To(ContainSubstring(
				fmt.Sprintf(`core_autoscaler_saturation_events_total{server=%q}`, busy.Address())))
		})

		It("should expose the configured policy", func() {
			fs, err := a.status()
			Expect(err).NotTo(HaveOccurred())
			Expect(fs.Kind).To(Equal(v1alpha1.KindFleetStatus))
			Expect(fs.Policy.MaxCores).To(Equal(3))
			Expect(fs.Resolved()).To(Equal(2))
			Expect(fs.Cycles).To(BeNumerically(">", 0))
		})

		It("should stop cleanly", func() {
			Expect(a.Stop()).To(Succeed())
		})
	})

	Context("with an unreachable and an unresolvable server", Ordered, func() {
		var (
			busy *loadServer
			a    *autoscaler
			dead string
			gone string
		)

		BeforeAll(func() {
			busy = startLoadServer("127.0.0.1", 5)
			// 127.0.0.3 is in the inventory but nothing listens on it.
			dead = net.JoinHostPort("127.0.0.3", strconv.Itoa(busy.Port()))
			// 127.0.0.4 is not in the inventory.
			gone = net.JoinHostPort("127.0.0.4", "777")
			inventory := writeInventory(1, "127.0.0.1", "127.0.0.3")
			a = startAutoscaler(inventory, []string{dead, busy.Address(), gone})
		})

		It("should list the unresolvable server as UNRESOLVED", func() {
			s := a.server(gone)
			Expect(s).NotTo(BeNil())
			Expect(s.State).To(Equal(v1alpha1.StateUnresolved))
			Expect(s.LastError).To(ContainSubstring("no provider server found"))
		})

		It("should skip the unreachable server and keep scaling the others", func() {
			Eventually(func(g Gomega) {
				s := a.server(dead)
				g.Expect(s).NotTo(BeNil())
				g.Expect(s.LastAction).To(Equal("skipped"))
				g.Expect(s.Load).To(BeNil())
			}, eventuallyTimeout, eventuallyInterval).Should(Succeed())

			Eventually(func(g Gomega) {
				s := a.server(busy.Address())
				g.Expect(s).NotTo(BeNil())
				g.Expect(s.Cores).To(Equal(3))
			}, eventuallyTimeout, eventuallyInterval).Should(Succeed())

			Expect(a.metrics()).To(ContainSubstring(
				fmt.Sprintf(`core_autoscaler_probe_failures_total{kind="unreachable",server=%q}`, dead)))
		})
	})

	Context("in parallel mode", func() {
		It("should scale every server independently", func() {
			first := startLoadServer("127.0.0.1", 4)
			second := startLoadServer("127.0.0.2", 4)
			inventory := writeInventory(1, "127.0.0.1", "127.0.0.2")
			a := startAutoscaler(inventory, []string{first.Address(), second.Address()}, "--parallel")

			for _, addr := range []string{first.Address(), second.Address()} {
				Eventually(func(g Gomega) {
					s := a.server(addr)
					g.Expect(s).NotTo(BeNil())
					g.Expect(s.Cores).To(Equal(3))
					g.Expect(s.LastAction).To(Equal("saturated"))
				}, eventuallyTimeout, eventuallyInterval).Should(Succeed())
			}
			Expect(a.Stop()).To(Succeed())
		})
	})
})
