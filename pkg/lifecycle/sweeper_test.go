/*
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

package lifecycle_test

import (
	"time"

	"github.com/ephemera-dev/ephemera/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("CleanupStale", func() {
	var environmentID int64

	BeforeEach(func() {
		Expect(controller.HandleEvent(ctx, openedEvent())).To(Succeed())
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		environmentID = created.ID
	})

	It("should fail environments stuck in provisioning past the threshold", func() {
		_, err := env.UpdateEnvironmentStatus(ctx, environmentID, store.StatusProvisioning, "")
		Expect(err).ToNot(HaveOccurred())
		clk.Step(31 * time.Minute)

		Expect(controller.CleanupStale(ctx)).To(Succeed())

		stuck, _ := env.GetEnvironmentByID(ctx, environmentID)
		Expect(stuck.Status).To(Equal(store.StatusFailed))
		Expect(stuck.ErrorMessage).To(HaveValue(Equal("Environment stuck in provisioning state")))
	})
	It("should leave recently provisioning environments alone", func() {
		_, err := env.UpdateEnvironmentStatus(ctx, environmentID, store.StatusProvisioning, "")
		Expect(err).ToNot(HaveOccurred())
		clk.Step(5 * time.Minute)

		Expect(controller.CleanupStale(ctx)).To(Succeed())

		inflight, _ := env.GetEnvironmentByID(ctx, environmentID)
		Expect(inflight.Status).To(Equal(store.StatusProvisioning))
	})
	It("should finish environments stuck in destroying", func() {
		Expect(controller.Provision(ctx, environmentID)).To(Succeed())
		_, err := env.UpdateEnvironmentStatus(ctx, environmentID, store.StatusDestroying, "")
		Expect(err).ToNot(HaveOccurred())
		clk.Step(31 * time.Minute)

		Expect(controller.CleanupStale(ctx)).To(Succeed())

		finished, _ := env.GetEnvironmentByID(ctx, environmentID)
		Expect(finished.Status).To(Equal(store.StatusDestroyed))
		Expect(cluster.Namespaces).ToNot(HaveKey("pr-42-shop"))
	})
	It("should fail ready environments whose namespace disappeared", func() {
		Expect(controller.Provision(ctx, environmentID)).To(Succeed())
		Expect(cluster.DeleteNamespace(ctx, "pr-42-shop")).To(Succeed())

		Expect(controller.CleanupStale(ctx)).To(Succeed())

		orphaned, _ := env.GetEnvironmentByID(ctx, environmentID)
		Expect(orphaned.Status).To(Equal(store.StatusFailed))
		Expect(orphaned.ErrorMessage).To(HaveValue(Equal("Namespace no longer exists")))
	})
	It("should leave healthy ready environments alone", func() {
		Expect(controller.Provision(ctx, environmentID)).To(Succeed())

		Expect(controller.CleanupStale(ctx)).To(Succeed())

		healthy, _ := env.GetEnvironmentByID(ctx, environmentID)
		Expect(healthy.Status).To(Equal(store.StatusReady))
	})
})

var _ = Describe("CleanupDestroyed", func() {
	It("should purge destroyed rows older than the retention window", func() {
		Expect(controller.HandleEvent(ctx, openedEvent())).To(Succeed())
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		Expect(controller.Provision(ctx, created.ID)).To(Succeed())
		Expect(controller.Destroy(ctx, created.ID, false)).To(Succeed())

		clk.Step(8 * 24 * time.Hour)
		Expect(controller.CleanupDestroyed(ctx, 7)).To(Succeed())

		gone, err := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		Expect(err).ToNot(HaveOccurred())
		Expect(gone).To(BeNil())
	})
	It("should keep destroyed rows inside the retention window", func() {
		Expect(controller.HandleEvent(ctx, openedEvent())).To(Succeed())
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		Expect(controller.Provision(ctx, created.ID)).To(Succeed())
		Expect(controller.Destroy(ctx, created.ID, false)).To(Succeed())

		clk.Step(24 * time.Hour)
		Expect(controller.CleanupDestroyed(ctx, 7)).To(Succeed())

		kept, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		Expect(kept).ToNot(BeNil())
	})
})

var _ = Describe("RetryFailed", func() {
	It("should re-enqueue provisioning for recently failed environments", func() {
		Expect(controller.HandleEvent(ctx, openedEvent())).To(Succeed())
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		_, err := env.UpdateEnvironmentStatus(ctx, created.ID, store.StatusFailed, "boom")
		Expect(err).ToNot(HaveOccurred())
		provisionJobs := len(jobs.ProvisionJobs)

		Expect(controller.RetryFailed(ctx, 24)).To(Succeed())
		Expect(jobs.ProvisionJobs).To(HaveLen(provisionJobs + 1))
	})
	It("should skip environments that failed outside the window", func() {
		Expect(controller.HandleEvent(ctx, openedEvent())).To(Succeed())
		created, _ := env.GetEnvironmentByPR(ctx, "acme/shop", 42)
		_, err := env.UpdateEnvironmentStatus(ctx, created.ID, store.StatusFailed, "boom")
		Expect(err).ToNot(HaveOccurred())
		provisionJobs := len(jobs.ProvisionJobs)

		clk.Step(48 * time.Hour)
		Expect(controller.RetryFailed(ctx, 24)).To(Succeed())
		Expect(jobs.ProvisionJobs).To(HaveLen(provisionJobs))
	})
})
