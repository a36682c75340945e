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

package store_test

import (
	"github.com/ephemera-dev/ephemera/pkg/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("GenerateNamespace", func() {
	It("should derive the namespace from the pull request number and repository name", func() {
		Expect(store.GenerateNamespace(42, "shop")).To(Equal("pr-42-shop"))
	})
	It("should lowercase the repository name", func() {
		Expect(store.GenerateNamespace(7, "MyApp")).To(Equal("pr-7-myapp"))
	})
	It("should replace underscores with hyphens", func() {
		Expect(store.GenerateNamespace(7, "my_app")).To(Equal("pr-7-my-app"))
	})
	It("should truncate long repository names to twenty characters", func() {
		Expect(store.GenerateNamespace(1, "averyveryverylongrepositoryname")).To(Equal("pr-1-averyveryverylongrep"))
	})
	It("should not end the slug with a hyphen after truncation", func() {
		Expect(store.GenerateNamespace(1, "aaaaaaaaaaaaaaaaaaa_bbbb")).To(Equal("pr-1-aaaaaaaaaaaaaaaaaaa"))
	})
})

var _ = Describe("CanTransition", func() {
	It("should allow self transitions everywhere", func() {
		for _, status := range []store.EnvironmentStatus{
			store.StatusPending, store.StatusProvisioning, store.StatusReady,
			store.StatusUpdating, store.StatusDestroying, store.StatusDestroyed, store.StatusFailed,
		} {
			Expect(store.CanTransition(status, status)).To(BeTrue(), "expected %s -> %s to be legal", status, status)
		}
	})
	It("should allow the provisioning path", func() {
		Expect(store.CanTransition(store.StatusPending, store.StatusProvisioning)).To(BeTrue())
		Expect(store.CanTransition(store.StatusProvisioning, store.StatusReady)).To(BeTrue())
		Expect(store.CanTransition(store.StatusReady, store.StatusUpdating)).To(BeTrue())
		Expect(store.CanTransition(store.StatusUpdating, store.StatusReady)).To(BeTrue())
	})
	It("should allow teardown from any live state", func() {
		for _, status := range []store.EnvironmentStatus{
			store.StatusPending, store.StatusProvisioning, store.StatusReady, store.StatusUpdating, store.StatusFailed,
		} {
			Expect(store.CanTransition(status, store.StatusDestroying)).To(BeTrue(), "expected %s -> destroying to be legal", status)
		}
	})
	It("should allow retrying a failed environment", func() {
		Expect(store.CanTransition(store.StatusFailed, store.StatusProvisioning)).To(BeTrue())
	})
	It("should keep destroyed terminal", func() {
		for _, status := range []store.EnvironmentStatus{
			store.StatusPending, store.StatusProvisioning, store.StatusReady,
			store.StatusUpdating, store.StatusDestroying, store.StatusFailed,
		} {
			Expect(store.CanTransition(store.StatusDestroyed, status)).To(BeFalse(), "expected destroyed -> %s to be illegal", status)
		}
	})
	It("should not allow skipping provisioning", func() {
		Expect(store.CanTransition(store.StatusPending, store.StatusReady)).To(BeFalse())
		Expect(store.CanTransition(store.StatusReady, store.StatusPending)).To(BeFalse())
	})
})

var _ = Describe("IsActiveStatus", func() {
	It("should count live states as active", func() {
		Expect(store.IsActiveStatus(store.StatusPending)).To(BeTrue())
		Expect(store.IsActiveStatus(store.StatusProvisioning)).To(BeTrue())
		Expect(store.IsActiveStatus(store.StatusReady)).To(BeTrue())
		Expect(store.IsActiveStatus(store.StatusUpdating)).To(BeTrue())
	})
	It("should count teardown and terminal states as inactive", func() {
		Expect(store.IsActiveStatus(store.StatusDestroying)).To(BeFalse())
		Expect(store.IsActiveStatus(store.StatusDestroyed)).To(BeFalse())
		Expect(store.IsActiveStatus(store.StatusFailed)).To(BeFalse())
	})
})
