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

package sourcehost_test

import (
	"context"

	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/providers/sourcehost"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Provider", func() {
	var provider *sourcehost.Provider

	BeforeEach(func() {
		var err error
		provider, err = sourcehost.NewProvider(0, "", "preview.example.com", zap.NewNop().Sugar())
		Expect(err).ToNot(HaveOccurred())
	})

	Context("EnvironmentURL", func() {
		It("should build the preview host from the pull request and repository", func() {
			Expect(provider.EnvironmentURL(42, "shop")).To(Equal("https://pr-42-shop.preview.example.com"))
		})
		It("should lowercase and de-underscore the repository name", func() {
			Expect(provider.EnvironmentURL(7, "My_App")).To(Equal("https://pr-7-my-app.preview.example.com"))
		})
	})

	Context("disabled mode", func() {
		It("should report not-configured from API operations", func() {
			ctx := context.Background()
			Expect(errors.IsNotConfigured(provider.PostComment(ctx, 1, "acme/shop", 42, "hi"))).To(BeTrue())
			Expect(errors.IsNotConfigured(provider.SetCommitStatus(ctx, 1, "acme/shop", "abc", "pending", "", ""))).To(BeTrue())
			_, err := provider.FetchFile(ctx, 1, "acme/shop", "README.md", "abc")
			Expect(errors.IsNotConfigured(err)).To(BeTrue())
		})
	})

	It("should fail to load a missing private key", func() {
		_, err := sourcehost.NewProvider(1234, "/does/not/exist.pem", "preview.example.com", zap.NewNop().Sugar())
		Expect(err).To(HaveOccurred())
	})
})
