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

package deploy_test

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/deploy"
	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/fake"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const composeContent = `
services:
  web:
    image: shop-web:latest
    ports:
      - "8080:80"
`

var (
	ctx        context.Context
	cluster    *fake.Cluster
	sourcehost *fake.SourceHost
	deployer   *deploy.Deployer
)

var _ = BeforeEach(func() {
	ctx = context.Background()
	cluster = fake.NewCluster()
	sourcehost = fake.NewSourceHost()
	deployer = deploy.NewDeployer(cluster, sourcehost, "preview.example.com", zap.NewNop().Sugar())
})

var _ = Describe("Deployer", func() {
	It("should synthesize and apply the baseline manifest set", func() {
		sourcehost.Files["docker-compose.yml"] = []byte(composeContent)

		result, err := deployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.AppliedCount).To(Equal(3))
		Expect(result.Services).To(ConsistOf("web"))
		Expect(result.ServiceURLs).To(HaveKeyWithValue("web", "https://pr-42-web.preview.example.com"))
		Expect(cluster.Applied).To(HaveLen(3))
	})
	It("should try each compose filename in order", func() {
		sourcehost.Files["compose.yaml"] = []byte(composeContent)

		result, err := deployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
	})
	It("should surface a compose-not-found error when no compose file exists", func() {
		_, err := deployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(errors.IsComposeNotFound(err)).To(BeTrue())
	})
	It("should propagate fetch failures other than not-found", func() {
		sourcehost.FetchError = fmt.Errorf("rate limited")

		_, err := deployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).To(HaveOccurred())
		Expect(errors.IsComposeNotFound(err)).To(BeFalse())
	})
	It("should record a partial failure without dropping applied manifests", func() {
		sourcehost.Files["docker-compose.yml"] = []byte(composeContent)
		cluster.ApplyError = fmt.Errorf("api server unavailable")

		result, err := deployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeFalse())
		Expect(result.Error).To(ContainSubstring("failed to apply manifests"))
		Expect(result.AppliedCount).To(Equal(0))
	})
	It("should fail on an unparseable compose file", func() {
		sourcehost.Files["docker-compose.yml"] = []byte("services: [")

		_, err := deployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("AIDeployer", func() {
	const aiResponse = `[{
		"apiVersion": "apps/v1",
		"kind": "Deployment",
		"metadata": {"name": "web", "namespace": "pr-42-shop"},
		"spec": {
			"replicas": 1,
			"template": {"spec": {"containers": [{"name": "web", "image": "shop-web:latest"}]}}
		}
	}]`

	var provider *fake.LLMProvider

	newAIDeployer := func() *deploy.AIDeployer {
		return deploy.NewAIDeployer(deployer, cluster, sourcehost, provider,
			"preview.example.com", time.Hour, zap.NewNop().Sugar())
	}

	BeforeEach(func() {
		provider = fake.NewLLMProvider(aiResponse)
		sourcehost.Files["docker-compose.yml"] = []byte(composeContent)
		sourcehost.Files["README.md"] = []byte("# Shop")
	})

	It("should apply generated manifests and report the plan", func() {
		result, err := newAIDeployer().Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.AIGenerated).To(BeTrue())
		Expect(result.AIPlan).To(ContainSubstring("### AI Deployment Plan"))
		Expect(result.AIPlan).To(ContainSubstring("fake"))
		Expect(result.AIFallbackReason).To(BeEmpty())
		Expect(cluster.Applied).To(HaveLen(1))
	})
	It("should include the compose file and the additional context in the prompt", func() {
		_, err := newAIDeployer().Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(provider.Calls).To(HaveLen(1))
		Expect(provider.Calls[0].User).To(ContainSubstring("shop-web:latest"))
		Expect(provider.Calls[0].User).To(ContainSubstring("# Shop"))
		Expect(provider.Calls[0].User).To(ContainSubstring("pr-42-shop"))
	})
	It("should serve repeated deployments from the cache", func() {
		aiDeployer := newAIDeployer()
		_, err := aiDeployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())

		result, err := aiDeployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "def456")
		Expect(err).ToNot(HaveOccurred())
		Expect(provider.Calls).To(HaveLen(1))
		Expect(result.AIPlan).To(ContainSubstring("cached"))
	})
	It("should fall back to the deterministic converter when generation fails", func() {
		provider.GenerateError = fmt.Errorf("model overloaded")

		result, err := newAIDeployer().Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.AIGenerated).To(BeFalse())
		Expect(result.AIFallbackReason).To(ContainSubstring("model overloaded"))
		// The deterministic path emits deployment, service and ingress.
		Expect(cluster.Applied).To(HaveLen(3))
	})
	It("should fall back when the response is not parseable", func() {
		provider.Response = "I cannot help with that."

		result, err := newAIDeployer().Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.AIGenerated).To(BeFalse())
		Expect(result.AIFallbackReason).ToNot(BeEmpty())
	})
	It("should fall back when validation rejects the manifests", func() {
		provider.Response = `[{"apiVersion": "apps/v1", "kind": "DaemonSet", "metadata": {"name": "web"}}]`

		result, err := newAIDeployer().Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(result.AIGenerated).To(BeFalse())
		Expect(result.AIFallbackReason).To(ContainSubstring("DaemonSet"))
	})
	It("should use the deterministic converter when no provider is configured", func() {
		provider = nil
		aiDeployer := deploy.NewAIDeployer(deployer, cluster, sourcehost, nil,
			"preview.example.com", time.Hour, zap.NewNop().Sugar())

		result, err := aiDeployer.Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(err).ToNot(HaveOccurred())
		Expect(aiDeployer.Enabled()).To(BeFalse())
		Expect(result.AIGenerated).To(BeFalse())
		Expect(result.AIFallbackReason).To(Equal("AI deployment disabled"))
	})
	It("should surface compose-not-found without falling back", func() {
		delete(sourcehost.Files, "docker-compose.yml")

		_, err := newAIDeployer().Deploy(ctx, 1, "acme/shop", "pr-42-shop", "abc123")
		Expect(errors.IsComposeNotFound(err)).To(BeTrue())
	})
})
