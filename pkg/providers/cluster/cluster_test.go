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

package cluster_test

import (
	"context"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/providers/cluster"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var (
	ctx        context.Context
	kubeClient *k8sfake.Clientset
	provider   *cluster.Provider
)

var _ = BeforeEach(func() {
	ctx = context.Background()
	kubeClient = k8sfake.NewSimpleClientset()
	provider = cluster.NewProvider(kubeClient, zap.NewNop().Sugar())
})

var _ = Describe("Namespaces", func() {
	It("should create a namespace with labels", func() {
		Expect(provider.EnsureNamespace(ctx, "pr-42-shop", map[string]string{"app": "ephemera"})).To(Succeed())

		ns, err := kubeClient.CoreV1().Namespaces().Get(ctx, "pr-42-shop", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(ns.Labels).To(HaveKeyWithValue("app", "ephemera"))
	})
	It("should treat an existing namespace as success", func() {
		Expect(provider.EnsureNamespace(ctx, "pr-42-shop", nil)).To(Succeed())
		Expect(provider.EnsureNamespace(ctx, "pr-42-shop", nil)).To(Succeed())
	})
	It("should delete a namespace and treat a missing one as success", func() {
		Expect(provider.EnsureNamespace(ctx, "pr-42-shop", nil)).To(Succeed())
		Expect(provider.DeleteNamespace(ctx, "pr-42-shop")).To(Succeed())
		Expect(provider.DeleteNamespace(ctx, "pr-42-shop")).To(Succeed())
	})
	It("should report namespace existence", func() {
		exists, err := provider.NamespaceExists(ctx, "pr-42-shop")
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeFalse())

		Expect(provider.EnsureNamespace(ctx, "pr-42-shop", nil)).To(Succeed())
		exists, err = provider.NamespaceExists(ctx, "pr-42-shop")
		Expect(err).ToNot(HaveOccurred())
		Expect(exists).To(BeTrue())
	})
})

var _ = Describe("ResourceQuota", func() {
	It("should create the per-environment quota", func() {
		Expect(provider.EnsureNamespace(ctx, "pr-42-shop", nil)).To(Succeed())
		Expect(provider.EnsureResourceQuota(ctx, "pr-42-shop", "1", "2Gi", "10")).To(Succeed())

		quota, err := kubeClient.CoreV1().ResourceQuotas("pr-42-shop").Get(ctx, "pr-42-shop-quota", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(quota.Spec.Hard).To(HaveKey(corev1.ResourceName("requests.cpu")))
		Expect(quota.Spec.Hard).To(HaveKey(corev1.ResourceName("pods")))
	})
	It("should treat an existing quota as success", func() {
		Expect(provider.EnsureResourceQuota(ctx, "pr-42-shop", "1", "2Gi", "10")).To(Succeed())
		Expect(provider.EnsureResourceQuota(ctx, "pr-42-shop", "1", "2Gi", "10")).To(Succeed())
	})
})

var _ = Describe("ApplyManifest", func() {
	deployment := func() *unstructured.Unstructured {
		return &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": "apps/v1",
			"kind":       "Deployment",
			"metadata":   map[string]interface{}{"name": "web", "namespace": "pr-42-shop"},
			"spec": map[string]interface{}{
				"replicas": int64(1),
				"template": map[string]interface{}{
					"spec": map[string]interface{}{
						"containers": []interface{}{
							map[string]interface{}{"name": "web", "image": "nginx:1.27"},
						},
					},
				},
			},
		}}
	}

	It("should create a deployment", func() {
		Expect(provider.ApplyManifest(ctx, deployment())).To(Succeed())

		created, err := kubeClient.AppsV1().Deployments("pr-42-shop").Get(ctx, "web", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(created.Spec.Template.Spec.Containers[0].Image).To(Equal("nginx:1.27"))
	})
	It("should converge on re-apply instead of failing", func() {
		Expect(provider.ApplyManifest(ctx, deployment())).To(Succeed())

		updated := deployment()
		containers := updated.Object["spec"].(map[string]interface{})["template"].(map[string]interface{})["spec"].(map[string]interface{})["containers"].([]interface{})
		containers[0].(map[string]interface{})["image"] = "nginx:1.28"
		Expect(provider.ApplyManifest(ctx, updated)).To(Succeed())

		current, err := kubeClient.AppsV1().Deployments("pr-42-shop").Get(ctx, "web", metav1.GetOptions{})
		Expect(err).ToNot(HaveOccurred())
		Expect(current.Spec.Template.Spec.Containers[0].Image).To(Equal("nginx:1.28"))
	})
	It("should refuse unsupported kinds", func() {
		obj := &unstructured.Unstructured{Object: map[string]interface{}{
			"apiVersion": "apps/v1",
			"kind":       "DaemonSet",
			"metadata":   map[string]interface{}{"name": "agent", "namespace": "pr-42-shop"},
		}}
		err := provider.ApplyManifest(ctx, obj)
		Expect(err).To(MatchError(ContainSubstring("unsupported kind")))
	})
})

var _ = Describe("Disabled mode", func() {
	BeforeEach(func() {
		provider = cluster.NewProvider(nil, zap.NewNop().Sugar())
	})

	It("should return a not-configured error from every operation", func() {
		Expect(errors.IsNotConfigured(provider.EnsureNamespace(ctx, "ns", nil))).To(BeTrue())
		Expect(errors.IsNotConfigured(provider.DeleteNamespace(ctx, "ns"))).To(BeTrue())
		_, err := provider.NamespaceExists(ctx, "ns")
		Expect(errors.IsNotConfigured(err)).To(BeTrue())
		Expect(errors.IsNotConfigured(provider.EnsureResourceQuota(ctx, "ns", "1", "2Gi", "10"))).To(BeTrue())
	})
})
