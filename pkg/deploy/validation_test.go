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

package deploy

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func deploymentManifest(mutate func(m map[string]any)) map[string]any {
	manifest := map[string]any{
		"apiVersion": "apps/v1",
		"kind":       "Deployment",
		"metadata":   map[string]any{"name": "web", "namespace": "pr-1-app"},
		"spec": map[string]any{
			"replicas": 1,
			"template": map[string]any{
				"spec": map[string]any{
					"containers": []any{
						map[string]any{"name": "web", "image": "nginx:1.27"},
					},
				},
			},
		},
	}
	if mutate != nil {
		mutate(manifest)
	}
	return manifest
}

var _ = Describe("Validator", func() {
	var validator *Validator

	BeforeEach(func() {
		validator = &Validator{}
	})

	It("should accept a well-formed deployment", func() {
		result := validator.ValidateAll([]any{deploymentManifest(nil)}, "pr-1-app")
		Expect(result.IsValid).To(BeTrue())
		Expect(result.Errors).To(BeEmpty())
		Expect(result.Corrected).To(HaveLen(1))
	})
	It("should reject an empty manifest list", func() {
		result := validator.ValidateAll(nil, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
		Expect(result.Errors).To(ContainElement(ContainSubstring("no manifests generated")))
	})
	It("should reject oversized manifest lists", func() {
		manifests := make([]any, 51)
		for i := range manifests {
			manifests[i] = deploymentManifest(nil)
		}
		result := validator.ValidateAll(manifests, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
		Expect(result.Errors).To(ContainElement(ContainSubstring("too many manifests")))
	})
	It("should reject disallowed kinds", func() {
		manifest := deploymentManifest(func(m map[string]any) { m["kind"] = "DaemonSet" })
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
		Expect(result.Errors).To(ContainElement(ContainSubstring(`disallowed kind "DaemonSet"`)))
	})
	It("should reject disallowed apiVersions", func() {
		manifest := deploymentManifest(func(m map[string]any) { m["apiVersion"] = "apps/v1beta1" })
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
	})
	It("should reject names that are not DNS labels", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			m["metadata"].(map[string]any)["name"] = "Web_App"
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
		Expect(result.Errors).To(ContainElement(ContainSubstring("DNS label")))
	})
	It("should force the namespace and warn on mismatch", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			m["metadata"].(map[string]any)["namespace"] = "default"
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeTrue())
		Expect(result.Warnings).To(ContainElement(ContainSubstring("corrected namespace")))
		metadata := result.Corrected[0]["metadata"].(map[string]any)
		Expect(metadata["namespace"]).To(Equal("pr-1-app"))
	})
	It("should fill a missing namespace without warning", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			delete(m["metadata"].(map[string]any), "namespace")
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeTrue())
		Expect(result.Warnings).To(BeEmpty())
	})
	It("should cap replicas and warn", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			m["spec"].(map[string]any)["replicas"] = float64(5)
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeTrue())
		Expect(result.Warnings).To(ContainElement(ContainSubstring("capped replicas from 5 to 2")))
		Expect(result.Corrected[0]["spec"].(map[string]any)["replicas"]).To(Equal(2))
	})
	It("should reject host namespace sharing", func() {
		for _, field := range []string{"hostNetwork", "hostPID", "hostIPC"} {
			manifest := deploymentManifest(func(m map[string]any) {
				podSpec := m["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
				podSpec[field] = true
			})
			result := validator.ValidateAll([]any{manifest}, "pr-1-app")
			Expect(result.IsValid).To(BeFalse(), "expected %s to be rejected", field)
		}
	})
	It("should reject hostPath volumes", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			podSpec := m["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
			podSpec["volumes"] = []any{map[string]any{"name": "data", "hostPath": map[string]any{"path": "/"}}}
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
		Expect(result.Errors).To(ContainElement(ContainSubstring("hostPath volumes are not allowed")))
	})
	It("should reject privileged containers", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			podSpec := m["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
			container := podSpec["containers"].([]any)[0].(map[string]any)
			container["securityContext"] = map[string]any{"privileged": true}
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
		Expect(result.Errors).To(ContainElement(ContainSubstring("privileged containers are not allowed")))
	})
	It("should reject deployments without containers", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			podSpec := m["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
			podSpec["containers"] = []any{}
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeFalse())
	})
	It("should warn on placeholder images that need a build", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			podSpec := m["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
			container := podSpec["containers"].([]any)[0].(map[string]any)
			container["image"] = "NEEDS_BUILD:./api"
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeTrue())
		Expect(result.Warnings).To(ContainElement(ContainSubstring("requires a build step")))
	})
	It("should warn on excessive resource limits", func() {
		manifest := deploymentManifest(func(m map[string]any) {
			podSpec := m["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)
			container := podSpec["containers"].([]any)[0].(map[string]any)
			container["resources"] = map[string]any{"limits": map[string]any{"cpu": "4", "memory": "8Gi"}}
		})
		result := validator.ValidateAll([]any{manifest}, "pr-1-app")
		Expect(result.IsValid).To(BeTrue())
		Expect(result.Warnings).To(ContainElement(ContainSubstring("CPU limit 4 exceeds maximum 2000m")))
		Expect(result.Warnings).To(ContainElement(ContainSubstring("memory limit 8Gi exceeds maximum 2048Mi")))
	})

	Context("services", func() {
		serviceManifest := func(serviceType string) map[string]any {
			spec := map[string]any{
				"ports": []any{map[string]any{"port": 80}},
			}
			if serviceType != "" {
				spec["type"] = serviceType
			}
			return map[string]any{
				"apiVersion": "v1",
				"kind":       "Service",
				"metadata":   map[string]any{"name": "web"},
				"spec":       spec,
			}
		}
		It("should accept ClusterIP services", func() {
			result := validator.ValidateAll([]any{serviceManifest("ClusterIP")}, "pr-1-app")
			Expect(result.IsValid).To(BeTrue())
		})
		It("should default the type to ClusterIP", func() {
			result := validator.ValidateAll([]any{serviceManifest("")}, "pr-1-app")
			Expect(result.IsValid).To(BeTrue())
		})
		It("should reject externally exposed service types", func() {
			for _, serviceType := range []string{"NodePort", "LoadBalancer", "ExternalName"} {
				result := validator.ValidateAll([]any{serviceManifest(serviceType)}, "pr-1-app")
				Expect(result.IsValid).To(BeFalse(), "expected %s to be rejected", serviceType)
			}
		})
	})

	Context("persistent volume claims", func() {
		It("should warn on missing accessModes and storage request", func() {
			manifest := map[string]any{
				"apiVersion": "v1",
				"kind":       "PersistentVolumeClaim",
				"metadata":   map[string]any{"name": "data"},
				"spec":       map[string]any{},
			}
			result := validator.ValidateAll([]any{manifest}, "pr-1-app")
			Expect(result.IsValid).To(BeTrue())
			Expect(result.Warnings).To(ContainElement(ContainSubstring("no accessModes specified")))
			Expect(result.Warnings).To(ContainElement(ContainSubstring("no storage request specified")))
		})
	})
})

var _ = Describe("Quantity parsing", func() {
	It("should treat a trailing m as millicores", func() {
		Expect(parseCPUMillicores("1500m")).To(Equal(1500))
	})
	It("should treat bare values as cores", func() {
		Expect(parseCPUMillicores("2")).To(Equal(2000))
		Expect(parseCPUMillicores("0.5")).To(Equal(500))
	})
	It("should convert memory suffixes to MiB", func() {
		Expect(parseMemoryMi("2Gi")).To(Equal(2048))
		Expect(parseMemoryMi("512Mi")).To(Equal(512))
		Expect(parseMemoryMi("2048Ki")).To(Equal(2))
	})
	It("should treat unsuffixed memory as bytes", func() {
		Expect(parseMemoryMi("1048576")).To(Equal(1))
	})
	It("should fail on garbage", func() {
		_, err := parseCPUMillicores("lots")
		Expect(err).To(HaveOccurred())
		_, err = parseMemoryMi("plenty")
		Expect(err).To(HaveOccurred())
	})
})
