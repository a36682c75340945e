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

package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
)

const defaultImage = "nginx:latest"

// Manifests synthesizes the baseline manifest set: per service a single-replica
// Deployment, plus a ClusterIP Service and an nginx Ingress when ports are
// exposed. Services are emitted in name order so output is deterministic.
func (f *File) Manifests(namespace, appName, baseDomain string) ([]*unstructured.Unstructured, error) {
	prNumber := prNumberFromNamespace(namespace)

	names := lo.Keys(f.Services)
	sort.Strings(names)

	var manifests []*unstructured.Unstructured
	for _, name := range names {
		service := f.Services[name]
		labels := map[string]string{
			"app":        appName,
			"service":    name,
			"managed-by": "ephemera",
		}

		deployment, err := toUnstructured(buildDeployment(name, service, namespace, labels))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, deployment)

		if len(service.Ports) == 0 {
			continue
		}
		svc, err := toUnstructured(buildService(name, service, namespace, labels))
		if err != nil {
			return nil, err
		}
		ingress, err := toUnstructured(buildIngress(name, service, namespace, labels, prNumber, baseDomain))
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, svc, ingress)
	}
	return manifests, nil
}

func buildDeployment(name string, service Service, namespace string, labels map[string]string) *appsv1.Deployment {
	image := service.Image
	if image == "" {
		image = defaultImage
	}
	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: lo.ToPtr(int32(1)),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  name,
						Image: image,
						Env: lo.Map(service.Environment, func(e EnvVar, _ int) corev1.EnvVar {
							return corev1.EnvVar{Name: e.Name, Value: e.Value}
						}),
						Ports: lo.Map(service.Ports, func(p PortMapping, _ int) corev1.ContainerPort {
							return corev1.ContainerPort{ContainerPort: p.ContainerPort}
						}),
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("100m"),
								corev1.ResourceMemory: resource.MustParse("128Mi"),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse("500m"),
								corev1.ResourceMemory: resource.MustParse("512Mi"),
							},
						},
					}},
				},
			},
		},
	}
}

func buildService(name string, service Service, namespace string, labels map[string]string) *corev1.Service {
	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: labels,
			Ports: lo.Map(service.Ports, func(p PortMapping, _ int) corev1.ServicePort {
				return corev1.ServicePort{
					Name:       fmt.Sprintf("port-%d", p.ContainerPort),
					Port:       p.HostPort,
					TargetPort: intstr.FromInt32(p.ContainerPort),
					Protocol:   corev1.ProtocolTCP,
				}
			}),
		},
	}
}

func buildIngress(name string, service Service, namespace string, labels map[string]string, prNumber, baseDomain string) *networkingv1.Ingress {
	host := fmt.Sprintf("pr-%s-%s.%s", prNumber, name, baseDomain)
	pathType := networkingv1.PathTypePrefix
	return &networkingv1.Ingress{
		TypeMeta: metav1.TypeMeta{APIVersion: "networking.k8s.io/v1", Kind: "Ingress"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    labels,
			Annotations: map[string]string{
				"cert-manager.io/cluster-issuer":                 "letsencrypt-prod",
				"nginx.ingress.kubernetes.io/ssl-redirect":       "true",
				"nginx.ingress.kubernetes.io/force-ssl-redirect": "true",
			},
		},
		Spec: networkingv1.IngressSpec{
			IngressClassName: lo.ToPtr("nginx"),
			TLS: []networkingv1.IngressTLS{{
				Hosts:      []string{host},
				SecretName: fmt.Sprintf("%s-tls", name),
			}},
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: name,
									Port: networkingv1.ServiceBackendPort{Number: service.Ports[0].HostPort},
								},
							},
						}},
					},
				},
			}},
		},
	}
}

// prNumberFromNamespace extracts the PR number segment from a pr-{n}-{slug}
// namespace.
func prNumberFromNamespace(namespace string) string {
	parts := strings.Split(namespace, "-")
	if len(parts) > 1 {
		return parts[1]
	}
	return "0"
}

func toUnstructured(obj runtime.Object) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
	if err != nil {
		return nil, fmt.Errorf("converting manifest, %w", err)
	}
	return &unstructured.Unstructured{Object: content}, nil
}
