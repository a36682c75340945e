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

package cluster

import (
	"context"
	"encoding/json"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"github.com/ephemera-dev/ephemera/pkg/errors"
)

// ApplyManifest writes one of the six recognized kinds into the namespace the
// manifest names. Creation conflicts resolve by merge-patching the same body,
// so re-applying a manifest set converges. Unknown kinds are refused.
func (p *Provider) ApplyManifest(ctx context.Context, obj *unstructured.Unstructured) error {
	if p.disabled() {
		return fmt.Errorf("applying %s %q, %w", obj.GetKind(), obj.GetName(), errors.ErrNotConfigured)
	}
	raw, err := obj.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %s %q, %w", obj.GetKind(), obj.GetName(), err)
	}
	namespace := obj.GetNamespace()

	switch obj.GetKind() {
	case "Deployment":
		err = p.applyDeployment(ctx, namespace, raw)
	case "Service":
		err = p.applyService(ctx, namespace, raw)
	case "Ingress":
		err = p.applyIngress(ctx, namespace, raw)
	case "PersistentVolumeClaim":
		err = p.applyPersistentVolumeClaim(ctx, namespace, raw)
	case "ConfigMap":
		err = p.applyConfigMap(ctx, namespace, raw)
	case "Secret":
		err = p.applySecret(ctx, namespace, raw)
	default:
		return fmt.Errorf("refusing to apply unsupported kind %q", obj.GetKind())
	}
	if err != nil {
		return fmt.Errorf("applying %s %q in %q, %w", obj.GetKind(), obj.GetName(), namespace, err)
	}
	p.log.Infow("applied manifest", "kind", obj.GetKind(), "name", obj.GetName(), "namespace", namespace)
	return nil
}

func (p *Provider) applyDeployment(ctx context.Context, namespace string, raw []byte) error {
	deployment := &appsv1.Deployment{}
	if err := json.Unmarshal(raw, deployment); err != nil {
		return fmt.Errorf("decoding deployment, %w", err)
	}
	if _, err := p.kubeClient.AppsV1().Deployments(namespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			_, err = p.kubeClient.AppsV1().Deployments(namespace).Patch(ctx, deployment.Name, types.MergePatchType, raw, metav1.PatchOptions{})
			return err
		}
		return err
	}
	return nil
}

func (p *Provider) applyService(ctx context.Context, namespace string, raw []byte) error {
	service := &corev1.Service{}
	if err := json.Unmarshal(raw, service); err != nil {
		return fmt.Errorf("decoding service, %w", err)
	}
	if _, err := p.kubeClient.CoreV1().Services(namespace).Create(ctx, service, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			_, err = p.kubeClient.CoreV1().Services(namespace).Patch(ctx, service.Name, types.MergePatchType, raw, metav1.PatchOptions{})
			return err
		}
		return err
	}
	return nil
}

func (p *Provider) applyIngress(ctx context.Context, namespace string, raw []byte) error {
	ingress := &networkingv1.Ingress{}
	if err := json.Unmarshal(raw, ingress); err != nil {
		return fmt.Errorf("decoding ingress, %w", err)
	}
	if _, err := p.kubeClient.NetworkingV1().Ingresses(namespace).Create(ctx, ingress, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			_, err = p.kubeClient.NetworkingV1().Ingresses(namespace).Patch(ctx, ingress.Name, types.MergePatchType, raw, metav1.PatchOptions{})
			return err
		}
		return err
	}
	return nil
}

func (p *Provider) applyPersistentVolumeClaim(ctx context.Context, namespace string, raw []byte) error {
	pvc := &corev1.PersistentVolumeClaim{}
	if err := json.Unmarshal(raw, pvc); err != nil {
		return fmt.Errorf("decoding persistent volume claim, %w", err)
	}
	if _, err := p.kubeClient.CoreV1().PersistentVolumeClaims(namespace).Create(ctx, pvc, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			// PVC specs are mostly immutable; an existing claim is left as is.
			return nil
		}
		return err
	}
	return nil
}

func (p *Provider) applyConfigMap(ctx context.Context, namespace string, raw []byte) error {
	configMap := &corev1.ConfigMap{}
	if err := json.Unmarshal(raw, configMap); err != nil {
		return fmt.Errorf("decoding config map, %w", err)
	}
	if _, err := p.kubeClient.CoreV1().ConfigMaps(namespace).Create(ctx, configMap, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			_, err = p.kubeClient.CoreV1().ConfigMaps(namespace).Patch(ctx, configMap.Name, types.MergePatchType, raw, metav1.PatchOptions{})
			return err
		}
		return err
	}
	return nil
}

func (p *Provider) applySecret(ctx context.Context, namespace string, raw []byte) error {
	secret := &corev1.Secret{}
	if err := json.Unmarshal(raw, secret); err != nil {
		return fmt.Errorf("decoding secret, %w", err)
	}
	if _, err := p.kubeClient.CoreV1().Secrets(namespace).Create(ctx, secret, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			_, err = p.kubeClient.CoreV1().Secrets(namespace).Patch(ctx, secret.Name, types.MergePatchType, raw, metav1.PatchOptions{})
			return err
		}
		return err
	}
	return nil
}
