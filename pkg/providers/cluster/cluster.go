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

// Package cluster wraps the Kubernetes API for namespace lifecycle and
// idempotent manifest application. Not-found and already-exists responses are
// normalized to success; every other API error propagates for the job runtime
// to retry.
package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/errors"
)

type Provider struct {
	kubeClient kubernetes.Interface
	log        *zap.SugaredLogger
}

// NewProvider wraps a Kubernetes client. A nil client puts the provider into
// disabled mode where every operation returns a NotConfigured error.
func NewProvider(kubeClient kubernetes.Interface, log *zap.SugaredLogger) *Provider {
	return &Provider{kubeClient: kubeClient, log: log.Named("cluster")}
}

// NewClient builds a Kubernetes clientset from the given kubeconfig path,
// falling back to in-cluster configuration when the path is empty. Returns
// nil (not an error) when neither is reachable so the caller can run with the
// cluster driver disabled.
func NewClient(kubeconfigPath string, log *zap.SugaredLogger) kubernetes.Interface {
	var config *rest.Config
	var err error
	if kubeconfigPath != "" {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	} else {
		config, err = rest.InClusterConfig()
	}
	if err != nil {
		log.Warnw("kubernetes client unavailable, cluster operations disabled", "error", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		log.Warnw("kubernetes client unavailable, cluster operations disabled", "error", err)
		return nil
	}
	return client
}

func (p *Provider) disabled() bool {
	return p.kubeClient == nil
}

// EnsureNamespace creates the namespace with the given labels. An existing
// namespace is success.
func (p *Provider) EnsureNamespace(ctx context.Context, name string, labels map[string]string) error {
	if p.disabled() {
		return fmt.Errorf("creating namespace %q, %w", name, errors.ErrNotConfigured)
	}
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
	}
	if _, err := p.kubeClient.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			p.log.Debugw("namespace already exists", "namespace", name)
			return nil
		}
		return fmt.Errorf("creating namespace %q, %w", name, err)
	}
	p.log.Infow("created namespace", "namespace", name)
	return nil
}

// DeleteNamespace removes the namespace. A missing namespace is success.
func (p *Provider) DeleteNamespace(ctx context.Context, name string) error {
	if p.disabled() {
		return fmt.Errorf("deleting namespace %q, %w", name, errors.ErrNotConfigured)
	}
	if err := p.kubeClient.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			p.log.Debugw("namespace already gone", "namespace", name)
			return nil
		}
		return fmt.Errorf("deleting namespace %q, %w", name, err)
	}
	p.log.Infow("deleted namespace", "namespace", name)
	return nil
}

// NamespaceExists reports whether the namespace is present.
func (p *Provider) NamespaceExists(ctx context.Context, name string) (bool, error) {
	if p.disabled() {
		return false, fmt.Errorf("checking namespace %q, %w", name, errors.ErrNotConfigured)
	}
	if _, err := p.kubeClient.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{}); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking namespace %q, %w", name, err)
	}
	return true, nil
}

// NamespaceStatus returns the namespace phase, or the empty string when the
// namespace does not exist.
func (p *Provider) NamespaceStatus(ctx context.Context, name string) (string, error) {
	if p.disabled() {
		return "", fmt.Errorf("getting namespace %q status, %w", name, errors.ErrNotConfigured)
	}
	ns, err := p.kubeClient.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("getting namespace %q status, %w", name, err)
	}
	return string(ns.Status.Phase), nil
}

// EnsureResourceQuota applies the per-environment quota to a namespace. An
// existing quota is success.
func (p *Provider) EnsureResourceQuota(ctx context.Context, namespace, cpu, memory, pods string) error {
	if p.disabled() {
		return fmt.Errorf("creating resource quota in %q, %w", namespace, errors.ErrNotConfigured)
	}
	quota := &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-quota", namespace),
			Namespace: namespace,
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				corev1.ResourceRequestsCPU:    resource.MustParse(cpu),
				corev1.ResourceRequestsMemory: resource.MustParse(memory),
				corev1.ResourcePods:           resource.MustParse(pods),
			},
		},
	}
	if _, err := p.kubeClient.CoreV1().ResourceQuotas(namespace).Create(ctx, quota, metav1.CreateOptions{}); err != nil {
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return fmt.Errorf("creating resource quota in %q, %w", namespace, err)
	}
	p.log.Infow("created resource quota", "namespace", namespace, "cpu", cpu, "memory", memory, "pods", pods)
	return nil
}
