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

package fake

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceQuota records one EnsureResourceQuota call.
type ResourceQuota struct {
	CPU    string
	Memory string
	Pods   string
}

// Cluster is an in-memory cluster driver.
type Cluster struct {
	mu sync.Mutex

	EnsureNamespaceError error
	DeleteNamespaceError error
	QuotaError           error
	ApplyError           error

	Namespaces map[string]map[string]string
	Quotas     map[string]ResourceQuota
	Applied    []*unstructured.Unstructured
}

func NewCluster() *Cluster {
	return &Cluster{
		Namespaces: map[string]map[string]string{},
		Quotas:     map[string]ResourceQuota{},
	}
}

func (c *Cluster) EnsureNamespace(_ context.Context, name string, labels map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.EnsureNamespaceError != nil {
		return c.EnsureNamespaceError
	}
	c.Namespaces[name] = labels
	return nil
}

func (c *Cluster) DeleteNamespace(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DeleteNamespaceError != nil {
		return c.DeleteNamespaceError
	}
	delete(c.Namespaces, name)
	delete(c.Quotas, name)
	return nil
}

func (c *Cluster) NamespaceExists(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Namespaces[name]
	return ok, nil
}

func (c *Cluster) EnsureResourceQuota(_ context.Context, namespace, cpu, memory, pods string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.QuotaError != nil {
		return c.QuotaError
	}
	c.Quotas[namespace] = ResourceQuota{CPU: cpu, Memory: memory, Pods: pods}
	return nil
}

func (c *Cluster) ApplyManifest(_ context.Context, obj *unstructured.Unstructured) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ApplyError != nil {
		return c.ApplyError
	}
	c.Applied = append(c.Applied, obj)
	return nil
}
