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

// Package deploy turns a repository into running workloads: the deterministic
// compose-to-manifest path, and the AI synthesis path that falls back to it.
package deploy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/ephemera-dev/ephemera/pkg/compose"
	"github.com/ephemera-dev/ephemera/pkg/errors"
)

// composeFilenames are the recognized compose paths, in lookup order.
var composeFilenames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

// ManifestApplier is the slice of the cluster driver this package needs.
type ManifestApplier interface {
	ApplyManifest(ctx context.Context, obj *unstructured.Unstructured) error
}

// FileFetcher is the slice of the source-host driver this package needs.
type FileFetcher interface {
	FetchFile(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]byte, error)
}

// Result describes one workload deployment attempt.
type Result struct {
	Success          bool
	AppliedCount     int
	Services         []string
	ServiceURLs      map[string]string
	Error            string
	AIGenerated      bool
	AIPlan           string
	AIFallbackReason string
}

// Deployer is the deterministic path: parse the compose file, synthesize the
// baseline manifest set, apply it.
type Deployer struct {
	cluster    ManifestApplier
	fetcher    FileFetcher
	baseDomain string
	log        *zap.SugaredLogger
}

func NewDeployer(cluster ManifestApplier, fetcher FileFetcher, baseDomain string, log *zap.SugaredLogger) *Deployer {
	return &Deployer{cluster: cluster, fetcher: fetcher, baseDomain: baseDomain, log: log.Named("deploy")}
}

// Deploy fetches the compose file at ref, synthesizes the baseline manifests
// and applies them. A missing compose file surfaces as a ComposeNotFound
// error so callers can treat the environment as workload-free.
func (d *Deployer) Deploy(ctx context.Context, installationID int64, repoFullName, namespace, ref string) (*Result, error) {
	content, _, err := d.fetchCompose(ctx, installationID, repoFullName, ref)
	if err != nil {
		return nil, err
	}
	file, err := compose.Parse(content)
	if err != nil {
		return nil, err
	}
	manifests, err := file.Manifests(namespace, appName(repoFullName), d.baseDomain)
	if err != nil {
		return nil, err
	}

	result := d.applyAll(ctx, manifests)
	d.log.Infow("deployed baseline manifests",
		"repository", repoFullName, "namespace", namespace,
		"applied", result.AppliedCount, "success", result.Success)
	return result, nil
}

func (d *Deployer) fetchCompose(ctx context.Context, installationID int64, repoFullName, ref string) ([]byte, string, error) {
	for _, filename := range composeFilenames {
		content, err := d.fetcher.FetchFile(ctx, installationID, repoFullName, filename, ref)
		if err != nil {
			if errors.IsFileNotFound(err) {
				continue
			}
			return nil, "", err
		}
		d.log.Infow("found compose file", "repository", repoFullName, "file", filename)
		return content, filename, nil
	}
	return nil, "", fmt.Errorf("looking up compose file in %s, %w", repoFullName, errors.ErrComposeNotFound)
}

// applyAll writes each manifest through the cluster driver, tracking workload
// names from Deployments and public URLs from Ingress rules. A partial failure
// leaves Success false but keeps everything that did apply.
func (d *Deployer) applyAll(ctx context.Context, manifests []*unstructured.Unstructured) *Result {
	result := &Result{ServiceURLs: map[string]string{}}
	var failed []string
	for _, manifest := range manifests {
		if err := d.cluster.ApplyManifest(ctx, manifest); err != nil {
			d.log.Errorw("failed to apply manifest", "kind", manifest.GetKind(), "name", manifest.GetName(), "error", err)
			failed = append(failed, fmt.Sprintf("%s/%s", manifest.GetKind(), manifest.GetName()))
			continue
		}
		result.AppliedCount++
		switch manifest.GetKind() {
		case "Deployment":
			result.Services = append(result.Services, manifest.GetName())
		case "Ingress":
			for _, host := range ingressHosts(manifest) {
				result.ServiceURLs[manifest.GetName()] = fmt.Sprintf("https://%s", host)
			}
		}
	}
	result.Success = len(failed) == 0
	if len(failed) > 0 {
		result.Error = fmt.Sprintf("failed to apply manifests: %s", strings.Join(failed, ", "))
	}
	return result
}

func ingressHosts(manifest *unstructured.Unstructured) []string {
	rules, _, _ := unstructured.NestedSlice(manifest.Object, "spec", "rules")
	var hosts []string
	for _, rule := range rules {
		ruleMap, ok := rule.(map[string]any)
		if !ok {
			continue
		}
		if host, ok := ruleMap["host"].(string); ok && host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}

// appName derives the label-friendly application name from the repository.
func appName(repoFullName string) string {
	parts := strings.Split(repoFullName, "/")
	name := parts[len(parts)-1]
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}
