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
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/providers/llm"
)

type contextFile struct {
	path    string
	content string
}

// repoContext holds the fetched repository files handed to the model.
type repoContext struct {
	composeContent  string
	composeFilename string
	additionalFiles []contextFile
}

// AIDeployer is the model-backed synthesis path. Every failure between context
// fetch and validation falls back to the deterministic Deployer with the
// reason recorded for the deployment record; apply failures do not fall back.
type AIDeployer struct {
	deployer   *Deployer
	cluster    ManifestApplier
	fetcher    FileFetcher
	provider   llm.Provider
	validator  *Validator
	cache      *gocache.Cache
	baseDomain string
	log        *zap.SugaredLogger
}

// NewAIDeployer wires the AI path around the deterministic deployer. A nil
// provider disables synthesis: every Deploy call goes straight to fallback.
func NewAIDeployer(deployer *Deployer, cluster ManifestApplier, fetcher FileFetcher, provider llm.Provider,
	baseDomain string, cacheTTL time.Duration, log *zap.SugaredLogger) *AIDeployer {
	return &AIDeployer{
		deployer:   deployer,
		cluster:    cluster,
		fetcher:    fetcher,
		provider:   provider,
		validator:  &Validator{},
		cache:      gocache.New(cacheTTL, cacheTTL),
		baseDomain: baseDomain,
		log:        log.Named("ai-deploy"),
	}
}

// Enabled reports whether a provider is configured.
func (d *AIDeployer) Enabled() bool {
	return d.provider != nil
}

// Deploy synthesizes and applies manifests for the repository at ref.
func (d *AIDeployer) Deploy(ctx context.Context, installationID int64, repoFullName, namespace, ref string) (*Result, error) {
	if !d.Enabled() {
		d.log.Info("ai deployment disabled, using deterministic converter")
		return d.fallback(ctx, installationID, repoFullName, namespace, ref, "AI deployment disabled")
	}

	repoCtx := d.fetchRepoContext(ctx, installationID, repoFullName, ref)
	if repoCtx.composeContent == "" {
		return nil, fmt.Errorf("fetching repo context for %s, %w", repoFullName, errors.ErrComposeNotFound)
	}

	manifests, plan, err := d.synthesize(ctx, repoCtx, repoFullName, namespace)
	if err != nil {
		d.log.Warnw("ai synthesis failed, falling back to deterministic converter",
			"repository", repoFullName, "error", err)
		return d.fallback(ctx, installationID, repoFullName, namespace, ref, err.Error())
	}

	objects := make([]*unstructured.Unstructured, 0, len(manifests))
	for _, manifest := range manifests {
		objects = append(objects, &unstructured.Unstructured{Object: manifest})
	}
	result := d.deployer.applyAll(ctx, objects)
	result.AIGenerated = true
	result.AIPlan = plan
	return result, nil
}

// synthesize produces a validated manifest set, via the cache when the compose
// content and namespace were seen within the TTL.
func (d *AIDeployer) synthesize(ctx context.Context, repoCtx *repoContext, repoFullName, namespace string) ([]map[string]any, string, error) {
	key := cacheKey(repoCtx.composeContent, namespace)
	if cached, found := d.cache.Get(key); found {
		d.log.Infow("using cached ai manifests", "namespace", namespace)
		manifests := cached.([]map[string]any)
		return manifests, buildPlanSummary(manifests, repoCtx, d.provider.Name(), nil, true), nil
	}

	userPrompt := buildUserPrompt(repoCtx, namespace, appName(repoFullName), d.baseDomain)
	d.log.Infow("calling model provider", "provider", d.provider.Name(), "repository", repoFullName, "prompt-chars", len(userPrompt))
	response, err := d.provider.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, "", err
	}
	d.log.Infow("model response received", "provider", d.provider.Name(),
		"chars", len(response.Text), "input-tokens", response.InputTokens, "output-tokens", response.OutputTokens)

	parsed, err := parseManifests(response.Text)
	if err != nil {
		return nil, "", err
	}
	validation := d.validator.ValidateAll(parsed, namespace)
	if !validation.IsValid {
		return nil, "", &errors.ValidationError{Problems: validation.Errors}
	}
	for _, warning := range validation.Warnings {
		d.log.Warnw("ai manifest warning", "warning", warning)
	}

	d.cache.SetDefault(key, validation.Corrected)
	return validation.Corrected, buildPlanSummary(validation.Corrected, repoCtx, d.provider.Name(), validation.Warnings, false), nil
}

func (d *AIDeployer) fallback(ctx context.Context, installationID int64, repoFullName, namespace, ref, reason string) (*Result, error) {
	result, err := d.deployer.Deploy(ctx, installationID, repoFullName, namespace, ref)
	if err != nil {
		return nil, err
	}
	result.AIGenerated = false
	result.AIFallbackReason = reason
	return result, nil
}

// fetchRepoContext pulls the fixed file list from the repository. The first
// compose file found wins; additional files share a global character budget
// and each is truncated to its own. Missing files are skipped silently.
func (d *AIDeployer) fetchRepoContext(ctx context.Context, installationID int64, repoFullName, ref string) *repoContext {
	repoCtx := &repoContext{}
	totalAdditional := 0

	for _, file := range repoFilesToFetch {
		isCompose := strings.HasPrefix(file.path, "docker-compose") || strings.HasPrefix(file.path, "compose.")
		if !isCompose && totalAdditional >= maxAdditionalContextChars {
			break
		}
		raw, err := d.fetcher.FetchFile(ctx, installationID, repoFullName, file.path, ref)
		if err != nil {
			continue
		}
		content := string(raw)
		if len(content) > file.budget {
			content = content[:file.budget] + "\n... (truncated)"
		}
		if isCompose {
			if repoCtx.composeContent == "" {
				repoCtx.composeContent = content
				repoCtx.composeFilename = file.path
				d.log.Infow("found compose file", "file", file.path, "chars", len(content))
			}
			continue
		}
		repoCtx.additionalFiles = append(repoCtx.additionalFiles, contextFile{path: file.path, content: content})
		totalAdditional += len(content)
	}

	d.log.Infow("fetched repo context", "repository", repoFullName,
		"compose", repoCtx.composeFilename != "", "additional-files", len(repoCtx.additionalFiles), "additional-chars", totalAdditional)
	return repoCtx
}

func cacheKey(composeContent, namespace string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(composeContent+":"+namespace)))
}
