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

// Package sourcehost talks to GitHub on behalf of an App installation.
// Authentication is the standard App flow: a JWT signed with the application
// private key exchanged for a short-lived installation token per call.
package sourcehost

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/errors"
)

// CommitStatusContext labels every commit status this system sets.
const CommitStatusContext = "ephemera/environment"

type Provider struct {
	appsTransport *ghinstallation.AppsTransport
	baseDomain    string
	log           *zap.SugaredLogger
}

// NewProvider loads the App private key. When the App is not configured the
// provider is returned in disabled mode and every API call reports
// NotConfigured; callers treat those as best-effort failures.
func NewProvider(appID int64, privateKeyPath, baseDomain string, log *zap.SugaredLogger) (*Provider, error) {
	p := &Provider{baseDomain: baseDomain, log: log.Named("sourcehost")}
	if appID == 0 || privateKeyPath == "" {
		p.log.Warn("github app not configured, source host operations disabled")
		return p, nil
	}
	atr, err := ghinstallation.NewAppsTransportKeyFromFile(http.DefaultTransport, appID, privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("loading github app private key, %w", err)
	}
	p.appsTransport = atr
	return p, nil
}

func (p *Provider) installationClient(installationID int64) (*github.Client, error) {
	if p.appsTransport == nil {
		return nil, fmt.Errorf("building installation client, %w", errors.ErrNotConfigured)
	}
	itr := ghinstallation.NewFromAppsTransport(p.appsTransport, installationID)
	return github.NewClient(&http.Client{Transport: itr}), nil
}

func splitRepo(repoFullName string) (string, string, error) {
	owner, name, found := strings.Cut(repoFullName, "/")
	if !found || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository name %q", repoFullName)
	}
	return owner, name, nil
}

// PostComment posts a comment on the pull request.
func (p *Provider) PostComment(ctx context.Context, installationID int64, repoFullName string, prNumber int, body string) error {
	client, err := p.installationClient(installationID)
	if err != nil {
		return err
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	_, _, err = client.Issues.CreateComment(ctx, owner, repo, prNumber, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("posting comment on %s#%d, %w", repoFullName, prNumber, err)
	}
	return nil
}

// SetCommitStatus sets a commit status with the ephemera context. state is one
// of pending, success, failure, error.
func (p *Provider) SetCommitStatus(ctx context.Context, installationID int64, repoFullName, sha, state, description, targetURL string) error {
	client, err := p.installationClient(installationID)
	if err != nil {
		return err
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	status := &github.RepoStatus{
		State:       github.String(state),
		Description: github.String(description),
		Context:     github.String(CommitStatusContext),
	}
	if targetURL != "" {
		status.TargetURL = github.String(targetURL)
	}
	_, _, err = client.Repositories.CreateStatus(ctx, owner, repo, sha, status)
	if err != nil {
		return fmt.Errorf("setting commit status on %s@%s, %w", repoFullName, sha, err)
	}
	return nil
}

// FetchFile returns the contents of a repository file at the given ref.
// Missing files surface as a typed not-found error.
func (p *Provider) FetchFile(ctx context.Context, installationID int64, repoFullName, path, ref string) ([]byte, error) {
	client, err := p.installationClient(installationID)
	if err != nil {
		return nil, err
	}
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	fileContent, _, resp, err := client.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, &errors.FileNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("fetching %s from %s@%s, %w", path, repoFullName, ref, err)
	}
	if fileContent == nil {
		// The path resolved to a directory listing.
		return nil, &errors.FileNotFoundError{Path: path}
	}
	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s from %s@%s, %w", path, repoFullName, ref, err)
	}
	return []byte(content), nil
}

// EnvironmentURL builds the public URL of a preview environment.
func (p *Provider) EnvironmentURL(prNumber int, repositoryName string) string {
	slug := strings.ReplaceAll(strings.ToLower(repositoryName), "_", "-")
	return fmt.Sprintf("https://pr-%d-%s.%s", prNumber, slug, p.baseDomain)
}
