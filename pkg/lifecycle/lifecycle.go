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

// Package lifecycle is the per-pull-request state machine. Webhook events
// derive an intent and enqueue a job; task bodies consult recorded status and
// cluster reality before acting, so at-least-once delivery and concurrent
// arrival are safe without per-PR locks.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/ephemera-dev/ephemera/pkg/deploy"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

// Per-environment resource quota.
const (
	quotaCPU    = "1"
	quotaMemory = "2Gi"
	quotaPods   = "10"
)

// staleThreshold is how long an environment may sit in PROVISIONING or
// DESTROYING before the sweep reclaims it.
const staleThreshold = 30 * time.Minute

// Store is the persistence surface the controller drives.
type Store interface {
	FindOrCreateUser(ctx context.Context, githubID int64, login string, email, avatarURL *string) (*store.User, error)
	CreateEnvironment(ctx context.Context, input store.CreateEnvironmentInput) (*store.Environment, error)
	GetEnvironmentByID(ctx context.Context, id int64) (*store.Environment, error)
	GetEnvironmentByPR(ctx context.Context, repositoryFullName string, prNumber int) (*store.Environment, error)
	UpdateEnvironmentStatus(ctx context.Context, id int64, status store.EnvironmentStatus, errorMessage string) (*store.Environment, error)
	UpdateEnvironmentCommit(ctx context.Context, id int64, commitSHA string) (*store.Environment, error)
	CreateDeployment(ctx context.Context, environmentID int64, commitSHA, commitMessage string) (*store.Deployment, error)
	GetLatestDeployment(ctx context.Context, environmentID int64) (*store.Deployment, error)
	UpdateDeploymentStatus(ctx context.Context, id int64, status store.DeploymentStatus, update store.DeploymentUpdate) (*store.Deployment, error)
	ListStuckEnvironments(ctx context.Context, status store.EnvironmentStatus, cutoff time.Time) ([]*store.Environment, error)
	ListEnvironmentsByStatus(ctx context.Context, status store.EnvironmentStatus) ([]*store.Environment, error)
	ListRecentlyFailedEnvironments(ctx context.Context, cutoff time.Time) ([]*store.Environment, error)
	DeleteDestroyedEnvironmentsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cluster is the slice of the cluster driver the controller needs.
type Cluster interface {
	EnsureNamespace(ctx context.Context, name string, labels map[string]string) error
	DeleteNamespace(ctx context.Context, name string) error
	NamespaceExists(ctx context.Context, name string) (bool, error)
	EnsureResourceQuota(ctx context.Context, namespace, cpu, memory, pods string) error
}

// SourceHost reports back to the pull request. All calls are best-effort:
// failures log but never fail the job.
type SourceHost interface {
	PostComment(ctx context.Context, installationID int64, repoFullName string, prNumber int, body string) error
	SetCommitStatus(ctx context.Context, installationID int64, repoFullName, sha, state, description, targetURL string) error
	EnvironmentURL(prNumber int, repositoryName string) string
}

// WorkloadDeployer synthesizes and applies manifests for a commit.
type WorkloadDeployer interface {
	Deploy(ctx context.Context, installationID int64, repoFullName, namespace, ref string) (*deploy.Result, error)
}

// JobSubmitter enqueues the asynchronous task bodies.
type JobSubmitter interface {
	SubmitProvision(ctx context.Context, environmentID int64) error
	SubmitUpdate(ctx context.Context, environmentID int64, commitSHA string) error
	SubmitDestroy(ctx context.Context, environmentID int64, merged bool) error
}

type Controller struct {
	store      Store
	cluster    Cluster
	sourcehost SourceHost
	deployer   WorkloadDeployer
	jobs       JobSubmitter
	clock      clock.Clock
	log        *zap.SugaredLogger
}

func NewController(s Store, cluster Cluster, sourcehost SourceHost, deployer WorkloadDeployer,
	jobs JobSubmitter, clk clock.Clock, log *zap.SugaredLogger) *Controller {
	return &Controller{
		store:      s,
		cluster:    cluster,
		sourcehost: sourcehost,
		deployer:   deployer,
		jobs:       jobs,
		clock:      clk,
		log:        log.Named("lifecycle"),
	}
}

// PREvent is the decoded pull-request webhook content the controller consults.
type PREvent struct {
	Action         string
	Number         int
	Title          string
	Branch         string
	CommitSHA      string
	Merged         bool
	RepoName       string
	RepoFullName   string
	InstallationID int64
	UserID         int64
	UserLogin      string
	UserAvatarURL  string
}
