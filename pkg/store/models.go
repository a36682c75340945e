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

package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
)

// EnvironmentStatus is the lifecycle state of a preview environment.
type EnvironmentStatus string

const (
	StatusPending      EnvironmentStatus = "pending"
	StatusProvisioning EnvironmentStatus = "provisioning"
	StatusReady        EnvironmentStatus = "ready"
	StatusUpdating     EnvironmentStatus = "updating"
	StatusDestroying   EnvironmentStatus = "destroying"
	StatusDestroyed    EnvironmentStatus = "destroyed"
	StatusFailed       EnvironmentStatus = "failed"
)

// DeploymentStatus is the state of a single provisioning attempt.
type DeploymentStatus string

const (
	DeploymentQueued     DeploymentStatus = "queued"
	DeploymentInProgress DeploymentStatus = "in_progress"
	DeploymentSuccess    DeploymentStatus = "success"
	DeploymentFailed     DeploymentStatus = "failed"
)

// legalTransitions is the environment status graph. Self-transitions are
// permitted everywhere so redelivered jobs can reassert the state they are in.
var legalTransitions = map[EnvironmentStatus][]EnvironmentStatus{
	StatusPending:      {StatusProvisioning, StatusUpdating, StatusDestroying, StatusFailed},
	StatusProvisioning: {StatusReady, StatusFailed, StatusDestroying},
	StatusReady:        {StatusUpdating, StatusDestroying, StatusFailed},
	StatusUpdating:     {StatusReady, StatusFailed, StatusDestroying},
	StatusDestroying:   {StatusDestroyed, StatusFailed},
	StatusFailed:       {StatusProvisioning, StatusDestroying, StatusDestroyed},
	StatusDestroyed:    {},
}

// CanTransition reports whether the status graph permits moving from one
// environment status to another.
func CanTransition(from, to EnvironmentStatus) bool {
	if from == to {
		return true
	}
	return lo.Contains(legalTransitions[from], to)
}

// IsActiveStatus reports whether the status counts as active for listing and
// drift sweeps.
func IsActiveStatus(s EnvironmentStatus) bool {
	switch s {
	case StatusPending, StatusProvisioning, StatusReady, StatusUpdating:
		return true
	}
	return false
}

// IsTerminalDeploymentStatus reports whether a deployment status is final.
func IsTerminalDeploymentStatus(s DeploymentStatus) bool {
	return s == DeploymentSuccess || s == DeploymentFailed
}

// User is a source-host identity seen via webhook or direct API use.
type User struct {
	ID        int64      `db:"id"`
	GithubID  int64      `db:"github_id"`
	Login     string     `db:"github_login"`
	Email     *string    `db:"email"`
	AvatarURL *string    `db:"avatar_url"`
	IsActive  bool       `db:"is_active"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
}

// Environment is one preview environment per (repository, pull request).
type Environment struct {
	ID                 int64             `db:"id"`
	RepositoryFullName string            `db:"repository_full_name"`
	RepositoryName     string            `db:"repository_name"`
	PRNumber           int               `db:"pr_number"`
	PRTitle            *string           `db:"pr_title"`
	BranchName         string            `db:"branch_name"`
	CommitSHA          string            `db:"commit_sha"`
	Namespace          string            `db:"namespace"`
	EnvironmentURL     *string           `db:"environment_url"`
	Status             EnvironmentStatus `db:"status"`
	InstallationID     int64             `db:"installation_id"`
	OwnerID            int64             `db:"owner_id"`
	ErrorMessage       *string           `db:"error_message"`
	LastDeployedAt     *time.Time        `db:"last_deployed_at"`
	CreatedAt          time.Time         `db:"created_at"`
	UpdatedAt          *time.Time        `db:"updated_at"`
	DestroyedAt        *time.Time        `db:"destroyed_at"`
}

// IsActive reports whether the environment is in a live state.
func (e *Environment) IsActive() bool {
	return IsActiveStatus(e.Status)
}

// Deployment is one provisioning attempt for a commit.
type Deployment struct {
	ID               int64            `db:"id"`
	EnvironmentID    int64            `db:"environment_id"`
	CommitSHA        string           `db:"commit_sha"`
	CommitMessage    *string          `db:"commit_message"`
	Status           DeploymentStatus `db:"status"`
	StartedAt        *time.Time       `db:"started_at"`
	CompletedAt      *time.Time       `db:"completed_at"`
	ErrorMessage     *string          `db:"error_message"`
	Logs             *string          `db:"logs"`
	AIGenerated      bool             `db:"ai_generated"`
	AIPlan           *string          `db:"ai_plan"`
	AIFallbackReason *string          `db:"ai_fallback_reason"`
	CreatedAt        time.Time        `db:"created_at"`
	UpdatedAt        *time.Time       `db:"updated_at"`
}

// maxRepoSlugLength keeps pr-{n}-{slug} inside the 63-character DNS label
// limit with room for six-digit PR numbers.
const maxRepoSlugLength = 20

// GenerateNamespace derives the cluster namespace for a pull request.
// The repository short name is lowercased, underscores become hyphens, and the
// slug is truncated to 20 characters.
func GenerateNamespace(prNumber int, repositoryName string) string {
	slug := strings.ReplaceAll(strings.ToLower(repositoryName), "_", "-")
	if len(slug) > maxRepoSlugLength {
		slug = slug[:maxRepoSlugLength]
	}
	slug = strings.Trim(slug, "-")
	return fmt.Sprintf("pr-%d-%s", prNumber, slug)
}
