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

// Package jobs is the durable task runtime: a Redis-backed queue with a worker
// pool, late acknowledgement, and a periodic scheduler for reconciliation
// sweeps.
package jobs

import "time"

// Task types. Environment tasks ride the environment queue; sweeps ride the
// cleanup queue.
const (
	TypeProvisionEnvironment = "environment:provision"
	TypeUpdateEnvironment    = "environment:update"
	TypeDestroyEnvironment   = "environment:destroy"

	TypeCleanupStale     = "cleanup:stale_environments"
	TypeCleanupDestroyed = "cleanup:destroyed_environments"
	TypeRetryFailed      = "cleanup:retry_failed"
)

const (
	QueueEnvironment = "environment"
	QueueCleanup     = "cleanup"
)

const (
	// taskTimeout is the soft limit: the task context is cancelled and the
	// handler gets a chance to record failure.
	taskTimeout = 25 * time.Minute
	// taskDeadline is the hard limit enforced through the broker lease; a
	// worker killed past it has its task redelivered.
	taskDeadline = 30 * time.Minute
	// resultRetention keeps completed task results around for inspection.
	resultRetention = time.Hour

	maxRetry = 3
)

// ProvisionPayload wakes the lifecycle controller to provision an environment.
type ProvisionPayload struct {
	EnvironmentID int64 `json:"environment_id"`
}

// UpdatePayload carries a new head commit for an existing environment.
type UpdatePayload struct {
	EnvironmentID int64  `json:"environment_id"`
	CommitSHA     string `json:"commit_sha"`
}

// DestroyPayload tears an environment down. PRMerged only changes the wording
// of the cleanup comment.
type DestroyPayload struct {
	EnvironmentID int64 `json:"environment_id"`
	PRMerged      bool  `json:"pr_merged"`
}

// CleanupDestroyedPayload purges DESTROYED rows older than Days.
type CleanupDestroyedPayload struct {
	Days int `json:"days"`
}

// RetryFailedPayload re-enqueues provisioning for environments that failed
// within MaxAgeHours.
type RetryFailedPayload struct {
	MaxAgeHours int `json:"max_age_hours"`
}
