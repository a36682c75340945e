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
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// CreateDeployment inserts a QUEUED deployment record for a commit.
func (s *Store) CreateDeployment(ctx context.Context, environmentID int64, commitSHA, commitMessage string) (*Deployment, error) {
	dep := &Deployment{}
	err := s.db.GetContext(ctx, dep, `
		INSERT INTO deployments (environment_id, commit_sha, commit_message, status)
		VALUES ($1, $2, $3, 'queued')
		RETURNING *`,
		environmentID, commitSHA, nullable(commitMessage))
	if err != nil {
		return nil, fmt.Errorf("creating deployment for environment %d, %w", environmentID, err)
	}
	return dep, nil
}

// GetLatestDeployment returns the most recent deployment for an environment,
// or nil when none exists.
func (s *Store) GetLatestDeployment(ctx context.Context, environmentID int64) (*Deployment, error) {
	dep := &Deployment{}
	err := s.db.GetContext(ctx, dep,
		`SELECT * FROM deployments WHERE environment_id = $1 ORDER BY created_at DESC LIMIT 1`,
		environmentID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting latest deployment for environment %d, %w", environmentID, err)
	}
	return dep, nil
}

// DeploymentUpdate carries the optional fields recorded alongside a deployment
// status change. Nil pointers leave the column untouched.
type DeploymentUpdate struct {
	ErrorMessage     *string
	Logs             *string
	AIGenerated      *bool
	AIPlan           *string
	AIFallbackReason *string
}

// UpdateDeploymentStatus advances a deployment record. Terminal deployments
// are immutable: changing one is an error. started_at is stamped on first
// entry into IN_PROGRESS, completed_at on a terminal status.
func (s *Store) UpdateDeploymentStatus(ctx context.Context, id int64, status DeploymentStatus, update DeploymentUpdate) (*Deployment, error) {
	var dep *Deployment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		current := &Deployment{}
		if err := tx.GetContext(ctx, current, `SELECT * FROM deployments WHERE id = $1 FOR UPDATE`, id); err != nil {
			return fmt.Errorf("locking deployment %d, %w", id, err)
		}
		if IsTerminalDeploymentStatus(current.Status) && current.Status != status {
			return fmt.Errorf("deployment %d is terminal (%s), refusing transition to %s", id, current.Status, status)
		}

		now := s.clock.Now()
		dep = &Deployment{}
		err := tx.GetContext(ctx, dep, `
			UPDATE deployments SET
				status = $2,
				started_at = CASE WHEN $2 = 'in_progress' AND started_at IS NULL THEN $3 ELSE started_at END,
				completed_at = CASE WHEN $2 IN ('success', 'failed') THEN $3 ELSE completed_at END,
				error_message = COALESCE($4, error_message),
				logs = COALESCE($5, logs),
				ai_generated = COALESCE($6, ai_generated),
				ai_plan = COALESCE($7, ai_plan),
				ai_fallback_reason = COALESCE($8, ai_fallback_reason),
				updated_at = $3
			WHERE id = $1
			RETURNING *`,
			id, status, now,
			update.ErrorMessage, update.Logs, update.AIGenerated, update.AIPlan, update.AIFallbackReason)
		if err != nil {
			return fmt.Errorf("updating deployment %d status, %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dep, nil
}
