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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"

	ephemeraerrors "github.com/ephemera-dev/ephemera/pkg/errors"
)

// listLimit caps unfiltered environment listings at the most recent rows.
const listLimit = 100

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// CreateEnvironmentInput carries everything needed to insert a new
// environment row.
type CreateEnvironmentInput struct {
	RepositoryFullName string
	RepositoryName     string
	PRNumber           int
	PRTitle            string
	BranchName         string
	CommitSHA          string
	InstallationID     int64
	OwnerID            int64
	EnvironmentURL     string
}

// CreateEnvironment inserts a PENDING environment with a derived namespace.
func (s *Store) CreateEnvironment(ctx context.Context, input CreateEnvironmentInput) (*Environment, error) {
	env := &Environment{}
	err := s.db.GetContext(ctx, env, `
		INSERT INTO environments (
			repository_full_name, repository_name, pr_number, pr_title,
			branch_name, commit_sha, namespace, environment_url,
			status, installation_id, owner_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *`,
		input.RepositoryFullName,
		input.RepositoryName,
		input.PRNumber,
		nullable(input.PRTitle),
		input.BranchName,
		input.CommitSHA,
		GenerateNamespace(input.PRNumber, input.RepositoryName),
		nullable(input.EnvironmentURL),
		StatusPending,
		input.InstallationID,
		input.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("creating environment for %s#%d, %w", input.RepositoryFullName, input.PRNumber, err)
	}
	return env, nil
}

// GetEnvironmentByID returns the environment or a typed not-found error.
func (s *Store) GetEnvironmentByID(ctx context.Context, id int64) (*Environment, error) {
	env := &Environment{}
	if err := s.db.GetContext(ctx, env, `SELECT * FROM environments WHERE id = $1`, id); err != nil {
		if isNoRows(err) {
			return nil, &ephemeraerrors.EnvironmentNotFoundError{ID: id}
		}
		return nil, fmt.Errorf("getting environment %d, %w", id, err)
	}
	return env, nil
}

// GetEnvironmentByPR returns the environment for (repository, pr number), or
// nil when none exists.
func (s *Store) GetEnvironmentByPR(ctx context.Context, repositoryFullName string, prNumber int) (*Environment, error) {
	env := &Environment{}
	err := s.db.GetContext(ctx, env,
		`SELECT * FROM environments WHERE repository_full_name = $1 AND pr_number = $2`,
		repositoryFullName, prNumber)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting environment for %s#%d, %w", repositoryFullName, prNumber, err)
	}
	return env, nil
}

// GetEnvironmentByNamespace returns the environment owning a namespace, or nil
// when none exists.
func (s *Store) GetEnvironmentByNamespace(ctx context.Context, namespace string) (*Environment, error) {
	env := &Environment{}
	err := s.db.GetContext(ctx, env, `SELECT * FROM environments WHERE namespace = $1`, namespace)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting environment for namespace %q, %w", namespace, err)
	}
	return env, nil
}

// ListEnvironments returns environments, optionally filtered by repository and
// active statuses, newest first, capped at 100 rows.
func (s *Store) ListEnvironments(ctx context.Context, repository string, activeOnly bool) ([]*Environment, error) {
	query := `SELECT * FROM environments`
	var clauses []string
	var args []any
	if repository != "" {
		args = append(args, repository)
		clauses = append(clauses, fmt.Sprintf("repository_full_name = $%d", len(args)))
	}
	if activeOnly {
		clauses = append(clauses, `status IN ('pending', 'provisioning', 'ready', 'updating')`)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", listLimit)

	var envs []*Environment
	if err := s.db.SelectContext(ctx, &envs, query, args...); err != nil {
		return nil, fmt.Errorf("listing environments, %w", err)
	}
	return envs, nil
}

// ListActiveEnvironments returns every environment in a live status.
func (s *Store) ListActiveEnvironments(ctx context.Context) ([]*Environment, error) {
	var envs []*Environment
	err := s.db.SelectContext(ctx, &envs,
		`SELECT * FROM environments WHERE status IN ('pending', 'provisioning', 'ready', 'updating') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing active environments, %w", err)
	}
	return envs, nil
}

// ListStuckEnvironments returns environments that have sat in the given status
// since before the cutoff.
func (s *Store) ListStuckEnvironments(ctx context.Context, status EnvironmentStatus, cutoff time.Time) ([]*Environment, error) {
	var envs []*Environment
	err := s.db.SelectContext(ctx, &envs,
		`SELECT * FROM environments WHERE status = $1 AND COALESCE(updated_at, created_at) < $2`,
		status, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stuck %s environments, %w", status, err)
	}
	return envs, nil
}

// ListEnvironmentsByStatus returns every environment in the given status.
func (s *Store) ListEnvironmentsByStatus(ctx context.Context, status EnvironmentStatus) ([]*Environment, error) {
	var envs []*Environment
	if err := s.db.SelectContext(ctx, &envs, `SELECT * FROM environments WHERE status = $1`, status); err != nil {
		return nil, fmt.Errorf("listing %s environments, %w", status, err)
	}
	return envs, nil
}

// ListRecentlyFailedEnvironments returns FAILED environments updated at or
// after the cutoff, for retry sweeps.
func (s *Store) ListRecentlyFailedEnvironments(ctx context.Context, cutoff time.Time) ([]*Environment, error) {
	var envs []*Environment
	err := s.db.SelectContext(ctx, &envs,
		`SELECT * FROM environments WHERE status = 'failed' AND COALESCE(updated_at, created_at) > $1`,
		cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing recently failed environments, %w", err)
	}
	return envs, nil
}

// UpdateEnvironmentStatus moves an environment along the status graph,
// rejecting illegal transitions. last_deployed_at is stamped on entry into
// READY, destroyed_at on entry into DESTROYED.
func (s *Store) UpdateEnvironmentStatus(ctx context.Context, id int64, status EnvironmentStatus, errorMessage string) (*Environment, error) {
	var env *Environment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		current := &Environment{}
		if err := tx.GetContext(ctx, current, `SELECT * FROM environments WHERE id = $1 FOR UPDATE`, id); err != nil {
			if isNoRows(err) {
				return &ephemeraerrors.EnvironmentNotFoundError{ID: id}
			}
			return fmt.Errorf("locking environment %d, %w", id, err)
		}
		if !CanTransition(current.Status, status) {
			return &ephemeraerrors.InvalidTransitionError{From: string(current.Status), To: string(status)}
		}

		now := s.clock.Now()
		env = &Environment{}
		err := tx.GetContext(ctx, env, `
			UPDATE environments SET
				status = $2,
				error_message = COALESCE($3, error_message),
				last_deployed_at = CASE WHEN $2 = 'ready' THEN $4 ELSE last_deployed_at END,
				destroyed_at = CASE WHEN $2 = 'destroyed' THEN $4 ELSE destroyed_at END,
				updated_at = $4
			WHERE id = $1
			RETURNING *`,
			id, status, nullable(errorMessage), now)
		if err != nil {
			return fmt.Errorf("updating environment %d status, %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("updated environment status", "environment-id", id, "status", status)
	return env, nil
}

// UpdateEnvironmentCommit records a new head commit and moves the environment
// to UPDATING.
func (s *Store) UpdateEnvironmentCommit(ctx context.Context, id int64, commitSHA string) (*Environment, error) {
	var env *Environment
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		current := &Environment{}
		if err := tx.GetContext(ctx, current, `SELECT * FROM environments WHERE id = $1 FOR UPDATE`, id); err != nil {
			if isNoRows(err) {
				return &ephemeraerrors.EnvironmentNotFoundError{ID: id}
			}
			return fmt.Errorf("locking environment %d, %w", id, err)
		}
		if !CanTransition(current.Status, StatusUpdating) {
			return &ephemeraerrors.InvalidTransitionError{From: string(current.Status), To: string(StatusUpdating)}
		}

		env = &Environment{}
		err := tx.GetContext(ctx, env, `
			UPDATE environments SET commit_sha = $2, status = 'updating', updated_at = $3
			WHERE id = $1
			RETURNING *`,
			id, commitSHA, s.clock.Now())
		if err != nil {
			return fmt.Errorf("updating environment %d commit, %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// DeleteDestroyedEnvironmentsBefore purges DESTROYED rows older than the
// cutoff, cascading to their deployments. Returns the number deleted.
func (s *Store) DeleteDestroyedEnvironmentsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM environments WHERE status = 'destroyed' AND COALESCE(updated_at, created_at) < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting destroyed environments, %w", err)
	}
	return lo.Must(res.RowsAffected()), nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction, %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction, %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
