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

// Package fake holds in-memory doubles for testing. Each fake mirrors the
// behavior of the real component, with injectable errors to drive failure
// paths.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

// Store is an in-memory store that enforces the same transition rules as the
// SQL store.
type Store struct {
	mu sync.Mutex

	Clock clock.Clock

	// PingError fails readiness checks when set.
	PingError error
	// NextError fails the next store call when set, then clears.
	NextError error

	users        map[int64]*store.User
	environments map[int64]*store.Environment
	deployments  map[int64]*store.Deployment
	nextID       int64
}

func NewStore() *Store {
	return &Store{
		Clock:        clocktesting.NewFakeClock(time.Now()),
		users:        map[int64]*store.User{},
		environments: map[int64]*store.Environment{},
		deployments:  map[int64]*store.Deployment{},
	}
}

func (s *Store) takeError() error {
	err := s.NextError
	s.NextError = nil
	return err
}

func (s *Store) Ping(_ context.Context) error {
	return s.PingError
}

func (s *Store) FindOrCreateUser(_ context.Context, githubID int64, login string, email, avatarURL *string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	for _, user := range s.users {
		if user.GithubID == githubID {
			user.Login = login
			return lo.ToPtr(*user), nil
		}
	}
	s.nextID++
	user := &store.User{ID: s.nextID, GithubID: githubID, Login: login, Email: email, AvatarURL: avatarURL, IsActive: true, CreatedAt: s.Clock.Now()}
	s.users[user.ID] = user
	return lo.ToPtr(*user), nil
}

func (s *Store) CreateEnvironment(_ context.Context, input store.CreateEnvironmentInput) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	for _, env := range s.environments {
		if env.RepositoryFullName == input.RepositoryFullName && env.PRNumber == input.PRNumber {
			return nil, fmt.Errorf("environment already exists for %s#%d", input.RepositoryFullName, input.PRNumber)
		}
	}
	s.nextID++
	env := &store.Environment{
		ID:                 s.nextID,
		RepositoryFullName: input.RepositoryFullName,
		RepositoryName:     input.RepositoryName,
		PRNumber:           input.PRNumber,
		PRTitle:            optional(input.PRTitle),
		BranchName:         input.BranchName,
		CommitSHA:          input.CommitSHA,
		Namespace:          store.GenerateNamespace(input.PRNumber, input.RepositoryName),
		EnvironmentURL:     optional(input.EnvironmentURL),
		Status:             store.StatusPending,
		InstallationID:     input.InstallationID,
		OwnerID:            input.OwnerID,
		CreatedAt:          s.Clock.Now(),
	}
	s.environments[env.ID] = env
	return lo.ToPtr(*env), nil
}

func (s *Store) GetEnvironmentByID(_ context.Context, id int64) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	env, ok := s.environments[id]
	if !ok {
		return nil, &errors.EnvironmentNotFoundError{ID: id}
	}
	return lo.ToPtr(*env), nil
}

func (s *Store) GetEnvironmentByPR(_ context.Context, repositoryFullName string, prNumber int) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	for _, env := range s.environments {
		if env.RepositoryFullName == repositoryFullName && env.PRNumber == prNumber {
			return lo.ToPtr(*env), nil
		}
	}
	return nil, nil
}

func (s *Store) GetEnvironmentByNamespace(_ context.Context, namespace string) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	for _, env := range s.environments {
		if env.Namespace == namespace {
			return lo.ToPtr(*env), nil
		}
	}
	return nil, nil
}

func (s *Store) ListEnvironments(_ context.Context, repository string, activeOnly bool) ([]*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	var envs []*store.Environment
	for _, env := range s.environments {
		if repository != "" && env.RepositoryFullName != repository {
			continue
		}
		if activeOnly && !store.IsActiveStatus(env.Status) {
			continue
		}
		envs = append(envs, lo.ToPtr(*env))
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].CreatedAt.After(envs[j].CreatedAt) })
	return envs, nil
}

func (s *Store) ListEnvironmentsByStatus(_ context.Context, status store.EnvironmentStatus) ([]*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	var envs []*store.Environment
	for _, env := range s.environments {
		if env.Status == status {
			envs = append(envs, lo.ToPtr(*env))
		}
	}
	return envs, nil
}

func (s *Store) ListStuckEnvironments(_ context.Context, status store.EnvironmentStatus, cutoff time.Time) ([]*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	var envs []*store.Environment
	for _, env := range s.environments {
		updated := env.CreatedAt
		if env.UpdatedAt != nil {
			updated = *env.UpdatedAt
		}
		if env.Status == status && updated.Before(cutoff) {
			envs = append(envs, lo.ToPtr(*env))
		}
	}
	return envs, nil
}

func (s *Store) ListRecentlyFailedEnvironments(_ context.Context, cutoff time.Time) ([]*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	var envs []*store.Environment
	for _, env := range s.environments {
		updated := env.CreatedAt
		if env.UpdatedAt != nil {
			updated = *env.UpdatedAt
		}
		if env.Status == store.StatusFailed && updated.After(cutoff) {
			envs = append(envs, lo.ToPtr(*env))
		}
	}
	return envs, nil
}

func (s *Store) UpdateEnvironmentStatus(_ context.Context, id int64, status store.EnvironmentStatus, errorMessage string) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	env, ok := s.environments[id]
	if !ok {
		return nil, &errors.EnvironmentNotFoundError{ID: id}
	}
	if !store.CanTransition(env.Status, status) {
		return nil, &errors.InvalidTransitionError{From: string(env.Status), To: string(status)}
	}
	now := s.Clock.Now()
	env.Status = status
	env.UpdatedAt = &now
	if errorMessage != "" {
		env.ErrorMessage = &errorMessage
	}
	switch status {
	case store.StatusReady:
		env.LastDeployedAt = &now
	case store.StatusDestroyed:
		env.DestroyedAt = &now
	}
	return lo.ToPtr(*env), nil
}

func (s *Store) UpdateEnvironmentCommit(_ context.Context, id int64, commitSHA string) (*store.Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	env, ok := s.environments[id]
	if !ok {
		return nil, &errors.EnvironmentNotFoundError{ID: id}
	}
	if !store.CanTransition(env.Status, store.StatusUpdating) {
		return nil, &errors.InvalidTransitionError{From: string(env.Status), To: string(store.StatusUpdating)}
	}
	now := s.Clock.Now()
	env.CommitSHA = commitSHA
	env.Status = store.StatusUpdating
	env.UpdatedAt = &now
	return lo.ToPtr(*env), nil
}

func (s *Store) DeleteDestroyedEnvironmentsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return 0, err
	}
	var deleted int64
	for id, env := range s.environments {
		if env.Status == store.StatusDestroyed && env.DestroyedAt != nil && env.DestroyedAt.Before(cutoff) {
			delete(s.environments, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *Store) CreateDeployment(_ context.Context, environmentID int64, commitSHA, commitMessage string) (*store.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	s.nextID++
	deployment := &store.Deployment{
		ID:            s.nextID,
		EnvironmentID: environmentID,
		CommitSHA:     commitSHA,
		CommitMessage: optional(commitMessage),
		Status:        store.DeploymentQueued,
		CreatedAt:     s.Clock.Now(),
	}
	s.deployments[deployment.ID] = deployment
	return lo.ToPtr(*deployment), nil
}

func (s *Store) GetLatestDeployment(_ context.Context, environmentID int64) (*store.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	var latest *store.Deployment
	for _, deployment := range s.deployments {
		if deployment.EnvironmentID != environmentID {
			continue
		}
		if latest == nil || deployment.ID > latest.ID {
			latest = deployment
		}
	}
	if latest == nil {
		return nil, nil
	}
	return lo.ToPtr(*latest), nil
}

func (s *Store) UpdateDeploymentStatus(_ context.Context, id int64, status store.DeploymentStatus, update store.DeploymentUpdate) (*store.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeError(); err != nil {
		return nil, err
	}
	deployment, ok := s.deployments[id]
	if !ok {
		return nil, fmt.Errorf("deployment %d not found", id)
	}
	if store.IsTerminalDeploymentStatus(deployment.Status) {
		return nil, fmt.Errorf("deployment %d already %s", id, deployment.Status)
	}
	now := s.Clock.Now()
	deployment.Status = status
	deployment.UpdatedAt = &now
	if status == store.DeploymentInProgress && deployment.StartedAt == nil {
		deployment.StartedAt = &now
	}
	if store.IsTerminalDeploymentStatus(status) {
		deployment.CompletedAt = &now
	}
	if update.ErrorMessage != nil {
		deployment.ErrorMessage = update.ErrorMessage
	}
	if update.Logs != nil {
		deployment.Logs = update.Logs
	}
	if update.AIGenerated != nil {
		deployment.AIGenerated = *update.AIGenerated
	}
	if update.AIPlan != nil {
		deployment.AIPlan = update.AIPlan
	}
	if update.AIFallbackReason != nil {
		deployment.AIFallbackReason = update.AIFallbackReason
	}
	return lo.ToPtr(*deployment), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
