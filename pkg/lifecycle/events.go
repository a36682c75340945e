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

package lifecycle

import (
	"context"
	"fmt"

	"github.com/ephemera-dev/ephemera/pkg/store"
)

// HandleEvent dispatches a pull-request action. Unrecognized actions are
// ignored.
func (c *Controller) HandleEvent(ctx context.Context, event *PREvent) error {
	switch event.Action {
	case "opened", "reopened":
		return c.HandleOpened(ctx, event)
	case "synchronize":
		return c.HandleSynchronize(ctx, event)
	case "closed":
		return c.HandleClosed(ctx, event)
	default:
		c.log.Infow("ignoring pull request action", "action", event.Action, "repository", event.RepoFullName, "pr", event.Number)
		return nil
	}
}

// HandleOpened creates the environment for a newly opened (or reopened) pull
// request and enqueues provisioning. Idempotent on (repository, pr): a second
// delivery finds the existing row and returns early.
func (c *Controller) HandleOpened(ctx context.Context, event *PREvent) error {
	existing, err := c.store.GetEnvironmentByPR(ctx, event.RepoFullName, event.Number)
	if err != nil {
		return err
	}
	if existing != nil {
		c.log.Infow("environment already exists, skipping creation",
			"repository", event.RepoFullName, "pr", event.Number, "namespace", existing.Namespace)
		return nil
	}

	owner, err := c.store.FindOrCreateUser(ctx, event.UserID, event.UserLogin, nil, optional(event.UserAvatarURL))
	if err != nil {
		return err
	}
	env, err := c.store.CreateEnvironment(ctx, store.CreateEnvironmentInput{
		RepositoryFullName: event.RepoFullName,
		RepositoryName:     event.RepoName,
		PRNumber:           event.Number,
		PRTitle:            event.Title,
		BranchName:         event.Branch,
		CommitSHA:          event.CommitSHA,
		InstallationID:     event.InstallationID,
		OwnerID:            owner.ID,
		EnvironmentURL:     c.sourcehost.EnvironmentURL(event.Number, event.RepoName),
	})
	if err != nil {
		return err
	}
	if _, err := c.store.CreateDeployment(ctx, env.ID, event.CommitSHA, ""); err != nil {
		return err
	}
	c.log.Infow("created environment", "repository", event.RepoFullName, "pr", event.Number, "namespace", env.Namespace)

	if err := c.jobs.SubmitProvision(ctx, env.ID); err != nil {
		return fmt.Errorf("enqueueing provisioning for environment %d, %w", env.ID, err)
	}
	c.setCommitStatus(ctx, env, event.CommitSHA, "pending", "Creating preview environment", "")
	return nil
}

// HandleSynchronize records the new head commit and enqueues an update. A
// synchronize for a pull request without an environment is ignored.
func (c *Controller) HandleSynchronize(ctx context.Context, event *PREvent) error {
	env, err := c.store.GetEnvironmentByPR(ctx, event.RepoFullName, event.Number)
	if err != nil {
		return err
	}
	if env == nil {
		c.log.Warnw("no environment for synchronize, skipping", "repository", event.RepoFullName, "pr", event.Number)
		return nil
	}

	env, err = c.store.UpdateEnvironmentCommit(ctx, env.ID, event.CommitSHA)
	if err != nil {
		return err
	}
	if _, err := c.store.CreateDeployment(ctx, env.ID, event.CommitSHA, ""); err != nil {
		return err
	}
	c.log.Infow("environment updating for new commit",
		"repository", event.RepoFullName, "pr", event.Number, "commit", event.CommitSHA)
	return c.jobs.SubmitUpdate(ctx, env.ID, event.CommitSHA)
}

// HandleClosed marks the environment for destruction and enqueues teardown.
func (c *Controller) HandleClosed(ctx context.Context, event *PREvent) error {
	env, err := c.store.GetEnvironmentByPR(ctx, event.RepoFullName, event.Number)
	if err != nil {
		return err
	}
	if env == nil {
		c.log.Warnw("no environment for closed pull request, skipping cleanup",
			"repository", event.RepoFullName, "pr", event.Number)
		return nil
	}

	if _, err := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusDestroying, ""); err != nil {
		return err
	}
	c.log.Infow("environment marked for destruction",
		"repository", event.RepoFullName, "pr", event.Number, "namespace", env.Namespace, "merged", event.Merged)
	return c.jobs.SubmitDestroy(ctx, env.ID, event.Merged)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
