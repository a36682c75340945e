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
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ephemera-dev/ephemera/pkg/deploy"
	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

// Provision creates the namespace, quota and workloads for an environment and
// moves it to READY. Re-execution is safe: namespace creation is idempotent
// and the status transition guards squash duplicates.
func (c *Controller) Provision(ctx context.Context, environmentID int64) error {
	env, err := c.store.GetEnvironmentByID(ctx, environmentID)
	if err != nil {
		return err
	}
	env, err = c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusProvisioning, "")
	if err != nil {
		return err
	}
	deployment, err := c.store.GetLatestDeployment(ctx, env.ID)
	if err != nil {
		return err
	}
	if deployment != nil {
		if _, err := c.store.UpdateDeploymentStatus(ctx, deployment.ID, store.DeploymentInProgress, store.DeploymentUpdate{}); err != nil {
			return err
		}
	}

	labels := map[string]string{
		"app":            "ephemera",
		"pr-number":      strconv.Itoa(env.PRNumber),
		"repository":     env.RepositoryName,
		"environment-id": strconv.FormatInt(env.ID, 10),
	}
	if err := c.cluster.EnsureNamespace(ctx, env.Namespace, labels); err != nil {
		return c.failProvision(ctx, env, deployment, fmt.Sprintf("Failed to create Kubernetes namespace: %s", err), err)
	}
	if err := c.cluster.EnsureResourceQuota(ctx, env.Namespace, quotaCPU, quotaMemory, quotaPods); err != nil {
		return c.failProvision(ctx, env, deployment, fmt.Sprintf("Failed to create resource quota: %s", err), err)
	}

	// Workload synthesis is best-effort: a failure here is recorded on the
	// deployment record, never on the environment.
	result := c.deployWorkloads(ctx, env, deployment)

	env, err = c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusReady, "")
	if err != nil {
		return err
	}
	c.log.Infow("environment provisioned", "environment-id", env.ID, "namespace", env.Namespace)

	targetURL := lo.FromPtr(env.EnvironmentURL)
	c.setCommitStatus(ctx, env, env.CommitSHA, "success", "Preview environment ready", targetURL)
	c.postComment(ctx, env, readyComment(env, result))
	return nil
}

func (c *Controller) failProvision(ctx context.Context, env *store.Environment, deployment *store.Deployment, message string, cause error) error {
	if _, err := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusFailed, message); err != nil {
		c.log.Errorw("failed to record provisioning failure", "environment-id", env.ID, "error", err)
	}
	if deployment != nil {
		if _, err := c.store.UpdateDeploymentStatus(ctx, deployment.ID, store.DeploymentFailed, store.DeploymentUpdate{
			ErrorMessage: &message,
		}); err != nil {
			c.log.Errorw("failed to record deployment failure", "deployment-id", deployment.ID, "error", err)
		}
	}
	c.setCommitStatus(ctx, env, env.CommitSHA, "failure", "Failed to create environment", "")
	c.postComment(ctx, env, failedComment(env.Namespace, message))
	return fmt.Errorf("provisioning environment %d, %w", env.ID, cause)
}

// deployWorkloads runs the synthesis pipeline and records the outcome on the
// deployment record. Returns the result for the PR comment, or nil when the
// repository has no workloads to deploy.
func (c *Controller) deployWorkloads(ctx context.Context, env *store.Environment, deployment *store.Deployment) *deploy.Result {
	if env.InstallationID == 0 {
		c.completeDeployment(ctx, deployment, store.DeploymentSuccess, store.DeploymentUpdate{
			Logs: lo.ToPtr("no source host credentials; environment provisioned without workloads"),
		})
		return nil
	}

	result, err := c.deployer.Deploy(ctx, env.InstallationID, env.RepositoryFullName, env.Namespace, env.CommitSHA)
	if err != nil {
		if errors.IsComposeNotFound(err) {
			c.log.Infow("no compose file, environment provisioned without workloads",
				"environment-id", env.ID, "repository", env.RepositoryFullName)
			c.completeDeployment(ctx, deployment, store.DeploymentSuccess, store.DeploymentUpdate{
				Logs: lo.ToPtr("no compose file found; environment provisioned without workloads"),
			})
			return nil
		}
		c.log.Errorw("workload deployment failed", "environment-id", env.ID, "error", err)
		c.completeDeployment(ctx, deployment, store.DeploymentFailed, store.DeploymentUpdate{
			ErrorMessage: lo.ToPtr(err.Error()),
		})
		return nil
	}

	update := store.DeploymentUpdate{
		AIGenerated: &result.AIGenerated,
		Logs:        lo.ToPtr(fmt.Sprintf("applied %d manifests; services: %s", result.AppliedCount, strings.Join(result.Services, ", "))),
	}
	if result.AIPlan != "" {
		update.AIPlan = &result.AIPlan
	}
	if result.AIFallbackReason != "" {
		update.AIFallbackReason = &result.AIFallbackReason
	}
	status := store.DeploymentSuccess
	if !result.Success {
		status = store.DeploymentFailed
		update.ErrorMessage = optional(result.Error)
	}
	c.completeDeployment(ctx, deployment, status, update)
	return result
}

func (c *Controller) completeDeployment(ctx context.Context, deployment *store.Deployment, status store.DeploymentStatus, update store.DeploymentUpdate) {
	if deployment == nil {
		return
	}
	if _, err := c.store.UpdateDeploymentStatus(ctx, deployment.ID, status, update); err != nil {
		c.log.Errorw("failed to update deployment record", "deployment-id", deployment.ID, "error", err)
	}
}

// Update verifies the namespace still exists for a new commit and reasserts
// READY. Workloads are not re-synthesized: only the first provisioning applies
// manifests.
func (c *Controller) Update(ctx context.Context, environmentID int64, commitSHA string) error {
	env, err := c.store.GetEnvironmentByID(ctx, environmentID)
	if err != nil {
		return err
	}
	exists, err := c.cluster.NamespaceExists(ctx, env.Namespace)
	if err != nil {
		return fmt.Errorf("updating environment %d, %w", env.ID, err)
	}

	deployment, err := c.store.GetLatestDeployment(ctx, env.ID)
	if err != nil {
		return err
	}

	if !exists {
		if _, err := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusFailed, "Namespace no longer exists"); err != nil {
			return err
		}
		c.completeDeployment(ctx, deployment, store.DeploymentFailed, store.DeploymentUpdate{
			ErrorMessage: lo.ToPtr("Namespace no longer exists"),
		})
		c.setCommitStatus(ctx, env, commitSHA, "failure", "Environment namespace not found", "")
		c.log.Errorw("namespace missing for update", "environment-id", env.ID, "namespace", env.Namespace)
		return nil
	}

	env, err = c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusReady, "")
	if err != nil {
		return err
	}
	c.completeDeployment(ctx, deployment, store.DeploymentSuccess, store.DeploymentUpdate{})
	c.setCommitStatus(ctx, env, commitSHA, "success", "Environment ready for new commits", lo.FromPtr(env.EnvironmentURL))
	c.log.Infow("environment ready for new commit", "environment-id", env.ID, "commit", commitSHA)
	return nil
}

// Destroy deletes the namespace and marks the environment DESTROYED.
func (c *Controller) Destroy(ctx context.Context, environmentID int64, merged bool) error {
	env, err := c.store.GetEnvironmentByID(ctx, environmentID)
	if err != nil {
		return err
	}
	env, err = c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusDestroying, "")
	if err != nil {
		return err
	}

	if err := c.cluster.DeleteNamespace(ctx, env.Namespace); err != nil {
		message := fmt.Sprintf("Failed to delete Kubernetes namespace: %s", err)
		if _, updateErr := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusFailed, message); updateErr != nil {
			c.log.Errorw("failed to record destruction failure", "environment-id", env.ID, "error", updateErr)
		}
		return fmt.Errorf("destroying environment %d, %w", env.ID, err)
	}

	env, err = c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusDestroyed, "")
	if err != nil {
		return err
	}
	c.log.Infow("environment destroyed", "environment-id", env.ID, "namespace", env.Namespace, "merged", merged)
	c.postComment(ctx, env, cleanupComment(env.Namespace, merged))
	return nil
}
