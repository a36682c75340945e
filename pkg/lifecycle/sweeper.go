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
	"time"

	"go.uber.org/multierr"

	"github.com/ephemera-dev/ephemera/pkg/store"
)

// CleanupStale reconciles environments that have drifted from cluster reality:
// environments stuck mid-transition past the stale threshold, and READY
// environments whose namespace has disappeared out from under them.
func (c *Controller) CleanupStale(ctx context.Context) error {
	cutoff := c.clock.Now().Add(-staleThreshold)
	return multierr.Combine(
		c.reclaimStuckProvisioning(ctx, cutoff),
		c.reclaimStuckDestroying(ctx, cutoff),
		c.reclaimOrphanedReady(ctx),
	)
}

func (c *Controller) reclaimStuckProvisioning(ctx context.Context, cutoff time.Time) error {
	envs, err := c.store.ListStuckEnvironments(ctx, store.StatusProvisioning, cutoff)
	if err != nil {
		return fmt.Errorf("listing stuck provisioning environments, %w", err)
	}
	var errs error
	for _, env := range envs {
		c.log.Warnw("reclaiming environment stuck in provisioning", "environment-id", env.ID, "namespace", env.Namespace)
		if err := c.cluster.DeleteNamespace(ctx, env.Namespace); err != nil {
			c.log.Warnw("failed to delete namespace for stuck environment", "namespace", env.Namespace, "error", err)
		}
		if _, err := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusFailed, "Environment stuck in provisioning state"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failing stuck environment %d, %w", env.ID, err))
		}
	}
	return errs
}

func (c *Controller) reclaimStuckDestroying(ctx context.Context, cutoff time.Time) error {
	envs, err := c.store.ListStuckEnvironments(ctx, store.StatusDestroying, cutoff)
	if err != nil {
		return fmt.Errorf("listing stuck destroying environments, %w", err)
	}
	var errs error
	for _, env := range envs {
		c.log.Warnw("reclaiming environment stuck in destroying", "environment-id", env.ID, "namespace", env.Namespace)
		if err := c.cluster.DeleteNamespace(ctx, env.Namespace); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deleting namespace %q, %w", env.Namespace, err))
			continue
		}
		if _, err := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusDestroyed, ""); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("finalizing stuck environment %d, %w", env.ID, err))
		}
	}
	return errs
}

func (c *Controller) reclaimOrphanedReady(ctx context.Context) error {
	envs, err := c.store.ListEnvironmentsByStatus(ctx, store.StatusReady)
	if err != nil {
		return fmt.Errorf("listing ready environments, %w", err)
	}
	var errs error
	for _, env := range envs {
		exists, err := c.cluster.NamespaceExists(ctx, env.Namespace)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("checking namespace %q, %w", env.Namespace, err))
			continue
		}
		if exists {
			continue
		}
		c.log.Warnw("namespace missing for ready environment", "environment-id", env.ID, "namespace", env.Namespace)
		if _, err := c.store.UpdateEnvironmentStatus(ctx, env.ID, store.StatusFailed, "Namespace no longer exists"); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failing orphaned environment %d, %w", env.ID, err))
		}
	}
	return errs
}

// CleanupDestroyed purges DESTROYED rows older than the retention window.
func (c *Controller) CleanupDestroyed(ctx context.Context, days int) error {
	cutoff := c.clock.Now().AddDate(0, 0, -days)
	deleted, err := c.store.DeleteDestroyedEnvironmentsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging destroyed environments, %w", err)
	}
	if deleted > 0 {
		c.log.Infow("purged destroyed environments", "count", deleted, "cutoff", cutoff)
	}
	return nil
}

// RetryFailed re-enqueues provisioning for environments that failed recently.
// FAILED to PROVISIONING is a legal transition, so the task body takes over
// from there.
func (c *Controller) RetryFailed(ctx context.Context, maxAgeHours int) error {
	cutoff := c.clock.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	envs, err := c.store.ListRecentlyFailedEnvironments(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("listing recently failed environments, %w", err)
	}
	var errs error
	for _, env := range envs {
		c.log.Infow("retrying failed environment", "environment-id", env.ID, "namespace", env.Namespace)
		if err := c.jobs.SubmitProvision(ctx, env.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("re-enqueueing environment %d, %w", env.ID, err))
		}
	}
	return errs
}
