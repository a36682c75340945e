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

package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SchedulerConfig selects which periodic sweeps run. The stale sweep always
// runs; the destroyed-row purge and failed retry are opt-in.
type SchedulerConfig struct {
	// DestroyedRetentionDays purges DESTROYED rows older than this many days.
	// Zero disables the sweep.
	DestroyedRetentionDays int
	// FailedRetryHours re-enqueues environments that failed within this many
	// hours. Zero disables the sweep.
	FailedRetryHours int
}

// Scheduler periodically re-submits the reconciliation sweeps.
type Scheduler struct {
	scheduler *asynq.Scheduler
}

// NewScheduler registers the periodic sweep entries.
func NewScheduler(brokerURL string, config SchedulerConfig, log *zap.SugaredLogger) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url, %w", err)
	}
	schedulerLog := log.Named("scheduler")
	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: schedulerLog})

	if _, err := scheduler.Register("@every 1h",
		asynq.NewTask(TypeCleanupStale, nil),
		asynq.Queue(QueueCleanup)); err != nil {
		return nil, fmt.Errorf("registering stale cleanup, %w", err)
	}

	if config.DestroyedRetentionDays > 0 {
		payload, _ := json.Marshal(CleanupDestroyedPayload{Days: config.DestroyedRetentionDays})
		if _, err := scheduler.Register("@every 24h",
			asynq.NewTask(TypeCleanupDestroyed, payload),
			asynq.Queue(QueueCleanup)); err != nil {
			return nil, fmt.Errorf("registering destroyed cleanup, %w", err)
		}
	}
	if config.FailedRetryHours > 0 {
		payload, _ := json.Marshal(RetryFailedPayload{MaxAgeHours: config.FailedRetryHours})
		if _, err := scheduler.Register("@every 1h",
			asynq.NewTask(TypeRetryFailed, payload),
			asynq.Queue(QueueCleanup)); err != nil {
			return nil, fmt.Errorf("registering failed retry, %w", err)
		}
	}

	schedulerLog.Infow("registered periodic sweeps",
		"destroyed-retention-days", config.DestroyedRetentionDays,
		"failed-retry-hours", config.FailedRetryHours)
	return &Scheduler{scheduler: scheduler}, nil
}

// Run blocks serving the schedule until Shutdown.
func (s *Scheduler) Run() error {
	if err := s.scheduler.Run(); err != nil {
		return fmt.Errorf("running scheduler, %w", err)
	}
	return nil
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
