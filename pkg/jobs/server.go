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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/metrics"
)

// Handler is what the worker pool drives: the lifecycle controller's task
// bodies and sweeps.
type Handler interface {
	Provision(ctx context.Context, environmentID int64) error
	Update(ctx context.Context, environmentID int64, commitSHA string) error
	Destroy(ctx context.Context, environmentID int64, merged bool) error
	CleanupStale(ctx context.Context) error
	CleanupDestroyed(ctx context.Context, days int) error
	RetryFailed(ctx context.Context, maxAgeHours int) error
}

// Server pulls tasks from the broker and dispatches them to the handler.
// Workers acknowledge late, so a worker dying mid-task gets it redelivered.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer builds the worker pool. The environment queue gets the bulk of
// the concurrency; the cleanup queue runs one sweep at a time.
func NewServer(brokerURL string, concurrency int, handler Handler, log *zap.SugaredLogger) (*Server, error) {
	opt, err := asynq.ParseRedisURI(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url, %w", err)
	}
	workerLog := log.Named("worker")
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueEnvironment: 5,
			QueueCleanup:     1,
		},
		Logger: workerLog,
	})

	mux := asynq.NewServeMux()
	mux.Use(instrument)
	mux.HandleFunc(TypeProvisionEnvironment, func(ctx context.Context, task *asynq.Task) error {
		payload := ProvisionPayload{}
		if err := decodePayload(task, &payload); err != nil {
			return err
		}
		return terminalSkip(handler.Provision(ctx, payload.EnvironmentID))
	})
	mux.HandleFunc(TypeUpdateEnvironment, func(ctx context.Context, task *asynq.Task) error {
		payload := UpdatePayload{}
		if err := decodePayload(task, &payload); err != nil {
			return err
		}
		return terminalSkip(handler.Update(ctx, payload.EnvironmentID, payload.CommitSHA))
	})
	mux.HandleFunc(TypeDestroyEnvironment, func(ctx context.Context, task *asynq.Task) error {
		payload := DestroyPayload{}
		if err := decodePayload(task, &payload); err != nil {
			return err
		}
		return terminalSkip(handler.Destroy(ctx, payload.EnvironmentID, payload.PRMerged))
	})
	mux.HandleFunc(TypeCleanupStale, func(ctx context.Context, _ *asynq.Task) error {
		return handler.CleanupStale(ctx)
	})
	mux.HandleFunc(TypeCleanupDestroyed, func(ctx context.Context, task *asynq.Task) error {
		payload := CleanupDestroyedPayload{}
		if err := decodePayload(task, &payload); err != nil {
			return err
		}
		return handler.CleanupDestroyed(ctx, payload.Days)
	})
	mux.HandleFunc(TypeRetryFailed, func(ctx context.Context, task *asynq.Task) error {
		payload := RetryFailedPayload{}
		if err := decodePayload(task, &payload); err != nil {
			return err
		}
		return handler.RetryFailed(ctx, payload.MaxAgeHours)
	})

	return &Server{server: server, mux: mux}, nil
}

// Run blocks serving tasks until Shutdown.
func (s *Server) Run() error {
	if err := s.server.Run(s.mux); err != nil {
		return fmt.Errorf("running worker server, %w", err)
	}
	return nil
}

// Shutdown drains in-flight tasks and stops the pool.
func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func instrument(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		start := time.Now()
		err := next.ProcessTask(ctx, task)
		metrics.TaskDurationSeconds.WithLabelValues(task.Type()).Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		metrics.TasksTotal.WithLabelValues(task.Type(), outcome).Inc()
		return err
	})
}

func decodePayload(task *asynq.Task, payload any) error {
	if err := json.Unmarshal(task.Payload(), payload); err != nil {
		return fmt.Errorf("decoding %s payload, %v: %w", task.Type(), err, asynq.SkipRetry)
	}
	return nil
}

// terminalSkip marks permanently-failing tasks as non-retryable: redelivering
// a task for a row that no longer exists can never succeed.
func terminalSkip(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsEnvironmentNotFound(err) || errors.IsInvalidTransition(err) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
