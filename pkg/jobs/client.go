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
)

// Client enqueues tasks. Enqueueing is synchronous and at-least-once.
type Client struct {
	client *asynq.Client
	log    *zap.SugaredLogger
}

// NewClient connects to the broker named by a redis URI.
func NewClient(brokerURL string, log *zap.SugaredLogger) (*Client, error) {
	opt, err := asynq.ParseRedisURI(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing broker url, %w", err)
	}
	return &Client{client: asynq.NewClient(opt), log: log.Named("jobs")}, nil
}

// Close releases the broker connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// SubmitProvision enqueues environment provisioning.
func (c *Client) SubmitProvision(ctx context.Context, environmentID int64) error {
	return c.enqueue(ctx, TypeProvisionEnvironment, ProvisionPayload{EnvironmentID: environmentID}, QueueEnvironment)
}

// SubmitUpdate enqueues an environment update for a new commit.
func (c *Client) SubmitUpdate(ctx context.Context, environmentID int64, commitSHA string) error {
	return c.enqueue(ctx, TypeUpdateEnvironment, UpdatePayload{EnvironmentID: environmentID, CommitSHA: commitSHA}, QueueEnvironment)
}

// SubmitDestroy enqueues environment destruction.
func (c *Client) SubmitDestroy(ctx context.Context, environmentID int64, merged bool) error {
	return c.enqueue(ctx, TypeDestroyEnvironment, DestroyPayload{EnvironmentID: environmentID, PRMerged: merged}, QueueEnvironment)
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload any, queue string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload, %w", taskType, err)
	}
	info, err := c.client.EnqueueContext(ctx, asynq.NewTask(taskType, raw),
		asynq.Queue(queue),
		asynq.Timeout(taskTimeout),
		asynq.Deadline(c.deadline()),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(resultRetention),
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s, %w", taskType, err)
	}
	c.log.Infow("enqueued task", "type", taskType, "task-id", info.ID, "queue", info.Queue)
	return nil
}

func (c *Client) deadline() time.Time {
	return time.Now().Add(taskDeadline)
}
