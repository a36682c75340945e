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

package fake

import (
	"context"
	"sync"
)

// UpdateJob records one SubmitUpdate call.
type UpdateJob struct {
	EnvironmentID int64
	CommitSHA     string
}

// DestroyJob records one SubmitDestroy call.
type DestroyJob struct {
	EnvironmentID int64
	Merged        bool
}

// JobSubmitter records enqueued work instead of talking to a broker.
type JobSubmitter struct {
	mu sync.Mutex

	SubmitError error

	ProvisionJobs []int64
	UpdateJobs    []UpdateJob
	DestroyJobs   []DestroyJob
}

func NewJobSubmitter() *JobSubmitter {
	return &JobSubmitter{}
}

func (j *JobSubmitter) SubmitProvision(_ context.Context, environmentID int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.SubmitError != nil {
		return j.SubmitError
	}
	j.ProvisionJobs = append(j.ProvisionJobs, environmentID)
	return nil
}

func (j *JobSubmitter) SubmitUpdate(_ context.Context, environmentID int64, commitSHA string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.SubmitError != nil {
		return j.SubmitError
	}
	j.UpdateJobs = append(j.UpdateJobs, UpdateJob{EnvironmentID: environmentID, CommitSHA: commitSHA})
	return nil
}

func (j *JobSubmitter) SubmitDestroy(_ context.Context, environmentID int64, merged bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.SubmitError != nil {
		return j.SubmitError
	}
	j.DestroyJobs = append(j.DestroyJobs, DestroyJob{EnvironmentID: environmentID, Merged: merged})
	return nil
}
