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

	"github.com/ephemera-dev/ephemera/pkg/deploy"
)

// DeployCall records one Deploy invocation.
type DeployCall struct {
	InstallationID int64
	RepoFullName   string
	Namespace      string
	Ref            string
}

// WorkloadDeployer returns a canned deployment result.
type WorkloadDeployer struct {
	mu sync.Mutex

	Result      *deploy.Result
	DeployError error

	Calls []DeployCall
}

func NewWorkloadDeployer() *WorkloadDeployer {
	return &WorkloadDeployer{Result: &deploy.Result{Success: true}}
}

func (d *WorkloadDeployer) Deploy(_ context.Context, installationID int64, repoFullName, namespace, ref string) (*deploy.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, DeployCall{
		InstallationID: installationID, RepoFullName: repoFullName, Namespace: namespace, Ref: ref,
	})
	if d.DeployError != nil {
		return nil, d.DeployError
	}
	return d.Result, nil
}
