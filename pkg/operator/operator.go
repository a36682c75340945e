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

// Package operator wires options into the running control plane: the store,
// the providers, the lifecycle controller and the serving surfaces.
package operator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/ephemera-dev/ephemera/pkg/deploy"
	"github.com/ephemera-dev/ephemera/pkg/jobs"
	"github.com/ephemera-dev/ephemera/pkg/lifecycle"
	"github.com/ephemera-dev/ephemera/pkg/operator/options"
	"github.com/ephemera-dev/ephemera/pkg/providers/cluster"
	"github.com/ephemera-dev/ephemera/pkg/providers/llm"
	"github.com/ephemera-dev/ephemera/pkg/providers/sourcehost"
	"github.com/ephemera-dev/ephemera/pkg/server"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

const shutdownGracePeriod = 15 * time.Second

type Operator struct {
	Store      *store.Store
	Controller *lifecycle.Controller
	Server     *server.Server
	Workers    *jobs.Server
	Scheduler  *jobs.Scheduler

	options *options.Options
	jobs    *jobs.Client
	log     *zap.SugaredLogger
}

// New wires the full control plane from options. Components that are not
// configured (no kubeconfig, no GitHub App, no AI provider) come up in
// disabled mode rather than failing startup.
func New(ctx context.Context, opts *options.Options, log *zap.SugaredLogger) (*Operator, error) {
	st, err := store.New(ctx, opts.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("initializing store, %w", err)
	}

	sourcehostProvider, err := sourcehost.NewProvider(opts.GithubAppID, opts.GithubPrivateKeyPath, opts.BaseDomain, log)
	if err != nil {
		return nil, fmt.Errorf("initializing source host provider, %w", err)
	}
	clusterProvider := cluster.NewProvider(cluster.NewClient(opts.KubeconfigPath, log), log)
	llmProvider := llm.New(llm.Config{
		Provider:        opts.AIProvider,
		AnthropicAPIKey: opts.AnthropicKey,
		AnthropicModel:  opts.AnthropicModel,
		OpenAIAPIKey:    opts.OpenAIKey,
		OpenAIModel:     opts.OpenAIModel,
		GeminiAPIKey:    opts.GeminiKey,
		GeminiModel:     opts.GeminiModel,
	}, log)

	deployer := deploy.NewDeployer(clusterProvider, sourcehostProvider, opts.BaseDomain, log)
	aiDeployer := deploy.NewAIDeployer(deployer, clusterProvider, sourcehostProvider, llmProvider,
		opts.BaseDomain, opts.AICacheTTL, log)

	jobsClient, err := jobs.NewClient(opts.BrokerURL, log)
	if err != nil {
		return nil, fmt.Errorf("initializing job client, %w", err)
	}
	controller := lifecycle.NewController(st, clusterProvider, sourcehostProvider, aiDeployer, jobsClient, clock.RealClock{}, log)

	op := &Operator{
		Store:      st,
		Controller: controller,
		options:    opts,
		jobs:       jobsClient,
		log:        log.Named("operator"),
	}
	if opts.ServeHTTP {
		op.Server = server.New(opts.HTTPPort, st, controller, opts.GithubWebhookSecret, log)
	}
	if opts.RunWorkers {
		op.Workers, err = jobs.NewServer(opts.BrokerURL, opts.WorkerConcurrency, controller, log)
		if err != nil {
			return nil, fmt.Errorf("initializing worker pool, %w", err)
		}
	}
	if opts.RunScheduler {
		op.Scheduler, err = jobs.NewScheduler(opts.BrokerURL, jobs.SchedulerConfig{
			DestroyedRetentionDays: opts.DestroyedRetentionDays,
			FailedRetryHours:       opts.FailedRetryHours,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("initializing scheduler, %w", err)
		}
	}
	return op, nil
}

// Start runs the enabled surfaces until the context is cancelled, then shuts
// them down in order: stop intake first, drain workers, close the store.
func (o *Operator) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	if o.Server != nil {
		group.Go(func() error { return o.Server.ListenAndServe() })
	}
	if o.Workers != nil {
		group.Go(func() error { return o.Workers.Run() })
	}
	if o.Scheduler != nil {
		group.Go(func() error { return o.Scheduler.Run() })
	}
	group.Go(func() error {
		<-ctx.Done()
		o.shutdown()
		return nil
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("running operator, %w", err)
	}
	return nil
}

func (o *Operator) shutdown() {
	o.log.Info("shutting down")
	if o.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := o.Server.Shutdown(shutdownCtx); err != nil {
			o.log.Errorw("failed to shut down http server", "error", err)
		}
	}
	if o.Scheduler != nil {
		o.Scheduler.Shutdown()
	}
	if o.Workers != nil {
		o.Workers.Shutdown()
	}
	if err := o.jobs.Close(); err != nil {
		o.log.Errorw("failed to close job client", "error", err)
	}
	if err := o.Store.Close(); err != nil {
		o.log.Errorw("failed to close store", "error", err)
	}
}
