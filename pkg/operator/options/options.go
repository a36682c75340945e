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

package options

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"

	"github.com/ephemera-dev/ephemera/pkg/utils/env"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet
	// Surfaces
	HTTPPort     int
	ServeHTTP    bool
	RunWorkers   bool
	RunScheduler bool
	// Persistence and queue
	DatabaseURL       string
	BrokerURL         string
	WorkerConcurrency int
	// Source host
	GithubAppID          int64
	GithubPrivateKeyPath string
	GithubWebhookSecret  string
	// Cluster
	KubeconfigPath string
	BaseDomain     string
	// AI synthesis
	AIProvider     string
	AnthropicKey   string
	AnthropicModel string
	OpenAIKey      string
	OpenAIModel    string
	GeminiKey      string
	GeminiModel    string
	AICacheTTL     time.Duration
	// Sweeps
	DestroyedRetentionDays int
	FailedRetryHours       int
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("ephemera", flag.ContinueOnError)
	opts.FlagSet = f

	f.IntVar(&opts.HTTPPort, "http-port", env.WithDefaultInt("HTTP_PORT", 8000), "The port the webhook and API endpoints bind to")
	f.BoolVar(&opts.ServeHTTP, "serve-http", env.WithDefaultBool("SERVE_HTTP", true), "Serve the webhook and API endpoints")
	f.BoolVar(&opts.RunWorkers, "run-workers", env.WithDefaultBool("RUN_WORKERS", true), "Run the background worker pool")
	f.BoolVar(&opts.RunScheduler, "run-scheduler", env.WithDefaultBool("RUN_SCHEDULER", true), "Run the periodic sweep scheduler")

	f.StringVar(&opts.DatabaseURL, "database-url", env.WithDefaultString("DATABASE_URL", ""), "The postgres connection URL")
	f.StringVar(&opts.BrokerURL, "broker-url", env.WithDefaultString("BROKER_URL", "redis://localhost:6379/0"), "The redis connection URL used by the job queue")
	f.IntVar(&opts.WorkerConcurrency, "worker-concurrency", env.WithDefaultInt("WORKER_CONCURRENCY", 10), "The number of concurrent background workers")

	f.Int64Var(&opts.GithubAppID, "github-app-id", env.WithDefaultInt64("GITHUB_APP_ID", 0), "The GitHub App ID used for installation authentication")
	f.StringVar(&opts.GithubPrivateKeyPath, "github-private-key-path", env.WithDefaultString("GITHUB_PRIVATE_KEY_PATH", ""), "Path to the GitHub App private key PEM file")
	f.StringVar(&opts.GithubWebhookSecret, "github-webhook-secret", env.WithDefaultString("GITHUB_WEBHOOK_SECRET", ""), "The shared secret used to verify webhook signatures")

	f.StringVar(&opts.KubeconfigPath, "kubeconfig", env.WithDefaultString("KUBECONFIG", ""), "Path to a kubeconfig file; in-cluster config is used when empty")
	f.StringVar(&opts.BaseDomain, "base-domain", env.WithDefaultString("BASE_DOMAIN", "preview.example.com"), "The DNS suffix under which preview environments are exposed")

	f.StringVar(&opts.AIProvider, "ai-provider", env.WithDefaultString("AI_PROVIDER", "none"), "The AI provider used for manifest synthesis: anthropic, openai, gemini or none")
	f.StringVar(&opts.AnthropicKey, "anthropic-api-key", env.WithDefaultString("ANTHROPIC_API_KEY", ""), "The Anthropic API key")
	f.StringVar(&opts.AnthropicModel, "anthropic-model", env.WithDefaultString("ANTHROPIC_MODEL", ""), "Overrides the default Anthropic model")
	f.StringVar(&opts.OpenAIKey, "openai-api-key", env.WithDefaultString("OPENAI_API_KEY", ""), "The OpenAI API key")
	f.StringVar(&opts.OpenAIModel, "openai-model", env.WithDefaultString("OPENAI_MODEL", ""), "Overrides the default OpenAI model")
	f.StringVar(&opts.GeminiKey, "gemini-api-key", env.WithDefaultString("GEMINI_API_KEY", ""), "The Gemini API key")
	f.StringVar(&opts.GeminiModel, "gemini-model", env.WithDefaultString("GEMINI_MODEL", ""), "Overrides the default Gemini model")
	f.DurationVar(&opts.AICacheTTL, "ai-cache-ttl", env.WithDefaultDuration("AI_CACHE_TTL", time.Hour), "How long generated manifest plans are cached per compose file and namespace")

	f.IntVar(&opts.DestroyedRetentionDays, "destroyed-retention-days", env.WithDefaultInt("DESTROYED_RETENTION_DAYS", 0), "Purge destroyed environment rows older than this many days; 0 disables the purge")
	f.IntVar(&opts.FailedRetryHours, "failed-retry-hours", env.WithDefaultInt("FAILED_RETRY_HOURS", 0), "Re-enqueue provisioning for environments that failed within this many hours; 0 disables retries")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	if o.DatabaseURL == "" {
		err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required"))
	}
	if (o.RunWorkers || o.RunScheduler) && o.BrokerURL == "" {
		err = multierr.Append(err, fmt.Errorf("BROKER_URL is required when workers or the scheduler run"))
	}
	if o.ServeHTTP && o.GithubWebhookSecret == "" {
		err = multierr.Append(err, fmt.Errorf("GITHUB_WEBHOOK_SECRET is required when serving webhooks"))
	}
	switch o.AIProvider {
	case "", "none", "anthropic", "openai", "gemini":
	default:
		err = multierr.Append(err, fmt.Errorf("ai-provider may only be anthropic, openai, gemini or none"))
	}
	return err
}
