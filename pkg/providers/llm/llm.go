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

// Package llm abstracts the model providers that can synthesize manifests.
// Absence of a provider is a valid configuration: the synthesis pipeline
// short-circuits to the deterministic path.
package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	// maxOutputTokens bounds every generation request.
	maxOutputTokens = 8192
	// requestTimeout bounds every provider call.
	requestTimeout = 60 * time.Second

	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultOpenAIModel    = "gpt-4o"
	defaultGeminiModel    = "gemini-2.0-flash"
)

// Response is a single model completion with its token accounting.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Provider is one configured model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, user string) (*Response, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider        string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIModel     string
	GeminiAPIKey    string
	GeminiModel     string
}

// New constructs the configured provider. Returns (nil, nil) when no provider
// is configured or its API key is missing, which disables AI synthesis.
func New(config Config, log *zap.SugaredLogger) Provider {
	switch config.Provider {
	case "anthropic":
		if config.AnthropicAPIKey == "" {
			log.Warn("anthropic provider selected but no api key configured, ai synthesis disabled")
			return nil
		}
		return newAnthropic(config.AnthropicAPIKey, orDefault(config.AnthropicModel, defaultAnthropicModel))
	case "openai":
		if config.OpenAIAPIKey == "" {
			log.Warn("openai provider selected but no api key configured, ai synthesis disabled")
			return nil
		}
		return newOpenAI(config.OpenAIAPIKey, orDefault(config.OpenAIModel, defaultOpenAIModel))
	case "gemini":
		if config.GeminiAPIKey == "" {
			log.Warn("gemini provider selected but no api key configured, ai synthesis disabled")
			return nil
		}
		return newGemini(config.GeminiAPIKey, orDefault(config.GeminiModel, defaultGeminiModel))
	case "", "none":
		return nil
	default:
		log.Warnw("unknown ai provider, ai synthesis disabled", "provider", config.Provider)
		return nil
	}
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
