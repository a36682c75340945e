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

	"github.com/ephemera-dev/ephemera/pkg/providers/llm"
)

// GenerateCall records one Generate invocation.
type GenerateCall struct {
	System string
	User   string
}

// LLMProvider returns a canned response.
type LLMProvider struct {
	mu sync.Mutex

	Response      string
	GenerateError error

	Calls []GenerateCall
}

func NewLLMProvider(response string) *LLMProvider {
	return &LLMProvider{Response: response}
}

func (p *LLMProvider) Name() string { return "fake" }

func (p *LLMProvider) Generate(_ context.Context, system, user string) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, GenerateCall{System: system, User: user})
	if p.GenerateError != nil {
		return nil, p.GenerateError
	}
	return &llm.Response{Text: p.Response, Model: "fake-model"}, nil
}
