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

package deploy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/ephemera-dev/ephemera/pkg/errors"
)

// wrapperKeys are the object keys JSON-mode providers wrap the manifest array
// in despite instructions.
var wrapperKeys = []string{"manifests", "resources", "items"}

// parseManifests decodes a model response into a manifest list. Markdown code
// fences are stripped, a bare array and the known wrapper-object forms are
// accepted, and as a last resort the first [...] span is tried.
func parseManifests(responseText string) ([]any, error) {
	text := strings.TrimSpace(responseText)
	if strings.HasPrefix(text, "```") {
		if _, rest, found := strings.Cut(text, "\n"); found {
			text = rest
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		start := strings.Index(text, "[")
		end := strings.LastIndex(text, "]")
		if start == -1 || end <= start {
			return nil, &errors.ParseError{Reason: fmt.Sprintf("%s; response starts with: %s", err, truncate(text, 200))}
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
			return nil, &errors.ParseError{Reason: fmt.Sprintf("%s; response starts with: %s", err, truncate(text, 200))}
		}
	}

	if obj, ok := parsed.(map[string]any); ok {
		key, found := lo.Find(wrapperKeys, func(key string) bool {
			_, isList := obj[key].([]any)
			return isList
		})
		if !found {
			return nil, &errors.ParseError{Reason: fmt.Sprintf("response is a JSON object without a recognized array key, keys: %v", lo.Keys(obj))}
		}
		parsed = obj[key]
	}

	list, ok := parsed.([]any)
	if !ok {
		return nil, &errors.ParseError{Reason: fmt.Sprintf("response is not a JSON array, got %T", parsed)}
	}
	return list, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
