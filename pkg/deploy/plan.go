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
	"fmt"
	"strings"
)

// planKindOrder fixes the resource listing order in the plan summary.
var planKindOrder = []string{"PersistentVolumeClaim", "ConfigMap", "Secret", "Deployment", "Service", "Ingress"}

// buildPlanSummary renders the Markdown deployment plan posted on the pull
// request and stored on the deployment record.
func buildPlanSummary(manifests []map[string]any, repoContext *repoContext, providerName string, warnings []string, cached bool) string {
	lines := []string{"### AI Deployment Plan", ""}

	if providerName != "" {
		lines = append(lines, fmt.Sprintf("**Provider:** %s", providerName), "")
	}
	if cached {
		lines = append(lines, "*Using cached deployment plan.*", "")
	}

	var analyzed []string
	if repoContext.composeFilename != "" {
		analyzed = append(analyzed, repoContext.composeFilename)
	}
	for _, file := range repoContext.additionalFiles {
		analyzed = append(analyzed, file.path)
	}
	if len(analyzed) > 0 {
		lines = append(lines, fmt.Sprintf("**Analyzed files:** %s", strings.Join(analyzed, ", ")), "")
	}

	byKind := map[string][]string{}
	for _, manifest := range manifests {
		kind, _ := manifest["kind"].(string)
		if kind == "" {
			kind = "Unknown"
		}
		name := "unknown"
		if metadata, ok := manifest["metadata"].(map[string]any); ok {
			if n, ok := metadata["name"].(string); ok && n != "" {
				name = n
			}
		}
		byKind[kind] = append(byKind[kind], name)
	}
	lines = append(lines, "**Generated resources:**")
	for _, kind := range planKindOrder {
		if names := byKind[kind]; len(names) > 0 {
			lines = append(lines, fmt.Sprintf("- %s: %s", kind, strings.Join(names, ", ")))
		}
	}
	lines = append(lines, "")

	var hosts []string
	for _, manifest := range manifests {
		if kind, _ := manifest["kind"].(string); kind != "Ingress" {
			continue
		}
		spec, _ := manifest["spec"].(map[string]any)
		rules, _ := spec["rules"].([]any)
		for _, raw := range rules {
			if rule, ok := raw.(map[string]any); ok {
				if host, ok := rule["host"].(string); ok && host != "" {
					hosts = append(hosts, host)
				}
			}
		}
	}
	if len(hosts) > 0 {
		lines = append(lines, "**Service URLs:**")
		for _, host := range hosts {
			lines = append(lines, fmt.Sprintf("- https://%s", host))
		}
		lines = append(lines, "")
	}

	if len(warnings) > 0 {
		lines = append(lines, "**Warnings:**")
		for _, warning := range warnings {
			lines = append(lines, fmt.Sprintf("- %s", warning))
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
