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

package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/ephemera-dev/ephemera/pkg/deploy"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

const commentFooter = "---\n*Powered by Ephemera*"

func readyComment(env *store.Environment, result *deploy.Result) string {
	var b strings.Builder
	b.WriteString("## Ephemera Environment Ready\n\n")
	b.WriteString("Your preview environment has been created!\n\n")
	if env.EnvironmentURL != nil {
		fmt.Fprintf(&b, "**Environment URL**: %s\n", *env.EnvironmentURL)
	}
	fmt.Fprintf(&b, "**Namespace**: `%s`\n", env.Namespace)
	b.WriteString("**Status**: Ready\n")

	if result != nil {
		if len(result.ServiceURLs) > 0 {
			b.WriteString("\n**Service URLs**:\n")
			for name, url := range result.ServiceURLs {
				fmt.Fprintf(&b, "- %s: %s\n", name, url)
			}
		}
		if result.AIPlan != "" {
			b.WriteString("\n")
			b.WriteString(result.AIPlan)
		}
		if result.AIFallbackReason != "" && result.AIFallbackReason != "AI deployment disabled" {
			fmt.Fprintf(&b, "\n*AI synthesis fell back to the deterministic converter: %s*\n", result.AIFallbackReason)
		}
	}
	b.WriteString("\n")
	b.WriteString(commentFooter)
	return b.String()
}

func failedComment(namespace, errorMessage string) string {
	var b strings.Builder
	b.WriteString("## Ephemera Environment Failed\n\n")
	b.WriteString("Failed to create preview environment.\n\n")
	fmt.Fprintf(&b, "**Namespace**: `%s`\n", namespace)
	b.WriteString("**Status**: Failed\n")
	if errorMessage != "" {
		fmt.Fprintf(&b, "**Error**: %s\n", errorMessage)
	}
	b.WriteString("\nPlease check logs or contact support.\n\n")
	b.WriteString(commentFooter)
	return b.String()
}

func cleanupComment(namespace string, merged bool) string {
	action := "closed"
	if merged {
		action = "merged"
	}
	var b strings.Builder
	b.WriteString("## Environment Cleanup Complete\n\n")
	fmt.Fprintf(&b, "PR was %s. Preview environment has been destroyed.\n\n", action)
	fmt.Fprintf(&b, "**Namespace**: `%s`\n", namespace)
	b.WriteString("**Status**: Destroyed\n")
	b.WriteString("\nAll resources have been cleaned up.\n\n")
	b.WriteString(commentFooter)
	return b.String()
}

// postComment is best-effort: failures log and are swallowed.
func (c *Controller) postComment(ctx context.Context, env *store.Environment, body string) {
	if err := c.sourcehost.PostComment(ctx, env.InstallationID, env.RepositoryFullName, env.PRNumber, body); err != nil {
		c.log.Warnw("failed to post comment", "repository", env.RepositoryFullName, "pr", env.PRNumber, "error", err)
	}
}

// setCommitStatus is best-effort: failures log and are swallowed.
func (c *Controller) setCommitStatus(ctx context.Context, env *store.Environment, sha, state, description, targetURL string) {
	if err := c.sourcehost.SetCommitStatus(ctx, env.InstallationID, env.RepositoryFullName, sha, state, description, targetURL); err != nil {
		c.log.Warnw("failed to set commit status", "repository", env.RepositoryFullName, "sha", sha, "error", err)
	}
}
