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

package server

import (
	"net/http"

	"github.com/google/go-github/v66/github"

	"github.com/ephemera-dev/ephemera/pkg/lifecycle"
	"github.com/ephemera-dev/ephemera/pkg/metrics"
)

// handleGithubWebhook verifies the HMAC signature, decodes the delivery and
// dispatches pull-request events. The response is synchronous; provisioning
// work is enqueued by the lifecycle controller.
func (s *Server) handleGithubWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, s.webhookSecret)
	if err != nil {
		s.log.Warnw("webhook signature validation failed", "error", err)
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}
	eventType := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)

	switch eventType {
	case "ping":
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case "pull_request":
	default:
		metrics.WebhookEventsTotal.WithLabelValues(eventType, "").Inc()
		s.log.Infow("ignoring webhook event", "event", eventType, "delivery-id", deliveryID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": eventType})
		return
	}

	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		s.log.Errorw("failed to parse webhook payload", "delivery-id", deliveryID, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "detail": "malformed payload"})
		return
	}
	prEvent, ok := parsed.(*github.PullRequestEvent)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored", "event": eventType})
		return
	}

	event := decodePullRequestEvent(prEvent)
	metrics.WebhookEventsTotal.WithLabelValues(eventType, event.Action).Inc()
	if err := s.events.HandleEvent(r.Context(), event); err != nil {
		s.log.Errorw("failed to handle pull request event",
			"repository", event.RepoFullName, "pr", event.Number, "action", event.Action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "accepted",
		"event":       eventType,
		"action":      event.Action,
		"pr":          event.Number,
		"delivery_id": deliveryID,
	})
}

func decodePullRequestEvent(event *github.PullRequestEvent) *lifecycle.PREvent {
	pr := event.GetPullRequest()
	return &lifecycle.PREvent{
		Action:         event.GetAction(),
		Number:         pr.GetNumber(),
		Title:          pr.GetTitle(),
		Branch:         pr.GetHead().GetRef(),
		CommitSHA:      pr.GetHead().GetSHA(),
		Merged:         pr.GetMerged(),
		RepoName:       event.GetRepo().GetName(),
		RepoFullName:   event.GetRepo().GetFullName(),
		InstallationID: event.GetInstallation().GetID(),
		UserID:         pr.GetUser().GetID(),
		UserLogin:      pr.GetUser().GetLogin(),
		UserAvatarURL:  pr.GetUser().GetAvatarURL(),
	}
}
