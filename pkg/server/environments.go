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
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"

	"github.com/ephemera-dev/ephemera/pkg/errors"
	"github.com/ephemera-dev/ephemera/pkg/lifecycle"
	"github.com/ephemera-dev/ephemera/pkg/store"
)

type createEnvironmentRequest struct {
	RepositoryFullName string `json:"repository_full_name"`
	RepositoryName     string `json:"repository_name"`
	PRNumber           int    `json:"pr_number"`
	PRTitle            string `json:"pr_title"`
	BranchName         string `json:"branch_name"`
	CommitSHA          string `json:"commit_sha"`
	InstallationID     int64  `json:"installation_id"`
	UserID             int64  `json:"user_id"`
	UserLogin          string `json:"user_login"`
	UserAvatarURL      string `json:"user_avatar_url,omitempty"`
}

type environmentResponse struct {
	ID                 int64      `json:"id"`
	RepositoryFullName string     `json:"repository_full_name"`
	RepositoryName     string     `json:"repository_name"`
	PRNumber           int        `json:"pr_number"`
	PRTitle            *string    `json:"pr_title"`
	BranchName         string     `json:"branch_name"`
	CommitSHA          string     `json:"commit_sha"`
	Namespace          string     `json:"namespace"`
	EnvironmentURL     *string    `json:"environment_url"`
	Status             string     `json:"status"`
	InstallationID     int64      `json:"installation_id"`
	OwnerID            int64      `json:"owner_id"`
	ErrorMessage       *string    `json:"error_message"`
	LastDeployedAt     *time.Time `json:"last_deployed_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at"`
	DestroyedAt        *time.Time `json:"destroyed_at"`
}

func toEnvironmentResponse(env *store.Environment) *environmentResponse {
	return &environmentResponse{
		ID:                 env.ID,
		RepositoryFullName: env.RepositoryFullName,
		RepositoryName:     env.RepositoryName,
		PRNumber:           env.PRNumber,
		PRTitle:            env.PRTitle,
		BranchName:         env.BranchName,
		CommitSHA:          env.CommitSHA,
		Namespace:          env.Namespace,
		EnvironmentURL:     env.EnvironmentURL,
		Status:             string(env.Status),
		InstallationID:     env.InstallationID,
		OwnerID:            env.OwnerID,
		ErrorMessage:       env.ErrorMessage,
		LastDeployedAt:     env.LastDeployedAt,
		CreatedAt:          env.CreatedAt,
		UpdatedAt:          env.UpdatedAt,
		DestroyedAt:        env.DestroyedAt,
	}
}

// handleCreateEnvironment creates an environment outside the webhook path,
// for callers like CI workflows. Idempotent on (repository, pr): a repeat
// request returns the existing environment.
func (s *Server) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	request := createEnvironmentRequest{}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.RepositoryFullName == "" || request.RepositoryName == "" || request.PRNumber <= 0 || request.CommitSHA == "" {
		writeError(w, http.StatusBadRequest, "repository_full_name, repository_name, pr_number and commit_sha are required")
		return
	}

	existing, err := s.store.GetEnvironmentByPR(r.Context(), request.RepositoryFullName, request.PRNumber)
	if err != nil {
		s.log.Errorw("failed to look up environment", "repository", request.RepositoryFullName, "pr", request.PRNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to look up environment")
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusOK, toEnvironmentResponse(existing))
		return
	}

	event := &lifecycle.PREvent{
		Action:         "opened",
		Number:         request.PRNumber,
		Title:          request.PRTitle,
		Branch:         request.BranchName,
		CommitSHA:      request.CommitSHA,
		RepoName:       request.RepositoryName,
		RepoFullName:   request.RepositoryFullName,
		InstallationID: request.InstallationID,
		UserID:         request.UserID,
		UserLogin:      request.UserLogin,
		UserAvatarURL:  request.UserAvatarURL,
	}
	if err := s.events.HandleEvent(r.Context(), event); err != nil {
		s.log.Errorw("failed to create environment", "repository", request.RepositoryFullName, "pr", request.PRNumber, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create environment")
		return
	}

	env, err := s.store.GetEnvironmentByPR(r.Context(), request.RepositoryFullName, request.PRNumber)
	if err != nil || env == nil {
		writeError(w, http.StatusInternalServerError, "failed to load created environment")
		return
	}
	writeJSON(w, http.StatusCreated, toEnvironmentResponse(env))
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	repository := r.URL.Query().Get("repository")
	activeOnly := r.URL.Query().Get("active_only") == "true"

	envs, err := s.store.ListEnvironments(r.Context(), repository, activeOnly)
	if err != nil {
		s.log.Errorw("failed to list environments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list environments")
		return
	}
	writeJSON(w, http.StatusOK, lo.Map(envs, func(env *store.Environment, _ int) *environmentResponse {
		return toEnvironmentResponse(env)
	}))
}

func (s *Server) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid environment id")
		return
	}
	env, err := s.store.GetEnvironmentByID(r.Context(), id)
	if err != nil {
		if errors.IsEnvironmentNotFound(err) {
			writeError(w, http.StatusNotFound, "environment not found")
			return
		}
		s.log.Errorw("failed to get environment", "environment-id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get environment")
		return
	}
	writeJSON(w, http.StatusOK, toEnvironmentResponse(env))
}

func (s *Server) handleGetEnvironmentByNamespace(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	env, err := s.store.GetEnvironmentByNamespace(r.Context(), namespace)
	if err != nil {
		s.log.Errorw("failed to get environment", "namespace", namespace, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get environment")
		return
	}
	if env == nil {
		writeError(w, http.StatusNotFound, "environment not found")
		return
	}
	writeJSON(w, http.StatusOK, toEnvironmentResponse(env))
}
