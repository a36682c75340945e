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
	"fmt"
	"strings"
	"sync"

	"github.com/ephemera-dev/ephemera/pkg/errors"
)

// Comment records one PostComment call.
type Comment struct {
	RepoFullName string
	PRNumber     int
	Body         string
}

// CommitStatus records one SetCommitStatus call.
type CommitStatus struct {
	RepoFullName string
	SHA          string
	State        string
	Description  string
	TargetURL    string
}

// SourceHost is an in-memory source-host driver that also serves repository
// files for the fetch path.
type SourceHost struct {
	mu sync.Mutex

	BaseDomain string

	CommentError error
	StatusError  error
	FetchError   error

	// Files maps repository path to content served by FetchFile.
	Files map[string][]byte

	Comments []Comment
	Statuses []CommitStatus
}

func NewSourceHost() *SourceHost {
	return &SourceHost{
		BaseDomain: "preview.example.com",
		Files:      map[string][]byte{},
	}
}

func (s *SourceHost) PostComment(_ context.Context, _ int64, repoFullName string, prNumber int, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommentError != nil {
		return s.CommentError
	}
	s.Comments = append(s.Comments, Comment{RepoFullName: repoFullName, PRNumber: prNumber, Body: body})
	return nil
}

func (s *SourceHost) SetCommitStatus(_ context.Context, _ int64, repoFullName, sha, state, description, targetURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.StatusError != nil {
		return s.StatusError
	}
	s.Statuses = append(s.Statuses, CommitStatus{
		RepoFullName: repoFullName, SHA: sha, State: state, Description: description, TargetURL: targetURL,
	})
	return nil
}

func (s *SourceHost) FetchFile(_ context.Context, _ int64, _ string, path, _ string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FetchError != nil {
		return nil, s.FetchError
	}
	content, ok := s.Files[path]
	if !ok {
		return nil, &errors.FileNotFoundError{Path: path}
	}
	return content, nil
}

func (s *SourceHost) EnvironmentURL(prNumber int, repositoryName string) string {
	slug := strings.ReplaceAll(strings.ToLower(repositoryName), "_", "-")
	return fmt.Sprintf("https://pr-%d-%s.%s", prNumber, slug, s.BaseDomain)
}
