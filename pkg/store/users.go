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

package store

import (
	"context"
	"fmt"
)

// FindOrCreateUser looks up a user by source-host numeric id, creating the row
// on first sighting and refreshing mutable fields on every subsequent one.
func (s *Store) FindOrCreateUser(ctx context.Context, githubID int64, login string, email, avatarURL *string) (*User, error) {
	user := &User{}
	err := s.db.GetContext(ctx, user, `
		INSERT INTO users (github_id, github_login, email, avatar_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (github_id) DO UPDATE SET
			github_login = EXCLUDED.github_login,
			email = COALESCE(EXCLUDED.email, users.email),
			avatar_url = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
			updated_at = now()
		RETURNING *`,
		githubID, login, email, avatarURL)
	if err != nil {
		return nil, fmt.Errorf("upserting user %q, %w", login, err)
	}
	return user, nil
}

// GetUserByGithubID returns the user with the given source-host id, or nil
// when none exists.
func (s *Store) GetUserByGithubID(ctx context.Context, githubID int64) (*User, error) {
	user := &User{}
	err := s.db.GetContext(ctx, user, `SELECT * FROM users WHERE github_id = $1`, githubID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting user %d, %w", githubID, err)
	}
	return user, nil
}
