// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/abcxyz/github-data-collector/pkg/model"
)

// KnownOwnerLogins preloads the set of owner logins already persisted, keyed
// by login, so the collector can decide in-memory whether an owner still
// needs fetching — per spec.md §4.4's "known owners set, loaded once at
// startup" requirement.
func (s *Store) KnownOwnerLogins(ctx context.Context) (map[string]model.OwnerKind, error) {
	known := make(map[string]model.OwnerKind)

	rows, err := s.db.QueryContext(ctx, `SELECT login FROM users`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query known users: %w", err)
	}
	if err := scanLogins(rows, known, model.OwnerKindUser); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT login FROM organizations`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query known organizations: %w", err)
	}
	if err := scanLogins(rows, known, model.OwnerKindOrganization); err != nil {
		return nil, err
	}

	return known, nil
}

func scanLogins(rows *sql.Rows, dest map[string]model.OwnerKind, kind model.OwnerKind) error {
	defer rows.Close()
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return fmt.Errorf("store: failed to scan login: %w", err)
		}
		dest[login] = kind
	}
	return rows.Err()
}

// UpsertOwner inserts or updates a User or Organization profile row within
// tx. Profile fields are always overwritten (latest-write-wins); there are
// no enrichment aggregates on an owner row to preserve.
func (s *Store) UpsertOwner(ctx context.Context, tx *sql.Tx, owner model.Owner) error {
	switch o := owner.(type) {
	case *model.User:
		return upsertUser(ctx, tx, o)
	case *model.Organization:
		return upsertOrganization(ctx, tx, o)
	default:
		return fmt.Errorf("store: unknown owner variant %T", owner)
	}
}

func upsertUser(ctx context.Context, tx *sql.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, login, name, email, company, blog, location, bio, twitter_username, avatar_url,
	public_repos, public_gists, followers, following, country_code, region, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	login=excluded.login, name=excluded.name, email=excluded.email, company=excluded.company,
	blog=excluded.blog, location=excluded.location, bio=excluded.bio,
	twitter_username=excluded.twitter_username, avatar_url=excluded.avatar_url,
	public_repos=excluded.public_repos, public_gists=excluded.public_gists,
	followers=excluded.followers, following=excluded.following,
	country_code=excluded.country_code, region=excluded.region, updated_at=excluded.updated_at
`
	_, err := tx.ExecContext(ctx, q, u.ID, u.Login, u.Name, u.Email, u.Company, u.Blog, u.Location, u.Bio,
		u.TwitterUsername, u.AvatarURL, u.PublicRepos, u.PublicGists, u.Followers, u.Following,
		u.CountryCode, u.Region, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to upsert user %q: %w", u.Login, err)
	}
	return nil
}

func upsertOrganization(ctx context.Context, tx *sql.Tx, o *model.Organization) error {
	const q = `
INSERT INTO organizations (id, login, name, email, company, blog, location, bio, twitter_username, avatar_url,
	public_repos, public_gists, followers, following, public_members, country_code, region, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	login=excluded.login, name=excluded.name, email=excluded.email, company=excluded.company,
	blog=excluded.blog, location=excluded.location, bio=excluded.bio,
	twitter_username=excluded.twitter_username, avatar_url=excluded.avatar_url,
	public_repos=excluded.public_repos, public_gists=excluded.public_gists,
	followers=excluded.followers, following=excluded.following, public_members=excluded.public_members,
	country_code=excluded.country_code, region=excluded.region, updated_at=excluded.updated_at
`
	_, err := tx.ExecContext(ctx, q, o.ID, o.Login, o.Name, o.Email, o.Company, o.Blog, o.Location, o.Bio,
		o.TwitterUsername, o.AvatarURL, o.PublicRepos, o.PublicGists, o.Followers, o.Following, o.PublicMembers,
		o.CountryCode, o.Region, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: failed to upsert organization %q: %w", o.Login, err)
	}
	return nil
}
