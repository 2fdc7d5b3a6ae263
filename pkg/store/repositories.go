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
	"errors"
	"fmt"

	"github.com/abcxyz/github-data-collector/pkg/model"
)

// RepoRef is a lightweight repository identifier, used to drive the
// enrichment backlog without loading full rows.
type RepoRef struct {
	ID         int64
	OwnerLogin string
	Name       string
}

// BeginTx starts a transaction for a caller's owner or repository writes.
// The collector commits each owner in its own transaction before any of its
// repositories are written, per spec.md §4.4's ordering invariant.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	return tx, nil
}

// UpsertRepository inserts or updates a repository row within tx. Search
// fields are always overwritten; the three enrichment aggregate columns are
// left untouched by this statement so a re-collection pass (which only ever
// sees RepositorySummary, never enrichment data) can't clobber a prior
// enrichment result.
func (s *Store) UpsertRepository(ctx context.Context, tx *sql.Tx, repo model.RepositorySummary) error {
	orgLogin := ""
	if repo.Owner.Kind == model.OwnerKindOrganization {
		orgLogin = repo.Owner.Login
	}

	const q = `
INSERT INTO repositories (id, name, full_name, owner_login, owner_kind, organization_login,
	description, homepage, language, private, fork, default_branch, size,
	stargazers_count, watchers_count, forks_count, open_issues_count,
	created_at, updated_at, pushed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name, full_name=excluded.full_name, owner_login=excluded.owner_login,
	owner_kind=excluded.owner_kind, organization_login=excluded.organization_login,
	description=excluded.description, homepage=excluded.homepage, language=excluded.language,
	private=excluded.private, fork=excluded.fork, default_branch=excluded.default_branch, size=excluded.size,
	stargazers_count=excluded.stargazers_count, watchers_count=excluded.watchers_count,
	forks_count=excluded.forks_count, open_issues_count=excluded.open_issues_count,
	updated_at=excluded.updated_at, pushed_at=excluded.pushed_at
`
	_, err := tx.ExecContext(ctx, q, repo.ID, repo.Name, repo.FullName, repo.Owner.Login, string(repo.Owner.Kind), orgLogin,
		repo.Description, repo.Homepage, repo.Language, repo.Private, repo.Fork, repo.DefaultBranch, repo.Size,
		repo.StargazersCount, repo.WatchersCount, repo.ForksCount, repo.OpenIssuesCount,
		repo.CreatedAt, repo.UpdatedAt, repo.PushedAt)
	if err != nil {
		return fmt.Errorf("store: failed to upsert repository %q: %w", repo.FullName, err)
	}
	return nil
}

// RepositoryExists reports whether id has already been persisted, letting
// the collector count "new vs. already-known" per spec.md §4.4.
func (s *Store) RepositoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM repositories WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: failed to check repository existence: %w", err)
	}
	return exists, nil
}

// RepositoriesNeedingEnrichment returns repositories whose enrichment
// aggregates are still NULL, ordered by id for deterministic batching. When
// force is true, every repository is returned regardless of prior
// enrichment, per spec.md §4.5's --force flag.
func (s *Store) RepositoriesNeedingEnrichment(ctx context.Context, force bool) ([]RepoRef, error) {
	q := `SELECT id, owner_login, name FROM repositories WHERE contributors_count IS NULL ORDER BY id`
	if force {
		q = `SELECT id, owner_login, name FROM repositories ORDER BY id`
	}

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query enrichment backlog: %w", err)
	}
	defer rows.Close()

	var out []RepoRef
	for rows.Next() {
		var r RepoRef
		if err := rows.Scan(&r.ID, &r.OwnerLogin, &r.Name); err != nil {
			return nil, fmt.Errorf("store: failed to scan enrichment backlog row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyEnrichment writes a full batch of GraphQL-derived aggregates in one
// transaction, per spec.md §4.5's "a batch either fully commits or fully
// rolls back" invariant.
func (s *Store) ApplyEnrichment(ctx context.Context, deltas []model.EnrichmentDelta) (err error) {
	if len(deltas) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	const q = `UPDATE repositories SET contributors_count = ?, commits_count = ?, pull_requests_count = ? WHERE id = ?`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("store: failed to prepare enrichment update: %w", err)
	}
	defer stmt.Close()

	for _, d := range deltas {
		if _, execErr := stmt.ExecContext(ctx, d.ContributorsCount, d.CommitsCount, d.PullRequestsCount, d.DatabaseID); execErr != nil {
			err = fmt.Errorf("store: failed to apply enrichment for repository %d: %w", d.DatabaseID, execErr)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("store: failed to commit enrichment batch: %w", err)
		return err
	}
	return nil
}

// GetRepository loads the full persisted row for id, including any
// enrichment aggregates applied so far, or ErrNotFound if no such repository
// has been collected.
func (s *Store) GetRepository(ctx context.Context, id int64) (model.Repository, error) {
	const q = `
SELECT id, name, full_name, owner_login, owner_kind, organization_login,
	description, homepage, language, private, fork, default_branch, size,
	stargazers_count, watchers_count, forks_count, open_issues_count,
	contributors_count, commits_count, pull_requests_count,
	created_at, updated_at, pushed_at
FROM repositories WHERE id = ?`

	var repo model.Repository
	var orgLogin sql.NullString
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&repo.ID, &repo.Name, &repo.FullName, &repo.OwnerLogin, &repo.OwnerKind, &orgLogin,
		&repo.Description, &repo.Homepage, &repo.Language, &repo.Private, &repo.Fork, &repo.DefaultBranch, &repo.Size,
		&repo.StargazersCount, &repo.WatchersCount, &repo.ForksCount, &repo.OpenIssuesCount,
		&repo.ContributorsCount, &repo.CommitsCount, &repo.PullRequestsCount,
		&repo.CreatedAt, &repo.UpdatedAt, &repo.PushedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Repository{}, ErrNotFound
	}
	if err != nil {
		return model.Repository{}, fmt.Errorf("store: failed to load repository %d: %w", id, err)
	}
	repo.OrganizationLogin = orgLogin.String
	return repo, nil
}

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("store: not found")
