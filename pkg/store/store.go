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

// Package store is the relational persistence adapter described in
// spec.md §3/§4.4. It's backed by SQLite via database/sql and a pure-Go
// driver (no CGO dependency — see DESIGN.md), but the Store interface it
// exposes to pkg/collector and pkg/enrich is engine-agnostic, per spec.md
// §1 ("a persistence layer is assumed; its schema is defined in §3 but its
// engine choice is not prescribed").
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/abcxyz/github-data-collector/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	login TEXT NOT NULL UNIQUE,
	name TEXT, email TEXT, company TEXT, blog TEXT, location TEXT, bio TEXT,
	twitter_username TEXT, avatar_url TEXT,
	public_repos INTEGER NOT NULL DEFAULT 0,
	public_gists INTEGER NOT NULL DEFAULT 0,
	followers INTEGER NOT NULL DEFAULT 0,
	following INTEGER NOT NULL DEFAULT 0,
	country_code TEXT, region TEXT,
	created_at DATETIME, updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS organizations (
	id INTEGER PRIMARY KEY,
	login TEXT NOT NULL UNIQUE,
	name TEXT, email TEXT, company TEXT, blog TEXT, location TEXT, bio TEXT,
	twitter_username TEXT, avatar_url TEXT,
	public_repos INTEGER NOT NULL DEFAULT 0,
	public_gists INTEGER NOT NULL DEFAULT 0,
	followers INTEGER NOT NULL DEFAULT 0,
	following INTEGER NOT NULL DEFAULT 0,
	public_members INTEGER NOT NULL DEFAULT 0,
	country_code TEXT, region TEXT,
	created_at DATETIME, updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL UNIQUE,
	owner_login TEXT NOT NULL,
	owner_kind TEXT NOT NULL,
	organization_login TEXT,
	description TEXT, homepage TEXT, language TEXT,
	private INTEGER NOT NULL DEFAULT 0,
	fork INTEGER NOT NULL DEFAULT 0,
	default_branch TEXT,
	size INTEGER NOT NULL DEFAULT 0,
	stargazers_count INTEGER NOT NULL DEFAULT 0,
	watchers_count INTEGER NOT NULL DEFAULT 0,
	forks_count INTEGER NOT NULL DEFAULT 0,
	open_issues_count INTEGER NOT NULL DEFAULT 0,
	contributors_count INTEGER,
	commits_count INTEGER,
	pull_requests_count INTEGER,
	created_at DATETIME, updated_at DATETIME, pushed_at DATETIME
);
`

// Store is the relational persistence adapter. All writes that must be
// atomic per spec.md §4.4/§4.5 ("owner-before-repository", "single
// transaction per GraphQL batch") use a *sql.Tx internally.
type Store struct {
	db *sql.DB
}

// Open creates (or attaches to) a SQLite database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn.

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: failed to close database: %w", err)
	}
	return nil
}
