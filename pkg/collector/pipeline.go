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

// Package collector implements the owner-deduplicating repository pipeline
// from spec.md §4.4: for every repository a search page returns, it resolves
// the owning User or Organization exactly once (tracked in an in-memory
// known-owners set seeded from the store at startup), persists the owner
// ahead of the repository, and upserts the repository itself.
package collector

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/pkg/logging"
)

// Store is the persistence surface the pipeline depends on. It's satisfied
// by *store.Store; defined here (rather than in package store) so tests can
// substitute a fake, following the Datastore-interface-in-the-consuming-
// package convention this repo's collection pipelines use throughout.
type Store interface {
	KnownOwnerLogins(ctx context.Context) (map[string]model.OwnerKind, error)
	BeginTx(ctx context.Context) (*sql.Tx, error)
	UpsertOwner(ctx context.Context, tx *sql.Tx, owner model.Owner) error
	UpsertRepository(ctx context.Context, tx *sql.Tx, repo model.RepositorySummary) error
	RepositoryExists(ctx context.Context, id int64) (bool, error)
}

// OwnerFetcher resolves a sparse owner reference into a full profile. It's
// satisfied by *githubapi.Client.
type OwnerFetcher interface {
	FetchOwnerProfile(ctx context.Context, summary model.OwnerSummary) (model.OwnerProfile, error)
}

// Pipeline is the owner-deduplicating repository ingestion engine.
type Pipeline struct {
	store   Store
	owners  OwnerFetcher
	metrics *metrics.Counters

	mu sync.Mutex
	// known tracks owners already persisted. A plain map, not a Bloom filter —
	// the latter is only worth it once this set no longer fits comfortably in
	// memory (spec.md §9).
	known map[string]model.OwnerKind
}

// New constructs a Pipeline, preloading the known-owners set from store so
// owners already persisted by a prior run are never re-fetched.
func New(ctx context.Context, store Store, owners OwnerFetcher, m *metrics.Counters) (*Pipeline, error) {
	known, err := store.KnownOwnerLogins(ctx)
	if err != nil {
		return nil, fmt.Errorf("collector: failed to preload known owners: %w", err)
	}
	return &Pipeline{store: store, owners: owners, metrics: m, known: known}, nil
}

// ProcessPage resolves owners and persists every repository in items. It's
// the onPage callback handed to [search.Driver.Paginate] in the
// single-worker run mode; RunConcurrent in concurrent.go composes the same
// per-repository logic under a dispatcher/worker/writer split.
func (p *Pipeline) ProcessPage(ctx context.Context, page int, items []model.RepositorySummary) error {
	persisted := p.resolveOwners(ctx, items)
	if len(persisted) == 0 {
		return nil
	}
	return p.writeRepositories(ctx, persisted)
}

// resolveOwners ensures every distinct owner in items is fetched and
// persisted, and returns the subset of items whose owner resolved
// successfully — repositories behind a failed owner fetch are skipped and
// logged, per spec.md §4.4's failure policy. Exposed (lower-case, package-
// internal) so RunConcurrent can run this network-bound step on a worker
// while leaving the repository write itself to the dedicated writer
// goroutine.
func (p *Pipeline) resolveOwners(ctx context.Context, items []model.RepositorySummary) []model.RepositorySummary {
	var persisted []model.RepositorySummary
	for _, repo := range items {
		if err := p.ensureOwner(ctx, repo.Owner); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "collector: skipping repository, owner fetch failed",
				"repository", repo.FullName, "owner", repo.Owner.Login, "error", err)
			continue
		}
		persisted = append(persisted, repo)
	}
	return persisted
}

// ensureOwner fetches and persists summary's owner profile if it isn't
// already known, serialized under p.mu so two repositories on the same page
// sharing a brand-new owner never trigger a duplicate fetch. Per spec.md
// §4.4's ordering invariant, the owner transaction commits before this
// function returns, guaranteeing it's visible to the repository write that
// follows.
func (p *Pipeline) ensureOwner(ctx context.Context, summary model.OwnerSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.known[summary.Login]; ok {
		if p.metrics != nil {
			p.metrics.AddOwnersDuplicateInPage(1)
		}
		return nil
	}

	profile, err := p.owners.FetchOwnerProfile(ctx, summary)
	if err != nil {
		return fmt.Errorf("collector: failed to fetch owner %q: %w", summary.Login, err)
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := p.store.UpsertOwner(ctx, tx, profile.ToOwner()); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("collector: failed to commit owner %q: %w", summary.Login, err)
	}

	p.known[summary.Login] = profile.Kind
	if p.metrics != nil {
		p.metrics.AddOwnersFetched(1)
	}
	return nil
}

// writeRepositories upserts repos in a single transaction — a page either
// fully persists or, on a storage error, rolls back entirely so a retried
// page never observes a partial write. It also classifies each repository as
// new or already-known (spec.md §4.4's "new vs. duplicate" progress split)
// before the upsert changes that answer.
func (p *Pipeline) writeRepositories(ctx context.Context, repos []model.RepositorySummary) (err error) {
	var duplicates int64
	for _, repo := range repos {
		exists, existsErr := p.store.RepositoryExists(ctx, repo.ID)
		if existsErr != nil {
			return fmt.Errorf("collector: failed to check repository %q: %w", repo.FullName, existsErr)
		}
		if exists {
			duplicates++
		}
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, repo := range repos {
		if err = p.store.UpsertRepository(ctx, tx, repo); err != nil {
			return fmt.Errorf("collector: failed to upsert repository %q: %w", repo.FullName, err)
		}
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("collector: failed to commit repository page: %w", err)
		return err
	}

	if p.metrics != nil {
		p.metrics.AddRepositoriesCollected(int64(len(repos)))
		if duplicates > 0 {
			p.metrics.AddRepositoriesDuplicate(duplicates)
		}
	}
	return nil
}
