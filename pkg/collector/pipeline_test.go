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

package collector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"testing"

	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/model"
)

// nopConnector backs nopDB: its connections hand out transactions whose
// Commit and Rollback do nothing, so the pipeline gets a real *sql.Tx to
// finish without any database behind it.
type nopConnector struct{}

func (nopConnector) Connect(context.Context) (driver.Conn, error) { return nopConn{}, nil }
func (nopConnector) Driver() driver.Driver                        { return nopDriver{} }

type nopDriver struct{}

func (nopDriver) Open(string) (driver.Conn, error) { return nopConn{}, nil }

type nopConn struct{}

func (nopConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("nopConn: statements not supported")
}
func (nopConn) Close() error              { return nil }
func (nopConn) Begin() (driver.Tx, error) { return nopTx{}, nil }

type nopTx struct{}

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }

var nopDB = sql.OpenDB(nopConnector{})

// fakeStore is an in-memory Store double. BeginTx returns a transaction on
// nopDB and the Upsert methods ignore it, since fakeStore has no
// driver-level transaction semantics to exercise — tests that need real
// transactional behavior (rollback, concurrent write serialization) live in
// package store against a real SQLite file instead.
type fakeStore struct {
	mu           sync.Mutex
	knownOwners  map[string]model.OwnerKind
	owners       []model.Owner
	repositories []model.RepositorySummary
	failUpsert   bool
}

func newFakeStore(known map[string]model.OwnerKind) *fakeStore {
	if known == nil {
		known = make(map[string]model.OwnerKind)
	}
	return &fakeStore{knownOwners: known}
}

func (f *fakeStore) KnownOwnerLogins(ctx context.Context) (map[string]model.OwnerKind, error) {
	out := make(map[string]model.OwnerKind, len(f.knownOwners))
	for k, v := range f.knownOwners {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) BeginTx(ctx context.Context) (*sql.Tx, error) { return nopDB.BeginTx(ctx, nil) }

func (f *fakeStore) UpsertOwner(ctx context.Context, tx *sql.Tx, owner model.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, owner)
	return nil
}

func (f *fakeStore) UpsertRepository(ctx context.Context, tx *sql.Tx, repo model.RepositorySummary) error {
	if f.failUpsert {
		return fmt.Errorf("fakeStore: forced upsert failure")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repositories = append(f.repositories, repo)
	return nil
}

func (f *fakeStore) RepositoryExists(ctx context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.repositories {
		if r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

// fakeOwnerFetcher returns a canned profile per login and counts fetches.
type fakeOwnerFetcher struct {
	mu     sync.Mutex
	fetchN map[string]int
	fail   map[string]bool
}

func newFakeOwnerFetcher() *fakeOwnerFetcher {
	return &fakeOwnerFetcher{fetchN: make(map[string]int), fail: make(map[string]bool)}
}

func (f *fakeOwnerFetcher) FetchOwnerProfile(ctx context.Context, summary model.OwnerSummary) (model.OwnerProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchN[summary.Login]++
	if f.fail[summary.Login] {
		return model.OwnerProfile{}, fmt.Errorf("fakeOwnerFetcher: forced failure for %q", summary.Login)
	}
	return model.OwnerProfile{Kind: summary.Kind, Profile: model.Profile{Login: summary.Login, ID: int64(len(summary.Login))}}, nil
}

func repoSummary(id int64, owner string, kind model.OwnerKind) model.RepositorySummary {
	return model.RepositorySummary{
		ID: id, Name: fmt.Sprintf("repo%d", id), FullName: fmt.Sprintf("%s/repo%d", owner, id),
		Owner: model.OwnerSummary{Login: owner, Kind: kind},
	}
}

func TestPipeline_ProcessPage_FetchesEachDistinctOwnerOnce(t *testing.T) {
	t.Parallel()

	store := newFakeStore(nil)
	fetcher := newFakeOwnerFetcher()
	p, err := New(context.Background(), store, fetcher, &metrics.Counters{})
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	items := []model.RepositorySummary{
		repoSummary(1, "octocat", model.OwnerKindUser),
		repoSummary(2, "octocat", model.OwnerKindUser),
		repoSummary(3, "octo-org", model.OwnerKindOrganization),
	}
	if err := p.ProcessPage(context.Background(), 1, items); err != nil {
		t.Fatalf("ProcessPage() unexpected err: %v", err)
	}

	if n := fetcher.fetchN["octocat"]; n != 1 {
		t.Errorf("fetchN[octocat] = %d, want 1", n)
	}
	if n := fetcher.fetchN["octo-org"]; n != 1 {
		t.Errorf("fetchN[octo-org] = %d, want 1", n)
	}
	if len(store.repositories) != 3 {
		t.Errorf("persisted %d repositories, want 3", len(store.repositories))
	}
	if len(store.owners) != 2 {
		t.Errorf("persisted %d owners, want 2", len(store.owners))
	}
}

func TestPipeline_ProcessPage_SkipsKnownOwner(t *testing.T) {
	t.Parallel()

	store := newFakeStore(map[string]model.OwnerKind{"octocat": model.OwnerKindUser})
	fetcher := newFakeOwnerFetcher()
	p, err := New(context.Background(), store, fetcher, nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	items := []model.RepositorySummary{repoSummary(1, "octocat", model.OwnerKindUser)}
	if err := p.ProcessPage(context.Background(), 1, items); err != nil {
		t.Fatalf("ProcessPage() unexpected err: %v", err)
	}

	if fetcher.fetchN["octocat"] != 0 {
		t.Errorf("fetchN[octocat] = %d, want 0 (already known)", fetcher.fetchN["octocat"])
	}
	if len(store.owners) != 0 {
		t.Errorf("persisted %d owners, want 0", len(store.owners))
	}
	if len(store.repositories) != 1 {
		t.Errorf("persisted %d repositories, want 1", len(store.repositories))
	}
}

func TestPipeline_ProcessPage_SkipsRepositoryBehindFailedOwnerFetch(t *testing.T) {
	t.Parallel()

	store := newFakeStore(nil)
	fetcher := newFakeOwnerFetcher()
	fetcher.fail["ghost"] = true
	p, err := New(context.Background(), store, fetcher, nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	items := []model.RepositorySummary{
		repoSummary(1, "ghost", model.OwnerKindUser),
		repoSummary(2, "octocat", model.OwnerKindUser),
	}
	if err := p.ProcessPage(context.Background(), 1, items); err != nil {
		t.Fatalf("ProcessPage() unexpected err: %v", err)
	}

	if len(store.repositories) != 1 || store.repositories[0].ID != 2 {
		t.Errorf("persisted repositories = %+v, want only repo 2", store.repositories)
	}
}

func TestPipeline_ProcessPage_CountsDuplicateOwnersAndRepositories(t *testing.T) {
	t.Parallel()

	store := newFakeStore(map[string]model.OwnerKind{"octocat": model.OwnerKindUser})
	fetcher := newFakeOwnerFetcher()
	m := &metrics.Counters{}
	p, err := New(context.Background(), store, fetcher, m)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	// repo 1 already persisted from a prior run; repo 2 is new but shares repo
	// 1's already-known owner.
	store.repositories = append(store.repositories, repoSummary(1, "octocat", model.OwnerKindUser))

	items := []model.RepositorySummary{
		repoSummary(1, "octocat", model.OwnerKindUser),
		repoSummary(2, "octocat", model.OwnerKindUser),
	}
	if err := p.ProcessPage(context.Background(), 1, items); err != nil {
		t.Fatalf("ProcessPage() unexpected err: %v", err)
	}

	snap := m.Snapshot()
	if snap.OwnersDuplicateInPage != 2 {
		t.Errorf("OwnersDuplicateInPage = %d, want 2 (owner already known for both repos)", snap.OwnersDuplicateInPage)
	}
	if snap.RepositoriesDuplicate != 1 {
		t.Errorf("RepositoriesDuplicate = %d, want 1 (only repo 1 pre-existed)", snap.RepositoriesDuplicate)
	}
}

func TestPipeline_ProcessPage_PageUpsertFailureReturnsError(t *testing.T) {
	t.Parallel()

	store := newFakeStore(nil)
	store.failUpsert = true
	fetcher := newFakeOwnerFetcher()
	p, err := New(context.Background(), store, fetcher, nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	items := []model.RepositorySummary{repoSummary(1, "octocat", model.OwnerKindUser)}
	if err := p.ProcessPage(context.Background(), 1, items); err == nil {
		t.Error("ProcessPage() got nil err, want error from forced upsert failure")
	}
}
