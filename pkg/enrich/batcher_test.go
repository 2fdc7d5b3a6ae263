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

package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/abcxyz/github-data-collector/pkg/checkpoint"
	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/github-data-collector/pkg/store"
	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
)

type fakeStore struct {
	backlog []store.RepoRef
	applied []model.EnrichmentDelta
}

func (f *fakeStore) RepositoriesNeedingEnrichment(ctx context.Context, force bool) ([]store.RepoRef, error) {
	return f.backlog, nil
}

func (f *fakeStore) ApplyEnrichment(ctx context.Context, deltas []model.EnrichmentDelta) error {
	f.applied = append(f.applied, deltas...)
	return nil
}

// newGraphQLServer replies to every request with a databaseId derived from
// the requesting variables (owner/name pair -> id via idFor), so the test
// can assert the mapping round-trips correctly end to end.
func newGraphQLServer(t *testing.T, idFor map[string]int64, missing map[string]bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req graphQLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("server: failed to decode request: %v", err)
		}

		data := make(map[string]*repoNode)
		for i := 0; ; i++ {
			ownerKey := aliasVar("owner", i)
			owner, ok := req.Variables[ownerKey]
			if !ok {
				break
			}
			name := req.Variables[aliasVar("name", i)].(string)
			key := owner.(string) + "/" + name

			if missing[key] {
				data[alias(i)] = &repoNode{ID: "node-only"}
				continue
			}
			id := idFor[key]
			data[alias(i)] = &repoNode{
				ID:         "node-" + name,
				DatabaseID: &id,
			}
			data[alias(i)].PullRequests.TotalCount = 7
		}

		w.Header().Set("X-RateLimit-Remaining", "100")
		w.Header().Set("X-RateLimit-Reset", "9999999999")
		json.NewEncoder(w).Encode(graphQLResponse{Data: data})
	}))
}

func aliasVar(prefix string, i int) string { return prefix + itoa(i) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}

func TestBatcher_Run_AppliesEnrichmentAndClearsCheckpoint(t *testing.T) {
	t.Parallel()

	ts := newGraphQLServer(t, map[string]int64{
		"octocat/hello-world": 100,
		"octo-org/widgets":     101,
	}, nil)
	t.Cleanup(ts.Close)

	pool, err := tokenpool.New([]string{"tok"})
	if err != nil {
		t.Fatalf("tokenpool.New() unexpected err: %v", err)
	}

	s := &fakeStore{backlog: []store.RepoRef{
		{ID: 100, OwnerLogin: "octocat", Name: "hello-world"},
		{ID: 101, OwnerLogin: "octo-org", Name: "widgets"},
	}}
	ckptPath := filepath.Join(t.TempDir(), "enrich_checkpoint.txt")
	ckpt := checkpoint.NewEnrichStore(ckptPath)

	b := New(pool, s, nil, ckpt, nil)
	b.transport.url = ts.URL

	failed, err := b.Run(context.Background(), Config{BatchSize: 50})
	if err != nil {
		t.Fatalf("Run() unexpected err: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("Run() failed = %v, want empty", failed)
	}
	if len(s.applied) != 2 {
		t.Fatalf("applied %d deltas, want 2", len(s.applied))
	}

	next, err := ckpt.Load()
	if err != nil {
		t.Fatalf("Load() unexpected err: %v", err)
	}
	if next != 0 {
		t.Errorf("checkpoint after clean completion = %d, want 0 (cleared)", next)
	}
}

type fakeContributorsFetcher map[string]int

func (f fakeContributorsFetcher) ContributorsCount(ctx context.Context, owner, name string) int {
	return f[owner+"/"+name]
}

func TestBatcher_Run_PopulatesContributorsCountFromFetcher(t *testing.T) {
	t.Parallel()

	ts := newGraphQLServer(t, map[string]int64{"octocat/hello-world": 100}, nil)
	t.Cleanup(ts.Close)

	pool, err := tokenpool.New([]string{"tok"})
	if err != nil {
		t.Fatalf("tokenpool.New() unexpected err: %v", err)
	}
	s := &fakeStore{backlog: []store.RepoRef{{ID: 100, OwnerLogin: "octocat", Name: "hello-world"}}}
	ckpt := checkpoint.NewEnrichStore(filepath.Join(t.TempDir(), "enrich_checkpoint.txt"))
	fetcher := fakeContributorsFetcher{"octocat/hello-world": 42}

	b := New(pool, s, fetcher, ckpt, nil)
	b.transport.url = ts.URL

	if _, err := b.Run(context.Background(), Config{BatchSize: 50}); err != nil {
		t.Fatalf("Run() unexpected err: %v", err)
	}
	if len(s.applied) != 1 {
		t.Fatalf("applied %d deltas, want 1", len(s.applied))
	}
	if got := s.applied[0].ContributorsCount; got != 42 {
		t.Errorf("ContributorsCount = %d, want 42", got)
	}
}

func TestBatcher_Run_DryRunAppliesNothing(t *testing.T) {
	t.Parallel()

	ts := newGraphQLServer(t, map[string]int64{"octocat/hello-world": 100}, nil)
	t.Cleanup(ts.Close)

	pool, err := tokenpool.New([]string{"tok"})
	if err != nil {
		t.Fatalf("tokenpool.New() unexpected err: %v", err)
	}
	s := &fakeStore{backlog: []store.RepoRef{{ID: 100, OwnerLogin: "octocat", Name: "hello-world"}}}
	ckpt := checkpoint.NewEnrichStore(filepath.Join(t.TempDir(), "enrich_checkpoint.txt"))

	b := New(pool, s, nil, ckpt, nil)
	b.transport.url = ts.URL

	if _, err := b.Run(context.Background(), Config{BatchSize: 50, DryRun: true}); err != nil {
		t.Fatalf("Run() unexpected err: %v", err)
	}
	if len(s.applied) != 0 {
		t.Errorf("applied %d deltas in dry-run, want 0", len(s.applied))
	}
}

func TestBatcher_Run_MissingDatabaseIDIsReportedFailed(t *testing.T) {
	t.Parallel()

	ts := newGraphQLServer(t, map[string]int64{"octocat/renamed": 100}, map[string]bool{"octocat/renamed": true})
	t.Cleanup(ts.Close)

	pool, err := tokenpool.New([]string{"tok"})
	if err != nil {
		t.Fatalf("tokenpool.New() unexpected err: %v", err)
	}
	s := &fakeStore{backlog: []store.RepoRef{{ID: 100, OwnerLogin: "octocat", Name: "renamed"}}}
	ckpt := checkpoint.NewEnrichStore(filepath.Join(t.TempDir(), "enrich_checkpoint.txt"))

	b := New(pool, s, nil, ckpt, nil)
	b.transport.url = ts.URL

	failed, err := b.Run(context.Background(), Config{BatchSize: 50})
	if err != nil {
		t.Fatalf("Run() unexpected err: %v", err)
	}
	if len(failed) != 1 || failed[0] != 100 {
		t.Errorf("failed = %v, want [100]", failed)
	}
	if len(s.applied) != 0 {
		t.Errorf("applied %d deltas, want 0 (only repo had no databaseId)", len(s.applied))
	}
}

func TestBatcher_Run_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	ts := newGraphQLServer(t, map[string]int64{"o/a": 1, "o/b": 2}, nil)
	t.Cleanup(ts.Close)

	pool, err := tokenpool.New([]string{"tok"})
	if err != nil {
		t.Fatalf("tokenpool.New() unexpected err: %v", err)
	}
	s := &fakeStore{backlog: []store.RepoRef{
		{ID: 1, OwnerLogin: "o", Name: "a"},
		{ID: 2, OwnerLogin: "o", Name: "b"},
	}}
	ckpt := checkpoint.NewEnrichStore(filepath.Join(t.TempDir(), "enrich_checkpoint.txt"))
	if err := ckpt.Save(1); err != nil {
		t.Fatalf("Save() unexpected err: %v", err)
	}

	b := New(pool, s, nil, ckpt, nil)
	b.transport.url = ts.URL

	if _, err := b.Run(context.Background(), Config{BatchSize: 1}); err != nil {
		t.Fatalf("Run() unexpected err: %v", err)
	}
	if len(s.applied) != 1 || s.applied[0].DatabaseID != 2 {
		t.Errorf("applied = %+v, want only repo 2 (batch 0 already checkpointed past)", s.applied)
	}
}
