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
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/abcxyz/github-data-collector/pkg/checkpoint"
	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/github-data-collector/pkg/store"
	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
	"github.com/abcxyz/pkg/logging"
)

// Store is the persistence surface Batcher depends on, satisfied by
// *store.Store.
type Store interface {
	RepositoriesNeedingEnrichment(ctx context.Context, force bool) ([]store.RepoRef, error)
	ApplyEnrichment(ctx context.Context, deltas []model.EnrichmentDelta) error
}

// ContributorsFetcher resolves a repository's contributor count via the REST
// API (spec.md §6, §9's HEAD + Link-header trick), independent of the
// GraphQL batch. Satisfied by *githubapi.Client.
type ContributorsFetcher interface {
	ContributorsCount(ctx context.Context, owner, name string) int
}

// Config controls one enrichment run (spec.md §6's `enrich` flags). The
// caller is responsible for writing the returned failed repository ids to
// a failure file; Config carries no path for that (see
// ExecuteJob/WriteFailureFile).
type Config struct {
	BatchSize   int
	DryRun      bool
	Force       bool
	RetryFailed string // path to a prior failure file to re-run exclusively
}

// Batcher is the GraphQL Enrichment Engine.
type Batcher struct {
	store        Store
	transport    *transport
	contributors ContributorsFetcher
	checkpoint   *checkpoint.EnrichStore
	metrics      *metrics.Counters
}

// New constructs a Batcher. contributors fetches each target's contributor
// count via REST alongside the GraphQL batch; pass nil to leave
// ContributorsCount unpopulated (it stays 0, the same as "no contributors").
func New(pool *tokenpool.Pool, s Store, contributors ContributorsFetcher, ckpt *checkpoint.EnrichStore, m *metrics.Counters) *Batcher {
	return &Batcher{
		store:        s,
		transport:    newTransport(pool, DefaultGraphQLURL),
		contributors: contributors,
		checkpoint:   ckpt,
		metrics:      m,
	}
}

// Run enriches every backlog repository in cfg.BatchSize-sized batches,
// resuming from the enrichment checkpoint, and clears the checkpoint on
// clean completion. It returns the list of repository IDs whose batch
// failed terminally, which the caller writes to a failure file (see
// WriteFailureFile).
func (b *Batcher) Run(ctx context.Context, cfg Config) ([]int64, error) {
	targets, err := b.loadTargets(ctx, cfg)
	if err != nil {
		return nil, err
	}

	start, err := b.checkpoint.Load()
	if err != nil {
		return nil, fmt.Errorf("enrich: failed to load checkpoint: %w", err)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var failed []int64
	for i := start; i*batchSize < len(targets); i++ {
		lo := i * batchSize
		hi := lo + batchSize
		if hi > len(targets) {
			hi = len(targets)
		}
		batch := targets[lo:hi]

		batchFailed, err := b.runBatch(ctx, batch, cfg.DryRun)
		if err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "enrich: batch failed terminally", "batch_index", i, "error", err)
		}
		failed = append(failed, batchFailed...)

		if ckptErr := b.checkpoint.Save(i + 1); ckptErr != nil {
			return failed, fmt.Errorf("enrich: failed to save checkpoint after batch %d: %w", i, ckptErr)
		}
	}

	if err := b.checkpoint.Clear(); err != nil {
		return failed, fmt.Errorf("enrich: failed to clear checkpoint on completion: %w", err)
	}
	return failed, nil
}

// loadTargets resolves the repository backlog: either the contents of
// cfg.RetryFailed (a prior failure file, one id per line, resolved back
// against the full backlog) or the store's null-aggregate backlog.
func (b *Batcher) loadTargets(ctx context.Context, cfg Config) ([]store.RepoRef, error) {
	all, err := b.store.RepositoriesNeedingEnrichment(ctx, cfg.Force || cfg.RetryFailed != "")
	if err != nil {
		return nil, fmt.Errorf("enrich: failed to load enrichment backlog: %w", err)
	}

	if cfg.RetryFailed == "" {
		return all, nil
	}

	want, err := readFailureIDs(cfg.RetryFailed)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.RepoRef, len(all))
	for _, r := range all {
		byID[r.ID] = r
	}

	var targets []store.RepoRef
	for _, id := range want {
		if r, ok := byID[id]; ok {
			targets = append(targets, r)
		}
	}
	return targets, nil
}

// runBatch executes one GraphQL batch and, unless cfg.DryRun, writes the
// resulting aggregates in a single store transaction. It returns the
// database IDs that failed (missing databaseId, or lost to a request or
// store error) together with that error, if any; a batch that's partially
// successful still commits the repositories that did resolve.
func (b *Batcher) runBatch(ctx context.Context, targets []store.RepoRef, dryRun bool) ([]int64, error) {
	query, vars := buildBatchQuery(targets)
	resp, remaining, reset, err := b.transport.execute(ctx, query, vars)
	if err != nil {
		failed := make([]int64, len(targets))
		for i, t := range targets {
			failed[i] = t.ID
		}
		return failed, err
	}

	var deltas []model.EnrichmentDelta
	var failed []int64
	for i, t := range targets {
		node := resp.Data[alias(i)]
		if isMissingDatabaseID(node) {
			failed = append(failed, t.ID)
			continue
		}
		deltas = append(deltas, model.EnrichmentDelta{
			DatabaseID:        *node.DatabaseID,
			ContributorsCount: b.contributorsCount(ctx, t.OwnerLogin, t.Name),
			PullRequestsCount: node.PullRequests.TotalCount,
			CommitsCount:      commitsCount(node),
		})
	}

	if !dryRun && len(deltas) > 0 {
		if err := b.store.ApplyEnrichment(ctx, deltas); err != nil {
			for _, d := range deltas {
				failed = append(failed, d.DatabaseID)
			}
			return failed, fmt.Errorf("enrich: failed to apply enrichment batch: %w", err)
		}
	}
	if b.metrics != nil && !dryRun {
		b.metrics.AddRepositoriesEnriched(int64(len(deltas)))
	}

	// Inter-batch pacing: spec.md §4.5 — once headroom drops to 3 or fewer
	// requests, sleep through to the reset before starting the next batch.
	if remaining >= 0 && remaining <= 3 {
		b.transport.sleepUntil(reset)
	}

	return failed, nil
}

// contributorsCount fetches a single target's REST contributor count,
// returning 0 (and logging) if no fetcher was configured or the fetch fails —
// matching ContributorsCount's own "0 on failure" contract rather than
// failing the whole batch over one repository's contributor list.
func (b *Batcher) contributorsCount(ctx context.Context, owner, name string) int64 {
	if b.contributors == nil {
		return 0
	}
	return int64(b.contributors.ContributorsCount(ctx, owner, name))
}

func commitsCount(n *repoNode) int64 {
	if n.DefaultBranchRef == nil {
		return 0
	}
	return n.DefaultBranchRef.Target.History.TotalCount
}

func readFailureIDs(path string) ([]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("enrich: failed to read retry-failed file %q: %w", path, err)
	}
	var ids []int64
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("enrich: invalid repository id %q in %q: %w", line, path, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// WriteFailureFile persists failed repository ids, one per line, to path.
func WriteFailureFile(path string, failed []int64) error {
	if len(failed) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, id := range failed {
		fmt.Fprintf(&sb, "%d\n", id)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("enrich: failed to write failure file %q: %w", path, err)
	}
	return nil
}
