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

package collect

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-data-collector/pkg/cache"
	"github.com/abcxyz/github-data-collector/pkg/checkpoint"
	"github.com/abcxyz/github-data-collector/pkg/collector"
	"github.com/abcxyz/github-data-collector/pkg/githubapi"
	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/github-data-collector/pkg/search"
	"github.com/abcxyz/github-data-collector/pkg/store"
	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
)

// stateFileName is the fixed name of the Collection State checkpoint
// document, resolved relative to the working directory (spec.md §4.6).
const stateFileName = "collection_state.json"

// progressInterval is the repository-count trigger for periodic progress
// logging (spec.md §7: "every 100 repositories and on every window
// transition").
const progressInterval = 100

// pageDelay is the inter-request pacing between search pages (spec.md §5).
const pageDelay = 1 * time.Second

// rateLimitWarnThreshold is the Monitor's warning threshold (spec.md §9
// supplement: "monitor_rate_limit(threshold_percent)").
const rateLimitWarnThreshold = 0.1

// ExecuteJob runs one collection pass end to end: it wires the Token Pool,
// response cache, HTTP client, Search Driver, and Repository Pipeline, then
// resumes or starts the Collection State checkpoint and drives it to
// completion.
func ExecuteJob(ctx context.Context, cfg *Config) error {
	logger := logging.FromContext(ctx)

	pool, err := tokenpool.New(cfg.Tokens())
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	m := &metrics.Counters{}
	api := githubapi.New(pool, cache.New(cfg.CacheDir), githubapi.WithMetrics(m))
	monitor := githubapi.NewMonitor(rateLimitWarnThreshold)

	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("collect: failed to open store: %w", err)
	}
	defer st.Close()

	pipeline, err := collector.New(ctx, st, api, m)
	if err != nil {
		return fmt.Errorf("collect: failed to initialize pipeline: %w", err)
	}
	driver := search.NewDriver(api, m)

	start, end, err := cfg.DateRange(time.Now())
	if err != nil {
		return err
	}

	stateStore := checkpoint.NewStateStore(stateFileName)
	state, err := loadOrInitState(stateStore, cfg, start, end)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "collection starting",
		"start_date", start, "end_date", end, "stars", cfg.StarFilter(),
		"resuming", state.CurrentPeriodIndex > 0 || state.CurrentPeriodPage > 0)

	lastIndex := state.CurrentPeriodIndex
	lastLoggedCount := state.RepositoriesCollected
	save := func(s *checkpoint.CollectionState) error {
		if s.CurrentPeriodIndex != lastIndex {
			logger.InfoContext(ctx, "window transition",
				"period_index", s.CurrentPeriodIndex, "of", len(s.TimePeriods),
				"repositories_collected", s.RepositoriesCollected)
			lastIndex = s.CurrentPeriodIndex
			if rl, err := api.RateLimit(ctx); err == nil && rl != nil && rl.Core != nil {
				monitor.Check(ctx, rl.Core.Limit, rl.Core.Remaining)
			}
		}
		if s.RepositoriesCollected-lastLoggedCount >= progressInterval {
			logger.InfoContext(ctx, "collection progress",
				"repositories_collected", s.RepositoriesCollected,
				"owners_fetched", m.Snapshot().OwnersFetched)
			lastLoggedCount = s.RepositoriesCollected
		}
		return stateStore.Save(s)
	}

	var runErr error
	if cfg.Workers <= 1 {
		runErr = collector.RunSequential(ctx, driver, pipeline, cfg.StarFilter(), state, save, cfg.Limit, pageDelay)
	} else {
		// Concurrency above 1 trades exact per-page resume precision for
		// throughput (see collector.RunConcurrent's doc comment); the
		// checkpoint is only meaningful as a completed/not-completed marker
		// in this mode, so progress is reported from metrics instead of the
		// window/page position.
		var lastLoggedMetric int64
		runErr = collector.RunConcurrent(ctx, driver, pipeline, state.WindowsFromPeriods(cfg.StarFilter()), cfg.Workers, func(w model.Window, page int) error {
			if snap := m.Snapshot(); snap.RepositoriesCollected-lastLoggedMetric >= progressInterval {
				logger.InfoContext(ctx, "collection progress", "repositories_collected", snap.RepositoriesCollected)
				lastLoggedMetric = snap.RepositoriesCollected
			}
			return nil
		})
		if runErr == nil {
			state.CurrentPeriodIndex = len(state.TimePeriods)
			runErr = stateStore.Save(state)
		}
	}
	if runErr != nil {
		return fmt.Errorf("collect: run failed: %w", runErr)
	}

	snap := m.Snapshot()
	logger.InfoContext(ctx, "collection complete",
		"repositories_collected", snap.RepositoriesCollected,
		"repositories_duplicate", snap.RepositoriesDuplicate,
		"owners_fetched", snap.OwnersFetched,
		"cache_hits", snap.CacheHits,
		"rate_limit_waits", snap.RateLimitWaits)
	return nil
}

// loadOrInitState implements spec.md §4.6's resume semantics: a checkpoint
// is reused only when it exists, --resume is set, and it covers the same
// [start, end) range the caller requested; otherwise a fresh plan
// overwrites it.
func loadOrInitState(stateStore *checkpoint.StateStore, cfg *Config, start, end time.Time) (*checkpoint.CollectionState, error) {
	existing, ok, err := stateStore.Load()
	if err != nil {
		return nil, fmt.Errorf("collect: %w", err)
	}

	if ok && cfg.Resume && existing.StartDate.Equal(start) && existing.EndDate.Equal(end) {
		return existing, nil
	}

	windows := search.PlanWindows(start, end, cfg.MinStars, []model.StarFilter{cfg.StarFilter()})
	periods := make([]checkpoint.Period, len(windows))
	for i, w := range windows {
		periods[i] = checkpoint.Period{Start: w.Start, End: w.End}
	}

	return &checkpoint.CollectionState{
		StartDate:   start,
		EndDate:     end,
		TimePeriods: periods,
	}, nil
}
