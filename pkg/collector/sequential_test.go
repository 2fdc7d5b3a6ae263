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
	"testing"
	"time"

	"github.com/abcxyz/github-data-collector/pkg/checkpoint"
	"github.com/abcxyz/github-data-collector/pkg/model"
)

// scriptedDriver is a Windower double whose Expand/Paginate behavior is
// supplied per test, unlike fakeWindower in concurrent_test.go which always
// resolves a window to a single immediate leaf.
type scriptedDriver struct {
	expand   func(ctx context.Context, w model.Window) ([]model.Window, error)
	paginate func(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error
}

func (d *scriptedDriver) Expand(ctx context.Context, w model.Window) ([]model.Window, error) {
	return d.expand(ctx, w)
}

func (d *scriptedDriver) Paginate(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error {
	return d.paginate(ctx, w, onPage)
}

func noopSave(*checkpoint.CollectionState) error { return nil }

func period(startUnix int64) checkpoint.Period {
	return checkpoint.Period{Start: time.Unix(startUnix, 0), End: time.Unix(startUnix+1, 0)}
}

func TestRunSequential_PaginatesSingleWindowToCompletion(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		expand: func(ctx context.Context, w model.Window) ([]model.Window, error) {
			w.State = model.WindowPaginating
			w.CurrentPage = 1
			return []model.Window{w}, nil
		},
		paginate: func(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error {
			if err := onPage(ctx, 1, []model.RepositorySummary{repoSummary(1, "octocat", model.OwnerKindUser)}); err != nil {
				return err
			}
			return onPage(ctx, 2, []model.RepositorySummary{repoSummary(2, "octocat", model.OwnerKindUser)})
		},
	}

	store := newFakeStore(nil)
	pipeline, err := New(context.Background(), store, newFakeOwnerFetcher(), nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	state := &checkpoint.CollectionState{TimePeriods: []checkpoint.Period{period(0)}}

	var saveCount int
	save := func(s *checkpoint.CollectionState) error {
		saveCount++
		return nil
	}

	if err := RunSequential(context.Background(), driver, pipeline, model.StarFilter{Min: 100}, state, save, 0, 0); err != nil {
		t.Fatalf("RunSequential() unexpected err: %v", err)
	}

	if state.CurrentPeriodIndex != 1 {
		t.Errorf("CurrentPeriodIndex = %d, want 1 (period complete)", state.CurrentPeriodIndex)
	}
	if state.CurrentPeriodPage != 0 {
		t.Errorf("CurrentPeriodPage = %d, want 0 (reset after period complete)", state.CurrentPeriodPage)
	}
	if state.RepositoriesCollected != 2 {
		t.Errorf("RepositoriesCollected = %d, want 2", state.RepositoriesCollected)
	}
	if len(store.repositories) != 2 {
		t.Errorf("persisted %d repositories, want 2", len(store.repositories))
	}
	if saveCount == 0 {
		t.Error("save was never called")
	}
}

func TestRunSequential_SplitsWindowInPlace(t *testing.T) {
	t.Parallel()

	// Splits only the first window Expand ever sees (simulating a probe over
	// the 1000-result cap); every subsequent call — including the two split
	// leaves — resolves immediately to a single Paginating window, so the
	// run terminates instead of recursing.
	var expandCalls int
	driver := &scriptedDriver{
		expand: func(ctx context.Context, w model.Window) ([]model.Window, error) {
			expandCalls++
			if expandCalls > 1 {
				w.State = model.WindowPaginating
				w.CurrentPage = 1
				return []model.Window{w}, nil
			}
			mid := w.Start.Add(w.Width() / 2)
			return []model.Window{
				{Start: w.Start, End: mid, State: model.WindowPending},
				{Start: mid, End: w.End, State: model.WindowPending},
			}, nil
		},
		paginate: func(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error {
			return nil // no results; advances past both leaves with nothing collected.
		},
	}

	store := newFakeStore(nil)
	pipeline, err := New(context.Background(), store, newFakeOwnerFetcher(), nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	state := &checkpoint.CollectionState{TimePeriods: []checkpoint.Period{period(0)}}

	if err := RunSequential(context.Background(), driver, pipeline, model.StarFilter{Min: 100}, state, noopSave, 0, 0); err != nil {
		t.Fatalf("RunSequential() unexpected err: %v", err)
	}

	if len(state.TimePeriods) != 2 {
		t.Fatalf("TimePeriods = %+v, want 2 entries after the split spliced in place", state.TimePeriods)
	}
	if state.CurrentPeriodIndex != 2 {
		t.Errorf("CurrentPeriodIndex = %d, want 2 (both split leaves processed)", state.CurrentPeriodIndex)
	}
}

func TestRunSequential_SkipsEmptyWindow(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		expand: func(ctx context.Context, w model.Window) ([]model.Window, error) {
			return nil, nil // no results for this period at all.
		},
		paginate: func(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error {
			t.Fatal("Paginate should not be called for an empty window")
			return nil
		},
	}

	store := newFakeStore(nil)
	pipeline, err := New(context.Background(), store, newFakeOwnerFetcher(), nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	state := &checkpoint.CollectionState{TimePeriods: []checkpoint.Period{period(0), period(10)}}

	if err := RunSequential(context.Background(), driver, pipeline, model.StarFilter{Min: 100}, state, noopSave, 0, 0); err != nil {
		t.Fatalf("RunSequential() unexpected err: %v", err)
	}

	if state.CurrentPeriodIndex != 2 {
		t.Errorf("CurrentPeriodIndex = %d, want 2 (both empty periods skipped)", state.CurrentPeriodIndex)
	}
}

func TestRunSequential_ResumesFromCurrentPage(t *testing.T) {
	t.Parallel()

	var expandCalled bool
	var gotPage int
	driver := &scriptedDriver{
		expand: func(ctx context.Context, w model.Window) ([]model.Window, error) {
			expandCalled = true
			return nil, nil
		},
		paginate: func(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error {
			gotPage = w.CurrentPage
			return onPage(ctx, w.CurrentPage, nil)
		},
	}

	store := newFakeStore(nil)
	pipeline, err := New(context.Background(), store, newFakeOwnerFetcher(), nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	state := &checkpoint.CollectionState{
		TimePeriods:        []checkpoint.Period{period(0)},
		CurrentPeriodIndex: 0,
		CurrentPeriodPage:  5,
	}

	if err := RunSequential(context.Background(), driver, pipeline, model.StarFilter{Min: 100}, state, noopSave, 0, 0); err != nil {
		t.Fatalf("RunSequential() unexpected err: %v", err)
	}

	if expandCalled {
		t.Error("Expand was called even though CurrentPeriodPage was already set — resume should skip re-probing")
	}
	if gotPage != 5 {
		t.Errorf("Paginate saw CurrentPage = %d, want 5 (resumed position)", gotPage)
	}
}

func TestRunSequential_LimitStopsEarly(t *testing.T) {
	t.Parallel()

	driver := &scriptedDriver{
		expand: func(ctx context.Context, w model.Window) ([]model.Window, error) {
			w.State = model.WindowPaginating
			w.CurrentPage = 1
			return []model.Window{w}, nil
		},
		paginate: func(ctx context.Context, w model.Window, onPage func(context.Context, int, []model.RepositorySummary) error) error {
			for page := 1; page <= 10; page++ {
				if err := onPage(ctx, page, []model.RepositorySummary{repoSummary(int64(page), "octocat", model.OwnerKindUser)}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	store := newFakeStore(nil)
	pipeline, err := New(context.Background(), store, newFakeOwnerFetcher(), nil)
	if err != nil {
		t.Fatalf("New() unexpected err: %v", err)
	}

	state := &checkpoint.CollectionState{TimePeriods: []checkpoint.Period{period(0), period(10)}}

	if err := RunSequential(context.Background(), driver, pipeline, model.StarFilter{Min: 100}, state, noopSave, 3, 0); err != nil {
		t.Fatalf("RunSequential() unexpected err: %v", err)
	}

	if state.RepositoriesCollected != 3 {
		t.Errorf("RepositoriesCollected = %d, want 3 (stopped at limit)", state.RepositoriesCollected)
	}
	if state.CurrentPeriodIndex != 0 {
		t.Errorf("CurrentPeriodIndex = %d, want 0 (stopped mid-period, second period untouched)", state.CurrentPeriodIndex)
	}
}
