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

package search

import (
	"context"
	"fmt"

	"github.com/abcxyz/github-data-collector/pkg/githubapi"
	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/pkg/logging"
)

const (
	perPage     = 100
	maxPages    = 10 // 10 pages * 100 per_page == the 1000-result cap.
	resultCap   = 1000
)

// Driver probes and paginates search windows, recursively subdividing any
// window whose total_count exceeds the 1000-result cap (spec.md §4.3).
type Driver struct {
	api     *githubapi.Client
	metrics *metrics.Counters
}

// NewDriver constructs a Driver over api. m may be nil.
func NewDriver(api *githubapi.Client, m *metrics.Counters) *Driver {
	return &Driver{api: api, metrics: m}
}

// Expand probes w's total_count and returns the next step: either the
// sub-windows to replace w with (when total_count > 1000 and w is still
// wider than MinWindowWidth), or a single Paginating window ready for
// Paginate, or nil when w is at the irresolvable-density floor and must be
// skipped.
func (d *Driver) Expand(ctx context.Context, w model.Window) ([]model.Window, error) {
	result, err := d.api.SearchRepositories(ctx, BuildQuery(w), 1, perPage)
	if err != nil {
		return nil, fmt.Errorf("search: failed to probe window %s..%s: %w", w.Start, w.End, err)
	}
	total := result.GetTotal()
	w.TotalCount = total
	w.State = model.WindowProbed

	if total <= resultCap {
		w.State = model.WindowPaginating
		w.CurrentPage = 1
		return []model.Window{w}, nil
	}

	if w.Width() <= MinWindowWidth {
		logging.FromContext(ctx).WarnContext(ctx, "search: irresolvable density, skipping window",
			"start", w.Start, "end", w.End, "total_count", total)
		return nil, nil
	}

	w.State = model.WindowSplitting
	leaves := Split(w, total)
	if d.metrics != nil {
		d.metrics.AddWindowSplits(1)
	}
	return leaves, nil
}

// Paginate walks pages currentPage..min(maxPages, ceil(total/100)) of w,
// invoking onPage for each. Paginate stops early if onPage returns an error.
func (d *Driver) Paginate(ctx context.Context, w model.Window, onPage func(ctx context.Context, page int, items []model.RepositorySummary) error) error {
	query := BuildQuery(w)
	lastPage := maxPages
	if pages := (w.TotalCount + perPage - 1) / perPage; pages < lastPage {
		lastPage = pages
	}

	start := w.CurrentPage
	if start < 1 {
		start = 1
	}

	for page := start; page <= lastPage; page++ {
		result, err := d.api.SearchRepositories(ctx, query, page, perPage)
		if err != nil {
			return fmt.Errorf("search: failed to fetch page %d of window %s..%s: %w", page, w.Start, w.End, err)
		}

		items := make([]model.RepositorySummary, 0, len(result.Repositories))
		for _, r := range result.Repositories {
			items = append(items, githubapi.ToRepositorySummary(r))
		}

		if err := onPage(ctx, page, items); err != nil {
			return fmt.Errorf("search: page %d handler failed: %w", page, err)
		}

		if len(items) < perPage {
			break
		}
	}
	return nil
}
