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
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/abcxyz/github-data-collector/pkg/model"
	"github.com/abcxyz/github-data-collector/pkg/search"
)

// Windower is the subset of *search.Driver RunConcurrent depends on.
type Windower interface {
	Expand(ctx context.Context, w model.Window) ([]model.Window, error)
	Paginate(ctx context.Context, w model.Window, onPage func(ctx context.Context, page int, items []model.RepositorySummary) error) error
}

var _ Windower = (*search.Driver)(nil)

// writeJob is one page's worth of owner-resolved repositories, handed from a
// worker to the single writer goroutine.
type writeJob struct {
	window model.Window
	page   int
	repos  []model.RepositorySummary
	result chan error
}

// RunConcurrent is the dispatcher/worker/writer redesign from spec.md §5/§9:
// a dispatcher goroutine expands top-level windows into paginating leaves
// and hands them to a bounded pool of workers; each worker walks its
// window's pages and resolves owners (both network-bound), and every
// resulting page is funneled through a single writer goroutine that owns
// all repository-table transactions, so SQLite's single-writer constraint
// is never contended.
//
// Owner upserts are not routed through the writer: they're infrequent (at
// most once per distinct owner for the life of the run) and already
// serialized by the Pipeline's own mutex in ensureOwner, so adding them to
// the writer's queue would only add a hop without reducing contention.
//
// onPageDone is called by the writer, in page-completion order, after each
// page's repositories have committed — the caller uses it to advance and
// persist the collection checkpoint. Concurrency above 1 means windows
// complete out of order relative to the order they appear in windows;
// callers that need strict single-window resume precision should run with
// concurrency 1.
func RunConcurrent(ctx context.Context, driver Windower, pipeline *Pipeline, windows []model.Window, concurrency int, onPageDone func(w model.Window, page int) error) error {
	if concurrency < 1 {
		concurrency = 1
	}

	jobs := make(chan model.Window)
	writes := make(chan writeJob)
	writerDone := make(chan error, 1)

	go runWriter(ctx, pipeline, writes, onPageDone, writerDone)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for _, w := range windows {
			leaves, err := resolveWindows(gctx, driver, w)
			if err != nil {
				return err
			}
			for _, leaf := range leaves {
				select {
				case jobs <- leaf:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		return nil
	})

	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			return worker(gctx, driver, pipeline, jobs, writes)
		})
	}

	err := g.Wait()
	close(writes)
	if writerErr := <-writerDone; err == nil {
		err = writerErr
	}
	return err
}

func worker(ctx context.Context, driver Windower, pipeline *Pipeline, jobs <-chan model.Window, writes chan<- writeJob) error {
	for w := range jobs {
		w := w
		err := driver.Paginate(ctx, w, func(pctx context.Context, page int, items []model.RepositorySummary) error {
			persisted := pipeline.resolveOwners(pctx, items)
			if len(persisted) == 0 {
				return nil
			}

			result := make(chan error, 1)
			select {
			case writes <- writeJob{window: w, page: page, repos: persisted, result: result}:
			case <-ctx.Done():
				return ctx.Err()
			}

			select {
			case err := <-result:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func runWriter(ctx context.Context, pipeline *Pipeline, writes <-chan writeJob, onPageDone func(model.Window, int) error, done chan<- error) {
	var firstErr error
	for job := range writes {
		if firstErr != nil {
			job.result <- context.Canceled
			continue
		}

		err := pipeline.writeRepositories(ctx, job.repos)
		if err == nil && onPageDone != nil {
			err = onPageDone(job.window, job.page)
		}
		job.result <- err
		if err != nil {
			firstErr = err
		}
	}
	done <- firstErr
}

// resolveWindows expands w until every leaf is either a Paginating window
// ready for Paginate, or dropped at the irresolvable-density floor.
func resolveWindows(ctx context.Context, driver Windower, w model.Window) ([]model.Window, error) {
	next, err := driver.Expand(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("collector: failed to expand window: %w", err)
	}
	if next == nil {
		return nil, nil
	}
	if len(next) == 1 && next[0].State == model.WindowPaginating {
		return next, nil
	}

	var leaves []model.Window
	for _, sub := range next {
		subLeaves, err := resolveWindows(ctx, driver, sub)
		if err != nil {
			return nil, err
		}
		leaves = append(leaves, subLeaves...)
	}
	return leaves, nil
}
