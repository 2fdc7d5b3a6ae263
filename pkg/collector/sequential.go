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
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/github-data-collector/pkg/checkpoint"
	"github.com/abcxyz/github-data-collector/pkg/model"
)

// errLimitReached unwinds Paginate early once --limit repositories have
// been collected; RunSequential treats it as a clean stop rather than an
// error.
var errLimitReached = errors.New("collector: repository limit reached")

// SaveState persists a CollectionState snapshot. Satisfied by
// (*checkpoint.StateStore).Save.
type SaveState func(state *checkpoint.CollectionState) error

// RunSequential drives state.TimePeriods to completion one window at a
// time — the "minimum correct implementation" single-worker mode from
// spec.md §5, and the mode that gives exact per-page resume precision
// (spec.md §4.6). It mutates state in place: a window whose probe reveals
// total_count > 1000 has its TimePeriods entry replaced by the sub-windows
// Expand returns (spec.md §4.3's "replace the current window in the work
// list"), so a resumed run picks up the split already performed instead of
// recomputing it.
//
// pageDelay paces successive search pages (spec.md §5's "1-second sleep
// between search pages"); tests pass 0 to run without delay.
func RunSequential(ctx context.Context, driver Windower, pipeline *Pipeline, stars model.StarFilter, state *checkpoint.CollectionState, save SaveState, limit int, pageDelay time.Duration) error {
	for state.CurrentPeriodIndex < len(state.TimePeriods) {
		if limit > 0 && state.RepositoriesCollected >= limit {
			return nil
		}

		period := state.TimePeriods[state.CurrentPeriodIndex]
		w := model.Window{Start: period.Start, End: period.End, Stars: stars}

		if state.CurrentPeriodPage == 0 {
			leaves, err := driver.Expand(ctx, w)
			if err != nil {
				return fmt.Errorf("collector: failed to expand window %s..%s: %w", w.Start, w.End, err)
			}

			if len(leaves) == 0 {
				// Empty result or irresolvable density: skip this period entirely.
				state.CurrentPeriodIndex++
				if err := save(state); err != nil {
					return err
				}
				continue
			}

			if len(leaves) > 1 || leaves[0].State != model.WindowPaginating {
				state.TimePeriods = replacePeriod(state.TimePeriods, state.CurrentPeriodIndex, toPeriods(leaves))
				if err := save(state); err != nil {
					return err
				}
				continue // retry at the same index, now the first sub-window.
			}

			w = leaves[0]
			state.CurrentPeriodPage = 1
		} else {
			w.CurrentPage = state.CurrentPeriodPage
			w.State = model.WindowPaginating
		}

		err := driver.Paginate(ctx, w, func(pctx context.Context, page int, items []model.RepositorySummary) error {
			if err := pipeline.ProcessPage(pctx, page, items); err != nil {
				return err
			}
			state.CurrentPeriodPage = page + 1
			state.RepositoriesCollected += len(items)
			if err := save(state); err != nil {
				return err
			}
			if limit > 0 && state.RepositoriesCollected >= limit {
				return errLimitReached
			}
			if pageDelay > 0 {
				time.Sleep(pageDelay)
			}
			return nil
		})
		if errors.Is(err, errLimitReached) {
			return nil
		}
		if err != nil {
			return err
		}

		state.CurrentPeriodIndex++
		state.CurrentPeriodPage = 0
		if err := save(state); err != nil {
			return err
		}
	}
	return nil
}

func toPeriods(windows []model.Window) []checkpoint.Period {
	periods := make([]checkpoint.Period, len(windows))
	for i, w := range windows {
		periods[i] = checkpoint.Period{Start: w.Start, End: w.End}
	}
	return periods
}

// replacePeriod splices replacement in place of periods[index], the Go
// equivalent of the source's list-splice when a window is subdivided.
func replacePeriod(periods []checkpoint.Period, index int, replacement []checkpoint.Period) []checkpoint.Period {
	out := make([]checkpoint.Period, 0, len(periods)-1+len(replacement))
	out = append(out, periods[:index]...)
	out = append(out, replacement...)
	out = append(out, periods[index+1:]...)
	return out
}
