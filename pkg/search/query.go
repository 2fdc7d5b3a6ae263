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

// Package search implements the time-sliced search driver with adaptive
// subdivision described in spec.md §4.3: it partitions the creation-date
// axis into windows, recursively splits any window whose hit count exceeds
// GitHub's 1000-result search cap, and paginates the rest.
package search

import (
	"fmt"
	"time"

	"github.com/abcxyz/github-data-collector/pkg/model"
)

// DefaultWindowWidth is the initial partitioning heuristic from spec.md
// §4.3: 30-day windows.
const DefaultWindowWidth = 30 * 24 * time.Hour

// MinWindowWidth is the hard floor that stops infinite recursive
// subdivision (spec.md §4.3).
const MinWindowWidth = 1 * time.Second

// searchDateLayout matches GitHub's `created:` qualifier format.
const searchDateLayout = "2006-01-02T15:04:05Z"

// BuildQuery renders the `q=` search string for a window, composing the
// creation-date range with the star filter per spec.md §4.3.
func BuildQuery(w model.Window) string {
	q := fmt.Sprintf("created:%s..%s", w.Start.UTC().Format(searchDateLayout), w.End.UTC().Format(searchDateLayout))
	switch {
	case w.Stars.Max > 0:
		q += fmt.Sprintf(" stars:%d..%d", w.Stars.Min, w.Stars.Max)
	default:
		q += fmt.Sprintf(" stars:>=%d", w.Stars.Min)
	}
	return q
}

// PlanWindows computes the initial Cartesian product of 30-day date windows
// and star buckets over [start, end), per spec.md §4.3's "Initial
// partitioning heuristic" and the star-range composition it describes. When
// starBuckets is empty, a single unbounded-max bucket at minStars is used.
func PlanWindows(start, end time.Time, minStars int, starBuckets []model.StarFilter) []model.Window {
	buckets := starBuckets
	if len(buckets) == 0 {
		buckets = []model.StarFilter{{Min: minStars}}
	}

	var windows []model.Window
	for _, bucket := range buckets {
		for cursor := start; cursor.Before(end); cursor = cursor.Add(DefaultWindowWidth) {
			windowEnd := cursor.Add(DefaultWindowWidth)
			if windowEnd.After(end) {
				windowEnd = end
			}
			windows = append(windows, model.Window{
				Start: cursor,
				End:   windowEnd,
				Stars: bucket,
				State: model.WindowPending,
			})
		}
	}
	return windows
}

// SplitCount implements spec.md §4.3's "⌈total_count / 1000⌉ + 1
// sub-windows" subdivision heuristic.
func SplitCount(totalCount int) int {
	return (totalCount+999)/1000 + 1
}

// Split partitions w into SplitCount(totalCount) equal-duration
// sub-windows covering the same [Start, End) range, each Pending.
func Split(w model.Window, totalCount int) []model.Window {
	n := SplitCount(totalCount)
	width := w.Width() / time.Duration(n)
	if width <= 0 {
		width = time.Nanosecond
	}

	subs := make([]model.Window, 0, n)
	cursor := w.Start
	for i := 0; i < n; i++ {
		subEnd := cursor.Add(width)
		if i == n-1 || subEnd.After(w.End) {
			subEnd = w.End
		}
		subs = append(subs, model.Window{
			Start: cursor,
			End:   subEnd,
			Stars: w.Stars,
			State: model.WindowPending,
		})
		cursor = subEnd
	}
	return subs
}
