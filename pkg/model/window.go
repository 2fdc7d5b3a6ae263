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

package model

import "time"

// WindowState is the state-machine position of a Window (spec.md §4.3):
// Pending -> Probed(total_count known) -> {Splitting, Paginating} -> Done.
type WindowState string

const (
	WindowPending    WindowState = "pending"
	WindowProbed     WindowState = "probed"
	WindowSplitting  WindowState = "splitting"
	WindowPaginating WindowState = "paginating"
	WindowDone       WindowState = "done"
)

// StarFilter selects the `stars:` clause appended to a search query. Either
// Min alone or the (Min, Max) range composes with a date Window; zero
// values mean "unbounded".
type StarFilter struct {
	Min int
	Max int // 0 means unbounded ("stars:>=Min")
}

// Window is a half-open interval on the repository creation timestamp
// ([Start, End)), optionally paired with a StarFilter, used as a search
// filter. Windows are the unit of work the Search Driver hands to workers
// and the unit of checkpointing in Collection State.
type Window struct {
	Start time.Time
	End   time.Time
	Stars StarFilter

	State       WindowState
	TotalCount  int
	CurrentPage int // 1-indexed; valid once State == WindowPaginating or WindowDone
}

// Width returns the window's duration.
func (w Window) Width() time.Duration {
	return w.End.Sub(w.Start)
}
