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

// Package checkpoint persists the two durable progress records described in
// spec.md §4.6: the JSON Collection State document and the plain-integer
// Enrichment Checkpoint. Both are written atomically (write to a temp file,
// then rename) so a crash mid-write never leaves a corrupt checkpoint.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abcxyz/github-data-collector/pkg/model"
)

// Period is one (start, end) entry of CollectionState.TimePeriods.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CollectionState is the persistent singleton-per-run search checkpoint
// from spec.md §3/§4.6.
type CollectionState struct {
	StartDate             time.Time `json:"start_date"`
	EndDate               time.Time `json:"end_date"`
	TimePeriods           []Period  `json:"time_periods"`
	CurrentPeriodIndex    int       `json:"current_period_index"`
	CurrentPeriodPage     int       `json:"current_period_page"`
	RepositoriesCollected int       `json:"repositories_collected"`
	LastRun               time.Time `json:"last_run"`
}

// WindowsFromPeriods expands TimePeriods back into model.Windows for every
// entry at or after CurrentPeriodIndex, seeding the resumed page for the
// first one, per spec.md §4.6's resume semantics ("the stored time_periods
// are authoritative; resume does not recompute splits already performed").
func (s *CollectionState) WindowsFromPeriods(stars model.StarFilter) []model.Window {
	var windows []model.Window
	for i := s.CurrentPeriodIndex; i < len(s.TimePeriods); i++ {
		p := s.TimePeriods[i]
		w := model.Window{
			Start: p.Start,
			End:   p.End,
			Stars: stars,
			State: model.WindowPaginating,
		}
		if i == s.CurrentPeriodIndex {
			w.CurrentPage = s.CurrentPeriodPage
		} else {
			w.CurrentPage = 1
		}
		windows = append(windows, w)
	}
	return windows
}

// StateStore reads and atomically writes a CollectionState to a JSON file.
type StateStore struct {
	path string
	now  func() time.Time
}

// NewStateStore constructs a StateStore rooted at path.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path, now: time.Now}
}

// Load reads the checkpoint file. It returns (nil, false, nil) if the file
// doesn't exist, and a wrapped error if it exists but is unreadable/corrupt
// — per spec.md §7, a checkpoint-file corruption is a fatal, abort-worthy
// condition, not one silently ignored.
func (s *StateStore) Load() (*CollectionState, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("checkpoint: failed to read collection state: %w", err)
	}

	var state CollectionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("checkpoint: collection state file is corrupt: %w", err)
	}
	return &state, true, nil
}

// Save writes state to disk atomically.
func (s *StateStore) Save(state *CollectionState) error {
	state.LastRun = s.now()

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("checkpoint: failed to marshal collection state: %w", err)
	}
	return atomicWrite(s.path, raw)
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it over path — an atomic swap on POSIX filesystems.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: failed to create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("checkpoint: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("checkpoint: failed to rename temp file into place: %w", err)
	}
	return nil
}
