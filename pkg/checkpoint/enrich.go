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

package checkpoint

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnrichStore reads and writes the plain-integer Enrichment Checkpoint file
// from spec.md §4.6.
type EnrichStore struct {
	path string
}

// NewEnrichStore constructs an EnrichStore rooted at path.
func NewEnrichStore(path string) *EnrichStore {
	return &EnrichStore{path: path}
}

// Load returns the next batch index to process, or 0 if no checkpoint
// exists.
func (s *EnrichStore) Load() (int, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("checkpoint: failed to read enrichment checkpoint: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("checkpoint: enrichment checkpoint is corrupt: %w", err)
	}
	return n, nil
}

// Save writes the next batch index, atomically.
func (s *EnrichStore) Save(nextBatchIndex int) error {
	return atomicWrite(s.path, []byte(strconv.Itoa(nextBatchIndex)))
}

// Clear removes the checkpoint file on clean completion of a run.
func (s *EnrichStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("checkpoint: failed to remove enrichment checkpoint: %w", err)
	}
	return nil
}
