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

// Package metrics carries the progress counters that the source this
// system is derived from reports via its UI/progress and
// performance-tracker modules (not carried verbatim; those are an
// interactive collaborator out of scope per spec.md §1). The counters
// themselves are required by spec.md §7 ("progress is reported
// periodically").
package metrics

import "sync/atomic"

// Counters is a concurrency-safe set of crawl progress counters.
type Counters struct {
	RepositoriesCollected int64
	RepositoriesDuplicate int64
	OwnersFetched         int64
	OwnersDuplicateInPage int64
	CacheHits             int64
	CacheMisses           int64
	RateLimitWaits        int64
	WindowSplits          int64
	RepositoriesEnriched  int64
}

func (c *Counters) AddRepositoriesCollected(n int64) { atomic.AddInt64(&c.RepositoriesCollected, n) }
func (c *Counters) AddRepositoriesDuplicate(n int64) { atomic.AddInt64(&c.RepositoriesDuplicate, n) }
func (c *Counters) AddOwnersFetched(n int64)         { atomic.AddInt64(&c.OwnersFetched, n) }
func (c *Counters) AddOwnersDuplicateInPage(n int64) { atomic.AddInt64(&c.OwnersDuplicateInPage, n) }
func (c *Counters) AddCacheHits(n int64)             { atomic.AddInt64(&c.CacheHits, n) }
func (c *Counters) AddCacheMisses(n int64)           { atomic.AddInt64(&c.CacheMisses, n) }
func (c *Counters) AddRateLimitWaits(n int64)        { atomic.AddInt64(&c.RateLimitWaits, n) }
func (c *Counters) AddWindowSplits(n int64)          { atomic.AddInt64(&c.WindowSplits, n) }
func (c *Counters) AddRepositoriesEnriched(n int64)  { atomic.AddInt64(&c.RepositoriesEnriched, n) }

// Snapshot returns a copy safe to log or compare in tests.
func (c *Counters) Snapshot() Counters {
	return Counters{
		RepositoriesCollected: atomic.LoadInt64(&c.RepositoriesCollected),
		RepositoriesDuplicate: atomic.LoadInt64(&c.RepositoriesDuplicate),
		OwnersFetched:         atomic.LoadInt64(&c.OwnersFetched),
		OwnersDuplicateInPage: atomic.LoadInt64(&c.OwnersDuplicateInPage),
		CacheHits:             atomic.LoadInt64(&c.CacheHits),
		CacheMisses:           atomic.LoadInt64(&c.CacheMisses),
		RateLimitWaits:        atomic.LoadInt64(&c.RateLimitWaits),
		WindowSplits:          atomic.LoadInt64(&c.WindowSplits),
		RepositoriesEnriched:  atomic.LoadInt64(&c.RepositoriesEnriched),
	}
}
