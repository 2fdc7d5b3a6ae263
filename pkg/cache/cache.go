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

// Package cache is a filesystem-backed response cache keyed by
// md5(endpoint + sorted query string), matching spec.md §4.2. Entries carry
// their write time so staleness can be judged without relying on filesystem
// mtimes, and writes are atomic (diskv writes to a temp file then renames).
package cache

import (
	"crypto/md5" //nolint:gosec // cache keying, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/peterbourgon/diskv/v3"
)

// DefaultTTL is the cache entry lifetime from spec.md §4.2.
const DefaultTTL = 24 * time.Hour

// entry is the on-disk envelope: {_cache_time, data} in the source this
// system is derived from.
type entry struct {
	CacheTime int64           `json:"_cache_time"`
	Data      json.RawMessage `json:"data"`
}

// Cache is a TTL'd filesystem cache of raw JSON response bodies.
type Cache struct {
	disk *diskv.Diskv
	ttl  time.Duration
	now  func() time.Time
}

// New constructs a Cache rooted at dir.
func New(dir string) *Cache {
	return &Cache{
		disk: diskv.New(diskv.Options{
			BasePath:     dir,
			TempDir:      filepath.Join(dir, ".tmp"),
			Transform:    func(string) []string { return nil },
			CacheSizeMax: 0,
		}),
		ttl: DefaultTTL,
		now: time.Now,
	}
}

// Key hashes (endpoint, sorted query params) into the cache's addressing
// scheme, mirroring the source's md5(endpoint + sorted query string).
func Key(endpoint string, query map[string]string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(endpoint)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%s", k, query[k])
	}

	sum := md5.Sum([]byte(b.String())) //nolint:gosec // cache keying, not a security boundary
	return hex.EncodeToString(sum[:])
}

// Get returns the cached body for key if present and not expired.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	raw, err := c.disk.Read(key)
	if err != nil {
		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// Corrupt cache entry: treat as a miss, per spec.md §7
		// ("cache miss/corruption (refetch)").
		return nil, false
	}

	if c.now().Sub(time.Unix(e.CacheTime, 0)) > c.ttl {
		return nil, false
	}
	return e.Data, true
}

// Set writes body to the cache under key, stamped with the current time.
func (c *Cache) Set(key string, body json.RawMessage) error {
	e := entry{CacheTime: c.now().Unix(), Data: body}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal entry: %w", err)
	}
	if err := c.disk.Write(key, raw); err != nil {
		return fmt.Errorf("cache: failed to write entry: %w", err)
	}
	return nil
}
