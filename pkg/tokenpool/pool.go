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

// Package tokenpool multiplexes a set of GitHub personal access tokens to
// maximize throughput while respecting each token's independent hourly
// quota.
package tokenpool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abcxyz/pkg/logging"
)

// ErrPoolExhausted is returned only when the pool was constructed with no
// credentials; once non-empty, acquire always eventually returns.
var ErrPoolExhausted = errors.New("tokenpool: no credentials configured")

// defaultQuota is the GitHub REST/GraphQL per-hour quota for an
// authenticated request, used to optimistically reset Remaining once the
// wall clock passes a credential's ResetTime without an intervening API
// response.
const defaultQuota = 5000

// pollInterval is how often acquire re-checks the pool while every
// credential is exhausted.
var pollInterval = 30 * time.Second

// Credential is one GitHub personal access token and its last-known quota
// state.
type Credential struct {
	Token     string
	Remaining int
	ResetTime time.Time
	LastUsed  time.Time
}

// Pool is the shared-mutable token pool described in spec.md §4.1. All
// reads and writes are serialized under a single mutex; the only
// suspension point is waiting for a reset when every credential is
// exhausted.
type Pool struct {
	mu          sync.Mutex
	credentials []*Credential
	now         func() time.Time
}

// New constructs a Pool from the given tokens. Returns ErrPoolExhausted if
// tokens is empty.
func New(tokens []string) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, ErrPoolExhausted
	}
	creds := make([]*Credential, 0, len(tokens))
	for _, t := range tokens {
		creds = append(creds, &Credential{
			Token:     t,
			Remaining: defaultQuota,
			ResetTime: time.Time{},
		})
	}
	return &Pool{credentials: creds, now: time.Now}, nil
}

// Acquire selects the best available credential, blocking if the whole pool
// is exhausted. Selection policy: among credentials with Remaining > 0
// (optimistically reset to the quota when the wall clock has passed
// ResetTime), pick the one with maximum Remaining, breaking ties by oldest
// LastUsed. If none have capacity, sleep until the earliest ResetTime,
// polling and logging every pollInterval.
func (p *Pool) Acquire(ctx context.Context) (*Credential, error) {
	for {
		cred, wait, ok := p.tryAcquireLocked()
		if ok {
			return cred, nil
		}

		logger := logging.FromContext(ctx)
		sleep := wait
		if sleep > pollInterval {
			sleep = pollInterval
		}
		logger.InfoContext(ctx, "token pool exhausted, waiting for reset",
			"wait_remaining", wait.String())

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquireLocked returns (credential, 0, true) on success, or
// (nil, timeUntilEarliestReset, false) when every credential is exhausted.
func (p *Pool) tryAcquireLocked() (*Credential, time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var available []*Credential
	var earliestReset time.Time

	for _, c := range p.credentials {
		if c.Remaining <= 0 && !c.ResetTime.IsZero() && now.After(c.ResetTime) {
			c.Remaining = defaultQuota
			c.ResetTime = time.Time{}
		}
		if c.Remaining > 0 {
			available = append(available, c)
			continue
		}
		if earliestReset.IsZero() || c.ResetTime.Before(earliestReset) {
			earliestReset = c.ResetTime
		}
	}

	if len(available) == 0 {
		wait := time.Second
		if !earliestReset.IsZero() {
			if d := earliestReset.Sub(now); d > 0 {
				wait = d
			}
		}
		return nil, wait, false
	}

	sort.Slice(available, func(i, j int) bool {
		if available[i].Remaining != available[j].Remaining {
			return available[i].Remaining > available[j].Remaining
		}
		return available[i].LastUsed.Before(available[j].LastUsed)
	})

	best := available[0]
	best.LastUsed = now
	return best, 0, true
}

// Update records the remaining quota and reset time most recently observed
// for a credential, typically parsed from X-RateLimit-Remaining and
// X-RateLimit-Reset response headers.
func (p *Pool) Update(token string, remaining int, resetTime time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.credentials {
		if c.Token == token {
			c.Remaining = remaining
			c.ResetTime = resetTime
			return nil
		}
	}
	return fmt.Errorf("tokenpool: unknown credential")
}

// ParseTokens combines a single token flag/env value with a comma-separated
// list, matching spec.md §6's "GITHUB_API_TOKEN (single) or
// GITHUB_API_TOKENS (comma-separated)" convention shared by the collect and
// enrich commands.
func ParseTokens(single, csv string) []string {
	var tokens []string
	if single != "" {
		tokens = append(tokens, single)
	}
	for _, t := range strings.Split(csv, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Len returns the number of configured credentials.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.credentials)
}
