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

package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
	"github.com/abcxyz/pkg/logging"
)

// DefaultGraphQLURL is GitHub's GraphQL v4 endpoint.
const DefaultGraphQLURL = "https://api.github.com/graphql"

// maxAttempts is the bounded retry loop size for a single batch (spec.md
// §4.5): "up to 3 attempts per batch".
const maxAttempts = 3

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type repoNode struct {
	ID               string `json:"id"`
	DatabaseID       *int64 `json:"databaseId"`
	PullRequests     struct {
		TotalCount int64 `json:"totalCount"`
	} `json:"pullRequests"`
	DefaultBranchRef *struct {
		Target struct {
			History struct {
				TotalCount int64 `json:"totalCount"`
			} `json:"history"`
		} `json:"target"`
	} `json:"defaultBranchRef"`
}

type graphQLResponse struct {
	Data   map[string]*repoNode `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Path    []any  `json:"path"`
	} `json:"errors"`
}

// transport issues the batch query against GitHub's GraphQL endpoint,
// implementing spec.md §4.5's retry/rate-limit rules: transient failures and
// 5xx responses retry with `2^attempt` second backoff, up to maxAttempts;
// a 403 with X-RateLimit-Remaining == 0 sleeps until the reset header
// without being counted as one of those attempts.
type transport struct {
	pool       *tokenpool.Pool
	httpClient *http.Client
	url        string
	sleep      func(time.Duration) // overridable in tests
}

func newTransport(pool *tokenpool.Pool, url string) *transport {
	return &transport{
		pool:       pool,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		url:        url,
		sleep:      time.Sleep,
	}
}

// execute runs one batch document to completion (retried per the rules
// above) and returns the decoded response alongside the X-RateLimit-Remaining
// / X-RateLimit-Reset observed on the last successful response, so the
// caller can apply inter-batch pacing.
func (t *transport) execute(ctx context.Context, query string, vars map[string]any) (*graphQLResponse, int, time.Time, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, 0, time.Time{}, fmt.Errorf("enrich: failed to marshal batch request: %w", err)
	}

	var attempt int
	for {
		cred, err := t.pool.Acquire(ctx)
		if err != nil {
			return nil, 0, time.Time{}, fmt.Errorf("enrich: failed to acquire credential: %w", err)
		}

		status, hdr, body, err := t.post(ctx, cred.Token, payload)
		if err != nil {
			if attempt >= maxAttempts-1 {
				return nil, 0, time.Time{}, fmt.Errorf("enrich: batch failed after %d attempts: %w", maxAttempts, err)
			}
			t.backoff(attempt)
			attempt++
			continue
		}

		remaining, reset := parseRateLimitHeaders(hdr)
		if remaining >= 0 {
			t.pool.Update(cred.Token, remaining, reset)
		}

		switch {
		case status == http.StatusForbidden && hdr.Get("X-RateLimit-Remaining") == "0":
			logging.FromContext(ctx).WarnContext(ctx, "enrich: rate limit exhausted mid-batch, sleeping until reset", "reset", reset)
			t.sleepUntil(reset)
			continue // does not count as a retry attempt.
		case status >= 500:
			if attempt >= maxAttempts-1 {
				return nil, 0, time.Time{}, fmt.Errorf("enrich: batch failed after %d attempts: status %d", maxAttempts, status)
			}
			t.backoff(attempt)
			attempt++
			continue
		case status != http.StatusOK:
			return nil, 0, time.Time{}, fmt.Errorf("enrich: batch request returned status %d: %s", status, string(body))
		}

		var resp graphQLResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, 0, time.Time{}, fmt.Errorf("enrich: failed to decode batch response: %w", err)
		}
		return &resp, remaining, reset, nil
	}
}

func (t *transport) post(ctx context.Context, token string, payload []byte) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github.v4+json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, body, nil
}

func (t *transport) backoff(attempt int) {
	t.sleep(time.Duration(1<<uint(attempt)) * time.Second)
}

func (t *transport) sleepUntil(reset time.Time) {
	d := time.Until(reset) + 2*time.Second
	if d < 0 {
		d = 2 * time.Second
	}
	t.sleep(d)
}

func parseRateLimitHeaders(hdr http.Header) (int, time.Time) {
	remaining, err := strconv.Atoi(hdr.Get("X-RateLimit-Remaining"))
	if err != nil {
		return -1, time.Time{}
	}
	resetEpoch, err := strconv.ParseInt(hdr.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return remaining, time.Time{}
	}
	return remaining, time.Unix(resetEpoch, 0)
}

// isMissingDatabaseID reports whether n is nil (the repository wasn't
// found, e.g. renamed or deleted) or carries a node id without a databaseId
// — the ID mapping hazard from spec.md §4.5: enrichment writes key on
// databaseId only, so a batch entry with only the opaque node id is treated
// as failed rather than guessed at.
func isMissingDatabaseID(n *repoNode) bool {
	return n == nil || n.DatabaseID == nil
}
