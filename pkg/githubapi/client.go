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

package githubapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	"github.com/abcxyz/github-data-collector/pkg/cache"
	"github.com/abcxyz/github-data-collector/pkg/metrics"
	"github.com/abcxyz/github-data-collector/pkg/tokenpool"
	"github.com/abcxyz/pkg/logging"
)

const (
	// DefaultBaseURL is the GitHub REST v3 API endpoint.
	DefaultBaseURL = "https://api.github.com"

	// DefaultMaxAttempts is the bounded retry loop size from spec.md §4.2.
	DefaultMaxAttempts = 3
)

// Client is an authenticated HTTP client for GitHub's REST API, backed by a
// [tokenpool.Pool] for credential selection and a [cache.Cache] for GET
// response caching, per spec.md §4.2.
type Client struct {
	pool        *tokenpool.Pool
	cache       *cache.Cache
	metrics     *metrics.Counters
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	maxAttempts uint64

	mu      sync.Mutex
	clients map[string]*http.Client // memoized per-token oauth2 clients
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the REST endpoint (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithMetrics attaches progress counters.
func WithMetrics(m *metrics.Counters) Option {
	return func(c *Client) { c.metrics = m }
}

// New constructs a Client over pool and cache.
func New(pool *tokenpool.Pool, respCache *cache.Cache, opts ...Option) *Client {
	c := &Client{
		pool:        pool,
		cache:       respCache,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		baseURL:     DefaultBaseURL,
		userAgent:   "github-data-collector",
		maxAttempts: DefaultMaxAttempts,
		clients:     make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// clientFor returns an *http.Client authenticated with tok, memoized so
// repeated requests on the same credential reuse one oauth2.Transport.
func (c *Client) clientFor(ctx context.Context, tok string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hc, ok := c.clients[tok]; ok {
		return hc
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = c.httpClient.Timeout
	c.clients[tok] = hc
	return hc
}

// Request issues an authenticated call against path (relative to baseURL)
// with the given method, query parameters, and optional body. For GET
// requests with useCache=true, a cache hit bypasses the token pool
// entirely. Implements the retry/backoff/error-taxonomy contract of
// spec.md §4.2.
func (c *Client) Request(ctx context.Context, method, path string, query map[string]string, body io.Reader, useCache bool) (json.RawMessage, error) {
	if method == http.MethodGet && useCache {
		key := cache.Key(path, query)
		if hit, ok := c.cache.Get(key); ok {
			if c.metrics != nil {
				c.metrics.AddCacheHits(1)
			}
			return hit, nil
		}
		if c.metrics != nil {
			c.metrics.AddCacheMisses(1)
		}
	}

	var result json.RawMessage
	var cacheKey string
	if method == http.MethodGet && useCache {
		cacheKey = cache.Key(path, query)
	}

	b := retry.WithMaxRetries(c.maxAttempts-1, transientBackoff())
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		cred, err := c.pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("githubapi: failed to acquire credential: %w", err)
		}

		status, hdr, respBody, err := c.do(ctx, cred.Token, method, path, query, body)
		if err != nil {
			return retry.RetryableError(&TransientError{Endpoint: path, Err: err})
		}

		c.updateRateLimit(cred.Token, hdr)

		switch {
		case status == http.StatusNotFound:
			logging.FromContext(ctx).WarnContext(ctx, "githubapi: 404, returning empty document", "path", path)
			result = json.RawMessage(`{}`)
			return nil
		case status == http.StatusForbidden && strings.Contains(strings.ToLower(string(respBody)), "rate limit exceeded"):
			if c.metrics != nil {
				c.metrics.AddRateLimitWaits(1)
			}
			return retry.RetryableError(&RateLimitError{Endpoint: path})
		case status >= 500:
			return retry.RetryableError(&TransientError{Endpoint: path, Err: fmt.Errorf("status %d", status)})
		case status >= 400:
			return &FatalError{Endpoint: path, StatusCode: status, Body: string(respBody)}
		default:
			result = json.RawMessage(respBody)
			return nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("githubapi: request to %s failed: %w", path, err)
	}

	if cacheKey != "" && len(result) > 0 && string(result) != "{}" {
		if err := c.cache.Set(cacheKey, result); err != nil {
			logging.FromContext(ctx).WarnContext(ctx, "githubapi: failed to write response cache", "error", err)
		}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, token, method, path string, query map[string]string, body io.Reader) (int, http.Header, []byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		v := url.Values{}
		for k, val := range query {
			v.Set(k, val)
		}
		u += "?" + v.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.clientFor(ctx, token).Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, resp.Header, respBody, nil
}

// updateRateLimit feeds X-RateLimit-Remaining / X-RateLimit-Reset back into
// the token pool for the credential that was used, per spec.md §4.2 ("After
// every response, rate-limit headers update the Token Pool").
func (c *Client) updateRateLimit(token string, hdr http.Header) {
	remaining, err := strconv.Atoi(hdr.Get("X-RateLimit-Remaining"))
	if err != nil {
		return
	}
	resetEpoch, err := strconv.ParseInt(hdr.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	_ = c.pool.Update(token, remaining, time.Unix(resetEpoch, 0))
}

// transientBackoff implements the 2^attempt + rand(0,1) second backoff from
// spec.md §4.2/§4.5 as a [retry.Backoff].
func transientBackoff() retry.Backoff {
	var attempt uint64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n := attempt
		attempt++
		wait := time.Duration(math.Pow(2, float64(n)))*time.Second + time.Duration(rand.Float64()*float64(time.Second))
		return wait, false
	})
}
