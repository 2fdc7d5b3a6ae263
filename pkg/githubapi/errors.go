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

// Package githubapi is an authenticated HTTP client for GitHub's REST API
// with a filesystem response cache, rate-limit-aware token rotation, and
// the error taxonomy described in spec.md §7.
package githubapi

import "fmt"

// RateLimitError is returned when a request failed with HTTP 403 and a body
// indicating the rate limit was exceeded. Callers should rotate credentials
// and retry.
type RateLimitError struct {
	Endpoint string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("githubapi: rate limit exceeded calling %s", e.Endpoint)
}

// TransientError wraps a 5xx, timeout, or connection-reset response that
// should be retried with backoff.
type TransientError struct {
	Endpoint string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("githubapi: transient error calling %s: %v", e.Endpoint, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps any other 4xx response that isn't classified as
// NotFound or RateLimit; it's surfaced to the caller after retries are
// exhausted.
type FatalError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("githubapi: fatal error calling %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}
