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

	"github.com/abcxyz/pkg/logging"
)

// criticalRemaining is the absolute floor below which a quota warning is
// escalated regardless of ThresholdPercent, matching the source's
// monitor_rate_limit behavior.
const criticalRemaining = 50

// Monitor watches a credential's remaining quota and logs warnings as it
// approaches exhaustion. This is the Go equivalent of the source's
// monitor_rate_limit, supplementing spec.md §4.1/§7's rate-limit visibility
// requirements.
type Monitor struct {
	ThresholdPercent float64
}

// NewMonitor constructs a Monitor with the given warning threshold (e.g.
// 0.1 for "warn when under 10% of quota remains").
func NewMonitor(thresholdPercent float64) *Monitor {
	return &Monitor{ThresholdPercent: thresholdPercent}
}

// Check logs a warning if remaining has dropped under the configured
// threshold of limit, or under the absolute critical floor.
func (m *Monitor) Check(ctx context.Context, limit, remaining int) {
	logger := logging.FromContext(ctx)

	if remaining < criticalRemaining {
		logger.WarnContext(ctx, "rate limit critically low",
			"remaining", remaining, "limit", limit)
		return
	}

	if limit <= 0 {
		return
	}
	if float64(remaining)/float64(limit) < m.ThresholdPercent {
		logger.WarnContext(ctx, "rate limit approaching threshold",
			"remaining", remaining, "limit", limit, "threshold_percent", m.ThresholdPercent)
	}
}
