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

// Repository is the persisted shape of a GitHub repository. Enrichment
// aggregates are pointers so "not yet enriched" (SQL NULL) is distinguishable
// from zero.
type Repository struct {
	ID               int64
	Name             string
	FullName         string
	OwnerLogin       string
	OwnerKind        OwnerKind
	OrganizationLogin string // set only when OwnerKind == OwnerKindOrganization; empty for user-owned repositories

	Description    string
	Homepage       string
	Language       string
	Private        bool
	Fork           bool
	DefaultBranch  string
	Size           int64
	StargazersCount int64
	WatchersCount   int64
	ForksCount      int64
	OpenIssuesCount int64

	ContributorsCount *int64
	CommitsCount      *int64
	PullRequestsCount *int64

	CreatedAt time.Time
	UpdatedAt time.Time
	PushedAt  time.Time
}

// RepositorySummary is the sparse shape returned by the search endpoint,
// before enrichment. It carries enough to upsert the repository row and to
// discover its owner.
type RepositorySummary struct {
	ID              int64
	Name            string
	FullName        string
	Owner           OwnerSummary
	Description     string
	Homepage        string
	Language        string
	Private         bool
	Fork            bool
	DefaultBranch   string
	Size            int64
	StargazersCount int64
	WatchersCount   int64
	ForksCount      int64
	OpenIssuesCount int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PushedAt        time.Time
}

// EnrichmentDelta is the result of a single GraphQL-enriched repository,
// ready to be written by the Store in one update transaction per batch.
type EnrichmentDelta struct {
	DatabaseID        int64
	ContributorsCount int64
	CommitsCount      int64
	PullRequestsCount int64
}
