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

// Package enrich is the Batched GraphQL Enrichment Engine from spec.md §4.5:
// it assembles a single dynamically-aliased GraphQL document per batch,
// retries and paces it against GitHub's GraphQL rate limit, and writes the
// resulting contributor/commit/pull-request aggregates back to the store.
package enrich

import (
	"fmt"
	"strings"

	"github.com/abcxyz/github-data-collector/pkg/store"
)

// DefaultBatchSize is the number of repositories per GraphQL document
// (spec.md §4.5).
const DefaultBatchSize = 50

const aliasFragment = `
  r%d: repository(owner: $owner%d, name: $name%d) {
    id
    databaseId
    pullRequests { totalCount }
    defaultBranchRef {
      target {
        ... on Commit {
          history(first: 100) { totalCount }
        }
      }
    }
  }`

// buildBatchQuery assembles the aliased batch document and its variables
// map for one slice of targets. Aliases are r0..r(n-1), matching the
// variable suffixes $ownerN/$nameN so a response alias can be mapped back to
// its originating target by index.
func buildBatchQuery(targets []store.RepoRef) (string, map[string]any) {
	var params []string
	var body []string
	vars := make(map[string]any, len(targets)*2)

	for i, t := range targets {
		params = append(params, fmt.Sprintf("$owner%d: String!, $name%d: String!", i, i))
		body = append(body, fmt.Sprintf(aliasFragment, i, i, i))
		vars[fmt.Sprintf("owner%d", i)] = t.OwnerLogin
		vars[fmt.Sprintf("name%d", i)] = t.Name
	}

	query := fmt.Sprintf("query(%s) {%s\n}", strings.Join(params, ", "), strings.Join(body, ""))
	return query, vars
}

func alias(i int) string { return fmt.Sprintf("r%d", i) }
