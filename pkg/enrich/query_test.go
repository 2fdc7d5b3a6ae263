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
	"strings"
	"testing"

	"github.com/abcxyz/github-data-collector/pkg/store"
)

func TestBuildBatchQuery_AliasesAndVariablesMatchTargetOrder(t *testing.T) {
	t.Parallel()

	targets := []store.RepoRef{
		{ID: 1, OwnerLogin: "octocat", Name: "hello-world"},
		{ID: 2, OwnerLogin: "octo-org", Name: "widgets"},
	}

	query, vars := buildBatchQuery(targets)

	for _, want := range []string{"r0: repository(owner: $owner0, name: $name0)", "r1: repository(owner: $owner1, name: $name1)", "$owner0: String!", "$name1: String!"} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q:\n%s", want, query)
		}
	}

	if vars["owner0"] != "octocat" || vars["name0"] != "hello-world" {
		t.Errorf("vars[0] = owner=%v name=%v, want octocat/hello-world", vars["owner0"], vars["name0"])
	}
	if vars["owner1"] != "octo-org" || vars["name1"] != "widgets" {
		t.Errorf("vars[1] = owner=%v name=%v, want octo-org/widgets", vars["owner1"], vars["name1"])
	}
}

func TestAlias(t *testing.T) {
	t.Parallel()
	if got := alias(3); got != "r3" {
		t.Errorf("alias(3) = %q, want %q", got, "r3")
	}
}
