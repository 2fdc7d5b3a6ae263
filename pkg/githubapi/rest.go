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
	"net/http"
	"regexp"
	"strconv"

	"github.com/google/go-github/v61/github"

	"github.com/abcxyz/github-data-collector/pkg/model"
)

// SearchRepositories issues GET /search/repositories for the given query
// string and page, decoding into go-github's search result type. Results
// are never cached: search result sets change as new repositories are
// created, so caching would mask new matches within the 24h TTL.
func (c *Client) SearchRepositories(ctx context.Context, query string, page, perPage int) (*github.RepositoriesSearchResult, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/search/repositories", map[string]string{
		"q":        query,
		"sort":     "stars",
		"order":    "desc",
		"per_page": strconv.Itoa(perPage),
		"page":     strconv.Itoa(page),
	}, nil, false)
	if err != nil {
		return nil, err
	}

	var result github.RepositoriesSearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("githubapi: failed to decode search result: %w", err)
	}
	return &result, nil
}

// GetUser fetches GET /users/{login}, cached.
func (c *Client) GetUser(ctx context.Context, login string) (*github.User, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/users/"+login, nil, nil, true)
	if err != nil {
		return nil, err
	}
	var u github.User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("githubapi: failed to decode user %q: %w", login, err)
	}
	return &u, nil
}

// GetOrganization fetches GET /orgs/{login}, cached.
func (c *Client) GetOrganization(ctx context.Context, login string) (*github.Organization, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/orgs/"+login, nil, nil, true)
	if err != nil {
		return nil, err
	}
	var o github.Organization
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("githubapi: failed to decode organization %q: %w", login, err)
	}
	return &o, nil
}

// RateLimit fetches GET /rate_limit for active monitoring (spec.md §6).
func (c *Client) RateLimit(ctx context.Context) (*github.RateLimits, error) {
	raw, err := c.Request(ctx, http.MethodGet, "/rate_limit", nil, nil, false)
	if err != nil {
		return nil, err
	}
	var wrapper struct {
		Resources *github.RateLimits `json:"resources"`
	}
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("githubapi: failed to decode rate_limit: %w", err)
	}
	return wrapper.Resources, nil
}

var linkLastPageRE = regexp.MustCompile(`[?&]page=(\d+)[^>]*>;\s*rel="last"`)

// ContributorsCount derives the contributor count for owner/name via the
// documented HEAD-request + Link-header-parsing trick (spec.md §6, §9). It
// returns 0 on any parse failure rather than an error, matching the
// defensive behavior of the source this system is derived from.
func (c *Client) ContributorsCount(ctx context.Context, owner, name string) int {
	cred, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0
	}
	status, hdr, _, err := c.do(ctx, cred.Token, http.MethodHead,
		fmt.Sprintf("/repos/%s/%s/contributors", owner, name),
		map[string]string{"per_page": "1", "anon": "true"}, nil)
	if err != nil || status != http.StatusOK {
		return 0
	}
	c.updateRateLimit(cred.Token, hdr)

	link := hdr.Get("Link")
	if link == "" {
		return 1 // no Link header means a single page of results.
	}
	m := linkLastPageRE.FindStringSubmatch(link)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// FetchOwnerProfile resolves the full profile for a sparse owner reference,
// dispatching to GetUser or GetOrganization by summary.Kind.
func (c *Client) FetchOwnerProfile(ctx context.Context, summary model.OwnerSummary) (model.OwnerProfile, error) {
	if summary.Kind == model.OwnerKindOrganization {
		org, err := c.GetOrganization(ctx, summary.Login)
		if err != nil {
			return model.OwnerProfile{}, err
		}
		return ToOrganizationProfile(org), nil
	}
	u, err := c.GetUser(ctx, summary.Login)
	if err != nil {
		return model.OwnerProfile{}, err
	}
	return ToOwnerProfile(u), nil
}

// toOwnerSummary extracts the sparse owner reference from a go-github
// repository payload, classifying it as a User or Organization from the
// "type" field GitHub includes on the embedded owner object.
func toOwnerSummary(owner *github.User) model.OwnerSummary {
	kind := model.OwnerKindUser
	if owner.GetType() == "Organization" {
		kind = model.OwnerKindOrganization
	}
	return model.OwnerSummary{Login: owner.GetLogin(), Kind: kind}
}

// ToRepositorySummary converts a go-github repository into the typed
// [model.RepositorySummary] the collector pipeline consumes.
func ToRepositorySummary(r *github.Repository) model.RepositorySummary {
	return model.RepositorySummary{
		ID:              r.GetID(),
		Name:            r.GetName(),
		FullName:        r.GetFullName(),
		Owner:           toOwnerSummary(r.GetOwner()),
		Description:     r.GetDescription(),
		Homepage:        r.GetHomepage(),
		Language:        r.GetLanguage(),
		Private:         r.GetPrivate(),
		Fork:            r.GetFork(),
		DefaultBranch:   r.GetDefaultBranch(),
		Size:            int64(r.GetSize()),
		StargazersCount: int64(r.GetStargazersCount()),
		WatchersCount:   int64(r.GetWatchersCount()),
		ForksCount:      int64(r.GetForksCount()),
		OpenIssuesCount: int64(r.GetOpenIssuesCount()),
		CreatedAt:       r.GetCreatedAt().Time,
		UpdatedAt:       r.GetUpdatedAt().Time,
		PushedAt:        r.GetPushedAt().Time,
	}
}

// ToOwnerProfile converts a go-github user payload into the intermediate
// [model.OwnerProfile] record, tagged as a User.
func ToOwnerProfile(u *github.User) model.OwnerProfile {
	return model.OwnerProfile{
		Kind: model.OwnerKindUser,
		Profile: model.Profile{
			ID:              u.GetID(),
			Login:           u.GetLogin(),
			Name:            u.GetName(),
			Email:           u.GetEmail(),
			Company:         u.GetCompany(),
			Blog:            u.GetBlog(),
			Location:        u.GetLocation(),
			Bio:             u.GetBio(),
			TwitterUsername: u.GetTwitterUsername(),
			AvatarURL:       u.GetAvatarURL(),
			PublicRepos:     u.GetPublicRepos(),
			PublicGists:     u.GetPublicGists(),
			Followers:       u.GetFollowers(),
			Following:       u.GetFollowing(),
			CreatedAt:       u.GetCreatedAt().Time,
			UpdatedAt:       u.GetUpdatedAt().Time,
		},
	}
}

// ToOrganizationProfile converts a go-github organization payload into the
// intermediate [model.OwnerProfile] record, tagged as an Organization.
func ToOrganizationProfile(o *github.Organization) model.OwnerProfile {
	return model.OwnerProfile{
		Kind:          model.OwnerKindOrganization,
		PublicMembers: o.GetPublicMembers(),
		Profile: model.Profile{
			ID:          o.GetID(),
			Login:       o.GetLogin(),
			Name:        o.GetName(),
			Email:       o.GetEmail(),
			Company:     o.GetCompany(),
			Blog:        o.GetBlog(),
			Location:    o.GetLocation(),
			AvatarURL:   o.GetAvatarURL(),
			PublicRepos: o.GetPublicRepos(),
			Followers:   o.GetFollowers(),
			Following:   o.GetFollowing(),
			CreatedAt:   o.GetCreatedAt().Time,
			UpdatedAt:   o.GetUpdatedAt().Time,
		},
	}
}
