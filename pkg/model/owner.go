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

// Package model defines the typed records shared across the collector,
// search, enrichment, and store packages. It replaces the duck-typed
// dictionaries passed between layers in the source this system was derived
// from with an explicit tagged Owner variant and plain structs.
package model

import (
	"context"
	"time"
)

// OwnerKind distinguishes the two variants of the Owner sum type. A User and
// an Organization occupy distinct identity spaces: they may share a login
// but never an ID.
type OwnerKind string

const (
	OwnerKindUser         OwnerKind = "User"
	OwnerKindOrganization OwnerKind = "Organization"
)

// Owner is implemented by *User and *Organization. It exposes the fields the
// collector and store need without knowing which variant it holds.
type Owner interface {
	OwnerID() int64
	OwnerLogin() string
	OwnerKind() OwnerKind
}

// Geocoder resolves a free-text Location string into a country code and
// region. It's the collaborator boundary for the geocoding subsystem, which
// spec.md §1 lists as out of scope: no implementation lives in this repo,
// but the CountryCode/Region fields below exist for a caller that wires one
// in (e.g. over an external geocoding API) to populate.
type Geocoder interface {
	Resolve(ctx context.Context, location string) (countryCode, region string, err error)
}

// Profile holds the fields shared by User and Organization, mirroring the
// GitHub REST owner profile payload plus the geocoding fields populated by
// the (external) geocoding collaborator.
type Profile struct {
	ID              int64
	Login           string
	Name            string
	Email           string
	Company         string
	Blog            string
	Location        string
	Bio             string
	TwitterUsername string
	AvatarURL       string
	PublicRepos     int
	PublicGists     int
	Followers       int
	Following       int
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// CountryCode and Region are derived by the external geocoder from
	// Location. Empty until resolved.
	CountryCode string
	Region      string
}

// User is one variant of Owner.
type User struct {
	Profile
}

func (u *User) OwnerID() int64      { return u.Profile.ID }
func (u *User) OwnerLogin() string  { return u.Profile.Login }
func (u *User) OwnerKind() OwnerKind { return OwnerKindUser }

// Organization is the other variant of Owner; it carries everything a User
// does plus PublicMembers.
type Organization struct {
	Profile
	PublicMembers int
}

func (o *Organization) OwnerID() int64      { return o.Profile.ID }
func (o *Organization) OwnerLogin() string  { return o.Profile.Login }
func (o *Organization) OwnerKind() OwnerKind { return OwnerKindOrganization }

// OwnerSummary is the sparse owner reference present on a repository search
// result, before the full profile has been fetched.
type OwnerSummary struct {
	Login string
	Kind  OwnerKind
}

// OwnerProfile is the result of fetching /users/{login} or /orgs/{login}.
// It's an intermediate record between the wire response and the typed Owner
// variant stored via Store.UpsertOwner.
type OwnerProfile struct {
	Profile
	Kind          OwnerKind
	PublicMembers int // only meaningful when Kind == OwnerKindOrganization
}

// ToOwner converts the intermediate profile into the tagged Owner variant.
func (p OwnerProfile) ToOwner() Owner {
	if p.Kind == OwnerKindOrganization {
		return &Organization{Profile: p.Profile, PublicMembers: p.PublicMembers}
	}
	return &User{Profile: p.Profile}
}
