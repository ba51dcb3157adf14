//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package accounts defines the normalized user and group records shared by
// every name service backend, the interfaces they implement and the errors
// they return.
package accounts

import (
	"context"
	"iter"
	"slices"
)

// User is the common representation of a user across platforms.
//
// Records returned by a provider are snapshots and may be shared with other
// callers (i.e. by a cache), they must be treated as read-only. Use Clone to
// get a private copy.
type User struct {
	// UID is the user id of the user.
	UID uint32
	// Name is the login name of the user.
	Name string
	// Password is the raw password field of the entry, usually "x" or "*".
	Password string
	// GID is the primary group id of the user.
	GID uint32
	// Gecos is the comment/display name field of the user.
	Gecos string
	// HomeDir is the home directory of the user.
	HomeDir string
	// Shell is the login shell of the user.
	Shell string
}

// Group is the common representation of a group across platforms.
type Group struct {
	// GID is the group id of the group.
	GID uint32
	// Name is the name of the group.
	Name string
	// Password is the raw password field of the entry.
	Password string
	// Members is the list of user names listed as members of the group, each
	// name appears once.
	Members []string
}

// Clone returns a copy of the user.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	res := *u
	return &res
}

// IsSuperuser returns true if the user is the superuser (uid 0).
func (u *User) IsSuperuser() bool {
	return u.UID == 0
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	res := *g
	res.Members = slices.Clone(g.Members)
	return &res
}

// HasMember returns true if username is listed as a member of the group.
func (g *Group) HasMember(username string) bool {
	return slices.Contains(g.Members, username)
}

// UserLookup looks up single users.
type UserLookup interface {
	// LookupUserByID returns the user with the given uid. If there is no such
	// user the returned error is a *NotFoundError.
	LookupUserByID(ctx context.Context, uid uint32) (*User, error)
	// LookupUserByName returns the user with the given login name. If there is
	// no such user the returned error is a *NotFoundError.
	LookupUserByName(ctx context.Context, name string) (*User, error)
}

// GroupLookup looks up single groups.
type GroupLookup interface {
	// LookupGroupByID returns the group with the given gid. If there is no such
	// group the returned error is a *NotFoundError.
	LookupGroupByID(ctx context.Context, gid uint32) (*Group, error)
	// LookupGroupByName returns the group with the given name. If there is no
	// such group the returned error is a *NotFoundError.
	LookupGroupByName(ctx context.Context, name string) (*Group, error)
}

// Lookup looks up single users and groups.
type Lookup interface {
	UserLookup
	GroupLookup
}

// Enumerator lists the whole account database.
//
// The returned sequences are lazy and forward only: the underlying query is
// started when the iteration starts and stopping the iteration early releases
// it. Ranging over the same sequence twice runs the query twice.
type Enumerator interface {
	// AllUsers returns every user of the database.
	AllUsers(ctx context.Context) iter.Seq2[*User, error]
	// AllGroups returns every group of the database.
	AllGroups(ctx context.Context) iter.Seq2[*Group, error]
}

// Provider is a complete account database backend.
type Provider interface {
	Lookup
	Enumerator
}

// dedupeMembers drops empty and repeated member names keeping the original
// order.
func dedupeMembers(members []string) []string {
	var res []string
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		res = append(res, m)
	}
	return res
}
