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

package cache

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
)

// SnapshotOptions configures NewSnapshot.
type SnapshotOptions struct {
	// UserFilter, if set, selects the users kept in the snapshot.
	UserFilter func(*accounts.User) bool
	// GroupFilter, if set, selects the groups kept in the snapshot.
	GroupFilter func(*accounts.Group) bool
	// OnlyPrimaryGroups restricts the groups kept to the primary groups of the
	// kept users. It's applied before GroupFilter.
	OnlyPrimaryGroups bool
	// IDs is the source of the process ids recorded in the snapshot, defaults
	// to accounts.OS.
	IDs accounts.IDSource
}

// Snapshot is an immutable, eagerly loaded copy of an account database. It
// offers a consistent view: the users and groups it holds were read together
// and never change. Create a new Snapshot to observe changes.
type Snapshot struct {
	users      map[uint32]*accounts.User
	userNames  map[string]uint32
	groups     map[uint32]*accounts.Group
	groupNames map[string]uint32

	uid, euid, gid, egid uint32
}

// NewSnapshot reads every user and group of src. Any enumeration error aborts
// the snapshot.
func NewSnapshot(ctx context.Context, src accounts.Enumerator, opts SnapshotOptions) (*Snapshot, error) {
	ids := opts.IDs
	if ids == nil {
		ids = accounts.OS
	}

	s := &Snapshot{
		users:      make(map[uint32]*accounts.User),
		userNames:  make(map[string]uint32),
		groups:     make(map[uint32]*accounts.Group),
		groupNames: make(map[string]uint32),
		uid:        ids.UID(),
		euid:       ids.EUID(),
		gid:        ids.GID(),
		egid:       ids.EGID(),
	}

	primary := make(map[uint32]bool)
	for u, err := range src.AllUsers(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate users: %w", err)
		}
		if opts.UserFilter != nil && !opts.UserFilter(u) {
			continue
		}
		if _, dup := s.users[u.UID]; dup {
			continue
		}
		s.users[u.UID] = u
		s.userNames[u.Name] = u.UID
		primary[u.GID] = true
	}

	for g, err := range src.AllGroups(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate groups: %w", err)
		}
		if opts.OnlyPrimaryGroups && !primary[g.GID] {
			continue
		}
		if opts.GroupFilter != nil && !opts.GroupFilter(g) {
			continue
		}
		if _, dup := s.groups[g.GID]; dup {
			continue
		}
		s.groups[g.GID] = g
		s.groupNames[g.Name] = g.GID
	}

	galog.V(2).Debugf("Loaded account snapshot with %d users and %d groups", len(s.users), len(s.groups))
	return s, nil
}

// LookupUserByID implements accounts.UserLookup.
func (s *Snapshot) LookupUserByID(_ context.Context, uid uint32) (*accounts.User, error) {
	if u, ok := s.users[uid]; ok {
		return u, nil
	}
	return nil, accounts.NewUserIDNotFound(uid)
}

// LookupUserByName implements accounts.UserLookup.
func (s *Snapshot) LookupUserByName(_ context.Context, name string) (*accounts.User, error) {
	if uid, ok := s.userNames[name]; ok {
		return s.users[uid], nil
	}
	return nil, accounts.NewUserNameNotFound(name)
}

// LookupGroupByID implements accounts.GroupLookup.
func (s *Snapshot) LookupGroupByID(_ context.Context, gid uint32) (*accounts.Group, error) {
	if g, ok := s.groups[gid]; ok {
		return g, nil
	}
	return nil, accounts.NewGroupIDNotFound(gid)
}

// LookupGroupByName implements accounts.GroupLookup.
func (s *Snapshot) LookupGroupByName(_ context.Context, name string) (*accounts.Group, error) {
	if gid, ok := s.groupNames[name]; ok {
		return s.groups[gid], nil
	}
	return nil, accounts.NewGroupNameNotFound(name)
}

// AllUsers implements accounts.Enumerator, users are listed in uid order.
func (s *Snapshot) AllUsers(ctx context.Context) iter.Seq2[*accounts.User, error] {
	return sortedValues(ctx, s.users)
}

// AllGroups implements accounts.Enumerator, groups are listed in gid order.
func (s *Snapshot) AllGroups(ctx context.Context) iter.Seq2[*accounts.Group, error] {
	return sortedValues(ctx, s.groups)
}

// UID implements accounts.IDSource, it's the real uid at snapshot time.
func (s *Snapshot) UID() uint32 { return s.uid }

// EUID implements accounts.IDSource.
func (s *Snapshot) EUID() uint32 { return s.euid }

// GID implements accounts.IDSource.
func (s *Snapshot) GID() uint32 { return s.gid }

// EGID implements accounts.IDSource.
func (s *Snapshot) EGID() uint32 { return s.egid }

// Len returns the number of users and groups held.
func (s *Snapshot) Len() (users, groups int) {
	return len(s.users), len(s.groups)
}

func sortedValues[V any](ctx context.Context, m map[uint32]V) iter.Seq2[V, error] {
	return func(yield func(V, error) bool) {
		for _, id := range slices.Sorted(maps.Keys(m)) {
			if err := ctx.Err(); err != nil {
				var zero V
				yield(zero, err)
				return
			}
			if !yield(m[id], nil) {
				return
			}
		}
	}
}
