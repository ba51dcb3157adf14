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

package accounts

import (
	"context"
	"fmt"
)

// IDSource reports the real and effective ids of the running process.
type IDSource interface {
	// UID returns the real user id.
	UID() uint32
	// EUID returns the effective user id.
	EUID() uint32
	// GID returns the real group id.
	GID() uint32
	// EGID returns the effective group id.
	EGID() uint32
}

// OS is the IDSource of the running process.
var OS IDSource = osIDs{}

// CurrentUser returns the user the process is running as (real uid).
func CurrentUser(ctx context.Context, l UserLookup, ids IDSource) (*User, error) {
	return l.LookupUserByID(ctx, ids.UID())
}

// EffectiveUser returns the user matching the process' effective uid.
func EffectiveUser(ctx context.Context, l UserLookup, ids IDSource) (*User, error) {
	return l.LookupUserByID(ctx, ids.EUID())
}

// CurrentGroup returns the group matching the process' real gid.
func CurrentGroup(ctx context.Context, l GroupLookup, ids IDSource) (*Group, error) {
	return l.LookupGroupByID(ctx, ids.GID())
}

// EffectiveGroup returns the group matching the process' effective gid.
func EffectiveGroup(ctx context.Context, l GroupLookup, ids IDSource) (*Group, error) {
	return l.LookupGroupByID(ctx, ids.EGID())
}

// UserGroups returns the groups the user belongs to: its primary group first,
// followed by every group listing the user as a member. Each group is
// reported once, even if the user is also listed as a member of its primary
// group or the database returns a group more than once.
//
// A primary group id without a matching group entry is skipped.
func UserGroups(ctx context.Context, p Provider, u *User) ([]*Group, error) {
	if u == nil {
		return nil, fmt.Errorf("user is nil")
	}

	var res []*Group
	seen := make(map[uint32]bool)

	primary, err := p.LookupGroupByID(ctx, u.GID)
	switch {
	case err == nil:
		res = append(res, primary)
		seen[primary.GID] = true
	case !IsNotFound(err):
		return nil, fmt.Errorf("failed to lookup primary group %d of %s: %w", u.GID, u.Name, err)
	}

	for g, err := range p.AllGroups(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to list groups of %s: %w", u.Name, err)
		}
		if seen[g.GID] || !g.HasMember(u.Name) {
			continue
		}
		seen[g.GID] = true
		res = append(res, g)
	}

	return res, nil
}
