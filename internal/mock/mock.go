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

// Package mock implements an in memory account database used by tests and by
// the "mock" name service backend.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"os"
	"slices"
	"sync"

	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"gopkg.in/yaml.v3"
)

// Provider is an in memory accounts.Provider and accounts.IDSource. It's safe
// for concurrent use.
type Provider struct {
	mu     sync.RWMutex
	users  map[uint32]*accounts.User
	groups map[uint32]*accounts.Group
	uid    uint32
	euid   uint32
	gid    uint32
	egid   uint32
	// calls counts the lookups served, keyed by operation name.
	calls map[string]int
	// fail, if set, is returned by every lookup.
	fail error
}

// New returns an empty provider whose current (real and effective) user id is
// uid.
func New(uid uint32) *Provider {
	return &Provider{
		users:  make(map[uint32]*accounts.User),
		groups: make(map[uint32]*accounts.Group),
		uid:    uid,
		euid:   uid,
		calls:  make(map[string]int),
	}
}

// AddUser adds (or replaces) a user. The provider keeps its own copy.
func (p *Provider) AddUser(u *accounts.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[u.UID] = u.Clone()
}

// AddGroup adds (or replaces) a group. The provider keeps its own copy.
func (p *Provider) AddGroup(g *accounts.Group) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.groups[g.GID] = g.Clone()
}

// SetIDs sets the real and effective ids reported by the provider.
func (p *Provider) SetIDs(uid, euid, gid, egid uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uid, p.euid, p.gid, p.egid = uid, euid, gid, egid
}

// Calls returns the number of lookups served for op, the name of the lookup
// method, i.e. "LookupUserByID" or "AllGroups".
func (p *Provider) Calls(op string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[op]
}

// UID implements accounts.IDSource.
func (p *Provider) UID() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.uid
}

// EUID implements accounts.IDSource.
func (p *Provider) EUID() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.euid
}

// GID implements accounts.IDSource.
func (p *Provider) GID() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gid
}

// EGID implements accounts.IDSource.
func (p *Provider) EGID() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.egid
}

// FailWith makes every following lookup and enumeration return err. A nil
// err restores the normal behavior.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

// count records a call to op and returns the injected failure, if any.
func (p *Provider) count(ctx context.Context, op string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[op]++
	if p.fail != nil {
		return p.fail
	}
	return ctx.Err()
}

// LookupUserByID implements accounts.UserLookup.
func (p *Provider) LookupUserByID(ctx context.Context, uid uint32) (*accounts.User, error) {
	if err := p.count(ctx, "LookupUserByID"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if u, ok := p.users[uid]; ok {
		return u.Clone(), nil
	}
	return nil, accounts.NewUserIDNotFound(uid)
}

// LookupUserByName implements accounts.UserLookup.
func (p *Provider) LookupUserByName(ctx context.Context, name string) (*accounts.User, error) {
	if err := p.count(ctx, "LookupUserByName"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if u.Name == name {
			return u.Clone(), nil
		}
	}
	return nil, accounts.NewUserNameNotFound(name)
}

// LookupGroupByID implements accounts.GroupLookup.
func (p *Provider) LookupGroupByID(ctx context.Context, gid uint32) (*accounts.Group, error) {
	if err := p.count(ctx, "LookupGroupByID"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if g, ok := p.groups[gid]; ok {
		return g.Clone(), nil
	}
	return nil, accounts.NewGroupIDNotFound(gid)
}

// LookupGroupByName implements accounts.GroupLookup.
func (p *Provider) LookupGroupByName(ctx context.Context, name string) (*accounts.Group, error) {
	if err := p.count(ctx, "LookupGroupByName"); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, g := range p.groups {
		if g.Name == name {
			return g.Clone(), nil
		}
	}
	return nil, accounts.NewGroupNameNotFound(name)
}

// AllUsers implements accounts.Enumerator, users are listed in uid order.
func (p *Provider) AllUsers(ctx context.Context) iter.Seq2[*accounts.User, error] {
	return func(yield func(*accounts.User, error) bool) {
		if err := p.count(ctx, "AllUsers"); err != nil {
			yield(nil, err)
			return
		}
		p.mu.RLock()
		users := slices.SortedFunc(func(yield func(*accounts.User) bool) {
			for _, u := range p.users {
				if !yield(u.Clone()) {
					return
				}
			}
		}, func(a, b *accounts.User) int { return cmp.Compare(a.UID, b.UID) })
		p.mu.RUnlock()

		for _, u := range users {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(u, nil) {
				return
			}
		}
	}
}

// AllGroups implements accounts.Enumerator, groups are listed in gid order.
func (p *Provider) AllGroups(ctx context.Context) iter.Seq2[*accounts.Group, error] {
	return func(yield func(*accounts.Group, error) bool) {
		if err := p.count(ctx, "AllGroups"); err != nil {
			yield(nil, err)
			return
		}
		p.mu.RLock()
		groups := slices.SortedFunc(func(yield func(*accounts.Group) bool) {
			for _, g := range p.groups {
				if !yield(g.Clone()) {
					return
				}
			}
		}, func(a, b *accounts.Group) int { return cmp.Compare(a.GID, b.GID) })
		p.mu.RUnlock()

		for _, g := range groups {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(g, nil) {
				return
			}
		}
	}
}

// fixture is the yaml layout of a mock database file.
type fixture struct {
	CurrentUID   uint32         `yaml:"current_uid"`
	CurrentGID   uint32         `yaml:"current_gid"`
	EffectiveUID *uint32        `yaml:"effective_uid"`
	EffectiveGID *uint32        `yaml:"effective_gid"`
	Users        []fixtureUser  `yaml:"users"`
	Groups       []fixtureGroup `yaml:"groups"`
}

type fixtureUser struct {
	Name     string  `yaml:"name"`
	UID      *uint32 `yaml:"uid"`
	GID      uint32  `yaml:"gid"`
	Password string  `yaml:"password"`
	Gecos    string  `yaml:"gecos"`
	Home     string  `yaml:"home"`
	Shell    string  `yaml:"shell"`
}

type fixtureGroup struct {
	Name     string   `yaml:"name"`
	GID      *uint32  `yaml:"gid"`
	Password string   `yaml:"password"`
	Members  []string `yaml:"members"`
}

// Parse builds a provider from a yaml fixture, i.e.:
//
//	current_uid: 1000
//	current_gid: 1000
//	users:
//	  - {name: alice, uid: 1000, gid: 1000, home: /home/alice, shell: /bin/sh}
//	groups:
//	  - {name: staff, gid: 50, members: [alice, bob]}
func Parse(data []byte) (*Provider, error) {
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse mock fixture: %w", err)
	}

	p := New(f.CurrentUID)
	euid, egid := f.CurrentUID, f.CurrentGID
	if f.EffectiveUID != nil {
		euid = *f.EffectiveUID
	}
	if f.EffectiveGID != nil {
		egid = *f.EffectiveGID
	}
	p.SetIDs(f.CurrentUID, euid, f.CurrentGID, egid)

	names := make(map[string]bool)
	for i, u := range f.Users {
		if !accounts.ValidName(u.Name) || u.UID == nil {
			return nil, fmt.Errorf("invalid user #%d in mock fixture, name and uid are required", i)
		}
		if names[u.Name] {
			return nil, fmt.Errorf("duplicate user %q in mock fixture", u.Name)
		}
		names[u.Name] = true
		p.AddUser(&accounts.User{
			UID:      *u.UID,
			Name:     u.Name,
			Password: u.Password,
			GID:      u.GID,
			Gecos:    u.Gecos,
			HomeDir:  u.Home,
			Shell:    u.Shell,
		})
	}

	names = make(map[string]bool)
	for i, g := range f.Groups {
		if !accounts.ValidName(g.Name) || g.GID == nil {
			return nil, fmt.Errorf("invalid group #%d in mock fixture, name and gid are required", i)
		}
		if names[g.Name] {
			return nil, fmt.Errorf("duplicate group %q in mock fixture", g.Name)
		}
		names[g.Name] = true
		// Round trip through the group codec to normalize the member list.
		grp, err := accounts.ParseGroupLine(accounts.FormatGroupLine(&accounts.Group{Name: g.Name, Password: g.Password, GID: *g.GID, Members: g.Members}))
		if err != nil {
			return nil, fmt.Errorf("invalid group %q in mock fixture: %w", g.Name, err)
		}
		p.AddGroup(grp)
	}

	return p, nil
}

// Load reads a yaml fixture from path, see Parse.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mock fixture %q: %w", path, err)
	}
	return Parse(data)
}
