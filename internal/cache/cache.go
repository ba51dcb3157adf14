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

// Package cache implements the caching layer in front of an account database
// backend and the eager Snapshot view of a whole database.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"golang.org/x/sync/singleflight"
)

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the number of users and the number of groups kept,
	// the least recently used ones are evicted first. Zero means unbounded.
	MaxEntries int
}

// Stats is a point in time view of the cache counters.
type Stats struct {
	// Hits is the number of lookups answered from the cache.
	Hits uint64
	// Misses is the number of lookups forwarded to the backend.
	Misses uint64
	// Users is the number of users currently cached.
	Users int
	// Groups is the number of groups currently cached.
	Groups int
}

// Cache memoizes successful lookups of a backend. Records are stored under
// both their id and their name, missing accounts and failures are never
// cached. It's safe for concurrent use, hits only take a read lock.
type Cache struct {
	backend accounts.Lookup
	// loads coalesces concurrent misses for the same key and generation.
	loads singleflight.Group

	// mu protects the stores and the generation.
	mu     sync.RWMutex
	users  *store[*accounts.User]
	groups *store[*accounts.Group]
	// generation is bumped by InvalidateAll, answers fetched for an older
	// generation are not stored.
	generation uint64

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns an empty cache in front of backend.
func New(backend accounts.Lookup, opts Options) *Cache {
	return &Cache{
		backend: backend,
		users:   newStore(opts.MaxEntries, func(u *accounts.User) string { return u.Name }),
		groups:  newStore(opts.MaxEntries, func(g *accounts.Group) string { return g.Name }),
	}
}

// LookupUserByID returns the user with the given uid.
func (c *Cache) LookupUserByID(ctx context.Context, uid uint32) (*accounts.User, error) {
	return cached(ctx, c, c.users, accounts.KindUserID, strconv.FormatUint(uint64(uid), 10),
		func(s *store[*accounts.User]) (*accounts.User, bool) { return s.getByID(uid) },
		func(ctx context.Context) (*accounts.User, error) { return c.backend.LookupUserByID(ctx, uid) },
		func(u *accounts.User) uint32 { return u.UID })
}

// LookupUserByName returns the user with the given login name.
func (c *Cache) LookupUserByName(ctx context.Context, name string) (*accounts.User, error) {
	return cached(ctx, c, c.users, accounts.KindUserName, name,
		func(s *store[*accounts.User]) (*accounts.User, bool) { return s.getByName(name) },
		func(ctx context.Context) (*accounts.User, error) { return c.backend.LookupUserByName(ctx, name) },
		func(u *accounts.User) uint32 { return u.UID })
}

// LookupGroupByID returns the group with the given gid.
func (c *Cache) LookupGroupByID(ctx context.Context, gid uint32) (*accounts.Group, error) {
	return cached(ctx, c, c.groups, accounts.KindGroupID, strconv.FormatUint(uint64(gid), 10),
		func(s *store[*accounts.Group]) (*accounts.Group, bool) { return s.getByID(gid) },
		func(ctx context.Context) (*accounts.Group, error) { return c.backend.LookupGroupByID(ctx, gid) },
		func(g *accounts.Group) uint32 { return g.GID })
}

// LookupGroupByName returns the group with the given name.
func (c *Cache) LookupGroupByName(ctx context.Context, name string) (*accounts.Group, error) {
	return cached(ctx, c, c.groups, accounts.KindGroupName, name,
		func(s *store[*accounts.Group]) (*accounts.Group, bool) { return s.getByName(name) },
		func(ctx context.Context) (*accounts.Group, error) { return c.backend.LookupGroupByName(ctx, name) },
		func(g *accounts.Group) uint32 { return g.GID })
}

// InvalidateAll discards every cached record. Lookups in flight when it's
// called still return their answer but don't store it.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.users.purge()
	c.groups.purge()
	galog.V(2).Debugf("Account cache invalidated, generation %d", c.generation)
}

// Stats returns the current cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Users:  c.users.len(),
		Groups: c.groups.len(),
	}
}

// cached serves a lookup from s, or on a miss from fetch storing a successful
// answer in s if no invalidation happened in the meantime.
func cached[V any](ctx context.Context, c *Cache, s *store[V], kind accounts.Kind, key string,
	get func(*store[V]) (V, bool), fetch func(context.Context) (V, error), idOf func(V) uint32) (V, error) {

	c.mu.RLock()
	v, ok := get(s)
	gen := c.generation
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	// The shared load outlives the caller that started it, a caller going
	// away must not fail the others waiting for the same answer. The
	// backend's own timeout still bounds it.
	loadCtx := context.WithoutCancel(ctx)
	loadKey := fmt.Sprintf("%d/%s/%d", kind, key, gen)
	ch := c.loads.DoChan(loadKey, func() (any, error) {
		rec, err := fetch(loadCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != gen {
			galog.V(2).Debugf("Not caching %s %q, cache invalidated during lookup", kind, key)
			return rec, nil
		}
		s.put(idOf(rec), rec)
		return rec, nil
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if accounts.IsNotFound(res.Err) {
				galog.V(3).Debugf("Lookup of %s %q: %v", kind, key, res.Err)
			}
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}
