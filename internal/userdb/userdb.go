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

// Package userdb assembles a name service backend, the lookup cache and the
// file watcher into a single account database handle.
package userdb

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"github.com/GoogleCloudPlatform/galog"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/accounts"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/cache"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/cfg"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/mock"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/nss"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/passwdfile"
	"github.com/GoogleCloudPlatform/guest-userdb/internal/watcher"
)

// Options configures a DB.
type Options struct {
	// CacheEnabled routes single lookups through a cache.
	CacheEnabled bool
	// MaxEntries bounds the cache, see cache.Options.
	MaxEntries int
	// IDs is the source of the process ids, defaults to accounts.OS.
	IDs accounts.IDSource
}

// DB is an account database handle. Single lookups go through the cache when
// it's enabled, enumerations always query the backend. DB implements
// accounts.Provider and is safe for concurrent use.
type DB struct {
	backend accounts.Provider
	// lookup is either cache or backend.
	lookup accounts.Lookup
	cache  *cache.Cache
	ids    accounts.IDSource

	// mu protects the watcher state.
	mu      sync.Mutex
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a DB serving backend.
func New(backend accounts.Provider, opts Options) *DB {
	db := &DB{backend: backend, lookup: backend, ids: opts.IDs}
	if db.ids == nil {
		db.ids = accounts.OS
	}
	if opts.CacheEnabled {
		db.cache = cache.New(backend, cache.Options{MaxEntries: opts.MaxEntries})
		db.lookup = db.cache
	}
	return db
}

// Open builds a DB from the configuration: the backend selected by
// [NameService] and the cache and file watcher configured by [Cache].
func Open(ctx context.Context, sections *cfg.Sections) (*DB, error) {
	ns := sections.NameService
	opts := Options{
		CacheEnabled: sections.Cache.Enabled,
		MaxEntries:   sections.Cache.MaxEntries,
	}

	var backend accounts.Provider
	switch ns.Backend {
	case cfg.BackendNSS:
		backend = nss.New(nss.Options{Timeout: ns.QueryTimeout})
	case cfg.BackendFiles:
		backend = passwdfile.New(ns.PasswdFile, ns.GroupFile)
	case cfg.BackendMock:
		p, err := mock.Load(ns.MockFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load mock backend: %w", err)
		}
		backend = p
		opts.IDs = p
	default:
		return nil, fmt.Errorf("unknown name service backend %q", ns.Backend)
	}
	galog.V(1).Debugf("Using %q name service backend", ns.Backend)

	db := New(backend, opts)
	if db.cache != nil && sections.Cache.WatchFiles && ns.Backend != cfg.BackendMock {
		// The watcher is an optimization, lookups are still correct (if stale)
		// without it.
		if err := db.Watch(ctx, ns.PasswdFile, ns.GroupFile); err != nil {
			galog.Warnf("Failed to watch account database files, cache won't be invalidated on changes: %v", err)
		}
	}
	return db, nil
}

// Watch invalidates the cache whenever one of files changes, until ctx is done
// or the DB is closed. It's a no-op without a cache.
func (db *DB) Watch(ctx context.Context, files ...string) error {
	if db.cache == nil {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.watcher != nil {
		return errors.New("already watching account database files")
	}

	w, err := watcher.New(db.cache, files...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	db.watcher, db.cancel, db.done = w, cancel, make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			galog.Errorf("Account database watcher stopped: %v", err)
		}
	}(db.done)
	return nil
}

// Close stops the file watcher, if any.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.watcher == nil {
		return nil
	}

	db.cancel()
	<-db.done
	err := db.watcher.Close()
	db.watcher, db.cancel, db.done = nil, nil, nil
	return err
}

// Cache returns the cache in front of the backend, nil if caching is disabled.
func (db *DB) Cache() *cache.Cache {
	return db.cache
}

// InvalidateAll discards every cached record.
func (db *DB) InvalidateAll() {
	if db.cache != nil {
		db.cache.InvalidateAll()
	}
}

// LookupUserByID returns the user with the given uid.
func (db *DB) LookupUserByID(ctx context.Context, uid uint32) (*accounts.User, error) {
	return db.lookup.LookupUserByID(ctx, uid)
}

// LookupUserByName returns the user with the given login name.
func (db *DB) LookupUserByName(ctx context.Context, name string) (*accounts.User, error) {
	return db.lookup.LookupUserByName(ctx, name)
}

// LookupGroupByID returns the group with the given gid.
func (db *DB) LookupGroupByID(ctx context.Context, gid uint32) (*accounts.Group, error) {
	return db.lookup.LookupGroupByID(ctx, gid)
}

// LookupGroupByName returns the group with the given name.
func (db *DB) LookupGroupByName(ctx context.Context, name string) (*accounts.Group, error) {
	return db.lookup.LookupGroupByName(ctx, name)
}

// AllUsers lists every user of the backend.
func (db *DB) AllUsers(ctx context.Context) iter.Seq2[*accounts.User, error] {
	return db.backend.AllUsers(ctx)
}

// AllGroups lists every group of the backend.
func (db *DB) AllGroups(ctx context.Context) iter.Seq2[*accounts.Group, error] {
	return db.backend.AllGroups(ctx)
}

// UserGroups returns the groups u belongs to, see accounts.UserGroups.
func (db *DB) UserGroups(ctx context.Context, u *accounts.User) ([]*accounts.Group, error) {
	return accounts.UserGroups(ctx, db, u)
}

// CurrentUser returns the user matching the real uid of the process.
func (db *DB) CurrentUser(ctx context.Context) (*accounts.User, error) {
	return accounts.CurrentUser(ctx, db, db.ids)
}

// EffectiveUser returns the user matching the effective uid of the process.
func (db *DB) EffectiveUser(ctx context.Context) (*accounts.User, error) {
	return accounts.EffectiveUser(ctx, db, db.ids)
}

// CurrentGroup returns the group matching the real gid of the process.
func (db *DB) CurrentGroup(ctx context.Context) (*accounts.Group, error) {
	return accounts.CurrentGroup(ctx, db, db.ids)
}

// EffectiveGroup returns the group matching the effective gid of the process.
func (db *DB) EffectiveGroup(ctx context.Context) (*accounts.Group, error) {
	return accounts.EffectiveGroup(ctx, db, db.ids)
}

// IDs returns the source of the process ids.
func (db *DB) IDs() accounts.IDSource {
	return db.ids
}
