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
	"github.com/GoogleCloudPlatform/guest-userdb/internal/lru"
)

// store holds the records of one kind (users or groups) keyed by id, plus an
// index from name to id. It's not safe for concurrent use on its own, the
// Cache lock serializes writers.
type store[V any] struct {
	// byID is either a plain map or a bounded lru.
	byID idStore[V]
	// names maps a name to the id the record was stored under.
	names map[string]uint32
	// nameOf returns the name of a record.
	nameOf func(V) string
}

// idStore is the id keyed storage of a store.
type idStore[V any] interface {
	get(id uint32) (V, bool)
	// peek is like get without touching the recency of bounded stores.
	peek(id uint32) (V, bool)
	put(id uint32, v V)
	purge()
	len() int
}

func newStore[V any](maxEntries int, nameOf func(V) string) *store[V] {
	s := &store[V]{names: make(map[string]uint32), nameOf: nameOf}
	if maxEntries <= 0 {
		s.byID = mapStore[V]{}
		return s
	}
	s.byID = &lruStore[V]{handle: lru.New(uint(maxEntries), s.evicted)}
	return s
}

// evicted drops the name index entry of a record evicted from a bounded store.
// It runs with the Cache write lock held, from put.
func (s *store[V]) evicted(id uint32, v V) {
	name := s.nameOf(v)
	if cur, ok := s.names[name]; ok && cur == id {
		delete(s.names, name)
	}
}

func (s *store[V]) getByID(id uint32) (V, bool) {
	return s.byID.get(id)
}

// getByName resolves the name through the index. The id record must still
// carry the same name, otherwise the entry is stale and it's a miss.
func (s *store[V]) getByName(name string) (V, bool) {
	var zero V
	id, ok := s.names[name]
	if !ok {
		return zero, false
	}
	v, ok := s.byID.get(id)
	if !ok || s.nameOf(v) != name {
		return zero, false
	}
	return v, true
}

// put stores v under both its id and its name.
func (s *store[V]) put(id uint32, v V) {
	if old, ok := s.byID.peek(id); ok {
		if oldName := s.nameOf(old); oldName != s.nameOf(v) && s.names[oldName] == id {
			delete(s.names, oldName)
		}
	}
	s.byID.put(id, v)
	s.names[s.nameOf(v)] = id
}

func (s *store[V]) purge() {
	s.byID.purge()
	clear(s.names)
}

func (s *store[V]) len() int {
	return s.byID.len()
}

// mapStore is an unbounded idStore.
type mapStore[V any] map[uint32]V

func (m mapStore[V]) get(id uint32) (V, bool) {
	v, ok := m[id]
	return v, ok
}

func (m mapStore[V]) peek(id uint32) (V, bool) {
	return m.get(id)
}

func (m mapStore[V]) put(id uint32, v V) { m[id] = v }

func (m mapStore[V]) purge() { clear(m) }

func (m mapStore[V]) len() int { return len(m) }

// lruStore is an idStore bounded by an LRU policy.
type lruStore[V any] struct {
	handle *lru.Handle[uint32, V]
}

func (l *lruStore[V]) get(id uint32) (V, bool) { return l.handle.Get(id) }

func (l *lruStore[V]) peek(id uint32) (V, bool) { return l.handle.Peek(id) }

func (l *lruStore[V]) put(id uint32, v V) { l.handle.Put(id, v) }

func (l *lruStore[V]) purge() { l.handle.Purge() }

func (l *lruStore[V]) len() int { return int(l.handle.Len()) }
