//  Copyright 2024 Google LLC
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

// Package lru implements a simple bounded LRU store.
package lru

import (
	"container/list"
	"sync"
)

// entry is an element of the recency list.
type entry[K comparable, V any] struct {
	key   K
	value V
}

// Handle is the actual LRU store.
type Handle[K comparable, V any] struct {
	// mu protects the map and the ring.
	mu sync.Mutex
	// lookupTable is the map of key to element of the ring.
	lookupTable map[K]*list.Element
	// ring is the recency list, the most recently used element is at the front.
	ring *list.List
	// capacity is the maximum number of elements in the store, 0 means
	// unbounded.
	capacity uint
	// onEvict is called (without the lock held) for every element evicted to
	// make room for a new one.
	onEvict func(K, V)
}

// New creates a new LRU store. If onEvict is not nil it's called for every
// element dropped because the store is full, Purge doesn't trigger it.
func New[K comparable, V any](capacity uint, onEvict func(K, V)) *Handle[K, V] {
	return &Handle[K, V]{
		lookupTable: make(map[K]*list.Element),
		ring:        list.New(),
		capacity:    capacity,
		onEvict:     onEvict,
	}
}

// Get returns the value associated with the key and a boolean indicating if the
// key was found. If found the element is promoted to the front.
func (l *Handle[K, V]) Get(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.lookupTable[key]; ok {
		l.ring.MoveToFront(elem)
		return elem.Value.(*entry[K, V]).value, true
	}

	var zero V
	return zero, false
}

// Peek is like Get but doesn't change the recency of the element.
func (l *Handle[K, V]) Peek(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.lookupTable[key]; ok {
		return elem.Value.(*entry[K, V]).value, true
	}

	var zero V
	return zero, false
}

// Put puts the value associated with the key, evicting the least recently used
// element if the store is full.
func (l *Handle[K, V]) Put(key K, value V) {
	var evicted *entry[K, V]

	l.mu.Lock()
	if elem, found := l.lookupTable[key]; found {
		elem.Value.(*entry[K, V]).value = value
		l.ring.MoveToFront(elem)
	} else {
		if l.capacity > 0 && l.capacity == uint(len(l.lookupTable)) {
			back := l.ring.Back()
			l.ring.Remove(back)
			evicted = back.Value.(*entry[K, V])
			delete(l.lookupTable, evicted.key)
		}
		l.lookupTable[key] = l.ring.PushFront(&entry[K, V]{key: key, value: value})
	}
	l.mu.Unlock()

	if evicted != nil && l.onEvict != nil {
		l.onEvict(evicted.key, evicted.value)
	}
}

// Purge removes every element of the store.
func (l *Handle[K, V]) Purge() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookupTable = make(map[K]*list.Element)
	l.ring.Init()
}

// Len returns the number of elements in the store.
func (l *Handle[K, V]) Len() uint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint(len(l.lookupTable))
}
