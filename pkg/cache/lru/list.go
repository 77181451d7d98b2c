// Copyright 2023-2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lru

// entry is a node of the recency list.
type entry[K comparable, V any] struct {
	next, prev *entry[K, V]
	list       *lruList[K, V]

	key   K
	value V
}

// lruList is a doubly linked list with a sentinel root, specialized to
// the needs of the LRU: front is most recently used, back is next to
// be evicted.
type lruList[K comparable, V any] struct {
	root entry[K, V]
	len  int
}

func newList[K comparable, V any]() *lruList[K, V] {
	l := &lruList[K, V]{}
	l.init()
	return l
}

func (l *lruList[K, V]) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.len = 0
}

func (l *lruList[K, V]) length() int {
	return l.len
}

func (l *lruList[K, V]) back() *entry[K, V] {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

func (l *lruList[K, V]) pushFront(key K, value V) *entry[K, V] {
	e := &entry[K, V]{key: key, value: value}
	l.insert(e, &l.root)
	return e
}

func (l *lruList[K, V]) moveToFront(e *entry[K, V]) {
	if l.root.next == e {
		return
	}
	l.unlink(e)
	l.insert(e, &l.root)
}

func (l *lruList[K, V]) remove(e *entry[K, V]) {
	l.unlink(e)
	e.next = nil
	e.prev = nil
	e.list = nil
}

func (l *lruList[K, V]) insert(e, at *entry[K, V]) {
	e.prev = at
	e.next = at.next
	e.prev.next = e
	e.next.prev = e
	e.list = l
	l.len++
}

func (l *lruList[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	l.len--
}
