// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a typed least-recently-used cache, safe for concurrent
// use.  Entries are evicted once more than the size passed to
// NewLRUCache are present.
type LRUCache[K comparable, V any] struct {
	inner *lru.Cache
}

// NewLRUCache panics if size is not positive.
func NewLRUCache[K comparable, V any](size int) *LRUCache[K, V] {
	inner, err := lru.New(size)
	if err != nil {
		panic(err)
	}
	return &LRUCache[K, V]{inner: inner}
}

// Add inserts or replaces the entry for key, making it the most
// recently used.
func (c *LRUCache[K, V]) Add(key K, val V) {
	c.inner.Add(key, val)
}

// Take removes and returns the entry for key.
func (c *LRUCache[K, V]) Take(key K) (V, bool) {
	var zero V
	untyped, ok := c.inner.Peek(key)
	if !ok {
		return zero, false
	}
	c.inner.Remove(key)
	//nolint:forcetypeassert // only V is ever added
	return untyped.(V), true
}

func (c *LRUCache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

func (c *LRUCache[K, V]) Len() int {
	return c.inner.Len()
}
