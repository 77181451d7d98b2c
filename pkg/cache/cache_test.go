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

package cache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLRUCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewLRUCache[string, int](reg, 2)

	c.Add("key1", 1)
	c.Add("key2", 2)

	v, ok := c.Get("key1")
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = c.Peek("key2")
	require.True(t, ok)
	require.Equal(t, 2, v)

	// key1 was touched last, so adding key3 evicts key2.
	c.Add("key3", 3)
	_, ok = c.Get("key2")
	require.False(t, ok)

	v, ok = c.Get("key1")
	require.True(t, ok)
	require.Equal(t, 1, v)

	c.Remove("key1")
	_, ok = c.Peek("key1")
	require.False(t, ok)
}

func TestLRUCachePurge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewLRUCache[int, string](reg, 8)

	for i := 0; i < 8; i++ {
		c.Add(i, "v")
	}
	c.Purge()

	for i := 0; i < 8; i++ {
		_, ok := c.Peek(i)
		require.False(t, ok)
	}

	// The cache stays usable after a purge.
	c.Add(42, "v")
	v, ok := c.Get(42)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestLRUCacheCloseUnregistersMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	c := NewLRUCache[string, int](reg, 2)
	require.NoError(t, c.Close())

	// A second cache can register under the same metric names once
	// the first is closed; promauto would panic otherwise.
	c2 := NewLRUCache[string, int](reg, 2)
	require.NoError(t, c2.Close())
}
