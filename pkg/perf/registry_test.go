// Copyright 2022-2024 The Parca Authors
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

package perf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultResolverDisabled(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, resetDefaultResolver()) })

	// Before the explicit opt-in nothing is constructed, and a
	// disabled feature is not an error.
	r, err := DefaultResolver()
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestDefaultResolverEnableIdempotent(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, resetDefaultResolver()) })

	EnableDefaultResolver(nil, nil)
	EnableDefaultResolver(nil, nil)

	r1, err := DefaultResolver()
	require.NoError(t, err)
	require.NotNil(t, r1)

	r2, err := DefaultResolver()
	require.NoError(t, err)
	require.Same(t, r1, r2)
}

func TestDefaultResolverLazyConstruction(t *testing.T) {
	t.Cleanup(func() { require.NoError(t, resetDefaultResolver()) })

	EnableDefaultResolver(nil, nil)
	defaultResolver.mtx.Lock()
	constructed := defaultResolver.r != nil
	defaultResolver.mtx.Unlock()
	require.False(t, constructed, "enable must not construct the resolver")

	r, err := DefaultResolver()
	require.NoError(t, err)
	require.NotNil(t, r)
}
