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

package backtrace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTraceWalksCurrentStack(t *testing.T) {
	var found bool
	NewTracer().Trace(nil, func(f Frame) bool {
		require.NotZero(t, f.IP())
		f.ResolveSymbol(func(s Symbol) {
			if strings.Contains(string(s.Name), "TestTraceWalksCurrentStack") {
				found = true
			}
		})
		return true
	})
	require.True(t, found, "walk must reach the test function's frame")
}

func TestTraceStopsWhenVisitorReturnsFalse(t *testing.T) {
	count := 0
	NewTracer().Trace(nil, func(Frame) bool {
		count++
		return false
	})
	require.Equal(t, 1, count)
}

//go:noinline
func recurse(n int, f func()) {
	if n == 0 {
		f()
		return
	}
	recurse(n-1, f)
}

func TestTraceDepthGuard(t *testing.T) {
	count := 0
	recurse(2*maxDepth, func() {
		NewTracer().Trace(nil, func(Frame) bool {
			count++
			return true
		})
	})
	require.Equal(t, maxDepth, count, "a stack deeper than the guard yields exactly maxDepth frames")
}

func TestFrameSymbolAddress(t *testing.T) {
	visited := false
	NewTracer().Trace(nil, func(f Frame) bool {
		visited = true
		sa := f.SymbolAddress()
		require.NotZero(t, sa)
		require.LessOrEqual(t, sa, f.IP(), "function entry cannot lie after the frame's address")
		return false
	})
	require.True(t, visited)
}

func TestResolveSymbolPopulatesSourceInfo(t *testing.T) {
	var sym Symbol
	NewTracer().Trace(nil, func(f Frame) bool {
		f.ResolveSymbol(func(s Symbol) {
			if strings.Contains(string(s.Name), "TestResolveSymbolPopulatesSourceInfo") {
				sym = s
			}
		})
		return sym.Name == nil
	})

	require.NotNil(t, sym.Name)
	require.True(t, strings.HasSuffix(sym.Filename, "backtrace_test.go"), "got %q", sym.Filename)
	require.Positive(t, sym.Line)
	require.NotZero(t, sym.Address)
}

func BenchmarkTrace(b *testing.B) {
	tracer := NewTracer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		tracer.Trace(nil, func(Frame) bool { return true })
	}
}
