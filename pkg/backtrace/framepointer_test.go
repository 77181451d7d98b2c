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

//go:build framepointer

package backtrace

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// fakeStack lays out n frames of [saved fp, return address] pairs in a
// slice and returns the slice plus a context pointing at the first
// frame.
func fakeStack(n int) ([]uintptr, *Context) {
	stack := make([]uintptr, 2*n)
	base := uintptr(unsafe.Pointer(&stack[0]))
	for i := 0; i < n-1; i++ {
		stack[2*i] = base + uintptr(2*(i+1))*wordSize
		stack[2*i+1] = 0x1000 + uintptr(i)
	}
	stack[2*(n-1)] = 0
	stack[2*(n-1)+1] = 0

	return stack, &Context{
		PC:      0x999,
		FP:      base,
		StackLo: base,
		StackHi: base + uintptr(len(stack))*wordSize,
	}
}

func collectIPs(ctx *Context) []uint64 {
	var ips []uint64
	NewTracer().Trace(ctx, func(f Frame) bool {
		ips = append(ips, f.IP())
		return true
	})
	return ips
}

func TestFramePointerWalk(t *testing.T) {
	stack, ctx := fakeStack(8)

	ips := collectIPs(ctx)
	runtime.KeepAlive(stack)
	require.Equal(t, []uint64{0x999, 0x1000, 0x1001, 0x1002, 0x1003, 0x1004, 0x1005, 0x1006}, ips)
}

func TestFramePointerWalkTerminatesOnCycle(t *testing.T) {
	stack, ctx := fakeStack(8)
	// Point the last frame back at the first: a naive walker would
	// loop forever.
	stack[2*7] = ctx.FP
	stack[2*7+1] = 0x2000

	ips := collectIPs(ctx)
	runtime.KeepAlive(stack)
	require.NotEmpty(t, ips)
	require.LessOrEqual(t, len(ips), maxDepth)
}

func TestFramePointerWalkHitsDepthGuard(t *testing.T) {
	stack, ctx := fakeStack(maxDepth + 40)
	ips := collectIPs(ctx)
	runtime.KeepAlive(stack)
	require.Len(t, ips, maxDepth)
}

func TestFramePointerWithoutBoundsReportsOnlyContextFrame(t *testing.T) {
	ctx := &Context{PC: 0x1234, FP: 0x5678}
	ips := collectIPs(ctx)
	require.Equal(t, []uint64{0x1234}, ips)
}

func TestFramePointerNilContextFallsBack(t *testing.T) {
	ips := collectIPs(nil)
	require.NotEmpty(t, ips)
}
