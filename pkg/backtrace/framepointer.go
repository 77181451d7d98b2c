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

import "unsafe"

const wordSize = unsafe.Sizeof(uintptr(0))

// fpTracer walks the saved-frame-pointer chain of a captured context:
// at each frame the previous frame pointer is stored at [fp] and the
// return address at [fp+wordSize]. This is the layout Go emits on
// amd64 and arm64, and what C code compiled without
// -fomit-frame-pointer emits.
type fpTracer struct{}

// NewTracer returns the stack walker selected at build time: the
// frame-pointer chain walker.
func NewTracer() Tracer {
	return fpTracer{}
}

func (fpTracer) Trace(ctx *Context, visitor func(Frame) bool) {
	if ctx == nil {
		// Only a captured context carries a frame pointer to start
		// from; for the current execution state fall back to the
		// runtime walker.
		goTracer{}.Trace(nil, visitor)
		return
	}

	var frame pcFrame
	pc, fp := ctx.PC, ctx.FP
	for depth := 0; depth < maxDepth; depth++ {
		if pc == 0 {
			return
		}
		frame.pc = pc
		if !visitor(&frame) {
			return
		}
		if !validFP(ctx, fp) {
			return
		}
		next := *(*uintptr)(unsafe.Pointer(fp))
		pc = *(*uintptr)(unsafe.Pointer(fp + wordSize))
		// The chain must make progress toward the stack base; a
		// cyclic or descending link ends the walk.
		if next <= fp {
			return
		}
		fp = next
	}
}

// validFP reports whether fp and the word after it can be read without
// leaving the context's stack.
func validFP(ctx *Context, fp uintptr) bool {
	if fp%wordSize != 0 {
		return false
	}
	return fp >= ctx.StackLo && fp+2*wordSize <= ctx.StackHi
}
