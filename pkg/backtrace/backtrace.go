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

// Package backtrace captures call stacks as sequences of return
// addresses and resolves them into symbols. How a stack is walked is a
// backend decision made at build time; callers depend only on the
// Tracer and Frame contracts.
package backtrace

// Symbol describes what is known about one resolved address. Fields
// are independently optional: different sources populate different
// subsets, and a zero value means the source had no information.
type Symbol struct {
	// Name is the raw, possibly mangled symbol name.
	Name []byte
	// Address is the start address of the enclosing function.
	Address uint64
	// Line is the source line number.
	Line int
	// Filename is the source file path.
	Filename string
}

// Frame is one activation record observed during a single walk.
//
// A Frame is only valid for the duration of the visitor callback that
// received it. The walk may reuse or invalidate its backing storage
// immediately after the callback returns, so callers must not retain
// it.
type Frame interface {
	// IP returns the frame's instruction address.
	IP() uint64
	// SymbolAddress returns the best-known start address of the
	// enclosing function. A return value of 0 means the backend has
	// no information and the frame should be treated as unresolved.
	SymbolAddress() uint64
	// ResolveSymbol resolves zero or more symbols for the frame's
	// address and calls fn once per symbol. When debug info records
	// inlined calls, fn is called for each inline record from the
	// innermost call outward. No resolution state is retained past
	// the return of this method.
	ResolveSymbol(fn func(Symbol))
}

// Tracer walks a call stack, calling visitor for each frame from the
// innermost call outward. The walk stops when the visitor returns
// false, no further frame can be determined, or maxDepth frames have
// been visited.
//
// A nil Context means the current execution state of the calling
// goroutine.
type Tracer interface {
	Trace(ctx *Context, visitor func(Frame) bool)
}

// Context is captured machine state to start a walk from, typically
// taken from a signal context by the sampler. Backends that can only
// walk the current goroutine ignore it.
type Context struct {
	PC uintptr
	SP uintptr
	FP uintptr

	// StackLo and StackHi bound the stack the context was captured
	// on. The frame-pointer backend refuses to follow chain pointers
	// outside [StackLo, StackHi); without bounds it reports only the
	// context frame itself.
	StackLo uintptr
	StackHi uintptr
}

// maxDepth bounds a single walk. Corrupted or cyclic frame chains must
// terminate; an unbounded walk is a bug, not an edge case.
const maxDepth = 128
