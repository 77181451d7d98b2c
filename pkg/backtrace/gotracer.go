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

import "runtime"

// goTracer is the portable baseline backend. It asks the runtime for
// the program counters of the calling goroutine, so the captured
// context is ignored: the runtime cannot unwind arbitrary machine
// state, only the current one.
type goTracer struct{}

func (goTracer) Trace(_ *Context, visitor func(Frame) bool) {
	var pcs [maxDepth]uintptr
	// Skip runtime.Callers and Trace itself.
	n := runtime.Callers(2, pcs[:])

	// One handle is reused for every visitor call. Retaining it past
	// the callback observes the next frame's state, which is exactly
	// what the Frame contract forbids.
	var frame pcFrame
	for i := 0; i < n; i++ {
		frame.pc = pcs[i]
		if !visitor(&frame) {
			return
		}
	}
}

// pcFrame resolves a single program counter through the runtime's
// debug tables. Both backends use it: once a return address is known,
// symbolization is the same regardless of how the stack was walked.
type pcFrame struct {
	pc uintptr
}

func (f *pcFrame) IP() uint64 {
	return uint64(f.pc)
}

func (f *pcFrame) SymbolAddress() uint64 {
	if fn := runtime.FuncForPC(f.pc); fn != nil {
		return uint64(fn.Entry())
	}
	return 0
}

func (f *pcFrame) ResolveSymbol(fn func(Symbol)) {
	// CallersFrames expands inline records innermost first, matching
	// the resolution order the contract requires.
	frames := runtime.CallersFrames([]uintptr{f.pc})
	for {
		fr, more := frames.Next()
		if fr.Function != "" || fr.File != "" {
			fn(Symbol{
				Name:     []byte(fr.Function),
				Address:  uint64(fr.Entry),
				Line:     fr.Line,
				Filename: fr.File,
			})
		}
		if !more {
			break
		}
	}
}
