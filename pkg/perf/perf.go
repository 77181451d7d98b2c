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

// Package perf reads the perf-map files JIT runtimes emit to describe
// dynamically generated code, and resolves instruction addresses
// against them while a background watcher keeps the table current.
package perf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNoSymbolFound = errors.New("no symbol found")
	ErrProcNotFound  = errors.New("process not found")
)

// MapAddr is one perf-map record: the half-open range [Start, End)
// belongs to Symbol.
type MapAddr struct {
	Start  uint64
	End    uint64
	Symbol string
}

// Map is an immutable snapshot of one perf-map file, parsed from a
// single read at one point in time.
//
// Records are kept in file order. The format neither sorts ranges nor
// forbids overlap, and runtimes re-emit ranges as they recompile code,
// so the first match in file order wins.
type Map struct {
	Path string

	addrs []MapAddr
}

// ReadPerfMap parses the perf-map file at path.
//
// The file is written concurrently by the producing runtime, so a
// single malformed line fails the whole parse: symbol data is trusted
// in full or not at all, since partial corruption usually means the
// read raced a write in progress.
func ReadPerfMap(path string) (*Map, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	stat, err := fd.Stat()
	if err != nil {
		return nil, err
	}

	// Estimate the number of lines from the file size to preallocate,
	// and batch symbol string allocations once the file is large
	// enough for it to matter.
	const (
		avgLineLen = 60
		avgFuncLen = 42
	)
	linesCount := int(stat.Size() / avgLineLen)
	convBufSize := 0
	if linesCount > 400 {
		convBufSize = linesCount * avgFuncLen
	}

	addrs := make([]MapAddr, 0, linesCount)
	conv := newStringConverter(convBufSize)

	r := bufio.NewReader(fd)
	i := 0
	for {
		b, err := r.ReadSlice('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read perf map line: %w", err)
		}
		if len(b) > 0 {
			line, perr := parsePerfMapLine(b, conv)
			if perr != nil {
				return nil, fmt.Errorf("parse perf map line %d: %w", i, perr)
			}
			addrs = append(addrs, line)
			i++
		}
		if err != nil {
			break
		}
	}

	return &Map{Path: path, addrs: addrs}, nil
}

// Lookup returns the symbol of the first range in file order that
// contains addr. Ranges are half-open: addr == Start matches,
// addr == End does not.
func (m *Map) Lookup(addr uint64) (string, error) {
	for i := range m.addrs {
		if r := &m.addrs[i]; r.Start <= addr && addr < r.End {
			return r.Symbol, nil
		}
	}
	return "", ErrNoSymbolFound
}

// Len returns the number of records in the map.
func (m *Map) Len() int {
	return len(m.addrs)
}
