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
	"bytes"
	"errors"
	"fmt"
	"unsafe"
)

var errInvalidLine = errors.New("invalid line")

// parsePerfMapLine parses one `<start-hex> <length-hex> <name>` record.
// The name takes the remainder of the line and may contain spaces;
// runs of whitespace within it are collapsed to single spaces.
func parsePerfMapLine(b []byte, conv *stringConverter) (MapAddr, error) {
	firstSpace := bytes.IndexByte(b, ' ')
	if firstSpace == -1 {
		return MapAddr{}, errInvalidLine
	}

	secondSpace := bytes.IndexByte(b[firstSpace+1:], ' ')
	if secondSpace == -1 {
		return MapAddr{}, errInvalidLine
	}

	addrBytes := b[:firstSpace]

	// Some runtimes that produce perf maps optionally start memory
	// addresses with "0x".
	if len(addrBytes) >= 2 && addrBytes[0] == '0' && addrBytes[1] == 'x' {
		addrBytes = addrBytes[2:]
	}

	if len(b) < firstSpace+secondSpace+2 {
		return MapAddr{}, errInvalidLine
	}

	sizeBytes := b[firstSpace+1 : firstSpace+1+secondSpace]
	symbolBytes := b[firstSpace+secondSpace+2:]

	start, err := parseHexToUint64(addrBytes)
	if err != nil {
		return MapAddr{}, fmt.Errorf("parsing start: %w", err)
	}
	size, err := parseHexToUint64(sizeBytes)
	if err != nil {
		return MapAddr{}, fmt.Errorf("parsing length: %w", err)
	}
	if start+size < start {
		return MapAddr{}, errors.New("overflowed mapping")
	}

	symbolBytes = bytes.TrimRight(symbolBytes, "\r\n")
	fields := bytes.Fields(symbolBytes)
	switch len(fields) {
	case 0:
		return MapAddr{}, errInvalidLine
	case 1:
		symbolBytes = fields[0]
	default:
		symbolBytes = bytes.Join(fields, []byte(" "))
	}

	return MapAddr{
		Start:  start,
		End:    start + size,
		Symbol: conv.String(symbolBytes),
	}, nil
}

// parseHexToUint64 parses an unprefixed hexadecimal number without the
// allocations strconv incurs on the error path.
func parseHexToUint64(hexStr []byte) (uint64, error) {
	length := len(hexStr)
	if length == 0 {
		return 0, errors.New("empty input")
	}
	if length > 16 {
		return 0, errors.New("input too long")
	}

	var result uint64
	for i := 0; i < length; i++ {
		result <<= 4
		char := hexStr[i]
		switch {
		case char >= '0' && char <= '9':
			result |= uint64(char - '0')
		case char >= 'a' && char <= 'f':
			result |= uint64(char-'a') + 10
		case char >= 'A' && char <= 'F':
			result |= uint64(char-'A') + 10
		default:
			return 0, errors.New("invalid character")
		}
	}

	return result, nil
}

// stringConverter converts bytes to strings with fewer allocations by
// accumulating them in one shared buffer and carving strings out of it
// with unsafe.String. Once the buffer is full, strings are allocated
// as usual.
type stringConverter struct {
	buf []byte
	// offset is the buffer position where the last string was written.
	offset int
}

func newStringConverter(capacity int) *stringConverter {
	conv := stringConverter{}
	if capacity <= 0 {
		return &conv
	}

	conv.buf = make([]byte, 0, capacity)
	return &conv
}

// String converts bytes to a string.
func (c *stringConverter) String(b []byte) string {
	n := len(b)
	if n == 0 {
		return ""
	}
	if len(c.buf)+n > cap(c.buf) {
		return string(b)
	}

	c.buf = append(c.buf, b...)
	b = c.buf[c.offset:]
	s := unsafe.String(&b[0], n)
	c.offset += n

	return s
}
