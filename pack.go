// Copyright 2021 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package tracewire

import (
	"encoding/binary"
	"math"

	"github.com/tinylib/msgp/msgp"
)

// maxStrLen is the longest string msgpack can carry (str32).
const maxStrLen = math.MaxUint32

// arrayPrefixSize returns the width in bytes of the msgpack array header
// for n elements.
func arrayPrefixSize(n int) int {
	switch {
	case n < 16:
		return 1
	case n < 1<<16:
		return 3
	default:
		return 5
	}
}

// putArrayHeader writes an n-element array header of the given width at
// offset. The caller has already sized width with arrayPrefixSize.
func putArrayHeader(buf []byte, offset, width, n int) {
	switch width {
	case 1:
		buf[offset] = 0x90 | byte(n)
	case 3:
		buf[offset] = 0xdc
		binary.BigEndian.PutUint16(buf[offset+1:], uint16(n))
	default:
		buf[offset] = 0xdd
		binary.BigEndian.PutUint32(buf[offset+1:], uint32(n))
	}
}

// putArray32 writes a full-width array header at offset regardless of n.
func putArray32(buf []byte, offset int, n uint32) {
	buf[offset] = 0xdd
	binary.BigEndian.PutUint32(buf[offset+1:], n)
}

// appendString appends a msgpack str, refusing values past the str32 limit.
func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > maxStrLen {
		return buf, ErrValueTooLarge
	}
	return msgp.AppendString(buf, s), nil
}

type numberKind uint8

const (
	numberNil numberKind = iota
	numberInt
	numberUint
	numberFloat
)

// Number is a wire-bound numeric value. The representation is fixed when
// the Number is built, so encoding needs no runtime dispatch.
type Number struct {
	kind numberKind
	i    int64
	u    uint64
	f    float64
}

// Int64 builds a signed Number.
func Int64(v int64) Number { return Number{kind: numberInt, i: v} }

// Uint64 builds an unsigned Number.
func Uint64(v uint64) Number { return Number{kind: numberUint, u: v} }

// Float64 builds a floating-point Number.
func Float64(v float64) Number { return Number{kind: numberFloat, f: v} }

// NumberOf converts a dynamically typed value into a Number. Non-negative
// integers take the unsigned encoding, negative ones the signed encoding.
func NumberOf(v interface{}) (Number, error) {
	switch n := v.(type) {
	case nil:
		return Number{}, nil
	case int:
		return numberFromInt64(int64(n)), nil
	case int8:
		return numberFromInt64(int64(n)), nil
	case int16:
		return numberFromInt64(int64(n)), nil
	case int32:
		return numberFromInt64(int64(n)), nil
	case int64:
		return numberFromInt64(n), nil
	case uint:
		return Uint64(uint64(n)), nil
	case uint8:
		return Uint64(uint64(n)), nil
	case uint16:
		return Uint64(uint64(n)), nil
	case uint32:
		return Uint64(uint64(n)), nil
	case uint64:
		return Uint64(n), nil
	case float32:
		return Float64(float64(n)), nil
	case float64:
		return Float64(n), nil
	default:
		return Number{}, ErrUnhandledType
	}
}

func numberFromInt64(v int64) Number {
	if v >= 0 {
		return Uint64(uint64(v))
	}
	return Int64(v)
}

// Value returns the generic form of the Number for JSON marshaling.
func (n Number) Value() interface{} {
	switch n.kind {
	case numberInt:
		return n.i
	case numberUint:
		return n.u
	case numberFloat:
		return n.f
	default:
		return nil
	}
}

func appendNumber(buf []byte, n Number) []byte {
	switch n.kind {
	case numberInt:
		return msgp.AppendInt64(buf, n.i)
	case numberUint:
		return msgp.AppendUint64(buf, n.u)
	case numberFloat:
		return msgp.AppendFloat64(buf, n.f)
	default:
		return msgp.AppendNil(buf)
	}
}
