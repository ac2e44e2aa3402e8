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
	"fmt"

	"github.com/pkg/errors"
)

// BufferFullError is returned by Put when accepting the item would push the
// encoded payload past the encoder's maximum size. The caller should drain
// the encoder with Encode and retry the same item.
type BufferFullError struct {
	// Delta is the encoded size of the rejected item.
	Delta int
}

func (e *BufferFullError) Error() string {
	return fmt.Sprintf("buffer is full: cannot fit %d more bytes", e.Delta)
}

// ItemTooLargeError is returned by Put when a single item encodes to more
// bytes than the per-item limit. Retrying is pointless; the item must be
// dropped.
type ItemTooLargeError struct {
	// Delta is the encoded size of the rejected item.
	Delta int
}

func (e *ItemTooLargeError) Error() string {
	return fmt.Sprintf("item is too large for the buffer: %d bytes", e.Delta)
}

var (
	// ErrAllocation is returned by encoder constructors given buffer limits
	// that cannot hold even the reserved header region, or a per-item limit
	// that is not positive or exceeds the buffer limit.
	ErrAllocation = errors.New("cannot allocate encoder buffer")

	// ErrNumericOverflow reports a numeric value outside the 64-bit range
	// representable on the wire.
	ErrNumericOverflow = errors.New("value does not fit in 64 bits")

	// ErrValueTooLarge reports a string or byte value whose length exceeds
	// the msgpack 32-bit length limit.
	ErrValueTooLarge = errors.New("value length exceeds msgpack limit")

	// ErrUnhandledType reports a value of a type the wire format cannot
	// carry.
	ErrUnhandledType = errors.New("unhandled value type")
)
