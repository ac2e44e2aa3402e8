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

// payloadPrefix reserves room at the front of the buffer for the top-level
// array header, patched in once the item count is known.
const payloadPrefix = 5

// encoderBuffer is the size-bounded byte region shared by the msgpack
// encoders. Writes go through append; the owner validates the outcome of
// every item with commit, which rewinds the cursor on any violation.
type encoderBuffer struct {
	buf         []byte
	count       int
	maxSize     int
	maxItemSize int
}

func newEncoderBuffer(maxSize, maxItemSize int) (encoderBuffer, error) {
	if maxSize < payloadPrefix || maxItemSize <= 0 || maxItemSize > maxSize {
		return encoderBuffer{}, ErrAllocation
	}
	return encoderBuffer{
		buf:         make([]byte, payloadPrefix, maxSize),
		maxSize:     maxSize,
		maxItemSize: maxItemSize,
	}, nil
}

// size is the logical payload size: bytes written so far plus the header
// the current item count needs, minus the reservation. finish always
// writes a full-width 5-byte header, so its output is longer by
// payloadPrefix - arrayPrefixSize(count) bytes.
func (b *encoderBuffer) size() int {
	return len(b.buf) + arrayPrefixSize(b.count) - payloadPrefix
}

// commit accepts or rejects the bytes a pack callback appended past start.
// extra accounts for companion state (the V05 string table) that must fit
// in the same budget. On rejection the cursor is rewound to start and the
// item count is untouched.
func (b *encoderBuffer) commit(start, extra int, err error) error {
	if err != nil {
		b.buf = b.buf[:start]
		return err
	}
	delta := len(b.buf) - start
	if delta > b.maxItemSize {
		b.buf = b.buf[:start]
		return &ItemTooLargeError{Delta: delta}
	}
	if len(b.buf)+arrayPrefixSize(b.count+1)-payloadPrefix+extra > b.maxSize {
		b.buf = b.buf[:start]
		return &BufferFullError{Delta: delta}
	}
	b.count++
	return nil
}

// finish patches the reserved prefix with the item count, snapshots the
// payload and resets the buffer for reuse. Returns nil when no item was
// accepted since the last finish.
func (b *encoderBuffer) finish() []byte {
	raw := b.raw()
	if raw == nil {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	b.reset()
	return out
}

// raw patches the header in place and exposes the payload region without
// copying or resetting. The caller must copy before the next append.
func (b *encoderBuffer) raw() []byte {
	if b.count == 0 {
		return nil
	}
	putArray32(b.buf, 0, uint32(b.count))
	return b.buf
}

func (b *encoderBuffer) reset() {
	b.buf = b.buf[:payloadPrefix]
	b.count = 0
}
