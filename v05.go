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
	"sync"

	"github.com/tinylib/msgp/msgp"
)

// v05SpanFields is the fixed slot count of a positional span array.
const v05SpanFields = 12

// EncoderV05 serializes traces in the v0.5 dialect: each span is a
// 12-slot positional msgpack array whose string slots hold ids into a
// shared interned string table. Encode produces a 2-element array of
// [string table, traces].
type EncoderV05 struct {
	mu sync.Mutex
	b  encoderBuffer
	st *msgpackStringTable
}

// NewEncoderV05 returns an encoder whose combined string-table and
// payload size is bounded by maxSize.
func NewEncoderV05(maxSize, maxItemSize int) (*EncoderV05, error) {
	b, err := newEncoderBuffer(maxSize, maxItemSize)
	if err != nil {
		return nil, err
	}
	return &EncoderV05{b: b, st: newMsgpackStringTable(maxSize / 4)}, nil
}

// ContentType implements TraceEncoder.
func (e *EncoderV05) ContentType() string { return ContentTypeMsgpack }

// Put appends one trace. On failure both the span buffer and the string
// table are rewound, leaving the encoder byte-identical to its pre-call
// state.
func (e *EncoderV05) Put(t Trace) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.st.savepoint()
	start := len(e.b.buf)
	err := e.packTrace(t)
	err = e.b.commit(start, e.st.size(), err)
	if err != nil {
		e.st.rollback()
	}
	return err
}

// Encode glues the span payload onto the string table region, patches the
// enclosing headers and returns the composite payload, or nil when empty.
func (e *EncoderV05) Encode() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	payload := e.b.raw()
	if payload == nil {
		return nil
	}
	e.st.appendRaw(payload)
	out := e.st.flush()
	e.b.reset()
	return out
}

// Size reports the combined size of the string table and the payload.
func (e *EncoderV05) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.size() + e.st.size()
}

// Len reports the number of traces accepted since the last Encode.
func (e *EncoderV05) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.count
}

func (e *EncoderV05) packTrace(t Trace) error {
	e.b.buf = msgp.AppendArrayHeader(e.b.buf, uint32(len(t)))
	origin := t.Origin()
	for _, s := range t {
		if err := e.packSpan(s, origin); err != nil {
			return err
		}
	}
	return nil
}

func (e *EncoderV05) packSpan(s *Span, origin string) error {
	buf := msgp.AppendArrayHeader(e.b.buf, v05SpanFields)

	service, err := e.st.index(s.Service)
	if err != nil {
		return err
	}
	name, err := e.st.index(s.Name)
	if err != nil {
		return err
	}
	resource, err := e.st.index(s.Resource)
	if err != nil {
		return err
	}

	buf = msgp.AppendUint32(buf, service)
	buf = msgp.AppendUint32(buf, name)
	buf = msgp.AppendUint32(buf, resource)
	buf = msgp.AppendUint64(buf, s.TraceID)
	buf = msgp.AppendUint64(buf, s.SpanID)
	buf = msgp.AppendUint64(buf, s.ParentID)
	buf = msgp.AppendInt64(buf, s.Start)
	buf = msgp.AppendInt64(buf, s.Duration)
	buf = msgp.AppendInt32(buf, int32(s.errorFlag()))

	n := uint32(len(s.Meta))
	if origin != "" {
		n++
	}
	buf = msgp.AppendMapHeader(buf, n)
	for _, tag := range s.Meta {
		key, err := e.st.index(tag.Key)
		if err != nil {
			return err
		}
		value, err := e.st.index(tag.Value)
		if err != nil {
			return err
		}
		buf = msgp.AppendUint32(buf, key)
		buf = msgp.AppendUint32(buf, value)
	}
	if origin != "" {
		key, err := e.st.index(originTag)
		if err != nil {
			return err
		}
		value, err := e.st.index(origin)
		if err != nil {
			return err
		}
		buf = msgp.AppendUint32(buf, key)
		buf = msgp.AppendUint32(buf, value)
	}

	buf = msgp.AppendMapHeader(buf, uint32(len(s.Metrics)))
	for _, m := range s.Metrics {
		key, err := e.st.index(m.Key)
		if err != nil {
			return err
		}
		buf = msgp.AppendUint32(buf, key)
		buf = appendNumber(buf, m.Value)
	}

	spanType, err := e.st.index(s.Type)
	if err != nil {
		return err
	}
	buf = msgp.AppendUint32(buf, spanType)

	e.b.buf = buf
	return nil
}
