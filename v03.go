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

// EncoderV03 serializes traces in the v0.3 dialect: each span is a msgpack
// map with literal field-name keys.
type EncoderV03 struct {
	mu sync.Mutex
	b  encoderBuffer
}

// NewEncoderV03 returns an encoder whose Size never exceeds maxSize,
// rejecting single traces larger than maxItemSize.
func NewEncoderV03(maxSize, maxItemSize int) (*EncoderV03, error) {
	b, err := newEncoderBuffer(maxSize, maxItemSize)
	if err != nil {
		return nil, err
	}
	return &EncoderV03{b: b}, nil
}

// ContentType implements TraceEncoder.
func (e *EncoderV03) ContentType() string { return ContentTypeMsgpack }

// Put appends one trace to the buffer.
func (e *EncoderV03) Put(t Trace) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := len(e.b.buf)
	return e.b.commit(start, 0, e.packTrace(t))
}

// Encode drains the buffer into a finished payload, or nil when empty.
func (e *EncoderV03) Encode() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.finish()
}

// Size reports the payload size with the top-level header counted at the
// width the current trace count needs. The payload Encode returns always
// carries a 5-byte header, so it can be up to 4 bytes longer.
func (e *EncoderV03) Size() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.size()
}

// Len reports the number of traces accepted since the last Encode.
func (e *EncoderV03) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.b.count
}

func (e *EncoderV03) packTrace(t Trace) error {
	e.b.buf = msgp.AppendArrayHeader(e.b.buf, uint32(len(t)))
	origin := t.Origin()
	for _, s := range t {
		if err := e.packSpan(s, origin); err != nil {
			return err
		}
	}
	return nil
}

func (e *EncoderV03) packSpan(s *Span, origin string) error {
	hasType := s.Type != ""
	hasMeta := len(s.Meta) > 0 || origin != ""
	hasMetrics := len(s.Metrics) > 0

	fields := uint32(9)
	if hasType {
		fields++
	}
	if hasMeta {
		fields++
	}
	if hasMetrics {
		fields++
	}

	buf := msgp.AppendMapHeader(e.b.buf, fields)
	buf = msgp.AppendString(buf, "trace_id")
	buf = msgp.AppendUint64(buf, s.TraceID)
	buf = msgp.AppendString(buf, "parent_id")
	buf = msgp.AppendUint64(buf, s.ParentID)
	buf = msgp.AppendString(buf, "span_id")
	buf = msgp.AppendUint64(buf, s.SpanID)

	var err error
	buf = msgp.AppendString(buf, "service")
	if buf, err = appendString(buf, s.Service); err != nil {
		return err
	}
	buf = msgp.AppendString(buf, "resource")
	if buf, err = appendString(buf, s.Resource); err != nil {
		return err
	}
	buf = msgp.AppendString(buf, "name")
	if buf, err = appendString(buf, s.Name); err != nil {
		return err
	}

	buf = msgp.AppendString(buf, "error")
	buf = msgp.AppendInt64(buf, s.errorFlag())
	buf = msgp.AppendString(buf, "start")
	buf = msgp.AppendInt64(buf, s.Start)
	buf = msgp.AppendString(buf, "duration")
	buf = msgp.AppendInt64(buf, s.Duration)

	if hasType {
		buf = msgp.AppendString(buf, "type")
		if buf, err = appendString(buf, s.Type); err != nil {
			return err
		}
	}
	if hasMeta {
		n := uint32(len(s.Meta))
		if origin != "" {
			n++
		}
		buf = msgp.AppendString(buf, "meta")
		buf = msgp.AppendMapHeader(buf, n)
		for _, tag := range s.Meta {
			if buf, err = appendString(buf, tag.Key); err != nil {
				return err
			}
			if buf, err = appendString(buf, tag.Value); err != nil {
				return err
			}
		}
		if origin != "" {
			buf = msgp.AppendString(buf, originTag)
			if buf, err = appendString(buf, origin); err != nil {
				return err
			}
		}
	}
	if hasMetrics {
		buf = msgp.AppendString(buf, "metrics")
		buf = msgp.AppendMapHeader(buf, uint32(len(s.Metrics)))
		for _, m := range s.Metrics {
			if buf, err = appendString(buf, m.Key); err != nil {
				return err
			}
			buf = appendNumber(buf, m.Value)
		}
	}

	e.b.buf = buf
	return nil
}
