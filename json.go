// Copyright 2022 PingCAP, Inc.
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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// JSONEncoder renders traces as a nested JSON array, the debugging
// counterpart of the v0.3 dialect. It is stateless: every call encodes
// its whole input.
type JSONEncoder struct{}

// ContentType returns the media type of the produced payloads.
func (JSONEncoder) ContentType() string { return ContentTypeJSON }

// EncodeTraces serializes a batch of traces.
func (JSONEncoder) EncodeTraces(traces []Trace) ([]byte, error) {
	out := make([][]map[string]interface{}, len(traces))
	for i, t := range traces {
		out[i] = normalizeTrace(t, false)
	}
	b, err := json.Marshal(out)
	return b, errors.Wrap(err, "encode traces")
}

// JoinEncoded glues pre-encoded trace batches into one JSON array.
func (JSONEncoder) JoinEncoded(payloads [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, p := range payloads {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(p)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// JSONEncoderV2 renders traces for the v2 intake API: span ids become
// zero-padded 16-digit hex and the batch travels in a {"traces": ...}
// envelope.
type JSONEncoderV2 struct{}

// ContentType returns the media type of the produced payloads.
func (JSONEncoderV2) ContentType() string { return ContentTypeJSON }

// EncodeTraces serializes a batch of traces in the envelope form.
func (JSONEncoderV2) EncodeTraces(traces []Trace) ([]byte, error) {
	normalized := make([][]map[string]interface{}, len(traces))
	for i, t := range traces {
		normalized[i] = normalizeTrace(t, true)
	}
	b, err := json.Marshal(map[string]interface{}{"traces": normalized})
	return b, errors.Wrap(err, "encode traces")
}

// JoinEncoded glues pre-encoded traces into the envelope form. Inputs are
// the per-trace JSON arrays, not whole envelopes.
func (JSONEncoderV2) JoinEncoded(payloads [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"traces":[`)
	for i, p := range payloads {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(p)
	}
	buf.WriteString(`]}`)
	return buf.Bytes()
}

// EncodeHexID renders a span or trace id in the v2 fixed-width hex form.
func EncodeHexID(id uint64) string {
	return fmt.Sprintf("%016X", id)
}

// DecodeHexID parses an id produced by EncodeHexID. The empty string
// decodes to 0.
func DecodeHexID(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) > 16 {
		return 0, ErrNumericOverflow
	}
	id, err := strconv.ParseUint(s, 16, 64)
	return id, errors.Wrap(err, "decode hex id")
}

// normalizeTrace projects spans onto the same field set the v0.3 dialect
// writes, with ids optionally in hex form.
func normalizeTrace(t Trace, hexIDs bool) []map[string]interface{} {
	origin := t.Origin()
	out := make([]map[string]interface{}, len(t))
	for i, s := range t {
		m := map[string]interface{}{
			"trace_id":  interface{}(s.TraceID),
			"parent_id": interface{}(s.ParentID),
			"span_id":   interface{}(s.SpanID),
			"service":   s.Service,
			"resource":  s.Resource,
			"name":      s.Name,
			"error":     s.errorFlag(),
			"start":     s.Start,
			"duration":  s.Duration,
		}
		if hexIDs {
			m["trace_id"] = EncodeHexID(s.TraceID)
			m["parent_id"] = EncodeHexID(s.ParentID)
			m["span_id"] = EncodeHexID(s.SpanID)
		}
		if s.Type != "" {
			m["type"] = s.Type
		}
		if len(s.Meta) > 0 || origin != "" {
			meta := make(map[string]string, len(s.Meta)+1)
			for _, tag := range s.Meta {
				meta[tag.Key] = tag.Value
			}
			if origin != "" {
				meta[originTag] = origin
			}
			m["meta"] = meta
		}
		if len(s.Metrics) > 0 {
			metrics := make(map[string]interface{}, len(s.Metrics))
			for _, metric := range s.Metrics {
				metrics[metric.Key] = metric.Value.Value()
			}
			m["metrics"] = metrics
		}
		out[i] = m
	}
	return out
}
