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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONEncoderRoundTrip(t *testing.T) {
	s := testSpan(7, 8)
	s.Type = "sql"
	s.SetTag("component", "db")
	s.SetMetric("rows", Uint64(12))

	payload, err := JSONEncoder{}.EncodeTraces([]Trace{{s}})
	require.NoError(t, err)

	var got [][]map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)

	span := got[0][0]
	require.EqualValues(t, 7, span["trace_id"])
	require.EqualValues(t, 8, span["span_id"])
	require.EqualValues(t, 1, span["parent_id"])
	require.Equal(t, "svc", span["service"])
	require.Equal(t, "res", span["resource"])
	require.Equal(t, "op", span["name"])
	require.EqualValues(t, 0, span["error"])
	require.Equal(t, "sql", span["type"])
	require.Equal(t, map[string]interface{}{"component": "db"}, span["meta"])
	require.Equal(t, map[string]interface{}{"rows": float64(12)}, span["metrics"])
}

func TestJSONEncoderOmitsEmptySections(t *testing.T) {
	payload, err := JSONEncoder{}.EncodeTraces([]Trace{{testSpan(1, 2)}})
	require.NoError(t, err)

	var got [][]map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))
	span := got[0][0]
	require.NotContains(t, span, "type")
	require.NotContains(t, span, "meta")
	require.NotContains(t, span, "metrics")
	require.Len(t, span, 9)
}

func TestJSONEncoderV2Envelope(t *testing.T) {
	first := testSpan(1, 2)
	first.Ctx = &SpanContext{Origin: "synthetics"}

	payload, err := JSONEncoderV2{}.EncodeTraces([]Trace{{first}})
	require.NoError(t, err)

	var got struct {
		Traces []json.RawMessage `json:"traces"`
	}
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Len(t, got.Traces, 1)

	var spans []map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Traces[0], &spans))
	require.Equal(t, "0000000000000001", spans[0]["trace_id"])
	require.Equal(t, "0000000000000002", spans[0]["span_id"])
	require.Equal(t, "0000000000000001", spans[0]["parent_id"])
	meta := spans[0]["meta"].(map[string]interface{})
	require.Equal(t, "synthetics", meta["_dd.origin"])
}

func TestJoinEncoded(t *testing.T) {
	joined := JSONEncoder{}.JoinEncoded([][]byte{[]byte(`[1]`), []byte(`[2]`)})
	require.JSONEq(t, `[[1],[2]]`, string(joined))

	joined = JSONEncoderV2{}.JoinEncoded([][]byte{[]byte(`[1]`), []byte(`[2]`)})
	require.JSONEq(t, `{"traces":[[1],[2]]}`, string(joined))
}

func TestHexID(t *testing.T) {
	require.Equal(t, "0000000000000000", EncodeHexID(0))
	require.Equal(t, "00000000000004D2", EncodeHexID(1234))

	id, err := DecodeHexID("00000000000004D2")
	require.NoError(t, err)
	require.Equal(t, uint64(1234), id)

	id, err = DecodeHexID("")
	require.NoError(t, err)
	require.Zero(t, id)

	_, err = DecodeHexID("00000000000000001")
	require.ErrorIs(t, err, ErrNumericOverflow)

	_, err = DecodeHexID("not-hex")
	require.Error(t, err)
}
