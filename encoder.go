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

// Package tracewire turns in-memory traces into the binary payloads a
// remote collector ingests. Two msgpack dialects are supported: a
// self-describing map form (v0.3) and a dictionary-compressed positional
// form (v0.5) backed by an interned string table. Encoders buffer
// accepted traces up to a configured byte budget and hand the caller a
// finished payload on Encode.
package tracewire

// ContentTypeMsgpack is the media type advertised by the msgpack dialects.
const ContentTypeMsgpack = "application/msgpack"

// ContentTypeJSON is the media type advertised by the JSON encoders.
const ContentTypeJSON = "application/json"

// TraceEncoder is a buffered, size-bounded trace serializer. Put accepts
// one trace at a time and is safe for concurrent producers; Encode drains
// everything accepted so far into a single payload.
//
// Put is transactional: when it returns an error the encoder state is
// byte-identical to what it was before the call. A *BufferFullError asks
// the caller to Encode and retry; an *ItemTooLargeError means the trace
// can never fit and must be dropped.
type TraceEncoder interface {
	Put(Trace) error
	Encode() []byte
	Size() int
	Len() int
	ContentType() string
}

var (
	_ TraceEncoder = (*EncoderV03)(nil)
	_ TraceEncoder = (*EncoderV05)(nil)
)
