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

// originTag is the meta key under which a trace's origin travels.
const originTag = "_dd.origin"

// Tag is one meta key-value pair. Tags keep their insertion order all the
// way to the wire.
type Tag struct {
	Key   string
	Value string
}

// Metric is one numeric measurement attached to a span.
type Metric struct {
	Key   string
	Value Number
}

// SpanContext carries trace-level fields stamped by the environment that
// produced the span. Only the first span of a trace contributes a context.
type SpanContext struct {
	Origin string
}

// Span is a single unit of traced work. The zero value of every field is
// the wire representation of "absent".
type Span struct {
	TraceID  uint64
	SpanID   uint64
	ParentID uint64 // 0 means root
	Service  string
	Resource string
	Name     string
	Error    bool
	Start    int64 // unix ns
	Duration int64 // ns
	Type     string
	Meta     []Tag
	Metrics  []Metric
	Ctx      *SpanContext
}

// SetTag appends a meta pair to the span.
func (s *Span) SetTag(key, value string) {
	s.Meta = append(s.Meta, Tag{Key: key, Value: value})
}

// SetMetric appends a numeric measurement to the span.
func (s *Span) SetMetric(key string, value Number) {
	s.Metrics = append(s.Metrics, Metric{Key: key, Value: value})
}

func (s *Span) errorFlag() int64 {
	if s.Error {
		return 1
	}
	return 0
}

// Trace is an ordered sequence of spans sharing a trace id.
type Trace []*Span

// Origin returns the origin recorded on the first span's context, or the
// empty string when there is none.
func (t Trace) Origin() string {
	if len(t) == 0 || t[0].Ctx == nil {
		return ""
	}
	return t[0].Ctx.Origin
}
