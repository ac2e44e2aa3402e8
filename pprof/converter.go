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

// Package pprof folds heterogeneous profiling events into the pprof wire
// schema. A Converter deduplicates functions, locations and strings while
// aggregating sample values per (stack, labels) pair; an Exporter groups
// raw events, drives the converter and materialises the final profile.
package pprof

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
)

// ErrProfileEmitted is returned by Build when the converter has already
// produced its profile. Converters are single-use for emission.
var ErrProfileEmitted = errors.New("profile already emitted")

// unknownFunction names locations whose frame carried no function name.
const unknownFunction = "<unknown function>"

// ValueType is one (type, unit) entry of the profile's sample_type list.
type ValueType struct {
	Type string
	Unit string
}

type funcKey struct {
	file string
	name string
}

type locKey struct {
	file string
	line int64
	name string
}

type function struct {
	id       uint64
	name     uint32
	filename uint32
}

type location struct {
	id     uint64
	funcID uint64
	line   int64
}

type label struct {
	key   uint32
	value uint32
}

// sample aggregates the values of every event that resolved to the same
// (location tuple, label tuple) pair. Values are keyed by sample-type
// name and projected onto the sample_type order at build time.
type sample struct {
	locs   []uint64
	labels []label
	values map[string]int64
}

// Converter accumulates profiling events and emits one pprof profile.
// It is not safe for concurrent use.
type Converter struct {
	strings   *stringTable
	functions map[funcKey]*function
	funcList  []*function
	locations map[locKey]*location
	locList   []*location
	samples   map[uint64][]*sample
	sampList  []*sample
	emitted   bool
}

// NewConverter returns an empty converter.
func NewConverter() *Converter {
	return &Converter{
		strings:   newStringTable(),
		functions: map[funcKey]*function{},
		locations: map[locKey]*location{},
		samples:   map[uint64][]*sample{},
	}
}

func (c *Converter) str(s string) uint32 { return c.strings.index(s) }

// function ids start at 1; id 0 is reserved by the pprof schema.
func (c *Converter) toFunction(file, name string) *function {
	k := funcKey{file: file, name: name}
	if f, ok := c.functions[k]; ok {
		return f
	}
	f := &function{
		id:       uint64(len(c.funcList) + 1),
		name:     c.str(name),
		filename: c.str(file),
	}
	c.functions[k] = f
	c.funcList = append(c.funcList, f)
	return f
}

func (c *Converter) toLocation(file string, line int64, name string) *location {
	k := locKey{file: file, line: line, name: name}
	if l, ok := c.locations[k]; ok {
		return l
	}
	funcname := name
	if funcname == "" {
		funcname = unknownFunction
	}
	l := &location{
		id:     uint64(len(c.locList) + 1),
		funcID: c.toFunction(file, funcname).id,
		line:   line,
	}
	c.locations[k] = l
	c.locList = append(c.locList, l)
	return l
}

// toLocations resolves a captured stack to location ids, appending a
// synthetic location when the collector truncated the stack.
func (c *Converter) toLocations(frames []Frame, nframes int) []uint64 {
	out := make([]uint64, 0, len(frames)+1)
	for _, f := range frames {
		out = append(out, c.toLocation(f.File, f.Line, f.Name).id)
	}
	if omitted := nframes - len(frames); omitted > 0 {
		plural := ""
		if omitted > 1 {
			plural = "s"
		}
		name := fmt.Sprintf("<%d frame%s omitted>", omitted, plural)
		out = append(out, c.toLocation("", 0, name).id)
	}
	return out
}

func sampleEqual(s *sample, locs []uint64, labels []label) bool {
	if len(s.locs) != len(locs) || len(s.labels) != len(labels) {
		return false
	}
	for i, l := range locs {
		if s.locs[i] != l {
			return false
		}
	}
	for i, l := range labels {
		if s.labels[i] != l {
			return false
		}
	}
	return true
}

// sampleFor returns the aggregation slot of a (locations, labels) pair,
// creating it on first sight. Slots are chained under a content hash so
// colliding pairs stay distinct.
func (c *Converter) sampleFor(locs []uint64, labels []label) *sample {
	d := xxhash.New()
	var scratch [8]byte
	for _, l := range locs {
		binary.LittleEndian.PutUint64(scratch[:], l)
		d.Write(scratch[:])
	}
	for _, l := range labels {
		binary.LittleEndian.PutUint64(scratch[:], uint64(l.key)<<32|uint64(l.value))
		d.Write(scratch[:])
	}
	h := d.Sum64()
	for _, s := range c.samples[h] {
		if sampleEqual(s, locs, labels) {
			return s
		}
	}
	s := &sample{locs: locs, labels: labels, values: map[string]int64{}}
	c.samples[h] = append(c.samples[h], s)
	c.sampList = append(c.sampList, s)
	return s
}

func (c *Converter) appendLabel(labels []label, key, value string) []label {
	if value == "" {
		return labels
	}
	return append(labels, label{key: c.str(key), value: c.str(value)})
}

func (c *Converter) appendLabelID(labels []label, key string, id uint64) []label {
	if id == 0 {
		return labels
	}
	return c.appendLabel(labels, key, strconv.FormatUint(id, 10))
}

func (c *Converter) threadLabels(threadID, nativeID uint64, name string) []label {
	labels := make([]label, 0, 10)
	labels = c.appendLabelID(labels, "thread id", threadID)
	labels = c.appendLabelID(labels, "thread native id", nativeID)
	labels = c.appendLabel(labels, "thread name", name)
	return labels
}

// traceEndpoint masks the endpoint of non-web traces.
func traceEndpoint(endpoint, traceType string) string {
	if traceType != "web" {
		return ""
	}
	return endpoint
}

func (c *Converter) traceLabels(labels []label, traceID, spanID uint64, endpoint, traceType string) []label {
	labels = c.appendLabelID(labels, "trace id", traceID)
	labels = c.appendLabelID(labels, "span id", spanID)
	labels = c.appendLabel(labels, "trace endpoint", traceEndpoint(endpoint, traceType))
	labels = c.appendLabel(labels, "trace type", traceType)
	return labels
}

// ConvertStackEvents folds one group of stack samples sharing identity
// fields and stack into a single profile sample.
func (c *Converter) ConvertStackEvents(events []*StackEvent) {
	e := events[0]
	labels := c.threadLabels(e.ThreadID, e.ThreadNativeID, e.ThreadName)
	labels = c.appendLabelID(labels, "task id", e.TaskID)
	labels = c.appendLabel(labels, "task name", e.TaskName)
	labels = c.traceLabels(labels, e.TraceID, e.SpanID, e.TraceEndpoint, e.TraceType)

	var cpu, wall int64
	for _, ev := range events {
		cpu += ev.CPUTimeNs
		wall += ev.WallTimeNs
	}
	s := c.sampleFor(c.toLocations(e.Frames, e.NFrames), labels)
	s.values["cpu-samples"] = int64(len(events))
	s.values["cpu-time"] = cpu
	s.values["wall-time"] = wall
}

// ConvertStackExceptionEvents folds one group of exception samples.
func (c *Converter) ConvertStackExceptionEvents(events []*StackExceptionEvent) {
	e := events[0]
	labels := c.threadLabels(e.ThreadID, e.ThreadNativeID, e.ThreadName)
	labels = c.appendLabelID(labels, "task id", e.TaskID)
	labels = c.appendLabel(labels, "task name", e.TaskName)
	labels = c.traceLabels(labels, e.TraceID, e.SpanID, e.TraceEndpoint, e.TraceType)
	labels = c.appendLabel(labels, "exception type", e.ExcType)

	s := c.sampleFor(c.toLocations(e.Frames, e.NFrames), labels)
	s.values["exception-samples"] = int64(len(events))
}

// ConvertLockAcquireEvents folds one group of lock-wait samples.
// samplingRatio rescales the observed wait back to real time.
func (c *Converter) ConvertLockAcquireEvents(events []*LockAcquireEvent, samplingRatio float64) {
	e := events[0]
	labels := c.threadLabels(e.ThreadID, e.ThreadNativeID, e.ThreadName)
	labels = c.appendLabel(labels, "lock name", e.LockName)
	labels = c.traceLabels(labels, e.TraceID, e.SpanID, e.TraceEndpoint, e.TraceType)

	var wait int64
	for _, ev := range events {
		wait += ev.WaitTimeNs
	}
	s := c.sampleFor(c.toLocations(e.Frames, e.NFrames), labels)
	s.values["lock-acquire"] = int64(len(events))
	if samplingRatio > 0 {
		s.values["lock-acquire-wait"] = int64(float64(wait) / samplingRatio)
	}
}

// ConvertLockReleaseEvents folds one group of lock-hold samples.
func (c *Converter) ConvertLockReleaseEvents(events []*LockReleaseEvent, samplingRatio float64) {
	e := events[0]
	labels := c.threadLabels(e.ThreadID, e.ThreadNativeID, e.ThreadName)
	labels = c.appendLabel(labels, "lock name", e.LockName)
	labels = c.traceLabels(labels, e.TraceID, e.SpanID, e.TraceEndpoint, e.TraceType)

	var held int64
	for _, ev := range events {
		held += ev.LockedForNs
	}
	s := c.sampleFor(c.toLocations(e.Frames, e.NFrames), labels)
	s.values["lock-release"] = int64(len(events))
	if samplingRatio > 0 {
		s.values["lock-release-hold"] = int64(float64(held) / samplingRatio)
	}
}

// ConvertAllocEvents folds one group of allocation samples. The space
// estimate scales the mean sampled size by the number of real events and
// the mean capture rate.
func (c *Converter) ConvertAllocEvents(events []*AllocEvent) {
	e := events[0]
	labels := c.threadLabels(e.ThreadID, e.ThreadNativeID, e.ThreadName)

	n := float64(len(events))
	var nevents int64
	var pct float64
	var size int64
	for _, ev := range events {
		nevents += ev.NEvents
		pct += ev.CapturePct
		size += ev.Size
	}
	s := c.sampleFor(c.toLocations(e.Frames, e.NFrames), labels)
	s.values["alloc-samples"] = int64(len(events))
	s.values["alloc-space"] = int64(math.Round(float64(nevents) * (pct / (n * 100)) * (float64(size) / n)))
}

// ConvertHeapEvent accumulates one live object into its stack's
// heap-space value. Heap events are not grouped upstream, so this is the
// only accumulating ingestion.
func (c *Converter) ConvertHeapEvent(e *HeapEvent) {
	labels := c.threadLabels(e.ThreadID, e.ThreadNativeID, e.ThreadName)
	s := c.sampleFor(c.toLocations(e.Frames, e.NFrames), labels)
	s.values["heap-space"] += e.Size
}
