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

package pprof

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// defaultSampleTypes is the fixed sample_type list every exported profile
// carries, in emission order.
var defaultSampleTypes = []ValueType{
	{Type: "cpu-samples", Unit: "count"},
	{Type: "cpu-time", Unit: "nanoseconds"},
	{Type: "wall-time", Unit: "nanoseconds"},
	{Type: "exception-samples", Unit: "count"},
	{Type: "lock-acquire", Unit: "count"},
	{Type: "lock-acquire-wait", Unit: "nanoseconds"},
	{Type: "lock-release", Unit: "count"},
	{Type: "lock-release-hold", Unit: "nanoseconds"},
	{Type: "alloc-samples", Unit: "count"},
	{Type: "alloc-space", Unit: "bytes"},
	{Type: "heap-space", Unit: "bytes"},
}

// Exporter turns a bag of profiling events into one pprof payload.
type Exporter struct {
	// Gzip compresses the emitted profile.
	Gzip bool
}

// grouper buckets events under string keys while remembering first-seen
// order, so conversion order does not depend on map iteration.
type grouper struct {
	order []string
	idx   map[string][]int
}

func newGrouper() *grouper {
	return &grouper{idx: map[string][]int{}}
}

func (g *grouper) add(key string, i int) {
	if _, ok := g.idx[key]; !ok {
		g.order = append(g.order, key)
	}
	g.idx[key] = append(g.idx[key], i)
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

func framesKey(b *strings.Builder, frames []Frame, nframes int) {
	for _, f := range frames {
		b.WriteString(f.File)
		b.WriteByte(1)
		b.WriteString(strconv.FormatInt(f.Line, 10))
		b.WriteByte(1)
		b.WriteString(f.Name)
		b.WriteByte(2)
	}
	b.WriteString(strconv.Itoa(nframes))
}

func groupKey(frames []Frame, nframes int, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
		b.WriteByte(0)
	}
	framesKey(&b, frames, nframes)
	return b.String()
}

// Export groups the events, converts each group and builds the final
// profile. startNs and endNs bound the covered window; programName
// becomes the filename of the profile's single mapping.
func (x *Exporter) Export(events Events, startNs, endNs int64, programName string) ([]byte, error) {
	conv := NewConverter()

	stacks := newGrouper()
	var sumPeriod, nbEvent int64
	for i, e := range events.Stack {
		k := groupKey(e.Frames, e.NFrames,
			u(e.ThreadID), u(e.ThreadNativeID), e.ThreadName,
			u(e.TaskID), e.TaskName,
			u(e.TraceID), u(e.SpanID),
			traceEndpoint(e.TraceEndpoint, e.TraceType), e.TraceType)
		stacks.add(k, i)
		sumPeriod += e.Period
		nbEvent++
	}
	for _, k := range stacks.order {
		group := make([]*StackEvent, 0, len(stacks.idx[k]))
		for _, i := range stacks.idx[k] {
			group = append(group, events.Stack[i])
		}
		conv.ConvertStackEvents(group)
	}

	excs := newGrouper()
	for i, e := range events.Exception {
		k := groupKey(e.Frames, e.NFrames,
			u(e.ThreadID), u(e.ThreadNativeID), e.ThreadName,
			u(e.TraceID), u(e.SpanID), e.ExcType)
		excs.add(k, i)
	}
	for _, k := range excs.order {
		group := make([]*StackExceptionEvent, 0, len(excs.idx[k]))
		for _, i := range excs.idx[k] {
			group = append(group, events.Exception[i])
		}
		conv.ConvertStackExceptionEvents(group)
	}

	// One average sampling ratio over both lock event kinds rescales
	// every group's wait and hold times.
	var pctSum float64
	nLock := len(events.LockAcquire) + len(events.LockRelease)
	for _, e := range events.LockAcquire {
		pctSum += e.SamplingPct
	}
	for _, e := range events.LockRelease {
		pctSum += e.SamplingPct
	}
	var samplingRatio float64
	if nLock > 0 {
		samplingRatio = pctSum / (float64(nLock) * 100)
	}

	acquires := newGrouper()
	for i, e := range events.LockAcquire {
		k := groupKey(e.Frames, e.NFrames,
			u(e.ThreadID), u(e.ThreadNativeID), e.ThreadName,
			u(e.TraceID), u(e.SpanID), e.LockName)
		acquires.add(k, i)
	}
	for _, k := range acquires.order {
		group := make([]*LockAcquireEvent, 0, len(acquires.idx[k]))
		for _, i := range acquires.idx[k] {
			group = append(group, events.LockAcquire[i])
		}
		conv.ConvertLockAcquireEvents(group, samplingRatio)
	}

	releases := newGrouper()
	for i, e := range events.LockRelease {
		k := groupKey(e.Frames, e.NFrames,
			u(e.ThreadID), u(e.ThreadNativeID), e.ThreadName,
			u(e.TraceID), u(e.SpanID), e.LockName)
		releases.add(k, i)
	}
	for _, k := range releases.order {
		group := make([]*LockReleaseEvent, 0, len(releases.idx[k]))
		for _, i := range releases.idx[k] {
			group = append(group, events.LockRelease[i])
		}
		conv.ConvertLockReleaseEvents(group, samplingRatio)
	}

	allocs := newGrouper()
	for i, e := range events.Alloc {
		k := groupKey(e.Frames, e.NFrames,
			u(e.ThreadID), u(e.ThreadNativeID), e.ThreadName)
		allocs.add(k, i)
	}
	for _, k := range allocs.order {
		group := make([]*AllocEvent, 0, len(allocs.idx[k]))
		for _, i := range allocs.idx[k] {
			group = append(group, events.Alloc[i])
		}
		conv.ConvertAllocEvents(group)
	}

	for _, e := range events.Heap {
		conv.ConvertHeapEvent(e)
	}

	var period int64
	if nbEvent > 0 {
		period = sumPeriod / nbEvent
	}

	payload, err := conv.Build(startNs, endNs-startNs, period, defaultSampleTypes, programName)
	if err != nil {
		return nil, err
	}
	if !x.Gzip {
		return payload, nil
	}
	var zbuf bytes.Buffer
	zw := gzip.NewWriter(&zbuf)
	if _, err := zw.Write(payload); err != nil {
		return nil, errors.Wrap(err, "gzip profile")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip profile")
	}
	return zbuf.Bytes(), nil
}
