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
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"
)

var testFrames = []Frame{
	{File: "server.go", Line: 42, Name: "handleRequest"},
	{File: "db.go", Line: 7, Name: "query"},
}

func testStackEvent(spanID uint64) *StackEvent {
	return &StackEvent{
		ThreadID:       1,
		ThreadNativeID: 100,
		ThreadName:     "worker",
		TraceID:        9,
		SpanID:         spanID,
		TraceEndpoint:  "/index",
		TraceType:      "web",
		Frames:         testFrames,
		NFrames:        len(testFrames),
		CPUTimeNs:      1000,
		WallTimeNs:     2000,
		Period:         10000,
	}
}

func export(t *testing.T, events Events) *profile.Profile {
	t.Helper()
	payload, err := (&Exporter{}).Export(events, 100, 400, "prog")
	require.NoError(t, err)
	p, err := profile.ParseData(payload)
	require.NoError(t, err)
	require.NoError(t, p.CheckValid())
	return p
}

// typeIndex locates a sample type in the profile's sample_type list.
func typeIndex(t *testing.T, p *profile.Profile, name string) int {
	t.Helper()
	for i, st := range p.SampleType {
		if st.Type == name {
			return i
		}
	}
	t.Fatalf("sample type %q not found", name)
	return -1
}

func TestExportMetadata(t *testing.T) {
	p := export(t, Events{Stack: []*StackEvent{testStackEvent(5)}})

	require.Equal(t, int64(100), p.TimeNanos)
	require.Equal(t, int64(300), p.DurationNanos)
	require.Equal(t, int64(10000), p.Period)
	require.Equal(t, "time", p.PeriodType.Type)
	require.Equal(t, "nanoseconds", p.PeriodType.Unit)
	require.Len(t, p.Mapping, 1)
	require.Equal(t, "prog", p.Mapping[0].File)
	require.Len(t, p.SampleType, 11)
	require.Equal(t, "cpu-samples", p.SampleType[0].Type)
	require.Equal(t, "heap-space", p.SampleType[10].Type)
}

func TestExportGroupsStackEvents(t *testing.T) {
	p := export(t, Events{Stack: []*StackEvent{testStackEvent(5), testStackEvent(5)}})

	require.Len(t, p.Sample, 1)
	s := p.Sample[0]
	require.Equal(t, int64(2), s.Value[typeIndex(t, p, "cpu-samples")])
	require.Equal(t, int64(2000), s.Value[typeIndex(t, p, "cpu-time")])
	require.Equal(t, int64(4000), s.Value[typeIndex(t, p, "wall-time")])

	require.Equal(t, []string{"worker"}, s.Label["thread name"])
	require.Equal(t, []string{"9"}, s.Label["trace id"])
	require.Equal(t, []string{"5"}, s.Label["span id"])
	require.Equal(t, []string{"/index"}, s.Label["trace endpoint"])
	require.Equal(t, []string{"web"}, s.Label["trace type"])

	require.Len(t, s.Location, 2)
	require.Equal(t, "handleRequest", s.Location[0].Line[0].Function.Name)
	require.Equal(t, "server.go", s.Location[0].Line[0].Function.Filename)
	require.Equal(t, int64(42), s.Location[0].Line[0].Line)
	require.Equal(t, "query", s.Location[1].Line[0].Function.Name)
}

func TestExportDistinctSpansStayDistinct(t *testing.T) {
	p := export(t, Events{Stack: []*StackEvent{testStackEvent(5), testStackEvent(6)}})
	require.Len(t, p.Sample, 2)
	for _, s := range p.Sample {
		require.Equal(t, int64(1), s.Value[typeIndex(t, p, "cpu-samples")])
	}
}

func TestExportMasksNonWebEndpoint(t *testing.T) {
	e := testStackEvent(5)
	e.TraceType = "sql"
	p := export(t, Events{Stack: []*StackEvent{e}})

	s := p.Sample[0]
	require.NotContains(t, s.Label, "trace endpoint")
	require.Equal(t, []string{"sql"}, s.Label["trace type"])
}

func TestExportTruncatedStack(t *testing.T) {
	e := testStackEvent(5)
	e.NFrames = len(testFrames) + 2
	p := export(t, Events{Stack: []*StackEvent{e}})

	s := p.Sample[0]
	require.Len(t, s.Location, 3)
	require.Equal(t, "<2 frames omitted>", s.Location[2].Line[0].Function.Name)

	e.NFrames = len(testFrames) + 1
	p = export(t, Events{Stack: []*StackEvent{e}})
	last := p.Sample[0].Location[2]
	require.Equal(t, "<1 frame omitted>", last.Line[0].Function.Name)
}

func TestExportUnknownFunction(t *testing.T) {
	e := testStackEvent(5)
	e.Frames = []Frame{{File: "gen.go", Line: 1}}
	e.NFrames = 1
	p := export(t, Events{Stack: []*StackEvent{e}})

	require.Equal(t, "<unknown function>", p.Sample[0].Location[0].Line[0].Function.Name)
}

func TestExportExceptions(t *testing.T) {
	ev := &StackExceptionEvent{
		ThreadID:   1,
		ThreadName: "worker",
		ExcType:    "ValueError",
		Frames:     testFrames,
		NFrames:    len(testFrames),
	}
	p := export(t, Events{Exception: []*StackExceptionEvent{ev, ev}})

	s := p.Sample[0]
	require.Equal(t, int64(2), s.Value[typeIndex(t, p, "exception-samples")])
	require.Equal(t, []string{"ValueError"}, s.Label["exception type"])
}

func TestExportLockEvents(t *testing.T) {
	acq := &LockAcquireEvent{
		LockName:    "cache",
		ThreadID:    1,
		Frames:      testFrames,
		NFrames:     len(testFrames),
		WaitTimeNs:  1000,
		SamplingPct: 50,
	}
	rel := &LockReleaseEvent{
		LockName:    "cache",
		ThreadID:    1,
		Frames:      testFrames,
		NFrames:     len(testFrames),
		LockedForNs: 3000,
		SamplingPct: 50,
	}
	p := export(t, Events{
		LockAcquire: []*LockAcquireEvent{acq},
		LockRelease: []*LockReleaseEvent{rel},
	})

	// sampling ratio is 50/100, so observed times double.
	require.Len(t, p.Sample, 1)
	s := p.Sample[0]
	require.Equal(t, int64(1), s.Value[typeIndex(t, p, "lock-acquire")])
	require.Equal(t, int64(2000), s.Value[typeIndex(t, p, "lock-acquire-wait")])
	require.Equal(t, int64(1), s.Value[typeIndex(t, p, "lock-release")])
	require.Equal(t, int64(6000), s.Value[typeIndex(t, p, "lock-release-hold")])
	require.Equal(t, []string{"cache"}, s.Label["lock name"])
}

func TestExportAllocSpace(t *testing.T) {
	ev := &AllocEvent{
		ThreadID:   1,
		Frames:     testFrames,
		NFrames:    len(testFrames),
		Size:       100,
		CapturePct: 50,
		NEvents:    10,
	}
	p := export(t, Events{Alloc: []*AllocEvent{ev}})

	s := p.Sample[0]
	require.Equal(t, int64(1), s.Value[typeIndex(t, p, "alloc-samples")])
	// 10 events at a 50% capture rate of mean size 100.
	require.Equal(t, int64(500), s.Value[typeIndex(t, p, "alloc-space")])
}

func TestExportHeapAccumulates(t *testing.T) {
	ev := func(size int64) *HeapEvent {
		return &HeapEvent{
			ThreadID: 1,
			Frames:   testFrames,
			NFrames:  len(testFrames),
			Size:     size,
		}
	}
	p := export(t, Events{Heap: []*HeapEvent{ev(64), ev(128)}})

	require.Len(t, p.Sample, 1)
	require.Equal(t, int64(192), p.Sample[0].Value[typeIndex(t, p, "heap-space")])
}

func TestExportEmpty(t *testing.T) {
	p := export(t, Events{})
	require.Empty(t, p.Sample)
	require.Zero(t, p.Period)
	require.Len(t, p.SampleType, 11)
}

func TestExportGzip(t *testing.T) {
	x := &Exporter{Gzip: true}
	payload, err := x.Export(Events{Stack: []*StackEvent{testStackEvent(5)}}, 100, 400, "prog")
	require.NoError(t, err)
	require.Equal(t, []byte{0x1f, 0x8b}, payload[:2])

	p, err := profile.ParseData(payload)
	require.NoError(t, err)
	require.Len(t, p.Sample, 1)
}
