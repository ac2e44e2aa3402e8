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
	"sort"

	"github.com/pkg/errors"
	"github.com/richardartoul/molecule"
	"github.com/richardartoul/molecule/src/protowire"
)

// Field numbers of the pprof Profile message and its submessages.
const (
	profSampleType   = 1
	profSample       = 2
	profMapping      = 3
	profLocation     = 4
	profFunction     = 5
	profStringTable  = 6
	profTimeNanos    = 9
	profDurationNano = 10
	profPeriodType   = 11
	profPeriod       = 12
)

func lessSample(a, b *sample) bool {
	for i := 0; i < len(a.locs) && i < len(b.locs); i++ {
		if a.locs[i] != b.locs[i] {
			return a.locs[i] < b.locs[i]
		}
	}
	if len(a.locs) != len(b.locs) {
		return len(a.locs) < len(b.locs)
	}
	for i := 0; i < len(a.labels) && i < len(b.labels); i++ {
		if a.labels[i].key != b.labels[i].key {
			return a.labels[i].key < b.labels[i].key
		}
		if a.labels[i].value != b.labels[i].value {
			return a.labels[i].value < b.labels[i].value
		}
	}
	return len(a.labels) < len(b.labels)
}

// Build materialises the accumulated samples as an uncompressed pprof
// payload. Samples are emitted in location-tuple order, locations and
// functions in id order and strings in insertion order. The converter
// must not be fed further events afterwards.
func (c *Converter) Build(startTimeNs, durationNs, period int64, sampleTypes []ValueType, programName string) ([]byte, error) {
	if c.emitted {
		return nil, ErrProfileEmitted
	}
	c.emitted = true

	// Intern everything the emission needs before the string table is
	// iterated.
	type valueType struct {
		typ  uint32
		unit uint32
	}
	types := make([]valueType, len(sampleTypes))
	for i, st := range sampleTypes {
		types[i] = valueType{typ: c.str(st.Type), unit: c.str(st.Unit)}
	}
	periodType := valueType{typ: c.str("time"), unit: c.str("nanoseconds")}
	mappingFile := c.str(programName)

	samples := make([]*sample, len(c.sampList))
	copy(samples, c.sampList)
	sort.Slice(samples, func(i, j int) bool { return lessSample(samples[i], samples[j]) })

	var buf bytes.Buffer
	ps := molecule.NewProtoStream(&buf)

	for _, t := range types {
		t := t
		err := ps.Embedded(profSampleType, func(ps *molecule.ProtoStream) error {
			if err := ps.Int64(1, int64(t.typ)); err != nil {
				return err
			}
			return ps.Int64(2, int64(t.unit))
		})
		if err != nil {
			return nil, errors.Wrap(err, "write sample type")
		}
	}

	values := make([]int64, len(sampleTypes))
	for _, s := range samples {
		s := s
		for i, st := range sampleTypes {
			values[i] = s.values[st.Type]
		}
		err := ps.Embedded(profSample, func(ps *molecule.ProtoStream) error {
			if err := ps.Uint64Packed(1, s.locs); err != nil {
				return err
			}
			if err := ps.Int64Packed(2, values); err != nil {
				return err
			}
			for _, l := range s.labels {
				l := l
				err := ps.Embedded(3, func(ps *molecule.ProtoStream) error {
					if err := ps.Int64(1, int64(l.key)); err != nil {
						return err
					}
					return ps.Int64(2, int64(l.value))
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "write sample")
		}
	}

	err := ps.Embedded(profMapping, func(ps *molecule.ProtoStream) error {
		if err := ps.Uint64(1, 1); err != nil {
			return err
		}
		return ps.Int64(5, int64(mappingFile))
	})
	if err != nil {
		return nil, errors.Wrap(err, "write mapping")
	}

	for _, l := range c.locList {
		l := l
		err := ps.Embedded(profLocation, func(ps *molecule.ProtoStream) error {
			if err := ps.Uint64(1, l.id); err != nil {
				return err
			}
			return ps.Embedded(4, func(ps *molecule.ProtoStream) error {
				if err := ps.Uint64(1, l.funcID); err != nil {
					return err
				}
				return ps.Int64(2, l.line)
			})
		})
		if err != nil {
			return nil, errors.Wrap(err, "write location")
		}
	}

	for _, f := range c.funcList {
		f := f
		err := ps.Embedded(profFunction, func(ps *molecule.ProtoStream) error {
			if err := ps.Uint64(1, f.id); err != nil {
				return err
			}
			if err := ps.Int64(2, int64(f.name)); err != nil {
				return err
			}
			return ps.Int64(4, int64(f.filename))
		})
		if err != nil {
			return nil, errors.Wrap(err, "write function")
		}
	}

	if err := ps.Int64(profTimeNanos, startTimeNs); err != nil {
		return nil, errors.Wrap(err, "write time")
	}
	if err := ps.Int64(profDurationNano, durationNs); err != nil {
		return nil, errors.Wrap(err, "write duration")
	}
	err = ps.Embedded(profPeriodType, func(ps *molecule.ProtoStream) error {
		if err := ps.Int64(1, int64(periodType.typ)); err != nil {
			return err
		}
		return ps.Int64(2, int64(periodType.unit))
	})
	if err != nil {
		return nil, errors.Wrap(err, "write period type")
	}
	if err := ps.Int64(profPeriod, period); err != nil {
		return nil, errors.Wrap(err, "write period")
	}

	// The string table goes last, written by hand: entry 0 is the empty
	// string and the stream writer skips zero-length fields.
	out := buf.Bytes()
	for _, s := range c.strings.strings() {
		out = protowire.AppendVarint(out, uint64(profStringTable)<<3|2)
		out = protowire.AppendVarint(out, uint64(len(s)))
		out = append(out, s...)
	}
	return out, nil
}
