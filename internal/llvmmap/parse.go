// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llvmmap

import (
	"errors"
	"fmt"

	"golang.org/x/aotstackmap/internal/buf"
)

var (
	ErrBadVersion = errors.New("unsupported stack map version")
	ErrTruncated  = errors.New("truncated stack map")
	ErrMalformed  = errors.New("malformed stack map")
)

const (
	headerSize   = 16
	functionSize = 24
	locationSize = 12
)

// Parse decodes a stack-map section.
func Parse(b []byte) (*StackMap, error) {
	r := buf.NewReader("stackmap", b)
	sm := &StackMap{Version: r.Uint8()}
	r.Skip(3)
	if r.Err() == nil && sm.Version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, sm.Version, Version)
	}
	numFunctions := r.Uint32()
	numConstants := r.Uint32()
	numRecords := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	// Reject counts that cannot possibly fit before allocating for them.
	if need := uint64(numFunctions)*functionSize + uint64(numConstants)*8 + uint64(numRecords)*16; need > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: header claims %d functions, %d constants, %d records in %d bytes",
			ErrTruncated, numFunctions, numConstants, numRecords, len(b))
	}

	sm.Functions = make([]Function, numFunctions)
	var total uint64
	for i := range sm.Functions {
		f := &sm.Functions[i]
		f.Address = r.Uint64()
		f.StackSize = r.Uint64()
		f.RecordCount = r.Uint64()
		if f.RecordCount > uint64(numRecords)-total {
			return nil, fmt.Errorf("%w: function %d owns %d records, only %d left",
				ErrMalformed, i, f.RecordCount, uint64(numRecords)-total)
		}
		total += f.RecordCount
	}
	sm.Constants = make([]uint64, numConstants)
	for i := range sm.Constants {
		sm.Constants[i] = r.Uint64()
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if total != uint64(numRecords) {
		return nil, fmt.Errorf("%w: functions own %d records, header says %d", ErrMalformed, total, numRecords)
	}

	sm.Records = make([]Record, numRecords)
	for i := range sm.Records {
		if err := parseRecord(r, &sm.Records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return sm, nil
}

func parseRecord(r *buf.Reader, rec *Record) error {
	rec.PatchPointID = r.Uint64()
	rec.InstructionOffset = r.Uint32()
	r.Skip(2)
	n := int(r.Uint16())
	if r.Err() == nil && n*locationSize > r.Len() {
		return fmt.Errorf("%w: %d locations at offset %d", ErrTruncated, n, r.Offset())
	}
	rec.Locations = make([]Location, n)
	for j := range rec.Locations {
		l := &rec.Locations[j]
		l.Kind = LocationKind(r.Uint8())
		r.Skip(1)
		l.Size = r.Uint16()
		l.Reg = r.Uint16()
		r.Skip(2)
		l.Offset = r.Int32()
		if r.Err() == nil && (l.Kind < Register || l.Kind > ConstantIndex) {
			return fmt.Errorf("%w: location %d has kind %d", ErrMalformed, j, l.Kind)
		}
	}
	r.Align(8)
	r.Skip(2)
	nLive := int(r.Uint16())
	if nLive > 0 {
		rec.LiveOuts = make([]LiveOut, nLive)
	}
	for j := range rec.LiveOuts {
		rec.LiveOuts[j].Reg = r.Uint16()
		r.Skip(1)
		rec.LiveOuts[j].Size = r.Uint8()
	}
	r.Align(8)
	if err := r.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return nil
}

// MustParse is like Parse but panics if the section cannot be decoded.
// It is meant for the compile pipeline, which cannot continue with a
// partially understood stack map.
func MustParse(b []byte) *StackMap {
	sm, err := Parse(b)
	if err != nil {
		panic(fmt.Sprintf("llvmmap: %v", err))
	}
	return sm
}

// Marshal encodes sm in the section layout accepted by Parse.
func Marshal(sm *StackMap) []byte {
	size := headerSize + len(sm.Functions)*functionSize + len(sm.Constants)*8
	for _, rec := range sm.Records {
		size += recordSize(rec)
	}
	w := buf.NewWriter(make([]byte, size))
	w.Uint8(sm.Version)
	w.Uint8(0)
	w.Uint16(0)
	w.Uint32(uint32(len(sm.Functions)))
	w.Uint32(uint32(len(sm.Constants)))
	w.Uint32(uint32(len(sm.Records)))
	for _, f := range sm.Functions {
		w.Uint64(f.Address)
		w.Uint64(f.StackSize)
		w.Uint64(f.RecordCount)
	}
	for _, c := range sm.Constants {
		w.Uint64(c)
	}
	for _, rec := range sm.Records {
		w.Uint64(rec.PatchPointID)
		w.Uint32(rec.InstructionOffset)
		w.Uint16(0)
		w.Uint16(uint16(len(rec.Locations)))
		for _, l := range rec.Locations {
			w.Uint8(uint8(l.Kind))
			w.Uint8(0)
			w.Uint16(l.Size)
			w.Uint16(l.Reg)
			w.Uint16(0)
			w.Int32(l.Offset)
		}
		w.Pad(8)
		w.Uint16(0)
		w.Uint16(uint16(len(rec.LiveOuts)))
		for _, lo := range rec.LiveOuts {
			w.Uint16(lo.Reg)
			w.Uint8(0)
			w.Uint8(lo.Size)
		}
		w.Pad(8)
	}
	if w.Offset() != size {
		panic(fmt.Sprintf("llvmmap: wrote %d bytes, expected %d", w.Offset(), size))
	}
	return w.Bytes()
}

func recordSize(rec Record) int {
	n := 16 + len(rec.Locations)*locationSize
	n = (n + 7) &^ 7
	n += 4 + len(rec.LiveOuts)*4
	return (n + 7) &^ 7
}
