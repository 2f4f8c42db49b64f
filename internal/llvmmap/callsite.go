// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package llvmmap

import (
	"fmt"
	"math"

	"golang.org/x/aotstackmap/internal/stackmap"
)

// Location protocol of a statepoint record:
//
//	[0]            calling convention constant
//	[1]            flags constant
//	[2, m)         GC roots, base/derived Indirect pairs
//	[m]            Constant n, the deopt marker
//	(m, m+n]       n/2 deopt entries, each a Constant id followed by its value
const FirstGCElementIndex = 2

// Options controls call-site derivation.
type Options struct {
	// TextBase, if non-zero, is subtracted from every function address
	// so that pcs become offsets from the start of the code section.
	// Persisted metadata must be position independent because the code
	// section is reloaded at a different address.
	TextBase uint64

	// MinRecords skips functions that carry fewer call sites.
	// Zero keeps everything.
	MinRecords uint64
}

// CallSites derives the pc → GC root and pc → deopt bundle tables.
//
// Every record contributes a roots entry, even an empty one, so that the
// call site can be found later. Deopt entries are only present for records
// with a non-empty bundle.
func (sm *StackMap) CallSites(opts Options) (map[uint32][]stackmap.RegOffset, map[uint32][]stackmap.DeoptValue, error) {
	roots := make(map[uint32][]stackmap.RegOffset)
	deopts := make(map[uint32][]stackmap.DeoptValue)
	next := 0
	for fi, f := range sm.Functions {
		recs := sm.Records[next : next+int(f.RecordCount)]
		next += int(f.RecordCount)
		if f.RecordCount < opts.MinRecords {
			continue
		}
		if f.Address < opts.TextBase {
			return nil, nil, fmt.Errorf("%w: function %d at %#x lies below text base %#x", ErrMalformed, fi, f.Address, opts.TextBase)
		}
		fn := f.Address - opts.TextBase
		for ri, rec := range recs {
			pc64 := fn + uint64(rec.InstructionOffset)
			if pc64 > math.MaxUint32 {
				return nil, nil, fmt.Errorf("%w: call site %#x of function %d does not fit in 32 bits (missing text base?)", ErrMalformed, pc64, fi)
			}
			pc := uint32(pc64)
			r, d, err := sm.decodeRecord(rec)
			if err != nil {
				return nil, nil, fmt.Errorf("function %d record %d (patch point %d): %w", fi, ri, rec.PatchPointID, err)
			}
			roots[pc] = append(roots[pc], r...)
			if len(d) > 0 {
				deopts[pc] = append(deopts[pc], d...)
			}
		}
	}
	return roots, deopts, nil
}

func (sm *StackMap) decodeRecord(rec Record) ([]stackmap.RegOffset, []stackmap.DeoptValue, error) {
	locs := rec.Locations
	var roots []stackmap.RegOffset
	marker := -1
scan:
	for j := FirstGCElementIndex; j < len(locs); j++ {
		l := locs[j]
		switch l.Kind {
		case Constant:
			marker = j
			break scan
		case Indirect:
			roots = append(roots, stackmap.RegOffset{Reg: l.Reg, Offset: l.Offset})
		default:
			return nil, nil, fmt.Errorf("%w: GC root location %d is %v, want Indirect", ErrMalformed, j, l)
		}
	}
	if marker < 0 {
		return nil, nil, fmt.Errorf("%w: no deopt count marker among %d locations", ErrMalformed, len(locs))
	}
	if len(roots)%2 != 0 {
		return nil, nil, fmt.Errorf("%w: %d GC root locations do not form base/derived pairs", ErrMalformed, len(roots))
	}

	n := int(locs[marker].Offset)
	if n < 0 || n%2 != 0 {
		return nil, nil, fmt.Errorf("%w: deopt marker at %d has count %d", ErrMalformed, marker, n)
	}
	if marker+n != len(locs)-1 {
		return nil, nil, fmt.Errorf("%w: deopt marker at %d counts %d locations, record has %d after it", ErrMalformed, marker, n, len(locs)-1-marker)
	}
	var deopts []stackmap.DeoptValue
	for j := marker + 1; j <= marker+n; j += 2 {
		idLoc, l := locs[j], locs[j+1]
		if idLoc.Kind != Constant {
			return nil, nil, fmt.Errorf("%w: deopt id location %d is %v, want Constant", ErrMalformed, j, idLoc)
		}
		v := stackmap.DeoptValue{ID: idLoc.Offset}
		switch l.Kind {
		case Constant:
			v.Kind = stackmap.Constant
			v.Offset = l.Offset
		case Direct:
			v.Kind = stackmap.Direct
			v.Reg, v.Offset = l.Reg, l.Offset
		case Indirect:
			v.Kind = stackmap.Indirect
			v.Reg, v.Offset = l.Reg, l.Offset
		case ConstantIndex:
			if l.Offset < 0 || int(l.Offset) >= len(sm.Constants) {
				return nil, nil, fmt.Errorf("%w: constant index %d out of range [0,%d)", ErrMalformed, l.Offset, len(sm.Constants))
			}
			v.Kind = stackmap.ConstantIndex
			v.Literal = int64(sm.Constants[l.Offset])
		default:
			// Registers are clobbered by the call; the code generator
			// must spill deopt values.
			return nil, nil, fmt.Errorf("%w: deopt value location %d is %v", ErrMalformed, j+1, l)
		}
		deopts = append(deopts, v)
	}
	return roots, deopts, nil
}
