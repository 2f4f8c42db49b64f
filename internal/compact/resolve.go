// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compact

import (
	"fmt"
	"sort"

	"golang.org/x/aotstackmap/arch"
	"golang.org/x/aotstackmap/internal/core"
	"golang.org/x/aotstackmap/internal/stackmap"
)

// A RootVisitor is called once for each stack slot holding a live
// object reference.
type RootVisitor func(slot core.Address)

// A DerivedVisitor is called for each derived pointer slot. base is the
// slot of the object the pointer was computed from and baseValue the
// object address stored there before any root was visited, so the
// collector can recompute derived after relocating the base object.
type DerivedVisitor func(base, derived core.Address, baseValue core.Address)

// SlotAddress returns the stack address named by s, given the frame and
// stack pointer of the frame that made the call.
// Stack maps only ever refer to SP or FP; anything else is corrupt.
func SlotAddress(a *arch.Architecture, s stackmap.RegOffset, fp, sp core.Address) core.Address {
	switch s.Reg {
	case a.SP:
		return sp.Add(int64(s.Offset))
	case a.FP:
		return fp.Add(int64(s.Offset))
	}
	panic(fmt.Sprintf("compact: stack slot %v is relative to neither sp (r%d) nor fp (r%d)", s, a.SP, a.FP))
}

// ResolveRootsForFrame reports the GC roots of the frame suspended at
// call site pc. fp and sp are that frame's frame pointer and its stack
// pointer at the call.
//
// For every base/derived pair the base slot is read; if it holds zero
// the derived slot stands in for it. If the resulting slot holds a
// non-zero value, rv is called for it, at most once per slot address,
// and if the pair is a genuine derived pointer dv is called too.
//
// It returns false if pc has no call-site entry. That is not an error:
// stub frames have no stack maps.
func (t *Table) ResolveRootsForFrame(pc uint32, fp, sp core.Address, mem *core.Memory, rv RootVisitor, dv DerivedVisitor) bool {
	i, ok := t.FindCallSite(pc)
	if !ok {
		return false
	}
	pairs := t.ReadGCPairs(t.CallSite(i))
	if len(pairs) == 0 {
		return true
	}
	a := mem.Arch()
	// Slot address -> object address seen before visiting.
	seen := make(map[core.Address]core.Address, len(pairs)/2)
	for j := 0; j+1 < len(pairs); j += 2 {
		base := SlotAddress(a, pairs[j], fp, sp)
		derived := SlotAddress(a, pairs[j+1], fp, sp)
		if mem.ReadPtr(base) == 0 {
			base = derived
		}
		v := mem.ReadPtr(base)
		if v == 0 {
			continue
		}
		old, visited := seen[base]
		if !visited {
			seen[base] = v
			old = v
			rv(base)
		}
		if base != derived && dv != nil {
			dv(base, derived, old)
		}
	}
	return true
}

// ResolveDeoptBundle returns the deopt values recorded for pc sorted by
// id. The result is empty if pc is unknown or carries no deopt state.
func (t *Table) ResolveDeoptBundle(pc uint32) []stackmap.DeoptValue {
	i, ok := t.FindCallSite(pc)
	if !ok {
		return nil
	}
	return t.ReadDeoptValues(t.CallSite(i))
}

// ResolveBytecodeOffset returns the bytecode offset recorded for the
// call at pc, used by profilers and backtraces.
func (t *Table) ResolveBytecodeOffset(pc uint32) (int32, bool) {
	vals := t.ResolveDeoptBundle(pc)
	if len(vals) == 0 {
		return 0, false
	}
	k := sort.Search(len(vals), func(k int) bool { return vals[k].ID >= stackmap.BCOffsetIndex })
	if k == len(vals) || vals[k].ID != stackmap.BCOffsetIndex {
		return 0, false
	}
	if vals[k].Kind != stackmap.Constant {
		panic(fmt.Sprintf("compact: bytecode offset at pc %#x is %v, want Constant", pc, vals[k].Kind))
	}
	return vals[k].Offset, true
}
