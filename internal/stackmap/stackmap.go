// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stackmap holds the data model shared by the raw stack-map
// parser, the compact encoder and the runtime decoder: GC slot
// descriptors, deopt values and the sorted call-site table.
package stackmap

import (
	"fmt"
	"sort"
)

// A RegOffset names a stack slot as a DWARF register plus a byte offset.
// Only the stack and frame pointer registers appear in practice.
type RegOffset struct {
	Reg    uint16
	Offset int32
}

func (r RegOffset) String() string {
	return fmt.Sprintf("r%d%+d", r.Reg, r.Offset)
}

// Special deopt ids. They are coordinated with the bytecode layer and
// never collide with ordinary virtual registers, which are >= 0.
const (
	BCOffsetIndex   int32 = -1 // bytecode offset of the suspended call
	AccIndex        int32 = -2 // accumulator
	EnvIndex        int32 = -3 // lexical environment
	FuncIndex       int32 = -4 // callee function object
	NewTargetIndex  int32 = -5
	ThisObjectIndex int32 = -6
	ActualArgcIndex int32 = -7
)

// VregName returns a printable name for deopt id id.
func VregName(id int32) string {
	switch id {
	case BCOffsetIndex:
		return "bcoffset"
	case AccIndex:
		return "acc"
	case EnvIndex:
		return "env"
	case FuncIndex:
		return "func"
	case NewTargetIndex:
		return "newtarget"
	case ThisObjectIndex:
		return "this"
	case ActualArgcIndex:
		return "argc"
	}
	return fmt.Sprintf("v%d", id)
}

// A DeoptKind says where a deopt value lives. The numeric values are
// the wire tags of the compact format.
type DeoptKind uint8

const (
	Constant      DeoptKind = 1 // small constant held in Offset
	Direct        DeoptKind = 2 // the value is the address Reg+Offset
	Indirect      DeoptKind = 3 // the value is stored at Reg+Offset
	ConstantIndex DeoptKind = 5 // 64-bit literal held in Literal
)

func (k DeoptKind) String() string {
	switch k {
	case Constant:
		return "Constant"
	case Direct:
		return "Direct"
	case Indirect:
		return "Indirect"
	case ConstantIndex:
		return "ConstantIndex"
	}
	return fmt.Sprintf("DeoptKind(%d)", uint8(k))
}

// PayloadSize returns the number of payload bytes that follow the kind
// tag in the compact deopt stream, or -1 for an unknown kind.
func (k DeoptKind) PayloadSize() int {
	switch k {
	case Constant:
		return 4
	case Direct, Indirect:
		return 2 + 4
	case ConstantIndex:
		return 8
	}
	return -1
}

// A DeoptValue is one piece of interpreter state needed to rebuild an
// interpreter frame. Which fields are meaningful depends on Kind.
type DeoptValue struct {
	ID      int32
	Kind    DeoptKind
	Reg     uint16 // Direct, Indirect
	Offset  int32  // Constant, Direct, Indirect
	Literal int64  // ConstantIndex
}

func (v DeoptValue) String() string {
	switch v.Kind {
	case Constant:
		return fmt.Sprintf("%s=const(%d)", VregName(v.ID), v.Offset)
	case Direct:
		return fmt.Sprintf("%s=addr(r%d%+d)", VregName(v.ID), v.Reg, v.Offset)
	case Indirect:
		return fmt.Sprintf("%s=[r%d%+d]", VregName(v.ID), v.Reg, v.Offset)
	case ConstantIndex:
		return fmt.Sprintf("%s=lit(%#x)", VregName(v.ID), v.Literal)
	}
	return fmt.Sprintf("%s=%s", VregName(v.ID), v.Kind)
}

// SortDeopts sorts vs by ascending id. The sort is stable so that
// duplicate ids keep their recorded order.
func SortDeopts(vs []DeoptValue) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].ID < vs[j].ID })
}

// A CallSite is the metadata recorded for one call instruction.
// Roots holds base/derived pairs: Roots[2i] is a base slot and
// Roots[2i+1] the pointer derived from it.
type CallSite struct {
	PC     uint32
	Roots  []RegOffset
	Deopts []DeoptValue
}

// BuildCallSiteTable merges the per-pc root and deopt maps into one
// table with exactly one entry per pc, sorted by ascending pc.
// Deopt values of each entry are sorted by id.
func BuildCallSiteTable(roots map[uint32][]RegOffset, deopts map[uint32][]DeoptValue) []CallSite {
	idx := make(map[uint32]int, len(roots))
	var table []CallSite
	entry := func(pc uint32) *CallSite {
		i, ok := idx[pc]
		if !ok {
			i = len(table)
			idx[pc] = i
			table = append(table, CallSite{PC: pc})
		}
		return &table[i]
	}
	for pc, r := range roots {
		cs := entry(pc)
		cs.Roots = append([]RegOffset(nil), r...)
	}
	for pc, d := range deopts {
		cs := entry(pc)
		cs.Deopts = append([]DeoptValue(nil), d...)
		SortDeopts(cs.Deopts)
	}
	sort.Slice(table, func(i, j int) bool { return table[i].PC < table[j].PC })
	return table
}
