// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package testenv builds inputs for tests: raw code-generator stack maps
// in the statepoint location protocol, and fake thread stacks.
package testenv

import (
	"golang.org/x/aotstackmap/arch"
	"golang.org/x/aotstackmap/internal/core"
	"golang.org/x/aotstackmap/internal/llvmmap"
	"golang.org/x/aotstackmap/internal/stackmap"
)

// A Builder accumulates functions and call-site records.
type Builder struct {
	sm    llvmmap.StackMap
	funcs [][]llvmmap.Record
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{sm: llvmmap.StackMap{Version: llvmmap.Version}}
}

// Func adds a function at host address addr and returns its index.
func (b *Builder) Func(addr, stackSize uint64) int {
	b.sm.Functions = append(b.sm.Functions, llvmmap.Function{Address: addr, StackSize: stackSize})
	b.funcs = append(b.funcs, nil)
	return len(b.funcs) - 1
}

// CallSite records a call at instOff bytes into function fn.
// roots are base/derived pairs; ConstantIndex deopts get a constant
// table entry.
func (b *Builder) CallSite(fn int, instOff uint32, roots []stackmap.RegOffset, deopts []stackmap.DeoptValue) {
	locs := []llvmmap.Location{
		{Kind: llvmmap.Constant, Size: 8}, // calling convention
		{Kind: llvmmap.Constant, Size: 8}, // flags
	}
	for _, r := range roots {
		locs = append(locs, llvmmap.Location{Kind: llvmmap.Indirect, Size: 8, Reg: r.Reg, Offset: r.Offset})
	}
	locs = append(locs, llvmmap.Location{Kind: llvmmap.Constant, Size: 8, Offset: int32(2 * len(deopts))})
	for _, d := range deopts {
		locs = append(locs, llvmmap.Location{Kind: llvmmap.Constant, Size: 4, Offset: d.ID})
		locs = append(locs, b.location(d))
	}
	b.Record(fn, llvmmap.Record{
		PatchPointID:      uint64(len(b.sm.Records)),
		InstructionOffset: instOff,
		Locations:         locs,
	})
}

func (b *Builder) location(d stackmap.DeoptValue) llvmmap.Location {
	switch d.Kind {
	case stackmap.Constant:
		return llvmmap.Location{Kind: llvmmap.Constant, Size: 4, Offset: d.Offset}
	case stackmap.Direct:
		return llvmmap.Location{Kind: llvmmap.Direct, Size: 8, Reg: d.Reg, Offset: d.Offset}
	case stackmap.Indirect:
		return llvmmap.Location{Kind: llvmmap.Indirect, Size: 8, Reg: d.Reg, Offset: d.Offset}
	case stackmap.ConstantIndex:
		b.sm.Constants = append(b.sm.Constants, uint64(d.Literal))
		return llvmmap.Location{Kind: llvmmap.ConstantIndex, Size: 8, Offset: int32(len(b.sm.Constants) - 1)}
	}
	panic("testenv: bad deopt kind " + d.Kind.String())
}

// Record adds a hand-built record to function fn.
func (b *Builder) Record(fn int, rec llvmmap.Record) {
	b.funcs[fn] = append(b.funcs[fn], rec)
}

// StackMap returns the accumulated stack map.
func (b *Builder) StackMap() *llvmmap.StackMap {
	sm := b.sm
	sm.Functions = append([]llvmmap.Function(nil), b.sm.Functions...)
	sm.Records = nil
	for i, recs := range b.funcs {
		sm.Functions[i].RecordCount = uint64(len(recs))
		sm.Records = append(sm.Records, recs...)
	}
	return &sm
}

// Bytes returns the accumulated stack map in its section encoding.
func (b *Builder) Bytes() []byte {
	return llvmmap.Marshal(b.StackMap())
}

// A Stack is a fake thread stack mapped into a Memory.
type Stack struct {
	Mem  *core.Memory
	Lo   core.Address
	Hi   core.Address
	Data []byte
}

// NewStack maps pages pages of zeroed, writeable stack at lo.
// lo must be page aligned.
func NewStack(a *arch.Architecture, lo core.Address, pages int) *Stack {
	data := make([]byte, pages*core.PageSize)
	mem := core.NewMemory(a)
	if err := mem.Map(core.NewMapping("stack", lo, data, core.Read|core.Write)); err != nil {
		panic(err)
	}
	return &Stack{Mem: mem, Lo: lo, Hi: lo.Add(int64(len(data))), Data: data}
}

// Put stores the pointer-sized value v at a.
func (s *Stack) Put(a, v core.Address) {
	s.Mem.WritePtr(a, v)
}

// Get loads the pointer-sized value at a.
func (s *Stack) Get(a core.Address) core.Address {
	return s.Mem.ReadPtr(a)
}
