// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"fmt"

	"golang.org/x/aotstackmap/internal/compact"
	"golang.org/x/aotstackmap/internal/core"
	"golang.org/x/aotstackmap/internal/stackmap"
)

// IterateRoots walks the stack starting at top and reports the GC roots
// of every frame that has a stack map. It returns the number of frames
// whose call site was found. Frames of a stack-map kind whose pc is
// outside every module, or has no entry, contribute nothing.
func (w *Walker) IterateRoots(top core.Address, rv compact.RootVisitor, dv compact.DerivedVisitor) (int, error) {
	found := 0
	err := w.Walk(top, func(f *Frame) bool {
		m, key, ok := w.module(f)
		if !ok {
			return true
		}
		if m.Table.ResolveRootsForFrame(key, f.FP, f.SP, w.mem, rv, dv) {
			found++
		}
		return true
	})
	return found, err
}

// A DeoptSlot is one resolved entry of a frame's deopt state.
type DeoptSlot struct {
	ID    int32
	Kind  stackmap.DeoptKind
	Value uint64
}

func (s DeoptSlot) String() string {
	return fmt.Sprintf("%s=%#x", stackmap.VregName(s.ID), s.Value)
}

// DeoptState returns the values the interpreter needs to resume the
// function of f, read from the frame as it is now. Constants come from
// the table; Direct values are the stack address itself; Indirect
// values are read from the stack slot. It reports false if f has no
// deopt bundle.
func (w *Walker) DeoptState(f *Frame) ([]DeoptSlot, bool) {
	m, key, ok := w.module(f)
	if !ok {
		return nil, false
	}
	vals := m.Table.ResolveDeoptBundle(key)
	if len(vals) == 0 {
		return nil, false
	}
	a := w.mem.Arch()
	slots := make([]DeoptSlot, len(vals))
	for i, v := range vals {
		s := DeoptSlot{ID: v.ID, Kind: v.Kind}
		switch v.Kind {
		case stackmap.Constant:
			s.Value = uint64(int64(v.Offset))
		case stackmap.ConstantIndex:
			s.Value = uint64(v.Literal)
		case stackmap.Direct:
			s.Value = uint64(compact.SlotAddress(a, stackmap.RegOffset{Reg: v.Reg, Offset: v.Offset}, f.FP, f.SP))
		case stackmap.Indirect:
			addr := compact.SlotAddress(a, stackmap.RegOffset{Reg: v.Reg, Offset: v.Offset}, f.FP, f.SP)
			s.Value = uint64(w.mem.ReadPtr(addr))
		}
		slots[i] = s
	}
	return slots, true
}

// A BacktraceEntry describes one frame of a backtrace.
type BacktraceEntry struct {
	Kind   Kind
	PC     core.Address
	Module uint32
	// Offset is the pc relative to the module's code, valid when
	// HasModule is set.
	Offset    uint32
	HasModule bool
	// BytecodeOffset is the bytecode position of the suspended call,
	// valid when HasBytecode is set.
	BytecodeOffset int32
	HasBytecode    bool
}

func (e BacktraceEntry) String() string {
	s := fmt.Sprintf("%-20s pc=%#x", e.Kind, e.PC)
	if e.HasModule {
		s += fmt.Sprintf(" module=%d+%#x", e.Module, e.Offset)
	}
	if e.HasBytecode {
		s += fmt.Sprintf(" bc=%d", e.BytecodeOffset)
	}
	return s
}

// Backtrace returns one entry per frame reachable from top, with the
// bytecode offset of every AOT frame that recorded one.
func (w *Walker) Backtrace(top core.Address) ([]BacktraceEntry, error) {
	var bt []BacktraceEntry
	err := w.Walk(top, func(f *Frame) bool {
		e := BacktraceEntry{Kind: f.Kind, PC: f.PC}
		if m, key, ok := w.module(f); ok {
			e.Module, e.Offset, e.HasModule = m.Index, key, true
			e.BytecodeOffset, e.HasBytecode = m.Table.ResolveBytecodeOffset(key)
		}
		bt = append(bt, e)
		return true
	})
	return bt, err
}
