// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package frame walks the native frames of a suspended thread and
// connects each AOT frame with its stack map: during a GC pause to
// report the frame's roots, during deoptimization to read the values
// needed to rebuild an interpreter frame, and for backtraces.
//
// Every frame is linked to its caller through a frame record: the
// caller's frame pointer and the return address into the caller,
// located by the frame's Kind. The walk starts at the frame pointer of
// the innermost frame (usually a Leave frame into the runtime) and ends
// at a zero frame pointer.
package frame

import (
	"fmt"

	"golang.org/x/aotstackmap/internal/core"
	"golang.org/x/aotstackmap/internal/store"
)

// DefaultMaxFrames bounds a walk over a corrupt or cyclic chain.
const DefaultMaxFrames = 1 << 16

// A Frame is one native frame of a suspended thread.
type Frame struct {
	Kind Kind
	FP   core.Address // frame pointer
	// SP is the frame's stack pointer at the suspended call and PC the
	// return address of that call. Both are zero for the innermost frame,
	// which is not suspended at a call.
	SP core.Address
	PC core.Address

	parent *Frame
}

// LookupPC returns the pc used as the stack-map key: the return address.
func (f *Frame) LookupPC() core.Address {
	return f.PC
}

// FuncPC returns an address inside the call instruction itself. The
// return address can point just past the end of the caller's code when
// the call is its last instruction, so code ownership is decided with
// FuncPC.
func (f *Frame) FuncPC() core.Address {
	if f.PC == 0 {
		return 0
	}
	return f.PC - 1
}

// Parent returns the caller's frame, if it was walked.
func (f *Frame) Parent() *Frame {
	return f.parent
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s fp=%#x sp=%#x pc=%#x", f.Kind, f.FP, f.SP, f.PC)
}

// A Walker walks thread stacks in mem using the stack maps in st.
type Walker struct {
	mem   *core.Memory
	store *store.Store

	// MaxFrames bounds the number of frames in one walk.
	MaxFrames int
}

// NewWalker returns a Walker over mem.
func NewWalker(mem *core.Memory, st *store.Store) *Walker {
	return &Walker{mem: mem, store: st, MaxFrames: DefaultMaxFrames}
}

// Walk calls fn for each frame starting at the innermost frame, whose
// frame pointer is top, and moving outwards. It stops early if fn
// returns false. A broken chain is reported as an error after fn has
// seen every frame that could be read.
func (w *Walker) Walk(top core.Address, fn func(*Frame) bool) (err error) {
	defer func() {
		// Unmapped stack reads panic with an error; turn them into an
		// error for this walk rather than taking the process down.
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("stack walk: %w", e)
		}
	}()
	ptr := w.mem.PtrSize()
	var prev *Frame
	f := &Frame{FP: top}
	for n := 0; f.FP != 0; n++ {
		if n == w.MaxFrames {
			return fmt.Errorf("stack walk: more than %d frames", w.MaxFrames)
		}
		f.Kind = Kind(w.mem.ReadPtr(f.FP.Add(kindSlot * ptr)))
		l, ok := layouts[f.Kind]
		if !ok {
			return fmt.Errorf("stack walk: frame at %#x has unknown kind %d", f.FP, uint64(f.Kind))
		}
		if prev != nil {
			prev.parent = f
		}
		if !fn(f) {
			return nil
		}
		next := &Frame{
			FP: w.mem.ReadPtr(f.FP.Add(l.prevFP * ptr)),
			PC: w.mem.ReadPtr(f.FP.Add(l.retAddr * ptr)),
			SP: f.FP.Add(l.callerSP * ptr),
		}
		if next.FP != 0 && next.FP <= f.FP {
			return fmt.Errorf("stack walk: caller frame pointer %#x not above %#x", next.FP, f.FP)
		}
		prev, f = f, next
	}
	return nil
}

// Frames returns all frames reachable from top, innermost first.
func (w *Walker) Frames(top core.Address) ([]*Frame, error) {
	var frames []*Frame
	err := w.Walk(top, func(f *Frame) bool {
		frames = append(frames, f)
		return true
	})
	return frames, err
}

// module returns the module holding the code of the call f is
// suspended at, and the table key of that call.
func (w *Walker) module(f *Frame) (*store.Module, uint32, bool) {
	if f.PC == 0 || !f.Kind.HasStackMap() {
		return nil, 0, false
	}
	m, ok := w.store.FindModule(f.FuncPC())
	if !ok {
		return nil, 0, false
	}
	return m, uint32(f.PC.Sub(m.TextBase)), true
}
