// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package frame

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"golang.org/x/aotstackmap/arch"
	"golang.org/x/aotstackmap/internal/compact"
	"golang.org/x/aotstackmap/internal/core"
	"golang.org/x/aotstackmap/internal/stackmap"
	"golang.org/x/aotstackmap/internal/store"
	"golang.org/x/aotstackmap/internal/testenv"
)

const (
	textBase = core.Address(0x400000)
	codeSize = 0x1000
	stackLo  = core.Address(0x70000000)

	obj1 = core.Address(0xc000001000)
	obj2 = core.Address(0xc000002000)
	obj3 = core.Address(0xc000003000)
)

var (
	sp = arch.AMD64.SP
	fp = arch.AMD64.FP
)

// A testStack is a five-frame thread stack:
//
//	A Leave                 fp 0x70000100  innermost, into the runtime
//	B OptimizedJSFunction   fp 0x70000200  suspended at +0x40
//	C Optimized             fp 0x70000300  suspended at +0x80
//	D OptimizedJSFunction   fp 0x70000400  suspended at +0x1000, the end of the code
//	E OptimizedEntry        fp 0x70000500  called from the runtime
type testStack struct {
	*testenv.Stack
	fps []core.Address
	w   *Walker
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	table := []stackmap.CallSite{
		{
			PC:    0x40,
			Roots: []stackmap.RegOffset{{Reg: sp, Offset: 8}, {Reg: sp, Offset: 8}},
			Deopts: []stackmap.DeoptValue{
				{ID: 2, Kind: stackmap.ConstantIndex, Literal: 0x1234},
				{ID: stackmap.BCOffsetIndex, Kind: stackmap.Constant, Offset: 12},
				{ID: 0, Kind: stackmap.Indirect, Reg: fp, Offset: -16},
				{ID: 1, Kind: stackmap.Direct, Reg: sp, Offset: 16},
			},
		},
		{PC: 0x80, Roots: []stackmap.RegOffset{{Reg: fp, Offset: -16}, {Reg: fp, Offset: -16}}},
		{PC: 0x1000, Roots: []stackmap.RegOffset{{Reg: sp, Offset: 0}, {Reg: sp, Offset: 8}}},
	}
	st := store.New(zerolog.Nop())
	require.NoError(t, st.Add(0, textBase, codeSize, compact.Encode(table)))

	s := &testStack{Stack: testenv.NewStack(&arch.AMD64, stackLo, 1)}
	kinds := []Kind{Leave, OptimizedJSFunction, Optimized, OptimizedJSFunction, OptimizedEntry}
	rets := []core.Address{textBase + 0x40, textBase + 0x80, textBase + codeSize, 0x12345, 0}
	for i := range kinds {
		s.fps = append(s.fps, stackLo+core.Address(0x100*(i+1)))
	}
	for i, f := range s.fps {
		s.Put(f-8, core.Address(kinds[i]))
		var prev core.Address
		if i+1 < len(s.fps) {
			prev = s.fps[i+1]
		}
		s.Put(f, prev)
		s.Put(f+8, rets[i])
	}

	// B's root at its sp+8, i.e. A's fp+24, and its deopt slots.
	s.Put(s.fps[0]+24, obj1)
	s.Put(s.fps[1]-16, 0xabc)
	// C's root at its fp-16.
	s.Put(s.fps[2]-16, obj2)
	// D's base/derived pair at its sp, i.e. C's fp+16.
	s.Put(s.fps[2]+16, obj3)
	s.Put(s.fps[2]+24, obj3+0x10)

	s.w = NewWalker(s.Mem, st)
	return s
}

func TestFrames(t *testing.T) {
	s := newTestStack(t)
	frames, err := s.w.Frames(s.fps[0])
	require.NoError(t, err)
	require.Len(t, frames, 5)

	want := []struct {
		kind Kind
		sp   core.Address
		pc   core.Address
	}{
		{Leave, 0, 0},
		{OptimizedJSFunction, s.fps[0] + 16, textBase + 0x40},
		{Optimized, s.fps[1] + 16, textBase + 0x80},
		{OptimizedJSFunction, s.fps[2] + 16, textBase + codeSize},
		{OptimizedEntry, s.fps[3] + 16, 0x12345},
	}
	for i, f := range frames {
		if f.Kind != want[i].kind || f.FP != s.fps[i] || f.SP != want[i].sp || f.PC != want[i].pc {
			t.Errorf("frame %d = %v, want %v fp=%#x sp=%#x pc=%#x", i, f, want[i].kind, s.fps[i], want[i].sp, want[i].pc)
		}
		if i+1 < len(frames) && f.Parent() != frames[i+1] {
			t.Errorf("frame %d parent = %v, want %v", i, f.Parent(), frames[i+1])
		}
	}
	require.Nil(t, frames[4].Parent())
	require.Equal(t, textBase+0x3f, frames[1].FuncPC())
	require.Equal(t, textBase+0x40, frames[1].LookupPC())
	require.Zero(t, frames[0].FuncPC())
}

func TestWalkStopsEarly(t *testing.T) {
	s := newTestStack(t)
	n := 0
	err := s.w.Walk(s.fps[0], func(f *Frame) bool {
		n++
		return f.Kind != Optimized
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestIterateRoots(t *testing.T) {
	s := newTestStack(t)
	type derivedCall struct{ base, derived, value core.Address }
	var roots []core.Address
	var derived []derivedCall
	found, err := s.w.IterateRoots(s.fps[0],
		func(slot core.Address) { roots = append(roots, slot) },
		func(base, d, v core.Address) { derived = append(derived, derivedCall{base, d, v}) })
	require.NoError(t, err)
	require.Equal(t, 3, found)
	require.Equal(t, []core.Address{s.fps[0] + 24, s.fps[2] - 16, s.fps[2] + 16}, roots)
	require.Equal(t, []derivedCall{{s.fps[2] + 16, s.fps[2] + 24, obj3}}, derived)
	for _, r := range roots {
		require.NotZero(t, s.Get(r))
	}
}

func TestDeoptState(t *testing.T) {
	s := newTestStack(t)
	frames, err := s.w.Frames(s.fps[0])
	require.NoError(t, err)

	slots, ok := s.w.DeoptState(frames[1])
	require.True(t, ok)
	require.Equal(t, []DeoptSlot{
		{ID: stackmap.BCOffsetIndex, Kind: stackmap.Constant, Value: 12},
		{ID: 0, Kind: stackmap.Indirect, Value: 0xabc},
		{ID: 1, Kind: stackmap.Direct, Value: uint64(frames[1].SP + 16)},
		{ID: 2, Kind: stackmap.ConstantIndex, Value: 0x1234},
	}, slots)

	for _, i := range []int{0, 2, 4} {
		_, ok := s.w.DeoptState(frames[i])
		require.False(t, ok, "frame %d (%v)", i, frames[i].Kind)
	}
}

func TestBacktrace(t *testing.T) {
	s := newTestStack(t)
	bt, err := s.w.Backtrace(s.fps[0])
	require.NoError(t, err)
	require.Len(t, bt, 5)

	require.False(t, bt[0].HasModule)
	require.True(t, bt[1].HasModule)
	require.Equal(t, uint32(0x40), bt[1].Offset)
	require.True(t, bt[1].HasBytecode)
	require.Equal(t, int32(12), bt[1].BytecodeOffset)
	require.True(t, bt[2].HasModule)
	require.False(t, bt[2].HasBytecode)
	// A return address at the very end of the code still belongs to it.
	require.True(t, bt[3].HasModule)
	require.Equal(t, uint32(codeSize), bt[3].Offset)
	require.False(t, bt[4].HasModule)
	require.Contains(t, bt[1].String(), "bc=12")
}

func TestInterpreterFrameLayout(t *testing.T) {
	st := store.New(zerolog.Nop())
	s := testenv.NewStack(&arch.AMD64, stackLo, 1)
	inner, interp := stackLo+0x100, stackLo+0x200
	s.Put(inner-8, core.Address(Leave))
	s.Put(inner, interp)
	s.Put(inner+8, 0x1000)
	s.Put(interp-8, core.Address(Interpreter))
	s.Put(interp, 0)
	s.Put(interp+8, 0xbc) // saved bytecode pc
	s.Put(interp+16, 0x2000)

	frames, err := NewWalker(s.Mem, st).Frames(inner)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, Interpreter, frames[1].Kind)
	require.False(t, frames[1].Kind.HasStackMap())
}

func TestWalkErrors(t *testing.T) {
	st := store.New(zerolog.Nop())
	tests := []struct {
		name  string
		setup func(s *testenv.Stack) core.Address
	}{
		{"unknown kind", func(s *testenv.Stack) core.Address {
			f := stackLo + 0x100
			s.Put(f-8, 99)
			return f
		}},
		{"frame pointer loop", func(s *testenv.Stack) core.Address {
			f := stackLo + 0x100
			s.Put(f-8, core.Address(Optimized))
			s.Put(f, f)
			return f
		}},
		{"frame pointer goes down", func(s *testenv.Stack) core.Address {
			f := stackLo + 0x200
			s.Put(f-8, core.Address(Optimized))
			s.Put(f, stackLo+0x100)
			return f
		}},
		{"unmapped", func(s *testenv.Stack) core.Address {
			f := stackLo + 0x100
			s.Put(f-8, core.Address(Leave))
			s.Put(f, 0x90000000)
			return f
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := testenv.NewStack(&arch.AMD64, stackLo, 1)
			top := tc.setup(s)
			_, err := NewWalker(s.Mem, st).Frames(top)
			require.Error(t, err)
		})
	}
}

func TestMaxFrames(t *testing.T) {
	s := newTestStack(t)
	s.w.MaxFrames = 3
	frames, err := s.w.Frames(s.fps[0])
	require.ErrorContains(t, err, "more than 3 frames")
	require.Len(t, frames, 3)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "OptimizedJSFunction", OptimizedJSFunction.String())
	require.Equal(t, "Kind(0)", Kind(0).String())
	require.Equal(t, "Kind(42)", Kind(42).String())
	for k := Optimized; k <= AsmInterpreterBridge; k++ {
		want := k == Optimized || k == OptimizedJSFunction
		require.Equal(t, want, k.HasStackMap(), "%v", k)
	}
}
