// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"testing"

	"golang.org/x/aotstackmap/arch"
)

func newMemory(t *testing.T) *Memory {
	t.Helper()
	mem := NewMemory(&arch.AMD64)
	for _, m := range []*Mapping{
		NewMapping("stack0", 0x10000, make([]byte, PageSize), Read|Write),
		NewMapping("stack1", 0x11000, make([]byte, PageSize), Read|Write),
		NewMapping("text", 0x7f0000400000, make([]byte, 2*PageSize), Read|Exec),
	} {
		if err := mem.Map(m); err != nil {
			t.Fatalf("can't map %s: %v", m.Name(), err)
		}
	}
	return mem
}

func TestMap(t *testing.T) {
	mem := newMemory(t)
	if err := mem.Map(NewMapping("overlap", 0x11000, make([]byte, PageSize), Read)); err == nil {
		t.Errorf("overlapping mapping accepted")
	}
	if err := mem.Map(NewMapping("odd start", 0x20010, make([]byte, PageSize), Read)); err == nil {
		t.Errorf("unaligned start accepted")
	}
	if err := mem.Map(NewMapping("odd size", 0x30000, make([]byte, 100), Read)); err == nil {
		t.Errorf("unaligned end accepted")
	}
	ms := mem.Mappings()
	if len(ms) != 3 || ms[0].Name() != "stack0" || ms[2].Name() != "text" {
		t.Errorf("mappings = %v", ms)
	}
	if got := ms[2].Size(); got != 2*PageSize {
		t.Errorf("text size = %d", got)
	}
	if got := ms[2].Perm().String(); got != "Read|Exec" {
		t.Errorf("text perm = %s", got)
	}
}

func TestReadWrite(t *testing.T) {
	mem := newMemory(t)
	mem.WritePtr(0x10010, 0xc000001234)
	if got := mem.ReadPtr(0x10010); got != 0xc000001234 {
		t.Errorf("ReadPtr = %#x", got)
	}
	if got := mem.ReadUint64(0x10010); got != 0xc000001234 {
		t.Errorf("ReadUint64 = %#x", got)
	}

	// A pointer straddling two adjacent mappings.
	mem.WritePtr(0x10ffc, 0x1122334455667788)
	if got := mem.ReadPtr(0x10ffc); got != 0x1122334455667788 {
		t.Errorf("straddling ReadPtr = %#x", got)
	}
	if got := mem.ReadUint64(0x10ffc); got != 0x1122334455667788 {
		t.Errorf("straddling ReadUint64 = %#x", got)
	}

	if !mem.Readable(0x11fff) || mem.Readable(0x12000) {
		t.Errorf("Readable wrong at mapping end")
	}
	if !mem.ReadableN(0x10800, 0x1800) || mem.ReadableN(0x10800, 0x1801) {
		t.Errorf("ReadableN wrong across mappings")
	}
	if mem.Writeable(0x7f0000400000) {
		t.Errorf("text is writeable")
	}
}

func TestReadUnmappedPanics(t *testing.T) {
	mem := newMemory(t)
	for name, f := range map[string]func(){
		"read":     func() { mem.ReadPtr(0x40000) },
		"read end": func() { mem.ReadPtr(0x11ffc) },
		"write ro": func() { mem.WritePtr(0x7f0000400000, 1) },
	} {
		func() {
			defer func() {
				r := recover()
				if _, ok := r.(error); !ok {
					t.Errorf("%s: recovered %v, want an error", name, r)
				}
			}()
			f()
		}()
	}
}

func TestAddress(t *testing.T) {
	a := Address(0x1001)
	if got := a.Align(8); got != 0x1008 {
		t.Errorf("Align = %#x", got)
	}
	if got := a.Add(-1); got != 0x1000 {
		t.Errorf("Add = %#x", got)
	}
	if got := a.Sub(0x1000); got != 1 {
		t.Errorf("Sub = %d", got)
	}
	if a.Max(0x2000) != 0x2000 || a.Min(0x2000) != a {
		t.Errorf("Max/Min wrong")
	}
}
