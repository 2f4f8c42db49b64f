// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package core provides the address space that frame walking and
// GC-root resolution operate on. A Memory is a set of mappings (usually
// thread stacks) that can be read and, for relocation, written.
//
// There's nothing stack-map specific about this package. See
// ../compact and ../frame for the layers above it.
//
// The Read* and Write* operations all panic with an error (the builtin
// Go type) if the memory is not accessible at the address requested.
// Callers run inside an already synchronized GC pause or deopt, where an
// unmapped slot means corrupt metadata and there is no safe way to continue.
package core

import (
	"fmt"
	"sort"

	"golang.org/x/aotstackmap/arch"
)

// A Memory is a sparse address space built from Mappings.
type Memory struct {
	arch      *arch.Architecture
	mappings  []*Mapping
	pageTable pageTable4 // for fast address->mapping lookups
}

// NewMemory returns an empty address space for architecture a.
func NewMemory(a *arch.Architecture) *Memory {
	return &Memory{arch: a}
}

// Arch returns the architecture of the address space.
func (mem *Memory) Arch() *arch.Architecture {
	return mem.arch
}

// PtrSize returns the size in bytes of a pointer.
func (mem *Memory) PtrSize() int64 {
	return int64(mem.arch.PointerSize)
}

// Map adds m to the address space. m must be page aligned and must not
// overlap an existing mapping.
func (mem *Memory) Map(m *Mapping) error {
	if err := mem.addMapping(m); err != nil {
		return err
	}
	mem.mappings = append(mem.mappings, m)
	sort.Slice(mem.mappings, func(i, j int) bool {
		return mem.mappings[i].min < mem.mappings[j].min
	})
	return nil
}

// Mappings returns the mappings of mem, sorted by address.
func (mem *Memory) Mappings() []*Mapping {
	return mem.mappings
}

// Readable reports whether the address a is readable.
func (mem *Memory) Readable(a Address) bool {
	m := mem.findMapping(a)
	return m != nil && m.perm&Read != 0
}

// ReadableN reports whether the n bytes starting at address a are readable.
func (mem *Memory) ReadableN(a Address, n int64) bool {
	for {
		m := mem.findMapping(a)
		if m == nil || m.perm&Read == 0 {
			return false
		}
		c := m.max.Sub(a)
		if n <= c {
			return true
		}
		n -= c
		a = a.Add(c)
	}
}

// Writeable reports whether the address a is writeable.
func (mem *Memory) Writeable(a Address) bool {
	m := mem.findMapping(a)
	return m != nil && m.perm&Write != 0
}

// ReadAt reads len(b) bytes at address a.
func (mem *Memory) ReadAt(b []byte, a Address) {
	for {
		m := mem.findMapping(a)
		if m == nil || m.perm&Read == 0 {
			panic(fmt.Errorf("address %x is not mapped readable", a))
		}
		n := copy(b, m.contents[a.Sub(m.min):])
		if n == len(b) {
			return
		}
		// Modify request to get data from the next mapping.
		b = b[n:]
		a = a.Add(int64(n))
	}
}

// WriteAt writes b at address a.
func (mem *Memory) WriteAt(b []byte, a Address) {
	for {
		m := mem.findMapping(a)
		if m == nil || m.perm&Write == 0 {
			panic(fmt.Errorf("address %x is not mapped writeable", a))
		}
		n := copy(m.contents[a.Sub(m.min):], b)
		if n == len(b) {
			return
		}
		b = b[n:]
		a = a.Add(int64(n))
	}
}

// ReadUint64 returns a uint64 read from address a.
func (mem *Memory) ReadUint64(a Address) uint64 {
	m := mem.findMapping(a)
	if m == nil || m.perm&Read == 0 {
		panic(fmt.Errorf("address %x is not mapped readable", a))
	}
	b := m.contents[a.Sub(m.min):]
	if len(b) < 8 {
		var buf [8]byte
		b = buf[:]
		mem.ReadAt(b, a)
	}
	return mem.arch.ByteOrder.Uint64(b)
}

// ReadPtr returns a pointer loaded from address a.
func (mem *Memory) ReadPtr(a Address) Address {
	buf := make([]byte, mem.arch.PointerSize)
	mem.ReadAt(buf, a)
	return Address(mem.arch.Uintptr(buf))
}

// WritePtr stores the pointer v at address a.
func (mem *Memory) WritePtr(a Address, v Address) {
	buf := make([]byte, mem.arch.PointerSize)
	mem.arch.PutUintptr(buf, uint64(v))
	mem.WriteAt(buf, a)
}
