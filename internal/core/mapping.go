// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package core

import (
	"fmt"
	"strings"
)

// A Mapping represents a contiguous subset of the scanned address space,
// typically one thread's stack.
type Mapping struct {
	min  Address
	max  Address
	perm Perm

	name string // for printing only

	// Backing store. Length=max-min.
	contents []byte
}

// NewMapping returns a mapping of contents at address min.
// The mapping aliases contents; writes through Memory are visible to the caller.
func NewMapping(name string, min Address, contents []byte, perm Perm) *Mapping {
	return &Mapping{
		min:      min,
		max:      min.Add(int64(len(contents))),
		perm:     perm,
		name:     name,
		contents: contents,
	}
}

// Min returns the lowest virtual address of the mapping.
func (m *Mapping) Min() Address {
	return m.min
}

// Max returns the virtual address of the byte just beyond the mapping.
func (m *Mapping) Max() Address {
	return m.max
}

// Size returns int64(Max-Min)
func (m *Mapping) Size() int64 {
	return m.max.Sub(m.min)
}

// Perm returns the permissions on the mapping.
func (m *Mapping) Perm() Perm {
	return m.perm
}

// Name returns the name the mapping was created with.
func (m *Mapping) Name() string {
	return m.name
}

func (m *Mapping) String() string {
	return fmt.Sprintf("%s [%x %x] %s", m.name, m.min, m.max, m.perm)
}

// A Perm represents the permissions allowed for a Mapping.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var a [3]string
	b := a[:0]
	if p&Read != 0 {
		b = append(b, "Read")
	}
	if p&Write != 0 {
		b = append(b, "Write")
	}
	if p&Exec != 0 {
		b = append(b, "Exec")
	}
	if len(b) == 0 {
		b = append(b, "None")
	}
	return strings.Join(b, "|")
}

// We assume that OS pages are at least 4K in size. So every mapping
// starts and ends at a multiple of 4K.
// We divide the other 64-12 = 52 bits into levels in a page table.
type pageTable0 [1 << 10]*Mapping
type pageTable1 [1 << 10]*pageTable0
type pageTable2 [1 << 10]*pageTable1
type pageTable3 [1 << 10]*pageTable2
type pageTable4 [1 << 12]*pageTable3

// PageSize is the granularity of mappings.
const PageSize = 1 << 12

// findMapping is simple enough that it inlines.
func (mem *Memory) findMapping(a Address) *Mapping {
	t3 := mem.pageTable[a>>52]
	if t3 == nil {
		return nil
	}
	t2 := t3[a>>42%(1<<10)]
	if t2 == nil {
		return nil
	}
	t1 := t2[a>>32%(1<<10)]
	if t1 == nil {
		return nil
	}
	t0 := t1[a>>22%(1<<10)]
	if t0 == nil {
		return nil
	}
	return t0[a>>12%(1<<10)]
}

func (mem *Memory) addMapping(m *Mapping) error {
	if m.min%PageSize != 0 {
		return fmt.Errorf("mapping start %x isn't a multiple of %d", m.min, PageSize)
	}
	if m.max%PageSize != 0 {
		return fmt.Errorf("mapping end %x isn't a multiple of %d", m.max, PageSize)
	}
	for a := m.min; a < m.max; a += PageSize {
		if mem.findMapping(a) != nil {
			return fmt.Errorf("mapping %s overlaps existing mapping at %x", m.name, a)
		}
	}
	for a := m.min; a < m.max; a += PageSize {
		i3 := a >> 52
		t3 := mem.pageTable[i3]
		if t3 == nil {
			t3 = new(pageTable3)
			mem.pageTable[i3] = t3
		}
		i2 := a >> 42 % (1 << 10)
		t2 := t3[i2]
		if t2 == nil {
			t2 = new(pageTable2)
			t3[i2] = t2
		}
		i1 := a >> 32 % (1 << 10)
		t1 := t2[i1]
		if t1 == nil {
			t1 = new(pageTable1)
			t2[i1] = t1
		}
		i0 := a >> 22 % (1 << 10)
		t0 := t1[i0]
		if t0 == nil {
			t0 = new(pageTable0)
			t1[i0] = t0
		}
		t0[a>>12%(1<<10)] = m
	}
	return nil
}
