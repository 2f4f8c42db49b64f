// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package arch contains architecture-specific definitions.
package arch

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/delve/pkg/dwarf/regnum"
)

// Architecture defines the architecture-specific details for a given machine.
type Architecture struct {
	Name string
	// PointerSize is the size of a pointer, in bytes.
	PointerSize int
	// ByteOrder is the byte order for ints and pointers.
	ByteOrder binary.ByteOrder
	// SP and FP are the DWARF register numbers of the stack pointer
	// and frame pointer. Stack-map slots are always relative to one of them.
	SP uint16
	FP uint16

	regName func(uint64) string
}

// Uintptr decodes a pointer-sized value from buf.
func (a *Architecture) Uintptr(buf []byte) uint64 {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		return uint64(a.ByteOrder.Uint32(buf[:4]))
	case 8:
		return a.ByteOrder.Uint64(buf[:8])
	}
	panic("no PointerSize")
}

// PutUintptr encodes v as a pointer-sized value into buf.
func (a *Architecture) PutUintptr(buf []byte, v uint64) {
	if len(buf) != a.PointerSize {
		panic("bad PointerSize")
	}
	switch a.PointerSize {
	case 4:
		a.ByteOrder.PutUint32(buf[:4], uint32(v))
	case 8:
		a.ByteOrder.PutUint64(buf[:8], v)
	default:
		panic("no PointerSize")
	}
}

// RegName returns a printable name for the DWARF register reg.
func (a *Architecture) RegName(reg uint16) string {
	switch reg {
	case a.SP:
		return "sp"
	case a.FP:
		return "fp"
	}
	if a.regName != nil {
		return a.regName(uint64(reg))
	}
	return fmt.Sprintf("r%d", reg)
}

var AMD64 = Architecture{
	Name:        "amd64",
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	SP:          regnum.AMD64_Rsp,
	FP:          regnum.AMD64_Rbp,
	regName:     regnum.AMD64ToName,
}

var ARM64 = Architecture{
	Name:        "arm64",
	PointerSize: 8,
	ByteOrder:   binary.LittleEndian,
	SP:          regnum.ARM64_SP,
	FP:          regnum.ARM64_BP,
	regName:     regnum.ARM64ToName,
}

// Lookup returns the architecture called name.
func Lookup(name string) (*Architecture, error) {
	switch name {
	case "amd64", "x86_64", "x86-64":
		return &AMD64, nil
	case "arm64", "aarch64":
		return &ARM64, nil
	}
	return nil, fmt.Errorf("unknown architecture %q", name)
}
