// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package llvmmap decodes the verbose stack-map section emitted by the
// backend code generator (the LLVM stack map format, version 3) and
// derives from it the per-pc GC root and deopt tables consumed by the
// compact encoder.
//
// The layout is a packed little-endian sequence:
//
//	Header        version u8, reserved u8, reserved u16
//	              numFunctions u32, numConstants u32, numRecords u32
//	Functions     numFunctions × (address u64, stackSize u64, recordCount u64)
//	Constants     numConstants × u64
//	Records       numRecords × (
//	                patchPointID u64, instructionOffset u32, reserved u16, numLocations u16,
//	                numLocations × (kind u8, reserved u8, size u16, dwarfReg u16, reserved u16, offsetOrConstant i32),
//	                <pad to 8>,
//	                padding u16, numLiveOuts u16,
//	                numLiveOuts × (dwarfReg u16, reserved u8, size u8),
//	                <pad to 8>)
package llvmmap

import "fmt"

// Version is the only stack map version this package understands.
const Version = 3

// A LocationKind says how to find a value recorded at a call site.
type LocationKind uint8

const (
	Register      LocationKind = 1 // value in a register
	Direct        LocationKind = 2 // value is the address reg+offset
	Indirect      LocationKind = 3 // value is stored at reg+offset
	Constant      LocationKind = 4 // small constant in Offset
	ConstantIndex LocationKind = 5 // Offset indexes the constants table
)

func (k LocationKind) String() string {
	switch k {
	case Register:
		return "Register"
	case Direct:
		return "Direct"
	case Indirect:
		return "Indirect"
	case Constant:
		return "Constant"
	case ConstantIndex:
		return "ConstantIndex"
	}
	return fmt.Sprintf("LocationKind(%d)", uint8(k))
}

// A Location is one value recorded at a call site.
type Location struct {
	Kind   LocationKind
	Size   uint16 // in bytes
	Reg    uint16 // DWARF register number
	Offset int32  // offset, small constant or constant index, depending on Kind
}

func (l Location) String() string {
	switch l.Kind {
	case Register:
		return fmt.Sprintf("Register(r%d)", l.Reg)
	case Direct:
		return fmt.Sprintf("Direct(r%d%+d)", l.Reg, l.Offset)
	case Indirect:
		return fmt.Sprintf("Indirect([r%d%+d])", l.Reg, l.Offset)
	case Constant:
		return fmt.Sprintf("Constant(%d)", l.Offset)
	case ConstantIndex:
		return fmt.Sprintf("ConstantIndex(#%d)", l.Offset)
	}
	return l.Kind.String()
}

// A LiveOut is a register that is live across the call.
// The stack-map pipeline only skips them; they are kept for dumping.
type LiveOut struct {
	Reg  uint16
	Size uint8
}

// A Function is the per-function entry of the section.
type Function struct {
	Address     uint64 // host address of the function start
	StackSize   uint64
	RecordCount uint64
}

// A Record describes one call site.
type Record struct {
	PatchPointID      uint64
	InstructionOffset uint32 // relative to the owning function's Address
	Locations         []Location
	LiveOuts          []LiveOut
}

// A StackMap is a fully decoded stack-map section.
// Records are grouped by function in Functions order: the first
// Functions[0].RecordCount records belong to Functions[0], and so on.
type StackMap struct {
	Version   uint8
	Functions []Function
	Constants []uint64
	Records   []Record
}

// FuncRecords returns the records of function i.
func (sm *StackMap) FuncRecords(i int) []Record {
	start := uint64(0)
	for _, f := range sm.Functions[:i] {
		start += f.RecordCount
	}
	return sm.Records[start : start+sm.Functions[i].RecordCount]
}
