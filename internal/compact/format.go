// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compact implements the dense, call-site sorted stack-map
// format that is embedded next to ahead-of-time compiled code, together
// with the runtime lookups performed on it during GC and deoptimization.
//
// All fields are little-endian and there is no padding:
//
//	SectionHeader   totalSize u32, callSiteNum u32, callSiteStart u32, callSiteEnd u32
//	CallSiteHeader  callSiteNum × (pc u32, stackMapOffset u32, gcPairNum u32, deoptOffset u32, deoptNum u32)
//	GC pair stream  per call site, gcPairNum × (reg u16, offset i32)
//	Deopt stream    per call site, deoptNum/2 × (id i32, kind u8, payload)
//
// The payload width depends on the kind: 4 bytes for Constant, 2+4 for
// Direct and Indirect, 8 for ConstantIndex. callSiteEnd is the offset
// of the last call-site header (callSiteStart when there are none).
package compact

import (
	"fmt"

	"golang.org/x/aotstackmap/internal/stackmap"
)

const (
	SectionHeaderSize  = 16
	CallSiteHeaderSize = 20
	GCPairSize         = 2 + 4
	deoptEntryHead     = 4 + 1 // id, kind
)

// A SectionHeader describes a whole compact stack-map blob.
type SectionHeader struct {
	TotalSize     uint32
	CallSiteNum   uint32
	CallSiteStart uint32
	CallSiteEnd   uint32
}

// A CallSiteHeader locates the metadata of one call site.
// Offsets are from the start of the blob.
type CallSiteHeader struct {
	PC             uint32
	StackMapOffset uint32
	GCPairNum      uint32
	DeoptOffset    uint32
	DeoptNum       uint32 // twice the number of deopt entries
}

func (h CallSiteHeader) String() string {
	return fmt.Sprintf("pc=%#x gc=%d@%#x deopt=%d@%#x", h.PC, h.GCPairNum, h.StackMapOffset, h.DeoptNum/2, h.DeoptOffset)
}

func deoptSize(v stackmap.DeoptValue) uint32 {
	n := v.Kind.PayloadSize()
	if n < 0 {
		panic(fmt.Sprintf("compact: deopt id %d has unknown kind %d", v.ID, v.Kind))
	}
	return deoptEntryHead + uint32(n)
}
