// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compact

import (
	"fmt"
	"math"

	"golang.org/x/aotstackmap/internal/buf"
	"golang.org/x/aotstackmap/internal/stackmap"
)

// A Layout is a call-site table with every offset of the compact
// format computed.
type Layout struct {
	Header    SectionHeader
	CallSites []CallSiteHeader

	sites []stackmap.CallSite
}

// LayoutSections computes the section header and call-site headers for
// table. The header array directly follows the section header, the GC
// pair stream follows the header array and the deopt stream follows the
// GC pair stream.
//
// table must be strictly sorted by pc and every call site must carry an
// even number of roots; BuildCallSiteTable guarantees both. A violation
// is a bug in the caller and panics.
func LayoutSections(table []stackmap.CallSite) *Layout {
	l := &Layout{
		CallSites: make([]CallSiteHeader, len(table)),
		sites:     make([]stackmap.CallSite, len(table)),
	}
	var gcBytes, deoptBytes uint64
	for i, cs := range table {
		if i > 0 && table[i-1].PC >= cs.PC {
			panic(fmt.Sprintf("compact: call sites not strictly sorted: %#x then %#x", table[i-1].PC, cs.PC))
		}
		if len(cs.Roots)%2 != 0 {
			panic(fmt.Sprintf("compact: call site %#x has %d roots, want base/derived pairs", cs.PC, len(cs.Roots)))
		}
		deopts := append([]stackmap.DeoptValue(nil), cs.Deopts...)
		stackmap.SortDeopts(deopts)
		l.sites[i] = stackmap.CallSite{PC: cs.PC, Roots: cs.Roots, Deopts: deopts}

		gcBytes += uint64(len(cs.Roots)) * GCPairSize
		for _, v := range deopts {
			deoptBytes += uint64(deoptSize(v))
		}
	}
	n := uint64(len(table))
	total := SectionHeaderSize + n*CallSiteHeaderSize + gcBytes + deoptBytes
	if total > math.MaxUint32 {
		panic(fmt.Sprintf("compact: stack map of %d bytes does not fit the 32-bit format", total))
	}

	h := SectionHeader{
		TotalSize:     uint32(total),
		CallSiteNum:   uint32(n),
		CallSiteStart: SectionHeaderSize,
		CallSiteEnd:   SectionHeaderSize,
	}
	if n > 0 {
		h.CallSiteEnd = SectionHeaderSize + uint32(n-1)*CallSiteHeaderSize
	}
	l.Header = h

	// One left-to-right pass assigns running offsets into both streams.
	gcOff := SectionHeaderSize + uint32(n)*CallSiteHeaderSize
	deoptOff := gcOff + uint32(gcBytes)
	for i, cs := range l.sites {
		ch := CallSiteHeader{
			PC:             cs.PC,
			StackMapOffset: gcOff,
			GCPairNum:      uint32(len(cs.Roots)),
			DeoptOffset:    deoptOff,
			DeoptNum:       uint32(2 * len(cs.Deopts)),
		}
		gcOff += uint32(len(cs.Roots)) * GCPairSize
		for _, v := range cs.Deopts {
			deoptOff += deoptSize(v)
		}
		l.CallSites[i] = ch
	}
	return l
}

// Serialize writes l into a freshly allocated buffer of exactly
// l.Header.TotalSize bytes.
func Serialize(l *Layout) []byte {
	w := buf.NewWriter(make([]byte, l.Header.TotalSize))
	w.Uint32(l.Header.TotalSize)
	w.Uint32(l.Header.CallSiteNum)
	w.Uint32(l.Header.CallSiteStart)
	w.Uint32(l.Header.CallSiteEnd)
	for _, ch := range l.CallSites {
		w.Uint32(ch.PC)
		w.Uint32(ch.StackMapOffset)
		w.Uint32(ch.GCPairNum)
		w.Uint32(ch.DeoptOffset)
		w.Uint32(ch.DeoptNum)
	}
	for i, cs := range l.sites {
		mustBeAt(w, l.CallSites[i].StackMapOffset, cs.PC)
		for _, r := range cs.Roots {
			w.Uint16(r.Reg)
			w.Int32(r.Offset)
		}
	}
	for i, cs := range l.sites {
		mustBeAt(w, l.CallSites[i].DeoptOffset, cs.PC)
		for _, v := range cs.Deopts {
			w.Int32(v.ID)
			w.Uint8(uint8(v.Kind))
			switch v.Kind {
			case stackmap.Constant:
				w.Int32(v.Offset)
			case stackmap.Direct, stackmap.Indirect:
				w.Uint16(v.Reg)
				w.Int32(v.Offset)
			case stackmap.ConstantIndex:
				w.Int64(v.Literal)
			}
		}
	}
	if w.Offset() != int(l.Header.TotalSize) {
		panic(fmt.Sprintf("compact: wrote %d bytes, layout says %d", w.Offset(), l.Header.TotalSize))
	}
	return w.Bytes()
}

func mustBeAt(w *buf.Writer, off, pc uint32) {
	if w.Offset() != int(off) {
		panic(fmt.Sprintf("compact: call site %#x stream at offset %d, layout says %d", pc, w.Offset(), off))
	}
}

// Encode lays out and serializes table.
func Encode(table []stackmap.CallSite) []byte {
	return Serialize(LayoutSections(table))
}
