// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compact

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/aotstackmap/internal/buf"
	"golang.org/x/aotstackmap/internal/stackmap"
)

// ErrCorrupt is reported by Open for blobs that are not well formed.
var ErrCorrupt = errors.New("corrupt compact stack map")

// A Table is a read-only view of a compact stack-map blob.
// It is never modified after Open and may be used from any number of
// goroutines at once.
type Table struct {
	data []byte
	hdr  SectionHeader
}

// Open checks the section header and every call-site header of b and
// returns a Table over it. b may be longer than the blob; the excess
// is ignored. b is not copied and must not be modified afterwards.
func Open(b []byte) (*Table, error) {
	r := buf.NewReader("compact stack map", b)
	h := SectionHeader{
		TotalSize:     r.Uint32(),
		CallSiteNum:   r.Uint32(),
		CallSiteStart: r.Uint32(),
		CallSiteEnd:   r.Uint32(),
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint64(h.TotalSize) > uint64(len(b)) {
		return nil, fmt.Errorf("%w: total size %d exceeds buffer of %d bytes", ErrCorrupt, h.TotalSize, len(b))
	}
	if h.CallSiteStart != SectionHeaderSize {
		return nil, fmt.Errorf("%w: call-site array starts at %d", ErrCorrupt, h.CallSiteStart)
	}
	arrayEnd := uint64(h.CallSiteStart) + uint64(h.CallSiteNum)*CallSiteHeaderSize
	if arrayEnd > uint64(h.TotalSize) {
		return nil, fmt.Errorf("%w: %d call sites overflow %d bytes", ErrCorrupt, h.CallSiteNum, h.TotalSize)
	}
	wantEnd := uint64(h.CallSiteStart)
	if h.CallSiteNum > 0 {
		wantEnd = arrayEnd - CallSiteHeaderSize
	}
	if uint64(h.CallSiteEnd) != wantEnd {
		return nil, fmt.Errorf("%w: call-site array ends at %d, want %d", ErrCorrupt, h.CallSiteEnd, wantEnd)
	}
	t := &Table{data: b[:h.TotalSize], hdr: h}

	var prev CallSiteHeader
	for i := 0; i < t.Len(); i++ {
		ch := t.CallSite(i)
		if i > 0 && ch.PC <= prev.PC {
			return nil, fmt.Errorf("%w: call site %d pc %#x not above %#x", ErrCorrupt, i, ch.PC, prev.PC)
		}
		if ch.GCPairNum%2 != 0 {
			return nil, fmt.Errorf("%w: call site %#x has odd root count %d", ErrCorrupt, ch.PC, ch.GCPairNum)
		}
		if ch.DeoptNum%2 != 0 {
			return nil, fmt.Errorf("%w: call site %#x has odd deopt count %d", ErrCorrupt, ch.PC, ch.DeoptNum)
		}
		if uint64(ch.StackMapOffset) < arrayEnd ||
			uint64(ch.StackMapOffset)+uint64(ch.GCPairNum)*GCPairSize > uint64(h.TotalSize) {
			return nil, fmt.Errorf("%w: call site %#x roots out of range", ErrCorrupt, ch.PC)
		}
		if uint64(ch.DeoptOffset) < arrayEnd {
			return nil, fmt.Errorf("%w: call site %#x deopts out of range", ErrCorrupt, ch.PC)
		}
		if err := t.checkDeopts(ch); err != nil {
			return nil, err
		}
		prev = ch
	}
	return t, nil
}

// checkDeopts walks the deopt entries of h so that ReadDeoptValues
// cannot fail on them later.
func (t *Table) checkDeopts(h CallSiteHeader) error {
	off := uint64(h.DeoptOffset)
	for i := uint32(0); i < h.DeoptNum/2; i++ {
		if off+deoptEntryHead > uint64(len(t.data)) {
			return fmt.Errorf("%w: call site %#x deopts out of range", ErrCorrupt, h.PC)
		}
		id := int32(binary.LittleEndian.Uint32(t.data[off:]))
		kind := stackmap.DeoptKind(t.data[off+4])
		n := kind.PayloadSize()
		if n < 0 {
			return fmt.Errorf("%w: call site %#x deopt %d has unknown kind %d", ErrCorrupt, h.PC, i, kind)
		}
		if id == stackmap.BCOffsetIndex && kind != stackmap.Constant {
			return fmt.Errorf("%w: call site %#x bytecode offset is %v", ErrCorrupt, h.PC, kind)
		}
		off += deoptEntryHead + uint64(n)
		if off > uint64(len(t.data)) {
			return fmt.Errorf("%w: call site %#x deopts out of range", ErrCorrupt, h.PC)
		}
	}
	return nil
}

// Header returns the section header.
func (t *Table) Header() SectionHeader {
	return t.hdr
}

// Len returns the number of call sites.
func (t *Table) Len() int {
	return int(t.hdr.CallSiteNum)
}

// Bytes returns the blob.
func (t *Table) Bytes() []byte {
	return t.data
}

// CallSite returns the i'th call-site header.
func (t *Table) CallSite(i int) CallSiteHeader {
	r := buf.NewReader("call-site header", t.data)
	r.Seek(int(t.hdr.CallSiteStart) + i*CallSiteHeaderSize)
	ch := CallSiteHeader{
		PC:             r.Uint32(),
		StackMapOffset: r.Uint32(),
		GCPairNum:      r.Uint32(),
		DeoptOffset:    r.Uint32(),
		DeoptNum:       r.Uint32(),
	}
	mustRead(r)
	return ch
}

// searchStride binary searches n fixed-size records of stride bytes
// starting at data[start:]. Each record begins with a little-endian
// uint32 key and keys are strictly ascending. It returns the index of
// the record whose key equals key, or -1.
func searchStride(data []byte, start, stride, n int, key uint32) int {
	lo, hi := 0, n-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		off := start + mid*stride
		v := binary.LittleEndian.Uint32(data[off : off+4])
		switch {
		case v == key:
			return mid
		case v > key:
			hi = mid - 1
		default:
			lo = mid + 1
		}
	}
	return -1
}

// FindCallSite returns the index of the call site at pc.
// A pc with no entry is normal (for example a pc inside a hand-written
// stub) and is reported with ok == false.
func (t *Table) FindCallSite(pc uint32) (i int, ok bool) {
	i = searchStride(t.data, int(t.hdr.CallSiteStart), CallSiteHeaderSize, t.Len(), pc)
	return i, i >= 0
}

// ReadGCPairs returns the GC root slots of call site h, base/derived
// pairs in recorded order.
func (t *Table) ReadGCPairs(h CallSiteHeader) []stackmap.RegOffset {
	if h.GCPairNum == 0 {
		return nil
	}
	r := buf.NewReader("gc pairs", t.data)
	r.Seek(int(h.StackMapOffset))
	pairs := make([]stackmap.RegOffset, h.GCPairNum)
	for i := range pairs {
		pairs[i].Reg = r.Uint16()
		pairs[i].Offset = r.Int32()
	}
	mustRead(r)
	return pairs
}

// ReadDeoptValues returns the deopt bundle of call site h, sorted by id.
func (t *Table) ReadDeoptValues(h CallSiteHeader) []stackmap.DeoptValue {
	if h.DeoptNum == 0 {
		return nil
	}
	r := buf.NewReader("deopt values", t.data)
	r.Seek(int(h.DeoptOffset))
	vals := make([]stackmap.DeoptValue, h.DeoptNum/2)
	for i := range vals {
		v := &vals[i]
		v.ID = r.Int32()
		v.Kind = stackmap.DeoptKind(r.Uint8())
		switch v.Kind {
		case stackmap.Constant:
			v.Offset = r.Int32()
		case stackmap.Direct, stackmap.Indirect:
			v.Reg = r.Uint16()
			v.Offset = r.Int32()
		case stackmap.ConstantIndex:
			v.Literal = r.Int64()
		default:
			if r.Err() == nil {
				panic(fmt.Sprintf("compact: call site %#x deopt %d has unknown kind %d", h.PC, i, v.Kind))
			}
		}
	}
	mustRead(r)
	return vals
}

// CallSites decodes the whole table.
func (t *Table) CallSites() []stackmap.CallSite {
	sites := make([]stackmap.CallSite, t.Len())
	for i := range sites {
		h := t.CallSite(i)
		sites[i] = stackmap.CallSite{
			PC:     h.PC,
			Roots:  t.ReadGCPairs(h),
			Deopts: t.ReadDeoptValues(h),
		}
	}
	return sites
}

// mustRead panics if r ran off the end of the blob. Open has already
// validated the headers, so this can only mean the blob was corrupted.
func mustRead(r *buf.Reader) {
	if err := r.Err(); err != nil {
		panic(fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
}
