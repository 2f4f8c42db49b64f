// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compact

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/aotstackmap/arch"
	"golang.org/x/aotstackmap/internal/stackmap"
)

// The text form of a table is line oriented:
//
//	stackmap <n> call sites
//	callsite 0x40
//		root sp+8 sp+8
//		deopt -1 const 42 # bcoffset
//		deopt 2 indirect fp-16
//		deopt 3 direct sp+16
//		deopt 4 literal 0x1234
//
// Blank lines and text after '#' are ignored. Registers are written as
// sp, fp or r<dwarf number>.

// WriteText writes t in text form.
func WriteText(w io.Writer, t *Table, a *arch.Architecture) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "stackmap %d call sites\n", t.Len())
	for _, cs := range t.CallSites() {
		fmt.Fprintf(bw, "callsite %#x\n", cs.PC)
		for j := 0; j+1 < len(cs.Roots); j += 2 {
			fmt.Fprintf(bw, "\troot %s %s\n", slotText(a, cs.Roots[j]), slotText(a, cs.Roots[j+1]))
		}
		for _, v := range cs.Deopts {
			fmt.Fprintf(bw, "\tdeopt %d ", v.ID)
			switch v.Kind {
			case stackmap.Constant:
				fmt.Fprintf(bw, "const %d", v.Offset)
			case stackmap.Direct:
				fmt.Fprintf(bw, "direct %s", slotText(a, stackmap.RegOffset{Reg: v.Reg, Offset: v.Offset}))
			case stackmap.Indirect:
				fmt.Fprintf(bw, "indirect %s", slotText(a, stackmap.RegOffset{Reg: v.Reg, Offset: v.Offset}))
			case stackmap.ConstantIndex:
				fmt.Fprintf(bw, "literal %#x", uint64(v.Literal))
			}
			if v.ID < 0 {
				fmt.Fprintf(bw, " # %s", stackmap.VregName(v.ID))
			}
			fmt.Fprintln(bw)
		}
	}
	return bw.Flush()
}

func slotText(a *arch.Architecture, s stackmap.RegOffset) string {
	var reg string
	switch s.Reg {
	case a.SP:
		reg = "sp"
	case a.FP:
		reg = "fp"
	default:
		reg = fmt.Sprintf("r%d", s.Reg)
	}
	return fmt.Sprintf("%s%+d", reg, s.Offset)
}

// ParseText reads the text form produced by WriteText and returns the
// call-site table sorted by pc.
func ParseText(r io.Reader, a *arch.Architecture) ([]stackmap.CallSite, error) {
	var sites []stackmap.CallSite
	seen := map[uint32]bool{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		f := strings.Fields(text)
		if len(f) == 0 {
			continue
		}
		err := func() error {
			switch f[0] {
			case "stackmap":
				return nil
			case "callsite":
				if len(f) != 2 {
					return fmt.Errorf("want callsite <pc>")
				}
				pc, err := strconv.ParseUint(f[1], 0, 32)
				if err != nil {
					return err
				}
				if seen[uint32(pc)] {
					return fmt.Errorf("duplicate call site %#x", pc)
				}
				seen[uint32(pc)] = true
				sites = append(sites, stackmap.CallSite{PC: uint32(pc)})
				return nil
			}
			if len(sites) == 0 {
				return fmt.Errorf("%s outside of a call site", f[0])
			}
			cs := &sites[len(sites)-1]
			switch f[0] {
			case "root":
				if len(f) != 3 {
					return fmt.Errorf("want root <base> <derived>")
				}
				base, err := parseFrameSlot(a, f[1])
				if err != nil {
					return err
				}
				derived, err := parseFrameSlot(a, f[2])
				if err != nil {
					return err
				}
				cs.Roots = append(cs.Roots, base, derived)
			case "deopt":
				v, err := parseDeopt(a, f[1:])
				if err != nil {
					return err
				}
				cs.Deopts = append(cs.Deopts, v)
			default:
				return fmt.Errorf("unknown directive %q", f[0])
			}
			return nil
		}()
		if err != nil {
			return nil, fmt.Errorf("line %d: %v", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	sort.Slice(sites, func(i, j int) bool { return sites[i].PC < sites[j].PC })
	for i := range sites {
		stackmap.SortDeopts(sites[i].Deopts)
	}
	return sites, nil
}

func parseDeopt(a *arch.Architecture, f []string) (stackmap.DeoptValue, error) {
	var v stackmap.DeoptValue
	if len(f) != 3 {
		return v, fmt.Errorf("want deopt <id> <kind> <value>")
	}
	id, err := strconv.ParseInt(f[0], 0, 32)
	if err != nil {
		return v, err
	}
	v.ID = int32(id)
	switch f[1] {
	case "const":
		n, err := strconv.ParseInt(f[2], 0, 32)
		if err != nil {
			return v, err
		}
		v.Kind, v.Offset = stackmap.Constant, int32(n)
	case "direct", "indirect":
		s, err := parseFrameSlot(a, f[2])
		if err != nil {
			return v, err
		}
		v.Kind = stackmap.Indirect
		if f[1] == "direct" {
			v.Kind = stackmap.Direct
		}
		v.Reg, v.Offset = s.Reg, s.Offset
	case "literal":
		n, err := strconv.ParseUint(f[2], 0, 64)
		if err != nil {
			return v, err
		}
		v.Kind, v.Literal = stackmap.ConstantIndex, int64(n)
	default:
		return v, fmt.Errorf("unknown deopt kind %q", f[1])
	}
	if v.ID == stackmap.BCOffsetIndex && v.Kind != stackmap.Constant {
		return v, fmt.Errorf("bytecode offset must be const, got %s", f[1])
	}
	return v, nil
}

// parseFrameSlot is parseSlot restricted to the registers SlotAddress
// can resolve.
func parseFrameSlot(a *arch.Architecture, s string) (stackmap.RegOffset, error) {
	slot, err := parseSlot(a, s)
	if err != nil {
		return slot, err
	}
	if slot.Reg != a.SP && slot.Reg != a.FP {
		return slot, fmt.Errorf("slot %q: not relative to sp or fp", s)
	}
	return slot, nil
}

func parseSlot(a *arch.Architecture, s string) (stackmap.RegOffset, error) {
	i := strings.IndexAny(s, "+-")
	if i < 0 {
		return stackmap.RegOffset{}, fmt.Errorf("slot %q: want <reg>+<offset>", s)
	}
	off, err := strconv.ParseInt(s[i:], 0, 32)
	if err != nil {
		return stackmap.RegOffset{}, fmt.Errorf("slot %q: %v", s, err)
	}
	var reg uint16
	switch name := s[:i]; name {
	case "sp":
		reg = a.SP
	case "fp":
		reg = a.FP
	default:
		if !strings.HasPrefix(name, "r") {
			return stackmap.RegOffset{}, fmt.Errorf("slot %q: unknown register %q", s, name)
		}
		n, err := strconv.ParseUint(name[1:], 10, 16)
		if err != nil {
			return stackmap.RegOffset{}, fmt.Errorf("slot %q: %v", s, err)
		}
		reg = uint16(n)
	}
	return stackmap.RegOffset{Reg: reg, Offset: int32(off)}, nil
}
