// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"golang.org/x/aotstackmap/internal/compact"
	"golang.org/x/aotstackmap/internal/stackmap"
	"golang.org/x/aotstackmap/internal/store"
)

// A loadedFile is a stack map file with its modules' tables opened.
type loadedFile struct {
	name    string
	version store.Version
	modules []store.FileModule
	tables  []*compact.Table
}

func openFile(name string) (*loadedFile, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	v, mods, err := store.ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	lf := &loadedFile{name: name, version: v, modules: mods}
	for _, m := range mods {
		t, err := compact.Open(m.Blob)
		if err != nil {
			return nil, fmt.Errorf("%s: module %d: %w", name, m.Index, err)
		}
		lf.tables = append(lf.tables, t)
	}
	return lf, nil
}

// table returns the table of module index.
func (lf *loadedFile) table(index uint32) (*compact.Table, error) {
	for i, m := range lf.modules {
		if m.Index == index {
			return lf.tables[i], nil
		}
	}
	return nil, fmt.Errorf("%s: no module %d", lf.name, index)
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	pcColor     = color.New(color.FgYellow)
	missColor   = color.New(color.FgRed)
)

func (a *app) dumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "print the modules and call sites of a stack map file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := openFile(args[0])
			if err != nil {
				return err
			}
			if a.v.GetBool("text") {
				for _, t := range lf.tables {
					if err := compact.WriteText(a.stdout, t, a.arch); err != nil {
						return err
					}
				}
				return nil
			}
			a.dump(a.stdout, lf)
			return nil
		},
	}
	cmd.Flags().Bool("text", false, "print every call site in text form")
	return cmd
}

func (a *app) dump(w io.Writer, lf *loadedFile) {
	headerColor.Fprintf(w, "%s: version %v, %d modules\n", lf.name, lf.version, len(lf.modules))
	for i, m := range lf.modules {
		t := lf.tables[i]
		h := t.Header()
		headerColor.Fprintf(w, "module %d: code %#x bytes, %d call sites, %d bytes of metadata\n",
			m.Index, m.CodeSize, h.CallSiteNum, h.TotalSize)
		tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', tabwriter.AlignRight)
		fmt.Fprintf(tw, "pc\tgc pairs\tdeopts\tbc offset\t\n")
		for j := 0; j < t.Len(); j++ {
			cs := t.CallSite(j)
			bc := "-"
			if off, ok := t.ResolveBytecodeOffset(cs.PC); ok {
				bc = strconv.Itoa(int(off))
			}
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t\n", pcColor.Sprintf("%#x", cs.PC), cs.GCPairNum/2, cs.DeoptNum/2, bc)
		}
		tw.Flush()
	}
}

func (a *app) lookupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lookup <file> <pc>",
		Short: "print the metadata recorded for one call site",
		Long: `lookup prints the GC roots and deopt bundle of the call whose return
address is <pc>, an offset from the start of the module's code.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := openFile(args[0])
			if err != nil {
				return err
			}
			pc, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("can't parse %s as a pc", args[1])
			}
			t, err := lf.table(a.v.GetUint32("module"))
			if err != nil {
				return err
			}
			a.lookup(a.stdout, t, uint32(pc))
			return nil
		},
	}
	cmd.Flags().Uint32("module", 0, "module index")
	return cmd
}

func (a *app) lookup(w io.Writer, t *compact.Table, pc uint32) bool {
	i, ok := t.FindCallSite(pc)
	if !ok {
		missColor.Fprintf(w, "no call site at %#x\n", pc)
		return false
	}
	h := t.CallSite(i)
	headerColor.Fprintf(w, "%v\n", h)
	pairs := t.ReadGCPairs(h)
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	for j := 0; j+1 < len(pairs); j += 2 {
		kind := "base"
		if pairs[j] != pairs[j+1] {
			kind = "derived"
		}
		fmt.Fprintf(tw, "  root\t%s\t%s\t%s\n", a.slot(pairs[j]), a.slot(pairs[j+1]), kind)
	}
	for _, v := range t.ReadDeoptValues(h) {
		fmt.Fprintf(tw, "  deopt\t%s\t%v\t%s\n", stackmap.VregName(v.ID), v.Kind, a.deoptText(v))
	}
	tw.Flush()
	return true
}

func (a *app) slot(s stackmap.RegOffset) string {
	return fmt.Sprintf("[%s%+d]", a.arch.RegName(s.Reg), s.Offset)
}

func (a *app) deoptText(v stackmap.DeoptValue) string {
	switch v.Kind {
	case stackmap.Constant:
		return strconv.Itoa(int(v.Offset))
	case stackmap.Direct:
		return fmt.Sprintf("%s%+d", a.arch.RegName(v.Reg), v.Offset)
	case stackmap.Indirect:
		return a.slot(stackmap.RegOffset{Reg: v.Reg, Offset: v.Offset})
	case stackmap.ConstantIndex:
		return fmt.Sprintf("%#x", uint64(v.Literal))
	}
	return "?"
}

func (a *app) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export --cbor <file> <out>",
		Short: "write the decoded call sites of one module in an interchange format",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.v.GetBool("cbor") {
				return fmt.Errorf("no output format selected (want --cbor)")
			}
			lf, err := openFile(args[0])
			if err != nil {
				return err
			}
			index := a.v.GetUint32("module")
			t, err := lf.table(index)
			if err != nil {
				return err
			}
			base, err := a.textBase()
			if err != nil {
				return err
			}
			data, err := compact.MarshalCBOR(t, a.arch.Name, base)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0644); err != nil {
				return err
			}
			a.log.Info().Uint32("module", index).Int("call_sites", t.Len()).Int("bytes", len(data)).Msg("exported stack map")
			return nil
		},
	}
	cmd.Flags().Bool("cbor", false, "write canonical CBOR")
	cmd.Flags().Uint32("module", 0, "module index")
	cmd.Flags().String("text-base", "", "code address recorded in the export")
	return cmd
}
