// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"golang.org/x/aotstackmap/internal/compact"
	"golang.org/x/aotstackmap/internal/llvmmap"
	"golang.org/x/aotstackmap/internal/stackmap"
	"golang.org/x/aotstackmap/internal/store"
)

func (a *app) convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [--text|--binary] <in> <out>",
		Short: "convert a raw stack map section to the compact form",
		Long: `convert reads the stack map section emitted by the code generator,
or a table in text form, and writes it either as a stack map file
holding one module (--binary, the default) or in text form (--text).`,
		Args: cobra.ExactArgs(2),
		RunE: a.runConvert,
	}
	f := cmd.Flags()
	f.Bool("text", false, "write the text form")
	f.Bool("binary", false, "write a stack map file")
	f.String("text-base", "", "code section link address subtracted from function addresses")
	f.Uint64("hotness-threshold", 0, "skip functions with fewer call sites")
	f.Uint32("module", 0, "module index recorded in the stack map file")
	f.Uint32("code-size", 0, "code section size recorded in the stack map file (default: covers every call site)")
	cmd.MarkFlagsMutuallyExclusive("text", "binary")
	return cmd
}

func (a *app) runConvert(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	table, err := a.readTable(data)
	if err != nil {
		return fmt.Errorf("%s: %w", in, err)
	}
	blob := compact.Encode(table)

	if a.v.GetBool("text") {
		t, err := compact.Open(blob)
		if err != nil {
			return err
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := compact.WriteText(f, t, a.arch); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	} else {
		codeSize := a.v.GetUint32("code-size")
		if codeSize == 0 && len(table) > 0 {
			// Return addresses may sit at the very end of the code, but
			// the call instruction itself is always inside it.
			codeSize = table[len(table)-1].PC
		}
		mod := store.FileModule{Index: a.v.GetUint32("module"), CodeSize: codeSize, Blob: blob}
		if err := store.WriteFile(out, []store.FileModule{mod}); err != nil {
			return err
		}
	}

	roots, deopts := 0, 0
	for _, cs := range table {
		roots += len(cs.Roots) / 2
		deopts += len(cs.Deopts)
	}
	a.log.Info().
		Str("in", in).
		Str("out", out).
		Int("call_sites", len(table)).
		Int("gc_pairs", roots).
		Int("deopt_values", deopts).
		Int("bytes", len(blob)).
		Msg("converted stack map")
	return nil
}

// readTable builds the call-site table from either a raw stack map
// section or the text form, which is recognized by its first line.
func (a *app) readTable(data []byte) ([]stackmap.CallSite, error) {
	if bytes.HasPrefix(data, []byte("stackmap ")) {
		return compact.ParseText(bytes.NewReader(data), a.arch)
	}
	sm, err := llvmmap.Parse(data)
	if err != nil {
		return nil, err
	}
	base, err := a.textBase()
	if err != nil {
		return nil, err
	}
	opts := llvmmap.Options{TextBase: base, MinRecords: a.v.GetUint64("hotness-threshold")}
	roots, deopts, err := sm.CallSites(opts)
	if err != nil {
		return nil, err
	}
	a.log.Debug().
		Int("functions", len(sm.Functions)).
		Int("records", len(sm.Records)).
		Int("constants", len(sm.Constants)).
		Uint64("text_base", base).
		Msg("parsed raw stack map")
	return stackmap.BuildCallSiteTable(roots, deopts), nil
}
