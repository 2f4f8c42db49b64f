// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"golang.org/x/aotstackmap/arch"
	"golang.org/x/aotstackmap/internal/compact"
	"golang.org/x/aotstackmap/internal/stackmap"
	"golang.org/x/aotstackmap/internal/store"
	"golang.org/x/aotstackmap/internal/testenv"
)

// testDir holds a raw stack map with two functions linked at 0x400000:
// one with call sites at +0x40 and +0x60, one with a call site at +0x110.
type testDir struct {
	dir    string
	config string
	raw    string
}

func newTestDir(t *testing.T) *testDir {
	t.Helper()
	sp, fp := arch.AMD64.SP, arch.AMD64.FP
	b := testenv.NewBuilder()
	f0 := b.Func(0x400000, 32)
	b.CallSite(f0, 0x40, []stackmap.RegOffset{{Reg: sp, Offset: 8}, {Reg: sp, Offset: 8}}, nil)
	b.CallSite(f0, 0x60, nil, []stackmap.DeoptValue{
		{ID: 5, Kind: stackmap.Constant, Offset: 42},
		{ID: 2, Kind: stackmap.Indirect, Reg: fp, Offset: -16},
		{ID: stackmap.BCOffsetIndex, Kind: stackmap.Constant, Offset: 9},
	})
	f1 := b.Func(0x400100, 16)
	b.CallSite(f1, 0x10, []stackmap.RegOffset{{Reg: fp, Offset: -8}, {Reg: fp, Offset: -8}}, nil)

	d := &testDir{dir: t.TempDir()}
	d.config = filepath.Join(d.dir, "stackmapdump.toml")
	require.NoError(t, os.WriteFile(d.config, []byte("arch = \"amd64\"\n[log]\nlevel = \"warn\"\n"), 0644))
	d.raw = filepath.Join(d.dir, "stackmaps.raw")
	require.NoError(t, os.WriteFile(d.raw, b.Bytes(), 0644))
	return d
}

func (d *testDir) path(name string) string {
	return filepath.Join(d.dir, name)
}

func (d *testDir) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--config", d.config, "--no-color"))
	err := cmd.Execute()
	return out.String(), err
}

func TestConvertBinary(t *testing.T) {
	d := newTestDir(t)
	out := d.path("out.bin")
	_, err := d.run(t, "convert", "--binary", "--text-base", "0x400000", "--module", "2", d.raw, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	v, mods, err := store.ParseFile(data)
	require.NoError(t, err)
	require.Equal(t, store.CurrentVersion, v)
	require.Len(t, mods, 1)
	require.Equal(t, uint32(2), mods[0].Index)
	require.Equal(t, uint32(0x110), mods[0].CodeSize)

	tab, err := compact.Open(mods[0].Blob)
	require.NoError(t, err)
	require.Equal(t, 3, tab.Len())
	require.Equal(t, []stackmap.DeoptValue{
		{ID: stackmap.BCOffsetIndex, Kind: stackmap.Constant, Offset: 9},
		{ID: 2, Kind: stackmap.Indirect, Reg: arch.AMD64.FP, Offset: -16},
		{ID: 5, Kind: stackmap.Constant, Offset: 42},
	}, tab.ResolveDeoptBundle(0x60))
}

func TestConvertHotnessFromEnv(t *testing.T) {
	d := newTestDir(t)
	t.Setenv("STACKMAPDUMP_HOTNESS_THRESHOLD", "2")
	t.Setenv("STACKMAPDUMP_TEXT_BASE", "0x400000")
	out := d.path("hot.bin")
	_, err := d.run(t, "convert", d.raw, out)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	_, mods, err := store.ParseFile(data)
	require.NoError(t, err)
	tab, err := compact.Open(mods[0].Blob)
	require.NoError(t, err)
	require.Equal(t, 2, tab.Len(), "function with a single call site dropped")
}

func TestConvertTextRoundTrip(t *testing.T) {
	d := newTestDir(t)
	text := d.path("out.txt")
	_, err := d.run(t, "convert", "--text", "--text-base", "0x400000", d.raw, text)
	require.NoError(t, err)
	src, err := os.ReadFile(text)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(src), "stackmap 3 call sites\n"))
	require.Contains(t, string(src), "deopt -1 const 9 # bcoffset")

	// The text form converts back to the same blob.
	bin1, bin2 := d.path("a.bin"), d.path("b.bin")
	_, err = d.run(t, "convert", "--text-base", "0x400000", d.raw, bin1)
	require.NoError(t, err)
	_, err = d.run(t, "convert", text, bin2)
	require.NoError(t, err)
	b1, err := os.ReadFile(bin1)
	require.NoError(t, err)
	b2, err := os.ReadFile(bin2)
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestConvertErrors(t *testing.T) {
	d := newTestDir(t)
	_, err := d.run(t, "convert", "--text", "--binary", d.raw, d.path("x"))
	require.Error(t, err, "exclusive flags")

	// Linked addresses do not fit in 32 bits without a text base.
	far := testenv.NewBuilder()
	far.CallSite(far.Func(0x7f0000000000, 0), 8, nil, nil)
	raw := d.path("far.raw")
	require.NoError(t, os.WriteFile(raw, far.Bytes(), 0644))
	_, err = d.run(t, "convert", raw, d.path("far.bin"))
	require.ErrorContains(t, err, "text base")

	_, err = d.run(t, "convert", d.path("missing"), d.path("y"))
	require.Error(t, err)

	_, err = d.run(t, "convert", "--arch", "mips", d.raw, d.path("z"))
	require.ErrorContains(t, err, "unknown architecture")
}

func (d *testDir) convert(t *testing.T) string {
	t.Helper()
	out := d.path("maps.bin")
	_, err := d.run(t, "convert", "--text-base", "0x400000", d.raw, out)
	require.NoError(t, err)
	return out
}

func TestDumpAndLookup(t *testing.T) {
	d := newTestDir(t)
	file := d.convert(t)

	out, err := d.run(t, "dump", file)
	require.NoError(t, err)
	require.Contains(t, out, "version 1.0.0.0, 1 modules")
	require.Contains(t, out, "module 0: code 0x110 bytes, 3 call sites")
	require.Contains(t, out, "0x60")

	out, err = d.run(t, "dump", "--text", file)
	require.NoError(t, err)
	require.Contains(t, out, "callsite 0x110")

	out, err = d.run(t, "lookup", file, "0x40")
	require.NoError(t, err)
	require.Contains(t, out, "pc=0x40")
	require.Contains(t, out, "[sp+8]")

	out, err = d.run(t, "lookup", file, "0x60")
	require.NoError(t, err)
	require.Contains(t, out, "bcoffset")
	require.Contains(t, out, "[fp-16]")

	out, err = d.run(t, "lookup", file, "0x41")
	require.NoError(t, err)
	require.Contains(t, out, "no call site at 0x41")

	_, err = d.run(t, "lookup", "--module", "4", file, "0x40")
	require.ErrorContains(t, err, "no module 4")
}

func TestExportCBOR(t *testing.T) {
	d := newTestDir(t)
	file := d.convert(t)
	out := d.path("maps.cbor")

	_, err := d.run(t, "export", file, out)
	require.ErrorContains(t, err, "--cbor")

	_, err = d.run(t, "export", "--cbor", "--text-base", "0x400000", file, out)
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	e, err := compact.UnmarshalCBOR(data)
	require.NoError(t, err)
	require.Equal(t, "amd64", e.Arch)
	require.Equal(t, uint64(0x400000), e.TextBase)
	require.Len(t, e.CallSites, 3)
	require.Equal(t, uint32(0x110), e.CallSites[2].PC)
}

func TestExplorer(t *testing.T) {
	d := newTestDir(t)
	lf, err := openFile(d.convert(t))
	require.NoError(t, err)

	var out bytes.Buffer
	a := &app{v: viper.New(), log: zerolog.Nop(), arch: &arch.AMD64, stdout: &out}
	e := &explorer{app: a, file: lf, w: &out}

	exec := func(line string) string {
		t.Helper()
		out.Reset()
		quit, err := e.exec(line)
		require.NoError(t, err, line)
		require.False(t, quit)
		return out.String()
	}
	require.Contains(t, exec("help"), "lookup <pc>")
	require.Contains(t, exec("modules"), "* 0")
	require.Contains(t, exec("sites"), "0x60\t0 roots\t3 deopts")
	require.Contains(t, exec("lookup 0x110"), "[fp-8]")
	require.Contains(t, exec("text"), "stackmap 3 call sites")
	require.Empty(t, exec(""))

	for _, bad := range []string{"module 9", "module", "lookup zz", "frobnicate"} {
		_, err := e.exec(bad)
		require.Error(t, err, bad)
	}
	quit, err := e.exec("quit")
	require.NoError(t, err)
	require.True(t, quit)
}
