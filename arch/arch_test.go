// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package arch

import "testing"

func TestLookup(t *testing.T) {
	for name, want := range map[string]*Architecture{
		"amd64":   &AMD64,
		"x86_64":  &AMD64,
		"arm64":   &ARM64,
		"aarch64": &ARM64,
	} {
		a, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if a != want {
			t.Errorf("Lookup(%q) = %s, want %s", name, a.Name, want.Name)
		}
	}
	if _, err := Lookup("mips"); err == nil {
		t.Errorf("Lookup(mips) succeeded")
	}
}

func TestRegisters(t *testing.T) {
	if AMD64.SP != 7 || AMD64.FP != 6 {
		t.Errorf("amd64 sp/fp = %d/%d", AMD64.SP, AMD64.FP)
	}
	if ARM64.SP != 31 || ARM64.FP != 29 {
		t.Errorf("arm64 sp/fp = %d/%d", ARM64.SP, ARM64.FP)
	}
	for _, a := range []*Architecture{&AMD64, &ARM64} {
		if got := a.RegName(a.SP); got != "sp" {
			t.Errorf("%s: RegName(SP) = %q", a.Name, got)
		}
		if got := a.RegName(a.FP); got != "fp" {
			t.Errorf("%s: RegName(FP) = %q", a.Name, got)
		}
		if got := a.RegName(0); got == "" || got == "sp" || got == "fp" {
			t.Errorf("%s: RegName(0) = %q", a.Name, got)
		}
	}
}

func TestUintptr(t *testing.T) {
	buf := make([]byte, 8)
	AMD64.PutUintptr(buf, 0x1122334455667788)
	if buf[0] != 0x88 || buf[7] != 0x11 {
		t.Errorf("PutUintptr wrote % x", buf)
	}
	if got := AMD64.Uintptr(buf); got != 0x1122334455667788 {
		t.Errorf("Uintptr = %#x", got)
	}
	defer func() {
		if recover() == nil {
			t.Errorf("short buffer accepted")
		}
	}()
	AMD64.Uintptr(buf[:4])
}
