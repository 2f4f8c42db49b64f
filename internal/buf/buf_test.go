// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package buf

import (
	"errors"
	"testing"
)

func TestReaderWriter(t *testing.T) {
	w := NewWriter(make([]byte, 32))
	w.Uint8(0xab)
	w.Pad(4)
	w.Uint16(0x1234)
	w.Int32(-5)
	w.Pad(8)
	w.Uint64(1 << 40)
	w.Int64(-1)
	if w.Offset() != 32 {
		t.Fatalf("wrote %d bytes, want 32", w.Offset())
	}

	r := NewReader("test", w.Bytes())
	if got := r.Uint8(); got != 0xab {
		t.Errorf("Uint8 = %#x", got)
	}
	r.Align(4)
	if got := r.Uint16(); got != 0x1234 {
		t.Errorf("Uint16 = %#x", got)
	}
	if got := r.Int32(); got != -5 {
		t.Errorf("Int32 = %d", got)
	}
	r.Align(8)
	if got := r.Uint64(); got != 1<<40 {
		t.Errorf("Uint64 = %#x", got)
	}
	if got := r.Int64(); got != -1 {
		t.Errorf("Int64 = %d", got)
	}
	if r.Len() != 0 || r.Err() != nil {
		t.Errorf("Len = %d, Err = %v after reading everything", r.Len(), r.Err())
	}
}

func TestReaderSticky(t *testing.T) {
	r := NewReader("test", []byte{1, 2, 3})
	if got := r.Uint32(); got != 0 {
		t.Errorf("short Uint32 = %d, want 0", got)
	}
	if !errors.Is(r.Err(), ErrShort) {
		t.Fatalf("Err = %v, want ErrShort", r.Err())
	}
	first := r.Err()
	if got := r.Uint8(); got != 0 {
		t.Errorf("Uint8 after error = %d, want 0", got)
	}
	if r.Err() != first {
		t.Errorf("error was replaced: %v", r.Err())
	}
}

func TestReaderSeek(t *testing.T) {
	r := NewReader("test", []byte{0, 0, 7, 0})
	r.Seek(2)
	if got := r.Uint16(); got != 7 {
		t.Errorf("Uint16 at 2 = %d, want 7", got)
	}
	r.Seek(5)
	if r.Err() == nil {
		t.Errorf("Seek past end succeeded")
	}
	r = NewReader("test", []byte{0})
	r.Skip(-1)
	if r.Err() == nil {
		t.Errorf("negative Skip succeeded")
	}
}

func TestWriterOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("writing past the end did not panic")
		}
	}()
	w := NewWriter(make([]byte, 3))
	w.Uint32(1)
}
