// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package buf provides bounds-checked little-endian cursors over flat
// byte buffers, used by both the raw stack-map parser and the compact
// stack-map codec.
package buf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShort is reported when a read runs past the end of the buffer.
var ErrShort = errors.New("read past end of buffer")

// A Reader reads fixed-width values from a byte slice.
//
// Errors are sticky: after the first failed read every later read
// returns zero and Err reports the original failure. Callers decode a
// whole structure and check Err once.
type Reader struct {
	name string
	data []byte
	off  int
	err  error
}

// NewReader returns a Reader over data. name is used in error messages.
func NewReader(name string, data []byte) *Reader {
	return &Reader{name: name, data: data}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error {
	return r.err
}

// Offset returns the current position from the start of the buffer.
func (r *Reader) Offset() int {
	return r.off
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.off
}

// Seek moves the cursor to off.
func (r *Reader) Seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.data) {
		r.fail(off, 0)
		return
	}
	r.off = off
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) {
	r.bytes(n)
}

// Align advances the cursor to the next multiple of n.
func (r *Reader) Align(n int) {
	if rem := r.off % n; rem != 0 {
		r.Skip(n - rem)
	}
}

func (r *Reader) fail(off, n int) {
	r.err = fmt.Errorf("%s: %w: want %d bytes at offset %d, have %d", r.name, ErrShort, n, off, len(r.data))
}

func (r *Reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.fail(r.off, n)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Uint8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Uint16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) Uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Int32() int32 {
	return int32(r.Uint32())
}

func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// A Writer fills a preallocated byte slice. Writing past the end of the
// slice is an internal layout bug and panics; the Writer never grows.
type Writer struct {
	data []byte
	off  int
}

// NewWriter returns a Writer over data, starting at offset 0.
func NewWriter(data []byte) *Writer {
	return &Writer{data: data}
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int {
	return w.off
}

// Bytes returns the underlying buffer.
func (w *Writer) Bytes() []byte {
	return w.data
}

func (w *Writer) next(n int) []byte {
	if w.off+n > len(w.data) {
		panic(fmt.Sprintf("buf: write of %d bytes at offset %d overflows buffer of %d bytes", n, w.off, len(w.data)))
	}
	b := w.data[w.off : w.off+n]
	w.off += n
	return b
}

func (w *Writer) Uint8(v uint8) {
	w.next(1)[0] = v
}

func (w *Writer) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(w.next(2), v)
}

func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.next(4), v)
}

func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.next(8), v)
}

func (w *Writer) Int32(v int32) {
	w.Uint32(uint32(v))
}

func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

// Write copies b into the buffer.
func (w *Writer) Write(b []byte) {
	copy(w.next(len(b)), b)
}

// Pad writes zero bytes up to the next multiple of n.
func (w *Writer) Pad(n int) {
	if rem := w.off % n; rem != 0 {
		clear(w.next(n - rem))
	}
}
