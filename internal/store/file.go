// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/aotstackmap/internal/buf"
)

// A persisted metadata file is
//
//	magic [8]byte, version [4]uint8, moduleCount u32
//	moduleCount × (index u32, codeSize u32, blobSize u32, blob, pad to 4)
//
// where each blob is a compact stack map.

var Magic = [8]byte{'S', 'T', 'K', 'M', 'A', 'P', 0, 0}

// CurrentVersion is the newest file version this package can read.
// Files written by older versions remain loadable.
var CurrentVersion = Version{1, 0, 0, 0}

var (
	ErrBadMagic        = errors.New("not a stack map file")
	ErrVersionMismatch = errors.New("stack map file version mismatch")
	ErrTruncatedFile   = errors.New("truncated stack map file")
)

const fileHeaderSize = 8 + 4 + 4

// A Version is a four-component file format version.
type Version [4]uint8

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// Compare returns -1, 0 or +1 as v is older than, equal to or newer than w.
func (v Version) Compare(w Version) int {
	return bytes.Compare(v[:], w[:])
}

// VerifyVersion reports whether a file of version v can be read,
// i.e. whether v <= CurrentVersion.
func VerifyVersion(v Version) bool {
	return v.Compare(CurrentVersion) <= 0
}

// A FileModule is one module's entry in a metadata file.
type FileModule struct {
	Index    uint32
	CodeSize uint32
	Blob     []byte
}

// MarshalFile encodes modules as a metadata file of the current version.
func MarshalFile(modules []FileModule) []byte {
	size := fileHeaderSize
	for _, m := range modules {
		size += 12 + (len(m.Blob)+3)&^3
	}
	w := buf.NewWriter(make([]byte, size))
	w.Write(Magic[:])
	w.Write(CurrentVersion[:])
	w.Uint32(uint32(len(modules)))
	for _, m := range modules {
		w.Uint32(m.Index)
		w.Uint32(m.CodeSize)
		w.Uint32(uint32(len(m.Blob)))
		w.Write(m.Blob)
		w.Pad(4)
	}
	return w.Bytes()
}

// WriteFile writes modules to the file name.
func WriteFile(name string, modules []FileModule) error {
	if err := os.WriteFile(name, MarshalFile(modules), 0644); err != nil {
		return fmt.Errorf("failed to write stack map file: %w", err)
	}
	return nil
}

// ParseFile splits a metadata file into its modules. The returned blobs
// alias data. A version newer than CurrentVersion is reported as
// ErrVersionMismatch so the caller can fall back to interpretation.
func ParseFile(data []byte) (Version, []FileModule, error) {
	var v Version
	if len(data) < fileHeaderSize {
		return v, nil, fmt.Errorf("%w: %d bytes", ErrTruncatedFile, len(data))
	}
	if !bytes.Equal(data[:8], Magic[:]) {
		return v, nil, fmt.Errorf("%w: magic %q", ErrBadMagic, data[:8])
	}
	copy(v[:], data[8:12])
	if !VerifyVersion(v) {
		return v, nil, fmt.Errorf("%w: file is %v, newest supported is %v", ErrVersionMismatch, v, CurrentVersion)
	}
	r := buf.NewReader("stack map file", data)
	r.Seek(12)
	n := r.Uint32()
	var mods []FileModule
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m := FileModule{Index: r.Uint32(), CodeSize: r.Uint32()}
		size := int(r.Uint32())
		start := r.Offset()
		r.Skip(size)
		r.Align(4)
		if r.Err() != nil {
			break
		}
		m.Blob = data[start : start+size]
		mods = append(mods, m)
	}
	if err := r.Err(); err != nil {
		return v, nil, fmt.Errorf("%w: %v", ErrTruncatedFile, err)
	}
	return v, mods, nil
}
