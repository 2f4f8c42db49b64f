// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compact

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"golang.org/x/aotstackmap/internal/stackmap"
)

// An Export is the decoded form of a table, for consumers that do not
// want to parse the compact layout themselves.
type Export struct {
	Arch      string              `cbor:"arch"`
	TextBase  uint64              `cbor:"text_base"`
	CallSites []stackmap.CallSite `cbor:"call_sites"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("compact: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalCBOR encodes the decoded table t in canonical CBOR, so equal
// tables always produce equal bytes.
func MarshalCBOR(t *Table, arch string, textBase uint64) ([]byte, error) {
	return cborEncMode.Marshal(&Export{Arch: arch, TextBase: textBase, CallSites: t.CallSites()})
}

// UnmarshalCBOR decodes data written by MarshalCBOR.
func UnmarshalCBOR(data []byte) (*Export, error) {
	var e Export
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("compact: unmarshal export: %w", err)
	}
	return &e, nil
}
