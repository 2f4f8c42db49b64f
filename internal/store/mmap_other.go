// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix

package store

import (
	"io"
	"os"
)

func mapFile(f *os.File) ([]byte, error) {
	return io.ReadAll(f)
}

func unmapFile(data []byte) error {
	return nil
}
