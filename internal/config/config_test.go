// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, text string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
arch = "arm64"
text_base = 0x400000
hotness_threshold = 3

[log]
level = "debug"
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "arm64", c.Arch)
	require.Equal(t, uint64(0x400000), c.TextBase)
	require.Equal(t, uint64(3), c.HotnessThreshold)
	require.Equal(t, "debug", c.Log.Level)
	require.Equal(t, "console", c.Log.Format, "default kept")
	require.True(t, c.Color, "default kept")
	require.Equal(t, path, c.Path)
}

func TestLoadErrors(t *testing.T) {
	tests := map[string]string{
		"syntax":      `arch = `,
		"unknown key": `colour = false`,
		"bad arch":    `arch = "mips"`,
		"bad format":  "[log]\nformat = \"xml\"",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), text))
			require.Error(t, err)
		})
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `arch = "arm64"`)
	sub := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0755))

	c, err := Find(sub)
	require.NoError(t, err)
	require.Equal(t, "arm64", c.Arch)
	require.Equal(t, filepath.Join(root, FileName), c.Path)
}

func TestFindNone(t *testing.T) {
	// TempDir lives under the system temp directory, which is not
	// expected to hold a stackmapdump.toml of its own.
	c, err := Find(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, Default(), c)
}
