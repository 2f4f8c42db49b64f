// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config handles the stackmapdump.toml configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"golang.org/x/aotstackmap/arch"
)

// FileName is the name of the configuration file looked up by Find.
const FileName = "stackmapdump.toml"

// Config holds settings shared by every stackmapdump command. Command
// line flags and STACKMAPDUMP_* environment variables override it.
type Config struct {
	Arch string `toml:"arch"`
	// TextBase is subtracted from function addresses when a raw stack
	// map is converted, so call-site pcs become offsets into the code
	// section. Zero keeps the addresses as they are.
	TextBase uint64 `toml:"text_base"`
	// HotnessThreshold drops functions with fewer call-site records.
	HotnessThreshold uint64 `toml:"hotness_threshold"`
	Log              Log    `toml:"log"`
	Color            bool   `toml:"color"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

// Log configures logging.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Arch:  "amd64",
		Log:   Log{Level: "info", Format: "console"},
		Color: true,
	}
}

// Load parses the configuration file path. Fields the file leaves out
// keep their defaults.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undec[0].String())
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	c.Path = path
	return c, nil
}

// Find walks up from dir looking for FileName and loads the first one
// found. It returns the default configuration if there is none.
func Find(dir string) (*Config, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks the values that have a fixed set of choices.
func (c *Config) Validate() error {
	if _, err := arch.Lookup(c.Arch); err != nil {
		return err
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}
