// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package store keeps the compact stack maps of every loaded AOT module
// of one runtime instance.
//
// A Store is constructed explicitly and handed to whatever needs
// lookups. Modules are write-once: they are added after their blob has
// been fully built or loaded, and from then on only read. Concurrent
// lookups are safe; adding modules takes the write lock, which also
// publishes the new table to readers.
package store

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"golang.org/x/aotstackmap/internal/compact"
	"golang.org/x/aotstackmap/internal/core"
)

var (
	ErrDuplicateModule = errors.New("module already loaded")
	ErrOverlap         = errors.New("module code overlaps another module")
	ErrNoCode          = errors.New("no code loaded for module")
)

// A Module is the stack-map metadata of one loaded code section.
type Module struct {
	Index    uint32
	TextBase core.Address // where the code section is mapped
	CodeSize uint32
	Table    *compact.Table
}

// Contains reports whether pc lies in the module's code section.
func (m *Module) Contains(pc core.Address) bool {
	return m.TextBase <= pc && pc < m.TextBase.Add(int64(m.CodeSize))
}

// Offset returns pc as an offset from the start of the code section,
// the key used by the module's table.
func (m *Module) Offset(pc core.Address) (uint32, bool) {
	if !m.Contains(pc) {
		return 0, false
	}
	return uint32(pc.Sub(m.TextBase)), true
}

// A Store maps module indices to loaded stack maps.
type Store struct {
	log zerolog.Logger

	mu      sync.RWMutex
	byIndex map[uint32]*Module
	byText  []*Module // sorted by TextBase
	maps    [][]byte  // file mappings to release on Close
}

// New returns an empty store that logs through log.
func New(log zerolog.Logger) *Store {
	return &Store{
		log:     log.With().Str("component", "stackmap-store").Logger(),
		byIndex: make(map[uint32]*Module),
	}
}

// Add publishes the compact stack map blob of module index, whose code
// is mapped at textBase. blob must not be modified afterwards.
func (s *Store) Add(index uint32, textBase core.Address, codeSize uint32, blob []byte) error {
	t, err := compact.Open(blob)
	if err != nil {
		return fmt.Errorf("module %d: %w", index, err)
	}
	m := &Module{Index: index, TextBase: textBase, CodeSize: codeSize, Table: t}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIndex[index]; ok {
		return fmt.Errorf("module %d: %w", index, ErrDuplicateModule)
	}
	i := sort.Search(len(s.byText), func(i int) bool { return s.byText[i].TextBase >= textBase })
	if i > 0 && s.byText[i-1].Contains(textBase) ||
		i < len(s.byText) && codeSize > 0 && m.Contains(s.byText[i].TextBase) {
		return fmt.Errorf("module %d at %#x: %w", index, textBase, ErrOverlap)
	}
	byText := make([]*Module, 0, len(s.byText)+1)
	byText = append(byText, s.byText[:i]...)
	byText = append(byText, m)
	byText = append(byText, s.byText[i:]...)
	s.byText = byText
	s.byIndex[index] = m

	s.log.Debug().
		Uint32("module", index).
		Uint64("text", uint64(textBase)).
		Uint32("code_size", codeSize).
		Int("call_sites", t.Len()).
		Msg("loaded stack map")
	return nil
}

// Module returns the module with the given index.
func (s *Store) Module(index uint32) (*Module, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byIndex[index]
	return m, ok
}

// FindModule returns the module whose code contains pc.
func (s *Store) FindModule(pc core.Address) (*Module, bool) {
	s.mu.RLock()
	byText := s.byText
	s.mu.RUnlock()
	i := sort.Search(len(byText), func(i int) bool { return byText[i].TextBase > pc })
	if i == 0 || !byText[i-1].Contains(pc) {
		return nil, false
	}
	return byText[i-1], true
}

// Modules returns all loaded modules ordered by code address.
func (s *Store) Modules() []*Module {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Module(nil), s.byText...)
}

// LoadFile maps the metadata file name and adds each module it
// contains. bases gives the address each module's code was loaded at.
//
// A file of an unsupported version is reported with ErrVersionMismatch
// and nothing is loaded. Otherwise every module that can be added is,
// and the failures of the rest are returned together.
func (s *Store) LoadFile(name string, bases map[uint32]core.Address) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open stack map file: %w", err)
	}
	data, err := mapFile(f)
	f.Close()
	if err != nil {
		return err
	}
	v, mods, err := ParseFile(data)
	if err != nil {
		unmapFile(data)
		s.log.Warn().Err(err).Str("file", name).Msg("rejected stack map file")
		return fmt.Errorf("%s: %w", name, err)
	}

	var result *multierror.Error
	loaded := 0
	for _, m := range mods {
		base, ok := bases[m.Index]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("module %d: %w", m.Index, ErrNoCode))
			continue
		}
		if err := s.Add(m.Index, base, m.CodeSize, m.Blob); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		loaded++
	}
	if loaded == 0 {
		unmapFile(data)
	} else {
		s.mu.Lock()
		s.maps = append(s.maps, data)
		s.mu.Unlock()
	}
	s.log.Info().
		Str("file", name).
		Str("version", v.String()).
		Int("modules", loaded).
		Int("failed", len(mods)-loaded).
		Msg("loaded stack map file")
	return result.ErrorOrNil()
}

// Close drops every module and releases file mappings. Tables obtained
// from the store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result *multierror.Error
	for _, data := range s.maps {
		if err := unmapFile(data); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.maps = nil
	s.byIndex = make(map[uint32]*Module)
	s.byText = nil
	return result.ErrorOrNil()
}
