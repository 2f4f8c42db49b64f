// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"golang.org/x/aotstackmap/internal/compact"
)

func (a *app) exploreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explore <file>",
		Short: "browse a stack map file interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lf, err := openFile(args[0])
			if err != nil {
				return err
			}
			return a.explore(lf)
		},
	}
}

var exploreCompleter = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("modules"),
	readline.PcItem("module"),
	readline.PcItem("sites"),
	readline.PcItem("lookup"),
	readline.PcItem("text"),
	readline.PcItem("quit"),
)

func (a *app) explore(lf *loadedFile) error {
	var history string
	if dir, err := os.UserCacheDir(); err == nil {
		history = filepath.Join(dir, "stackmapdump_history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "(stackmapdump) ",
		HistoryFile:     history,
		AutoComplete:    exploreCompleter,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	e := &explorer{app: a, file: lf, w: rl.Stdout()}
	if len(lf.modules) > 0 {
		e.cur = lf.modules[0].Index
	}
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		quit, err := e.exec(line)
		if err != nil {
			missColor.Fprintf(e.w, "%v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// An explorer evaluates the commands of the interactive shell.
type explorer struct {
	app  *app
	file *loadedFile
	cur  uint32 // selected module
	w    io.Writer
}

func (e *explorer) exec(line string) (quit bool, err error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return false, nil
	}
	switch f[0] {
	case "help":
		fmt.Fprint(e.w, `commands:
  modules         list modules
  module <index>  select a module
  sites           list the selected module's call sites
  lookup <pc>     print one call site
  text            print the selected module in text form
  quit            leave
`)
	case "modules":
		for _, m := range e.file.modules {
			mark := " "
			if m.Index == e.cur {
				mark = "*"
			}
			fmt.Fprintf(e.w, "%s %d\tcode %#x bytes\tmetadata %d bytes\n", mark, m.Index, m.CodeSize, len(m.Blob))
		}
	case "module":
		if len(f) != 2 {
			return false, fmt.Errorf("usage: module <index>")
		}
		n, err := strconv.ParseUint(f[1], 0, 32)
		if err != nil {
			return false, fmt.Errorf("can't parse %s as a module index", f[1])
		}
		if _, err := e.file.table(uint32(n)); err != nil {
			return false, err
		}
		e.cur = uint32(n)
	case "sites":
		t, err := e.table()
		if err != nil {
			return false, err
		}
		for _, cs := range t.CallSites() {
			fmt.Fprintf(e.w, "%#x\t%d roots\t%d deopts\n", cs.PC, len(cs.Roots)/2, len(cs.Deopts))
		}
	case "lookup":
		if len(f) != 2 {
			return false, fmt.Errorf("usage: lookup <pc>")
		}
		pc, err := strconv.ParseUint(f[1], 0, 32)
		if err != nil {
			return false, fmt.Errorf("can't parse %s as a pc", f[1])
		}
		t, err := e.table()
		if err != nil {
			return false, err
		}
		e.app.lookup(e.w, t, uint32(pc))
	case "text":
		t, err := e.table()
		if err != nil {
			return false, err
		}
		return false, compact.WriteText(e.w, t, e.app.arch)
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %q, try help", f[0])
	}
	return false, nil
}

func (e *explorer) table() (*compact.Table, error) {
	return e.file.table(e.cur)
}
