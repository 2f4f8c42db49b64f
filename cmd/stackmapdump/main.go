// Copyright 2025 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The stackmapdump tool converts the stack maps emitted by the AOT code
// generator into the compact runtime form and inspects the result.
// Run "stackmapdump help" for a list of commands.
package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"golang.org/x/aotstackmap/arch"
	"golang.org/x/aotstackmap/internal/config"
	"golang.org/x/aotstackmap/internal/logging"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	v    *viper.Viper
	cfg  *config.Config
	log  zerolog.Logger
	arch *arch.Architecture

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), log: zerolog.Nop()}
	root := &cobra.Command{
		Use:   "stackmapdump",
		Short: "stackmapdump converts and inspects AOT stack maps",
		Long: `stackmapdump converts the stack map section emitted by the AOT code
generator into the compact form loaded by the runtime, and inspects
compact stack map files.

Settings come from flags, then STACKMAPDUMP_* environment variables,
then the stackmapdump.toml file found in the current directory or
one of its parents.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "configuration file (default: nearest "+config.FileName+")")
	pf.String("arch", "", "target architecture: amd64 or arm64")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("log-format", "", "log format: console or json")
	pf.Bool("no-color", false, "disable colored output")

	root.AddCommand(
		a.convertCmd(),
		a.dumpCmd(),
		a.lookupCmd(),
		a.exploreCmd(),
		a.exportCmd(),
	)
	return root
}

// setup loads the configuration file and resolves flags, environment
// and file values into a.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()

	var err error
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		a.cfg, err = config.Load(path)
	} else {
		a.cfg, err = config.Find(".")
	}
	if err != nil {
		return err
	}

	v := a.v
	v.SetEnvPrefix("STACKMAPDUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("arch", a.cfg.Arch)
	v.SetDefault("text-base", strconv.FormatUint(a.cfg.TextBase, 10))
	v.SetDefault("hotness-threshold", a.cfg.HotnessThreshold)
	v.SetDefault("log-level", a.cfg.Log.Level)
	v.SetDefault("log-format", a.cfg.Log.Format)
	v.SetDefault("no-color", !a.cfg.Color)
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if v.GetBool("no-color") {
		color.NoColor = true
	}
	a.log, err = logging.New(a.stderr, v.GetString("log-level"), v.GetString("log-format"), !color.NoColor)
	if err != nil {
		return err
	}
	a.arch, err = arch.Lookup(v.GetString("arch"))
	if err != nil {
		return err
	}
	if a.cfg.Path != "" {
		a.log.Debug().Str("config", a.cfg.Path).Msg("loaded configuration")
	}
	return nil
}

// textBase returns the --text-base setting.
func (a *app) textBase() (uint64, error) {
	s := a.v.GetString("text-base")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad text base %q: %v", s, err)
	}
	return n, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("stackmapdump failed")
	}
}
