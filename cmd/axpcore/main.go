/*
 * axpcore - Main process.
 *
 * Copyright 2025, axpcore Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// axpcore boots the CORE execution engine standalone: load configuration,
// build an Engine, and either run it to completion (Ctrl-C to stop) or, if
// invoked as "axpcore inspect ...", hand off to a small cobra subcommand
// tree that boots a short-lived Engine and dumps its diagnostic counters.
// Boot-time flags go through getopt, logging through slog via util/logger,
// shutdown through os/signal.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	configparser "github.com/rcornwell/axpcore/config/configparser"
	debugconfig "github.com/rcornwell/axpcore/config/debugconfig"
	"github.com/rcornwell/axpcore/console"
	"github.com/rcornwell/axpcore/core"
	"github.com/rcornwell/axpcore/platform"
	logger "github.com/rcornwell/axpcore/util/logger"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "inspect" {
		runInspect(os.Args[2:])
		return
	}
	runBoot()
}

// runBoot parses the primary getopt flags and starts the engine. --cpus
// and --jit can also be set by the loaded config file; the flag wins when
// both are given, since it was named on the command line last.
func runBoot() {
	optConfig := getopt.StringLong("config", 'c', "axpcore.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optCPUs := getopt.IntLong("cpus", 'n', 0, "Processor count (0 = use config file)")
	optJIT := getopt.BoolLong("jit", 'j', "Enable JIT compilation")
	optConsole := getopt.BoolLong("console", 'i', "Start interactive debug console")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create log file:", err)
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	log := slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, false))
	slog.SetDefault(log)

	log.Info("axpcore started")

	cfg := core.DefaultEngineConfig()

	if _, err := os.Stat(*optConfig); err == nil {
		p := configparser.New()
		debugconfig.Register(p)
		core.RegisterConfig(p, &cfg)
		if err := p.LoadFile(*optConfig); err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
	} else if *optConfig != "axpcore.cfg" {
		log.Error("configuration file " + *optConfig + " can't be found")
		os.Exit(1)
	}

	if *optCPUs > 0 {
		cfg.NumCPUs = *optCPUs
	}
	if *optJIT {
		cfg.JITEnabled = true
	}

	engine := core.NewEngine(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() {
		done <- engine.Start(ctx)
	}()

	if *optConsole {
		go console.Run(engine)
	}

	select {
	case <-sigChan:
		log.Info("shutting down on signal")
		cancel()
		<-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("engine stopped", "err", err)
			os.Exit(1)
		}
	}

	log.Info("axpcore stopped")
}

// newDiagnosticEngine boots a single-CPU, EV6 engine for the inspect
// subcommand tree: a fresh, unconfigured Engine whose counters start at
// zero, since "axpcore inspect" demonstrates the stats surface rather than
// attaching to another process's already-running state (this core
// deliberately has no IPC transport to a separate live process).
func newDiagnosticEngine() *core.Engine {
	cfg := core.DefaultEngineConfig()
	cfg.Profile = platform.Default()
	return core.NewEngine(cfg)
}
