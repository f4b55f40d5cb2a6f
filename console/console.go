/*
 * axpcore - Interactive debug console over the core's own introspection.
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

// Package console is a tiny liner-based REPL over Engine's own stats
// surface (core.CPU.Stats, core.Engine.L3Stats) -- not a guest-facing
// front-end. Its "parser" is the handful of read-only stat and control
// words below, since guest I/O and device models are out of this core's
// scope.
package console

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/rcornwell/axpcore/barrier"
	"github.com/rcornwell/axpcore/core"
	"github.com/rcornwell/axpcore/util/hexutil"
)

// words lists every recognized command, used both to dispatch and to
// drive the liner completer (mirrors reader.go's parser.CompleteCmd).
var words = []string{"cpu", "regs", "tlb", "l1d", "l1i", "trans", "barrier", "l3", "help", "quit"}

// Run starts the console REPL against e, blocking until the user quits or
// aborts with Ctrl-D/Ctrl-C. Errors reading the line are logged and end
// the loop, matching reader.go's ConsoleReader behavior.
func Run(e *core.Engine) {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(partial string) []string {
		var out []string
		for _, w := range words {
			if strings.HasPrefix(w, partial) {
				out = append(out, w)
			}
		}
		sort.Strings(out)
		return out
	})

	for {
		command, err := line.Prompt("axpcore> ")
		if err == nil {
			line.AppendHistory(command)
			quit := dispatch(e, command)
			if quit {
				return
			}
			continue
		}

		if errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		slog.Error("console: error reading line: " + err.Error())
		return
	}
}

// dispatch runs one command line, printing its result to stdout (the
// console is a debug tool, not a logging subsystem, so it writes directly
// rather than through slog). Returns true when the REPL should exit.
func dispatch(e *core.Engine, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true
	case "help":
		printHelp()
	case "cpu":
		printCPU(e, fields[1:])
	case "regs":
		printRegs(e, fields[1:])
	case "tlb":
		printTLB(e, fields[1:])
	case "l1d":
		printCacheStats(e, fields[1:], "l1d")
	case "l1i":
		printCacheStats(e, fields[1:], "l1i")
	case "trans":
		printTrans(e, fields[1:])
	case "barrier":
		printBarrier(e, fields[1:])
	case "l3":
		s := e.L3Stats()
		fmt.Printf("L3: reads=%d writes=%d hits=%d misses=%d fills=%d evictions=%d writebacks=%d\n",
			s.Reads, s.Writes, s.Hits, s.Misses, s.Fills, s.Evictions, s.Writebacks)
	default:
		fmt.Printf("unrecognized command %q; try 'help'\n", fields[0])
	}
	return false
}

func printHelp() {
	fmt.Println("commands: cpu <n>, regs <n>, tlb <n>, l1d <n>, l1i <n>, trans <n>, barrier <n>, l3, help, quit")
}

// printRegs dumps a CPU's R0..R31 eight-per-line as 16-digit hex, the way a
// hardware debugger's "regs" command would.
func printRegs(e *core.Engine, args []string) {
	id, err := parseCPUArg(args)
	if err != nil {
		fmt.Printf("invalid cpu id: %v\n", err)
		return
	}
	cpu := e.CPU(id)
	if cpu == nil {
		fmt.Printf("no such cpu %d\n", id)
		return
	}
	gpr := cpu.GPRs()
	var b strings.Builder
	for row := 0; row < 32; row += 8 {
		b.Reset()
		fmt.Fprintf(&b, "r%-2d: ", row)
		hexutil.FormatQuad(&b, gpr[row:row+8])
		fmt.Println(strings.TrimRight(b.String(), " "))
	}
}

func parseCPUArg(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	return strconv.Atoi(args[0])
}

func printCPU(e *core.Engine, args []string) {
	id, err := parseCPUArg(args)
	if err != nil {
		fmt.Printf("invalid cpu id: %v\n", err)
		return
	}
	cpu := e.CPU(id)
	if cpu == nil {
		fmt.Printf("no such cpu %d (have %d)\n", id, e.CPUCount())
		return
	}
	s := cpu.Stats()
	fmt.Printf("cpu%d: pc=0x%016x cycles=%d halted=%v\n", id, s.PC, s.Cycles, s.Halted)
}

func printTLB(e *core.Engine, args []string) {
	id, err := parseCPUArg(args)
	if err != nil {
		fmt.Printf("invalid cpu id: %v\n", err)
		return
	}
	cpu := e.CPU(id)
	if cpu == nil {
		fmt.Printf("no such cpu %d\n", id)
		return
	}
	s := cpu.Stats().TLB
	fmt.Printf("cpu%d tlb: hits=%d misses=%d evictions=%d contention=%d invalidates=%d\n",
		id, s.Hits, s.Misses, s.Evictions, s.Contention, s.Invalidates)
}

func printCacheStats(e *core.Engine, args []string, which string) {
	id, err := parseCPUArg(args)
	if err != nil {
		fmt.Printf("invalid cpu id: %v\n", err)
		return
	}
	cpu := e.CPU(id)
	if cpu == nil {
		fmt.Printf("no such cpu %d\n", id)
		return
	}
	stats := cpu.Stats()
	s := stats.L1Data
	if which == "l1i" {
		s = stats.L1Inst
	}
	fmt.Printf("cpu%d %s: reads=%d writes=%d hits=%d misses=%d fills=%d evictions=%d writebacks=%d\n",
		id, which, s.Reads, s.Writes, s.Hits, s.Misses, s.Fills, s.Evictions, s.Writebacks)
}

func printTrans(e *core.Engine, args []string) {
	id, err := parseCPUArg(args)
	if err != nil {
		fmt.Printf("invalid cpu id: %v\n", err)
		return
	}
	cpu := e.CPU(id)
	if cpu == nil {
		fmt.Printf("no such cpu %d\n", id)
		return
	}
	s := cpu.Stats().Trans
	fmt.Printf("cpu%d translation cache: hits=%d misses=%d evictions=%d invalidations=%d\n",
		id, s.Hits, s.Misses, s.Evictions, s.Invalidations)
}

func printBarrier(e *core.Engine, args []string) {
	id, err := parseCPUArg(args)
	if err != nil {
		fmt.Printf("invalid cpu id: %v\n", err)
		return
	}
	cpu := e.CPU(id)
	if cpu == nil {
		fmt.Printf("no such cpu %d\n", id)
		return
	}
	s := cpu.Stats().Barriers
	fmt.Printf("cpu%d barriers: timeouts=%d", id, s.Timeouts)
	kinds := make([]barrier.Func, 0, len(s.Executed))
	for k := range s.Executed {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Printf(" %d=%d", k, s.Executed[k])
	}
	fmt.Println()
}
