/*
 * axpcore - "inspect" diagnostics subcommand tree.
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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcornwell/axpcore/core"
	"github.com/rcornwell/axpcore/mmio"
	"github.com/rcornwell/axpcore/platform"
)

// runInspect builds the "axpcore inspect" cobra tree and executes it
// against args. Kept separate from runBoot's getopt flags, the way a real
// emulator CLI grows a diagnostics subcommand tree distinct from its
// boot-time flags: getopt owns "how do I start", cobra owns "show me
// what's inside a running instance's collaborators".
func runInspect(args []string) {
	var cpuID int
	var runCycles int

	root := &cobra.Command{
		Use:   "inspect",
		Short: "Dump CORE diagnostic counters from a freshly booted engine",
	}
	root.PersistentFlags().IntVar(&cpuID, "cpu", 0, "CPU id to report on")
	root.PersistentFlags().IntVar(&runCycles, "run", 0, "Run the engine this many maintenance ticks before reporting")

	tlbCmd := &cobra.Command{
		Use:   "tlb",
		Short: "Dump TLB hit/miss/eviction counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := bootAndRun(runCycles)
			cpu := e.CPU(cpuID)
			if cpu == nil {
				return fmt.Errorf("no such cpu %d", cpuID)
			}
			s := cpu.Stats().TLB
			fmt.Printf("cpu%d tlb: hits=%d misses=%d evictions=%d contention=%d invalidates=%d\n",
				cpuID, s.Hits, s.Misses, s.Evictions, s.Contention, s.Invalidates)
			return nil
		},
	}

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Dump L1-D/L1-I/L3 cache counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := bootAndRun(runCycles)
			cpu := e.CPU(cpuID)
			if cpu == nil {
				return fmt.Errorf("no such cpu %d", cpuID)
			}
			s := cpu.Stats()
			l3 := e.L3Stats()
			fmt.Printf("cpu%d l1d: hits=%d misses=%d fills=%d evictions=%d\n",
				cpuID, s.L1Data.Hits, s.L1Data.Misses, s.L1Data.Fills, s.L1Data.Evictions)
			fmt.Printf("cpu%d l1i: hits=%d misses=%d fills=%d evictions=%d\n",
				cpuID, s.L1Inst.Hits, s.L1Inst.Misses, s.L1Inst.Fills, s.L1Inst.Evictions)
			fmt.Printf("l3: hits=%d misses=%d fills=%d evictions=%d writebacks=%d\n",
				l3.Hits, l3.Misses, l3.Fills, l3.Evictions, l3.Writebacks)
			return nil
		},
	}

	transCmd := &cobra.Command{
		Use:   "trans",
		Short: "Dump JIT translation-cache counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e := bootAndRun(runCycles)
			cpu := e.CPU(cpuID)
			if cpu == nil {
				return fmt.Errorf("no such cpu %d", cpuID)
			}
			s := cpu.Stats().Trans
			fmt.Printf("cpu%d translation cache: hits=%d misses=%d evictions=%d invalidations=%d\n",
				cpuID, s.Hits, s.Misses, s.Evictions, s.Invalidations)
			return nil
		},
	}

	mmioCmd := &cobra.Command{
		Use:   "mmio",
		Short: "Describe the active profile's MMIO window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Println(mmio.DescribeWindow(platform.Default()))
			return nil
		},
	}

	root.AddCommand(tlbCmd, cacheCmd, transCmd, mmioCmd)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Println("error:", err)
	}
}

// bootAndRun builds a fresh diagnostic engine and, if cycles > 0, lets it
// run for that many maintenance ticks (a maintenance tick is 50ms per
// core/engine.go's maintenanceInterval) before returning it for reporting,
// so "inspect --run 5" shows non-zero counters instead of an idle engine's
// all-zero stats.
func bootAndRun(cycles int) *core.Engine {
	e := newDiagnosticEngine()
	if cycles <= 0 {
		return e
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cycles)*60*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = e.Start(ctx)
		close(done)
	}()
	<-done
	return e
}
