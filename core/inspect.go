/*
 * axpcore - Read-only introspection surface for diagnostics front-ends.
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

package core

import (
	"github.com/rcornwell/axpcore/barrier"
	"github.com/rcornwell/axpcore/cache"
	"github.com/rcornwell/axpcore/jit"
	"github.com/rcornwell/axpcore/tlb"
)

// CPUStats bundles one CPU's diagnostic counters, read by the "inspect"
// command tree (cmd/axpcore) and the interactive console so neither has to
// reach past this package into tlb/cache/jit internals directly.
type CPUStats struct {
	PC        uint64
	Cycles    uint64
	Halted    bool
	TLB       tlb.Stats
	L1Data    cache.Stats
	L1Inst    cache.Stats
	Trans     jit.CacheStats
	Barriers  barrier.Stats
}

// CPU looks up one CPU by id, for a host embedding this module that wants
// to poke at a specific CPU's introspection surface. Returns nil if id is
// out of range.
func (e *Engine) CPU(id int) *CPU {
	if id < 0 || id >= len(e.cpus) {
		return nil
	}
	return e.cpus[id]
}

// Stats snapshots c's TLB, private cache, translation-cache, and barrier
// counters. Safe to call from any goroutine: every field it reads already
// guards itself (TLB/cache stats under their own lock, translation-cache
// stats under its own lock, barrier stats likewise).
func (c *CPU) Stats() CPUStats {
	return CPUStats{
		PC:       c.state.PC,
		Cycles:   c.cycles,
		Halted:   c.state.Halted,
		TLB:      c.itlb.Stats(),
		L1Data:   c.l1dStats(),
		L1Inst:   c.l1i.Stats(),
		Trans:    c.transcache.Stats(),
		Barriers: c.barrierC.Stats(),
	}
}

// l1dStats recovers the concrete *cache.Cache's Stats behind the
// cacheRouter interface; every memoryRouter built by engine.go wraps one.
func (c *CPU) l1dStats() cache.Stats {
	type statter interface{ Stats() cache.Stats }
	if s, ok := c.l1d.(statter); ok {
		return s.Stats()
	}
	return cache.Stats{}
}

// L3Stats returns the shared L3's counters, the coherency authority common
// to every CPU.
func (e *Engine) L3Stats() cache.Stats {
	return e.hier.L3.Stats()
}

// GPRs snapshots c's integer register file, R0..R31, for a debugger-style
// register dump (R31 always reads back zero per cpustate.State.GetGPR).
func (c *CPU) GPRs() [32]uint64 {
	return c.state.GPR
}
