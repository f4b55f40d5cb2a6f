/*
 * axpcore - Per-CPU fetch/decode/dispatch/writeback loop.
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

// Package core wires every collaborator package (decode, executor, tlb,
// cache, barrier, smp, jit) into a running multi-CPU Alpha AXP system.
// cpu.go is the per-CPU fetch/decode/dispatch/writeback loop; engine.go is
// the CPU-set owner that builds and threads the collaborators together;
// exception.go is the guest exception vectoring. One goroutine per CPU
// drains that CPU's own mailbox inside its run loop, so no architectural
// state is ever shared across goroutines.
package core

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/rcornwell/axpcore/barrier"
	"github.com/rcornwell/axpcore/cache"
	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/decode"
	"github.com/rcornwell/axpcore/executor"
	"github.com/rcornwell/axpcore/jit"
	"github.com/rcornwell/axpcore/smp"
	"github.com/rcornwell/axpcore/tlb"
	"github.com/rcornwell/axpcore/util/debug"
)

// CPU is one processor: its architectural state plus every per-CPU
// collaborator instance (TLB, private caches, barrier coordinator, JIT
// profiler/compiler/translation cache). The shared L3 and SMP manager live
// on the owning Engine instead, since those are system-wide.
type CPU struct {
	id     int
	engine *Engine
	log    *slog.Logger

	state *cpustate.State

	itlb *integratedTLB // instruction and data entries share one TLB, tagged by isInstruction
	l1i  *cache.Cache
	l1d  cacheRouter

	table *executor.Table
	mem   *executor.Executor

	barrierC *barrier.Coordinator
	elim     *barrier.Eliminator

	profiler   *jit.Profiler
	compiler   *jit.Compiler
	transcache *jit.TranslationCache
	tuner      *jit.Tuner

	mailbox smp.Mailbox

	trapStack []trapFrame
	cycles    uint64
}

// cacheRouter is the subset of the MMIO-aware cache wrapper the CPU loop
// and executor both drive; built per-CPU by engine.go as a memoryRouter.
type cacheRouter interface {
	executor.CacheLevel
	barrier.CacheDrain
}

// FetchWord implements jit.Fetcher: translate pc through this CPU's TLB
// (instruction side) and read the resulting physical line through L1-I.
// Reused both for the CPU's own instruction stream and for the JIT tracer
// walking ahead of a hot PC, so a trace never diverges from what the CPU
// would actually execute.
func (c *CPU) FetchWord(pc uint64) (uint32, error) {
	pa, fault := c.translateFetch(pc)
	if fault != nil {
		return 0, fault
	}
	data, err := c.l1i.Read(pa, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// translateFetch mirrors executor.Executor.translate's read-permission
// check (this core does not model a separate execute-permission bit; a
// page readable by the current mode is also fetchable from, matching the
// permission model memory.go already applies to every other read).
func (c *CPU) translateFetch(pc uint64) (uint64, *executor.Fault) {
	s := c.state
	hit, pa, perms := c.itlb.Lookup(pc, s.ASN, s.IsKernel(), true)
	if hit {
		c.itlb.RecordHit()
	} else {
		c.itlb.RecordMiss()
		walked, wperms, err := c.mem.Walker.Walk(pc, s.ASN, s.IsKernel(), false, true)
		if err != nil {
			return 0, fetchWalkFault(err, pc)
		}
		c.itlb.Insert(pc, walked, s.ASN, wperms, true)
		pa, perms = walked, wperms
	}
	if perms&tlb.PermRead == 0 {
		return 0, &executor.Fault{Kind: executor.ExcExecuteFault, PC: pc, Address: pc}
	}
	return pa, nil
}

func fetchWalkFault(err error, pc uint64) *executor.Fault {
	switch err {
	case tlb.FaultAccessViolation:
		return &executor.Fault{Kind: executor.ExcAccessViolation, PC: pc, Address: pc}
	default:
		return &executor.Fault{Kind: executor.ExcPageFault, PC: pc, Address: pc}
	}
}

// Run drives this CPU's fetch/decode/dispatch/writeback loop until ctx is
// cancelled. Returned errors propagate through the owning errgroup, which
// cancels every sibling CPU and the maintenance loop.
func (c *CPU) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-c.mailbox:
			c.handleMessage(msg)
			continue
		default:
		}

		if c.state.Halted {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case msg := <-c.mailbox:
				c.handleMessage(msg)
			}
			continue
		}

		c.step()
	}
}

// handleMessage answers an SMP mailbox delivery: a peer's lock-reservation
// clear, a barrier broadcast this CPU must locally honor and ack, a TLB
// shootdown, or a halt order from the engine's escalation path.
func (c *CPU) handleMessage(msg smp.Message) {
	switch msg.Kind {
	case "LL-SC-CLEAR":
		c.mem.NotifyPeerWrite(c.state, msg.Addr)
	case "MB", "WMB":
		c.l1d.Flush()
		c.engine.smp.Ack(msg.Corr, c.id)
	case "TLB-SHOOTDOWN":
		c.itlb.InvalidateAll()
	case "HALT":
		c.state.Halted = true
	default:
		c.log.Warn("unrecognized mailbox message", "kind", msg.Kind)
	}
}

// step fetches, decodes, and dispatches exactly one instruction, vectoring
// any resulting fault and feeding the JIT profiler/tracer on the way out.
func (c *CPU) step() {
	startPC := c.state.PC

	if cb, ok := c.transcache.Lookup(startPC); ok {
		next, err := cb.Fn()
		if err != nil {
			c.log.Error("compiled block faulted", "pc", startPC, "err", err)
			c.transcache.InvalidateRange(startPC)
			return
		}
		c.cycles += uint64(cb.InstructionCount)
		cb.RecordCycles(uint64(cb.InstructionCount))
		c.state.PC = next
		return
	}

	c.cycles++
	word, fetchFault := c.FetchWord(startPC)
	if fetchFault != nil {
		f, ok := fetchFault.(*executor.Fault)
		if !ok {
			f = &executor.Fault{Kind: executor.ExcBusError, PC: startPC, Address: startPC}
		}
		c.state.PC = c.vectorException(f)
		return
	}

	in := decode.Decode(word, startPC)
	nextPC, fault := c.dispatchOne(in)
	if fault != nil {
		c.state.PC = c.vectorException(fault)
		return
	}

	if in.Format == decode.PAL && in.PALFunction == palFunctionREI {
		nextPC = c.popTrapFrame()
	}
	c.state.PC = nextPC

	c.elim.Tick()
	c.recordProfile(startPC, in)
}

// dispatchOne executes a single decoded instruction, routing the opcode-18
// memory-barrier family to the barrier coordinator instead of
// executor.Table, matching dispatch.go's documented split.
func (c *CPU) dispatchOne(in decode.Instruction) (nextPC uint64, fault *executor.Fault) {
	if in.Format == decode.Operate && in.Opcode == 0x18 {
		return c.executeBarrier(in), nil
	}
	return c.table.Dispatch(c.state, in)
}

// executeBarrier runs one opcode-0x18 instruction, consulting the
// JIT-assisted elision policy first: debug-trace disables elision
// unconditionally (util/debug.TraceEnabled), per barrier.Eliminator's
// contract. RPCC/RC/RS return a value through Ra; writing it unconditionally
// is harmless for the other functions since their encoding always carries
// Ra=R31, which SetGPR discards.
func (c *CPU) executeBarrier(in decode.Instruction) uint64 {
	fn := barrier.Func(decode.MemoryBarrierFunction(in.Raw))

	if c.elim.Allow(fn, in.PC, debug.TraceEnabled()) {
		return in.PC + 4
	}

	result := c.barrierC.Execute(fn, c.state.GetGPR(in.Rb), c.cycles)
	c.state.SetGPR(in.Ra, result)
	c.elim.RecordCompletion(fn, in.PC)
	return in.PC + 4
}

// recordProfile feeds the hot-PC profiler and, once a PC crosses the
// threshold, traces and submits it for background compilation. Barrier
// elision bookkeeping happens regardless; the profiler and compiler only
// run when JIT is configured on.
func (c *CPU) recordProfile(pc uint64, in decode.Instruction) {
	if in.Format == decode.Memory {
		c.recordMemoryBarrierActivity(in)
	}

	if !c.engine.cfg.JITEnabled || c.compiler == nil {
		return
	}

	if in.Format == decode.Branch {
		c.profiler.RecordBranchTaken(pc)
	}
	if in.Format == decode.Memory {
		c.profiler.RecordMemoryAccess(pc)
	}

	if !c.profiler.RecordExecution(pc) {
		return
	}

	block, err := jit.Trace(&traceFetcher{cpu: c}, pc)
	if err != nil {
		c.log.Debug("trace failed for hot pc", "pc", pc, "err", err)
		return
	}
	c.compiler.Submit(block)
}

// traceFetcher feeds the basic-block tracer. While the current word's
// cache read completes, the next PC's translation is already resolving on
// the TLB's async path, so a long trace overlaps translation with fetch
// instead of serializing the two. Falls back to the synchronous
// translate-and-walk path whenever the overlapped lookup misses.
type traceFetcher struct {
	cpu       *CPU
	pending   *tlb.Handle
	pendingPC uint64
}

func (f *traceFetcher) FetchWord(pc uint64) (uint32, error) {
	c := f.cpu
	s := c.state

	var pa uint64
	resolved := false
	if f.pending != nil && f.pendingPC == pc {
		res := f.pending.Wait()
		f.pending = nil
		if res.Hit && res.Perms&tlb.PermRead != 0 {
			pa = res.PA
			resolved = true
		}
	}
	if !resolved {
		translated, fault := c.translateFetch(pc)
		if fault != nil {
			return 0, fault
		}
		pa = translated
	}

	f.pending = c.itlb.AsyncLookup(pc+4, s.ASN, s.IsKernel(), true)
	f.pendingPC = pc + 4

	data, err := c.l1i.Read(pa, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// recordMemoryBarrierActivity marks the eliminator's history dirty for any
// barrier kind this access would have ordered, so a subsequent MB/WMB at a
// nearby PC can't be elided across memory traffic it was meant to fence.
func (c *CPU) recordMemoryBarrierActivity(in decode.Instruction) {
	c.elim.RecordMemoryActivity(barrier.MB)
	if isStoreOpcode(in.Opcode) {
		c.elim.RecordMemoryActivity(barrier.WMB)
	}
}

func isStoreOpcode(opcode uint8) bool {
	switch opcode {
	case 0x0D, 0x0E, 0x0F, // STW, STB, STQ_U
		0x24, 0x25, 0x26, 0x27, // STF, STG, STS, STT
		0x2C, 0x2D, 0x2E, 0x2F: // STL, STQ, STL_C, STQ_C
		return true
	default:
		return false
	}
}

// Lower implements jit.Lowerer. Every tier replays the traced block
// through the same decode-once-dispatch-per-instruction path step already
// uses; what changes across tiers is how much of that path a call pays for
// again. TierInterpreted/TierFallback both redo full per-instruction
// bookkeeping (profiler counters, eliminator ticks) each time the compiled
// closure runs; TierOptimized treats the block as already proven hot and
// skips re-profiling it. Under debug-trace every block drops to
// TierInterpreted so a trace session can single-step compiled code with
// the full bookkeeping intact.
func (c *CPU) Lower(block *jit.BasicBlock, tier jit.Tier) jit.CompiledFunc {
	if debug.TraceEnabled() {
		tier = jit.TierInterpreted
	}

	decoded := make([]decode.Instruction, len(block.Words))
	pc := block.StartPC
	for i, word := range block.Words {
		decoded[i] = decode.Decode(word, pc)
		pc += 4
	}

	reprofile := tier != jit.TierOptimized

	return func() (uint64, error) {
		next := block.EndPC
		for _, in := range decoded {
			nextPC, fault := c.dispatchOne(in)
			if fault != nil {
				c.state.PC = c.vectorException(fault)
				return c.state.PC, nil
			}
			if in.Format == decode.PAL && in.PALFunction == palFunctionREI {
				nextPC = c.popTrapFrame()
			}
			next = nextPC
			if reprofile {
				c.elim.Tick()
				c.recordProfile(in.PC, in)
			}
		}
		return next, nil
	}
}
