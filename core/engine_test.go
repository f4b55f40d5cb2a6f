/*
 * axpcore - Engine wiring and end-to-end JIT scenarios.
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
	"context"
	"encoding/binary"
	"testing"

	"github.com/rcornwell/axpcore/barrier"
	"github.com/rcornwell/axpcore/cache"
	"github.com/rcornwell/axpcore/jit"
)

func encodeOperate(opcode, ra, rb, function, rc uint32) uint32 {
	return (opcode << 26) | (ra << 21) | (rb << 16) | (function << 5) | rc
}

func encodeBranch(opcode, ra uint32, disp int32) uint32 {
	return (opcode << 26) | (ra << 21) | (uint32(disp) & 0x1fffff)
}

// writeWord stores word at pa through the same L1-D path a guest STL
// would use. The router's self-modifying-code handling pushes the bytes
// down to L2 on its own, so the split L1-I observes them on its next
// refill with no extra flushing here.
func writeWord(t *testing.T, cpu *CPU, pa uint64, word uint32) {
	t.Helper()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], word)
	if err := cpu.mem.Cache.Write(pa, buf[:]); err != nil {
		t.Fatalf("write at %#x: %v", pa, err)
	}
}

func newTestEngine(t *testing.T, jitThreshold uint64) *Engine {
	t.Helper()
	cfg := DefaultEngineConfig()
	cfg.NumCPUs = 1
	cfg.MemorySize = 4 << 20
	cfg.JITThreshold = jitThreshold
	return NewEngine(cfg)
}

// TestEngineWiresOneCPU confirms NewEngine builds a CPU whose collaborators
// all point back at the shared Engine state, the basic sanity check every
// other scenario here builds on.
func TestEngineWiresOneCPU(t *testing.T) {
	e := newTestEngine(t, 1000)
	if e.CPUCount() != 1 {
		t.Fatalf("CPUCount() = %d, want 1", e.CPUCount())
	}
	cpu := e.CPU(0)
	if cpu == nil {
		t.Fatal("CPU(0) returned nil")
	}
	if e.CPU(1) != nil {
		t.Fatal("CPU(1) should be out of range")
	}
}

// TestEngineExecutesAddqThroughStep drives one CPU's fetch/decode/dispatch
// loop against a single ADDQ instruction placed in memory, exercising the
// same path Run uses rather than calling executeInteger directly.
func TestEngineExecutesAddqThroughStep(t *testing.T) {
	e := newTestEngine(t, 1000)
	cpu := e.CPU(0)

	writeWord(t, cpu, 0, encodeOperate(0x10, 1, 2, 0x20, 3)) // ADDQ R1,R2,R3
	cpu.state.SetGPR(1, 1)
	cpu.state.SetGPR(2, 2)

	cpu.step()

	if cpu.state.PC != 4 {
		t.Fatalf("PC = %#x, want 4", cpu.state.PC)
	}
	if got := cpu.state.GetGPR(3); got != 3 {
		t.Fatalf("R3 = %d, want 3", got)
	}
}

// TestEngineCompilesHotLoop runs a two-instruction increment loop past the
// JIT threshold and confirms the translation cache picks up the loop head,
// and that execution through the compiled path keeps advancing state
// identically to the interpreted path that produced it.
func TestEngineCompilesHotLoop(t *testing.T) {
	const threshold = 5
	e := newTestEngine(t, threshold)
	cpu := e.CPU(0)
	cpu.compiler = jit.NewCompiler(context.Background(), 1, cpu, cpu.transcache)

	// Loop: 0: ADDQ R1,R2,R1 ; 4: BR R31,-2 (back to 0).
	writeWord(t, cpu, 0, encodeOperate(0x10, 1, 2, 0x20, 1))
	writeWord(t, cpu, 4, encodeBranch(0x30, 31, -2))
	cpu.state.SetGPR(2, 1)

	for i := 0; i < threshold+2; i++ {
		cpu.step() // pc 0: ADDQ
		cpu.step() // pc 4: BR back to 0
	}
	if err := cpu.compiler.Wait(); err != nil {
		t.Fatalf("compiler.Wait: %v", err)
	}

	if _, ok := cpu.transcache.Lookup(0); !ok {
		t.Fatal("expected a compiled block at the loop head after crossing the JIT threshold")
	}

	before := cpu.state.GetGPR(1)
	cpu.state.PC = 0
	cpu.step() // should now take the compiled-block path
	if cpu.state.GetGPR(1) != before+1 {
		t.Fatalf("R1 = %d after compiled step, want %d", cpu.state.GetGPR(1), before+1)
	}
	if cpu.state.PC != 0 {
		t.Fatalf("PC = %#x after compiled loop iteration, want back at loop head 0", cpu.state.PC)
	}
}

// TestEngineInvalidatesCompiledBlockOnSelfModify confirms a store through the
// same cache path the loop runs under drops a covering translation-cache
// entry, per the self-modifying-code rule memoryRouter.Write enforces.
func TestEngineInvalidatesCompiledBlockOnSelfModify(t *testing.T) {
	const threshold = 3
	e := newTestEngine(t, threshold)
	cpu := e.CPU(0)
	cpu.compiler = jit.NewCompiler(context.Background(), 1, cpu, cpu.transcache)

	writeWord(t, cpu, 0, encodeOperate(0x10, 1, 2, 0x20, 1))
	writeWord(t, cpu, 4, encodeBranch(0x30, 31, -2))
	cpu.state.SetGPR(2, 1)

	for i := 0; i < threshold+2; i++ {
		cpu.step()
		cpu.step()
	}
	if err := cpu.compiler.Wait(); err != nil {
		t.Fatalf("compiler.Wait: %v", err)
	}
	if _, ok := cpu.transcache.Lookup(0); !ok {
		t.Fatal("expected a compiled block before the self-modifying store")
	}

	// Overwrite the loop head with a different ADDQ target register.
	writeWord(t, cpu, 0, encodeOperate(0x10, 1, 2, 0x20, 5))

	if _, ok := cpu.transcache.Lookup(0); ok {
		t.Fatal("expected the store to invalidate the compiled block covering pc 0")
	}

	cpu.state.PC = 0
	cpu.state.SetGPR(1, 0)
	cpu.state.SetGPR(5, 0)
	cpu.step()
	if cpu.state.GetGPR(5) != 1 {
		t.Fatalf("R5 = %d, want 1 (new instruction must take effect)", cpu.state.GetGPR(5))
	}
	if cpu.state.GetGPR(1) != 0 {
		t.Fatalf("R1 = %d, want unchanged 0 (old instruction must no longer run)", cpu.state.GetGPR(1))
	}
}

func TestBarrierEscalateHaltsOwningCPU(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.NumCPUs = 1
	cfg.MemorySize = 4 << 20
	cfg.BarrierPolicy = barrier.PolicyEscalate
	e := NewEngine(cfg)
	cpu := e.CPU(0)

	e.ReportFault(0, "barrier-timeout", "MB")

	select {
	case msg := <-e.smp.Mailbox(0):
		cpu.handleMessage(msg)
	default:
		t.Fatal("expected a halt message in the CPU's mailbox")
	}
	if !cpu.state.Halted {
		t.Fatal("escalate policy must halt the CPU that owned the barrier")
	}
}

func TestResetPolicyLeavesCPURunning(t *testing.T) {
	e := newTestEngine(t, 1000)
	cpu := e.CPU(0)

	e.ReportFault(0, "barrier-timeout", "MB")

	select {
	case msg := <-e.smp.Mailbox(0):
		t.Fatalf("reset policy must not message the CPU, got %+v", msg)
	default:
	}
	if cpu.state.Halted {
		t.Fatal("reset policy must leave the CPU running")
	}
}

func TestASNCounterRecyclesAfterWrap(t *testing.T) {
	c := newAtomic32(2)
	if v, recycled := c.next(); v != 1 || recycled {
		t.Fatalf("first = (%d, %v), want (1, false)", v, recycled)
	}
	if v, recycled := c.next(); v != 2 || recycled {
		t.Fatalf("second = (%d, %v), want (2, false)", v, recycled)
	}
	if v, recycled := c.next(); v != 1 || !recycled {
		t.Fatalf("third = (%d, %v), want (1, true)", v, recycled)
	}
}

func TestIntegrationSectionParses(t *testing.T) {
	cfg := cache.DefaultIntegratorConfig()
	err := applyIntegrationSection(map[string]string{
		"prefetchDepth":    "4",
		"prefetchDistance": "2",
		"cacheLineSize":    "32",
		"pageSize":         "4096",
		"efficiencyTarget": "0.75",
		"coherencyEnabled": "false",
		"prefetchEnabled":  "true",
		"writebackEnabled": "false",
	}, &cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PrefetchDepth != 4 || cfg.PrefetchDistance != 2 || cfg.CacheLineSize != 32 {
		t.Fatalf("geometry = %+v", cfg)
	}
	if cfg.PageSize != 4096 || cfg.EfficiencyTarget != 0.75 {
		t.Fatalf("tuning = %+v", cfg)
	}
	if cfg.CoherencyEnabled || !cfg.PrefetchEnabled || cfg.WritebackEnabled {
		t.Fatalf("flags = %+v", cfg)
	}
}

func TestIntegrationSectionRejectsBadTarget(t *testing.T) {
	cfg := cache.DefaultIntegratorConfig()
	if err := applyIntegrationSection(map[string]string{"efficiencyTarget": "1.5"}, &cfg); err == nil {
		t.Fatal("expected an error for an out-of-range efficiency target")
	}
}

func TestTlbSystemMaxCpusCapsProcessorCount(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.NumCPUs = 8
	if err := applyTLBSystemSection(map[string]string{"maxCpus": "4"}, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.NumCPUs != 4 {
		t.Fatalf("NumCPUs = %d, want capped to 4", cfg.NumCPUs)
	}

	cfg.NumCPUs = 2
	if err := applyTLBSystemSection(map[string]string{"maxCpus": "4"}, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.NumCPUs != 2 {
		t.Fatalf("NumCPUs = %d, want 2 left untouched under the cap", cfg.NumCPUs)
	}
}
