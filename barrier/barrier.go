/*
 * axpcore - Memory-barrier coordinator.
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

// Package barrier implements the opcode-0x18 memory-barrier coordinator.
// One Coordinator runs per CPU; it drains local trap/exception state,
// drives the cache hierarchy's flush path, and for the SMP-visible
// barriers waits on peer acknowledgement through the SMP manager
// collaborator.
package barrier

import (
	"sync"
	"time"
)

// Func is the opcode-0x18 function code selecting the barrier kind.
type Func uint16

const (
	TRAPB   Func = 0x0000
	EXCB    Func = 0x0400
	MB      Func = 0x4000
	WMB     Func = 0x4400
	FETCH   Func = 0x8000
	FETCHM  Func = 0xA000
	RPCC    Func = 0xC000
	RC      Func = 0xE000
	RS      Func = 0xF000
)

func (f Func) String() string {
	switch f {
	case TRAPB:
		return "TRAPB"
	case EXCB:
		return "EXCB"
	case MB:
		return "MB"
	case WMB:
		return "WMB"
	case FETCH:
		return "FETCH"
	case FETCHM:
		return "FETCH_M"
	case RPCC:
		return "RPCC"
	case RC:
		return "RC"
	case RS:
		return "RS"
	default:
		return "UNKNOWN"
	}
}

// TimeoutPolicy selects what happens when an SMP acknowledgement wait
// exceeds its bound.
type TimeoutPolicy int

const (
	// PolicyReset clears the pending barrier state and reports the
	// timeout through the error channel, letting the CPU continue;
	// recover-locally-then-report is the default posture for
	// host-internal faults.
	PolicyReset TimeoutPolicy = iota
	// PolicyEscalate halts the owning CPU instead of resetting, for
	// deployments that prefer fail-stop over fail-recover on a barrier
	// timeout.
	PolicyEscalate
)

// TrapSource reports and drains this CPU's outstanding traps so TRAPB and
// EXCB have something concrete to wait on. cpustate.State implements this.
type TrapSource interface {
	PendingArithmeticTraps() uint32
	PendingFPExceptions() uint32
	DrainArithmeticTraps()
	DrainFPExceptions()
}

// CacheDrain is the subset of the cache hierarchy the coordinator drives
// for MB/WMB/FETCH/FETCH_M.
type CacheDrain interface {
	Flush()
	Prefetch(pa uint64, length int)
	PrefetchExclusive(pa uint64, length int)
}

// SMP is the SMP manager collaborator: broadcast + wait for ack.
type SMP interface {
	Broadcast(sender int, msg string, timeout time.Duration) (acked []int, timedOut []int)
	CPUCount() int
	ThisCPUID() int
}

// FaultReporter receives host-internal fault reports, e.g. the SMP
// manager's bound error channel wired in by core/engine.go.
type FaultReporter interface {
	ReportFault(cpu int, kind string, detail string)
}

// Coordinator is one CPU's barrier coordinator.
type Coordinator struct {
	mu      sync.Mutex
	cpu     int
	traps   TrapSource
	cache   CacheDrain
	smp     SMP
	faults  FaultReporter
	policy  TimeoutPolicy
	timeout time.Duration

	uniqueBit bool // backing store for the RC/RS "unique" flag

	stats Stats
}

// Stats accumulates per-kind execution counts and the timeout count, for
// diagnostics and tests.
type Stats struct {
	Executed map[Func]uint64
	Timeouts uint64
}

// Config bundles a Coordinator's collaborators.
type Config struct {
	CPU     int
	Traps   TrapSource
	Cache   CacheDrain
	SMP     SMP
	Faults  FaultReporter
	Policy  TimeoutPolicy
	Timeout time.Duration // ack-wait bound; zero selects DefaultTimeout
}

// DefaultTimeout bounds how long an SMP barrier waits for peer acks.
const DefaultTimeout = 300 * time.Millisecond

// New builds a Coordinator from its collaborators.
func New(cfg Config) *Coordinator {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Coordinator{
		cpu:     cfg.CPU,
		traps:   cfg.Traps,
		cache:   cfg.Cache,
		smp:     cfg.SMP,
		faults:  cfg.Faults,
		policy:  cfg.Policy,
		timeout: cfg.Timeout,
		stats:   Stats{Executed: make(map[Func]uint64)},
	}
}

// Execute dispatches one opcode-0x18 instruction by function code. rb is
// the effective address operand used by FETCH/FETCH_M; ra receives the
// result of RPCC/RC/RS. pcc is the caller-supplied cycle counter sample for
// RPCC.
func (c *Coordinator) Execute(fn Func, rb uint64, pcc uint64) (result uint64) {
	c.mu.Lock()
	c.stats.Executed[fn]++
	c.mu.Unlock()

	switch fn {
	case TRAPB:
		c.drainTrapb()
	case EXCB:
		c.drainExcb()
	case MB:
		c.smpBarrier(true)
	case WMB:
		c.smpBarrier(false)
	case FETCH:
		c.cache.Prefetch(rb, 64)
	case FETCHM:
		c.cache.PrefetchExclusive(rb, 64)
	case RPCC:
		return pcc
	case RC:
		c.mu.Lock()
		defer c.mu.Unlock()
		old := c.uniqueBit
		c.uniqueBit = false
		return boolToWord(old)
	case RS:
		c.mu.Lock()
		defer c.mu.Unlock()
		old := c.uniqueBit
		c.uniqueBit = true
		return boolToWord(old)
	}
	return 0
}

func boolToWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// drainTrapb waits for all prior arithmetic traps to resolve. Local only:
// no SMP effect.
func (c *Coordinator) drainTrapb() {
	for c.traps.PendingArithmeticTraps() != 0 {
		c.traps.DrainArithmeticTraps()
	}
}

// drainExcb waits for all prior exceptions (arithmetic traps plus FP
// exceptions) to resolve: EXCB drains a strict superset of what TRAPB
// drains.
func (c *Coordinator) drainExcb() {
	c.drainTrapb()
	for c.traps.PendingFPExceptions() != 0 {
		c.traps.DrainFPExceptions()
	}
}

// smpBarrier implements MB (full drain) and WMB (store drain only),
// broadcasting to peers and waiting on acknowledgement under the
// configured timeout. A timeout is handled per c.policy rather than
// retried silently.
func (c *Coordinator) smpBarrier(drainLoads bool) {
	c.cache.Flush()

	msg := "WMB"
	if drainLoads {
		msg = "MB"
	}

	_, timedOut := c.smp.Broadcast(c.cpu, msg, c.timeout)
	if len(timedOut) == 0 {
		return
	}

	c.mu.Lock()
	c.stats.Timeouts++
	c.mu.Unlock()

	if c.faults != nil {
		c.faults.ReportFault(c.cpu, "barrier-timeout", msg)
	}

	if c.policy == PolicyEscalate {
		// Escalation is the caller's responsibility: the coordinator
		// reports the fault and lets core/engine.go decide how to halt
		// the CPU, keeping this package free of core-state knowledge.
		return
	}
	// PolicyReset: nothing further to undo here, the pending state was
	// entirely inside smp.Broadcast's own bookkeeping.
}

// Stats returns a snapshot of per-kind execution counts.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := Stats{Executed: make(map[Func]uint64, len(c.stats.Executed)), Timeouts: c.stats.Timeouts}
	for k, v := range c.stats.Executed {
		out.Executed[k] = v
	}
	return out
}
