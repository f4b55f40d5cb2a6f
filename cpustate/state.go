/*
 * axpcore - Architectural CPU state.
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

// Package cpustate holds the per-CPU architectural register file: the
// integer and floating-point register banks, PC, PS, FPCR, and the IPR
// bank, plus the small amount of bookkeeping (lock reservation, pending
// trap counters) that the memory and barrier executors need between
// instructions. Everything lives in one flat struct whose only writer is
// the owning CPU's goroutine.
package cpustate

import "github.com/rcornwell/axpcore/platform"

// Mode is the Alpha current-mode field within PS.
type Mode uint8

const (
	Kernel Mode = iota
	Executive
	Supervisor
	User
)

func (m Mode) String() string {
	switch m {
	case Kernel:
		return "kernel"
	case Executive:
		return "executive"
	case Supervisor:
		return "supervisor"
	case User:
		return "user"
	default:
		return "unknown"
	}
}

// PS bit layout (subset this core models): IPL occupies bits 2:0,
// current-mode an adjacent 2-bit field, and a single FP-enable bit.
const (
	psIPLMask    = 0x7
	psModeShift  = 3
	psModeMask   = 0x3
	psFPEnBit    = 1 << 5
	psInterrupts = 1 << 6 // master interrupts-enabled bit
)

// FPCR condition-code bits (FPCC): LT/EQ/GT/UN at bits 21..24.
const (
	FPCCLTBit = 1 << 21
	FPCCEQBit = 1 << 22
	FPCCGTBit = 1 << 23
	FPCCUNBit = 1 << 24
)

// LockReservation models the LL/SC reservation granule for one CPU.
type LockReservation struct {
	VA      uint64
	PA      uint64
	ASN     uint32
	CPU     int
	Valid   bool
}

// PendingTraps tracks in-flight guest traps the barrier coordinator
// drains: TRAPB drains Arithmetic only, EXCB drains both.
type PendingTraps struct {
	Arithmetic  uint32
	FPException uint32
}

// State is one CPU's complete architectural register file.
type State struct {
	ID int // CPU id, 0-based; stable for this CPU's lifetime.

	GPR [32]uint64 // R0..R31; R31 always reads zero, writes discarded.
	FPR [32]uint64 // F0..F31; F31 always reads zero, writes discarded.

	PC  uint64
	iPC uint64 // PC at start of the instruction being executed; used for faults.

	ps   uint64 // Processor Status (packed IPL + mode + flags).
	FPCR uint64 // Floating-Point Control Register.

	IPRs map[uint32]uint64 // generation-specific internal processor registers.

	ASN       uint32
	PageTable uint64 // base of this CPU's root page table, set by SWPCTX.

	Reservation LockReservation
	Traps       PendingTraps

	Profile *platform.Profile

	// Halted is set by the HALT PAL call; the core loop observes it and
	// stops dispatching for this CPU.
	Halted bool
}

// New builds a CPU state for the given id under profile p, with PC and mode
// reset the way PALcode leaves a freshly IPL'd CPU: kernel mode, IPL 7
// (interrupts masked) until PALcode lowers it.
func New(id int, p *platform.Profile) *State {
	s := &State{
		ID:      id,
		Profile: p,
		IPRs:    make(map[uint32]uint64, 8),
	}
	s.SetMode(Kernel)
	s.SetIPL(7)
	return s
}

// GetGPR returns Rn, or zero for R31.
func (s *State) GetGPR(n uint8) uint64 {
	if n == 31 {
		return 0
	}
	return s.GPR[n]
}

// SetGPR writes Rn; writes to R31 are discarded.
func (s *State) SetGPR(n uint8, v uint64) {
	if n == 31 {
		return
	}
	s.GPR[n] = v
}

// GetFPR returns Fn, or zero for F31.
func (s *State) GetFPR(n uint8) uint64 {
	if n == 31 {
		return 0
	}
	return s.FPR[n]
}

// SetFPR writes Fn; writes to F31 are discarded.
func (s *State) SetFPR(n uint8, v uint64) {
	if n == 31 {
		return
	}
	s.FPR[n] = v
}

// PS returns the packed processor-status word.
func (s *State) PS() uint64 { return s.ps }

// IPL returns the current interrupt priority level, 0..7.
func (s *State) IPL() uint8 { return uint8(s.ps & psIPLMask) }

// SetIPL sets the interrupt priority level, masked to 3 bits.
func (s *State) SetIPL(ipl uint8) {
	s.ps = (s.ps &^ psIPLMask) | uint64(ipl&psIPLMask)
}

// CurrentMode returns the processor's current privilege mode.
func (s *State) CurrentMode() Mode {
	return Mode((s.ps >> psModeShift) & psModeMask)
}

// SetMode sets the processor's current privilege mode.
func (s *State) SetMode(m Mode) {
	s.ps = (s.ps &^ (psModeMask << psModeShift)) | (uint64(m) << psModeShift)
}

// IsKernel reports whether the CPU is in kernel mode, the only mode
// permitted to execute PALcode-reserved operations and IPR writes.
func (s *State) IsKernel() bool {
	return s.CurrentMode() == Kernel
}

// FPEnabled reports whether PS.FP-enable is set; FP instructions raise
// a Reserved Operand fault when it is clear.
func (s *State) FPEnabled() bool {
	return s.ps&psFPEnBit != 0
}

// SetFPEnabled sets or clears PS.FP-enable.
func (s *State) SetFPEnabled(enabled bool) {
	if enabled {
		s.ps |= psFPEnBit
	} else {
		s.ps &^= psFPEnBit
	}
}

// FPCC returns the four floating-point condition-code bits.
func (s *State) FPCC() uint64 {
	return s.FPCR & (FPCCLTBit | FPCCEQBit | FPCCGTBit | FPCCUNBit)
}

// SetFPCC replaces the FPCC bits, leaving the rest of FPCR untouched.
func (s *State) SetFPCC(bits uint64) {
	s.FPCR = (s.FPCR &^ (FPCCLTBit | FPCCEQBit | FPCCGTBit | FPCCUNBit)) | (bits & (FPCCLTBit | FPCCEQBit | FPCCGTBit | FPCCUNBit))
}

// ClearReservation invalidates this CPU's lock reservation. Called on
// context switch (SWPCTX), on this CPU's own STx_C regardless of outcome,
// and when cache coherency observes a peer write to the reserved line.
func (s *State) ClearReservation() {
	s.Reservation = LockReservation{}
}

// PendingArithmeticTraps, DrainArithmeticTraps, PendingFPExceptions and
// DrainFPExceptions implement barrier.TrapSource, the collaborator the
// memory-barrier coordinator drains for TRAPB/EXCB. Arithmetic overflow
// and FP exceptions are raised precisely by the integer and float
// executors today (a *Fault returned the instant the condition is
// detected), so these counters only ever observe a trap a caller
// explicitly recorded; TRAPB/EXCB on this core resolve immediately unless
// something upstream bumped one.
func (s *State) PendingArithmeticTraps() uint32 { return s.Traps.Arithmetic }

func (s *State) DrainArithmeticTraps() { s.Traps.Arithmetic = 0 }

func (s *State) PendingFPExceptions() uint32 { return s.Traps.FPException }

func (s *State) DrainFPExceptions() { s.Traps.FPException = 0 }
