/*
 * axpcore - Branch and PAL executor.
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

package executor

import (
	"math"

	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/decode"
)

// BranchResult tells the caller (core/cpu.go) what PC to continue at; a
// non-nil Fault overrides it with a vectored exception entry instead.
type BranchResult struct {
	NextPC uint64
	Taken  bool
}

// ExecuteBranch dispatches opcodes 0x30-0x3F plus the 0x1A jump subfamily.
// Ra receives the return address for BSR/JSR variants before the branch
// target is computed, matching real hardware's "PC+4 captured before the
// jump" ordering.
func ExecuteBranch(s *cpustate.State, in decode.Instruction) (BranchResult, *Fault) {
	if in.Opcode == 0x1A {
		return executeJump(s, in)
	}
	return executeConditionalBranch(s, in)
}

func executeJump(s *cpustate.State, in decode.Instruction) (BranchResult, *Fault) {
	target := s.GetGPR(in.Rb) &^ 0x3
	ret := in.PC + 4
	s.SetGPR(in.Ra, ret)
	return BranchResult{NextPC: target, Taken: true}, nil
}

func executeConditionalBranch(s *cpustate.State, in decode.Instruction) (BranchResult, *Fault) {
	a := s.GetGPR(in.Ra)
	fall := in.PC + 4

	switch in.Opcode {
	case 0x30: // BR
		s.SetGPR(in.Ra, fall)
		return taken(in)
	case 0x34: // BSR
		s.SetGPR(in.Ra, fall)
		return taken(in)
	case 0x38: // BLBC
		return branchIf(in, a&1 == 0, fall)
	case 0x39: // BEQ
		return branchIf(in, a == 0, fall)
	case 0x3A: // BLT
		return branchIf(in, int64(a) < 0, fall)
	case 0x3B: // BLE
		return branchIf(in, int64(a) <= 0, fall)
	case 0x3C: // BGT
		return branchIf(in, int64(a) > 0, fall)
	case 0x3D: // BGE
		return branchIf(in, int64(a) >= 0, fall)
	case 0x3E: // BLBS
		return branchIf(in, a&1 != 0, fall)
	case 0x3F: // BNE
		return branchIf(in, a != 0, fall)
	case 0x31, 0x32, 0x33, 0x35, 0x36, 0x37: // FBEQ/FBLT/FBLE/FBNE/FBGE/FBGT
		return executeFPBranch(s, in, fall)
	default:
		return BranchResult{}, &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}

func executeFPBranch(s *cpustate.State, in decode.Instruction, fall uint64) (BranchResult, *Fault) {
	fv := math.Float64frombits(s.GetFPR(in.Ra))
	switch in.Opcode {
	case 0x31: // FBEQ
		return branchIf(in, fv == 0, fall)
	case 0x32: // FBLT
		return branchIf(in, fv < 0, fall)
	case 0x33: // FBLE
		return branchIf(in, fv <= 0, fall)
	case 0x35: // FBNE
		return branchIf(in, fv != 0, fall)
	case 0x36: // FBGE
		return branchIf(in, fv >= 0, fall)
	case 0x37: // FBGT
		return branchIf(in, fv > 0, fall)
	default:
		return BranchResult{}, &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}

func taken(in decode.Instruction) (BranchResult, *Fault) {
	return BranchResult{NextPC: in.BranchTarget(), Taken: true}, nil
}

func branchIf(in decode.Instruction, cond bool, fall uint64) (BranchResult, *Fault) {
	if cond {
		return BranchResult{NextPC: in.BranchTarget(), Taken: true}, nil
	}
	return BranchResult{NextPC: fall, Taken: false}, nil
}

// PALFunc identifies a CALL_PAL / hardware-privileged entry point.
type PALFunc uint32

const (
	PALHalt PALFunc = iota
	PALImb
	PALRei
	PALSwpctx
	PALCallsys
	PALRdusp
	PALWrusp
	PALWrkgp
	PALTbia
	PALTbiap
	PALTbis
	PALSwpipl
	PALRdps
	PALWrps
	PALRdunique
	PALWrunique
	PALDraina
)

// PALContext bundles the collaborators PAL handlers need beyond the
// register file itself.
type PALContext struct {
	TLB          PALTLB
	Cache        CacheDrain
	FlushICache  func()        // drops the CPU's instruction cache; IMB's stale-code sweep
	NextASN      func() uint32 // allocates a fresh ASN on SWPCTX, mirroring PALcode's context-switch bookkeeping
	SetPageTable func(base uint64)
}

// PALTLB is the subset of the TLB the PAL dispatcher drives directly
// (TBIA/TBIAP/TBIS and IMB's instruction-entry sweep), distinct from
// Translator in memory.go which only needs Lookup/Insert.
type PALTLB interface {
	InvalidateAll()
	InvalidateASN(asn uint32)
	InvalidateAddress(va uint64, asn uint32)
	InvalidateInstructionEntries(instruction bool)
}

// CacheDrain mirrors barrier.CacheDrain; duplicated here rather than
// imported to avoid a package cycle between executor and barrier (both of
// which the core package wires together).
type CacheDrain interface {
	Flush()
}

// ExecutePAL dispatches a CALL_PAL instruction. palFunc is the subset of
// in.PALFunction this core recognizes as a named entry; unrecognized
// values raise ExcReservedOperand.
func ExecutePAL(s *cpustate.State, in decode.Instruction, ctx *PALContext, fn PALFunc, known bool) *Fault {
	if !known {
		return &Fault{Kind: ExcReservedOperand, PC: in.PC}
	}
	if !s.IsKernel() && fn != PALCallsys && fn != PALRdunique && fn != PALWrunique {
		return &Fault{Kind: ExcPrivilegedInstruction, PC: in.PC}
	}

	switch fn {
	case PALHalt:
		s.Halted = true
	case PALImb:
		// Instruction-stream barrier after code modification: drain the
		// data side so modified words reach the level fetches refill from,
		// drop the instruction cache, and drop instruction-tagged
		// translations so the next fetch re-reads and re-translates the
		// modified pages.
		ctx.Cache.Flush()
		if ctx.FlushICache != nil {
			ctx.FlushICache()
		}
		ctx.TLB.InvalidateInstructionEntries(true)
	case PALRei:
		// Return-from-exception: the core loop restores the saved PC/PS
		// from the kernel stack; nothing further happens here.
	case PALSwpctx:
		s.ClearReservation()
		if ctx.NextASN != nil {
			s.ASN = ctx.NextASN()
		}
		if ctx.SetPageTable != nil {
			ctx.SetPageTable(s.GetGPR(in.Ra))
		}
	case PALCallsys:
		return &Fault{Kind: ExcSystemCall, PC: in.PC}
	case PALRdusp:
		s.SetGPR(in.Ra, s.IPRs[iprUSP])
	case PALWrusp:
		s.IPRs[iprUSP] = s.GetGPR(in.Ra)
	case PALWrkgp:
		s.IPRs[iprKGP] = s.GetGPR(in.Ra)
	case PALTbia:
		ctx.TLB.InvalidateAll()
	case PALTbiap:
		ctx.TLB.InvalidateASN(s.ASN)
	case PALTbis:
		ctx.TLB.InvalidateAddress(s.GetGPR(in.Ra), s.ASN)
	case PALSwpipl:
		old := s.IPL()
		s.SetIPL(uint8(s.GetGPR(in.Ra)))
		s.SetGPR(in.Ra, uint64(old))
	case PALRdps:
		s.SetGPR(in.Ra, s.PS())
	case PALWrps:
		s.SetIPL(uint8(s.GetGPR(in.Ra)))
	case PALRdunique:
		s.SetGPR(in.Ra, s.IPRs[iprUnique])
	case PALWrunique:
		s.IPRs[iprUnique] = s.GetGPR(in.Ra)
	case PALDraina:
		ctx.Cache.Flush()
	default:
		return &Fault{Kind: ExcReservedOperand, PC: in.PC}
	}
	return nil
}

// IPR slot numbers for the small set of per-CPU registers this core
// exposes through CALL_PAL handlers; the full generation-specific layout
// lives in platform.Profile.IPRLayout for the registers an instruction
// decode path can name directly (PS, exception address/summary).
const (
	iprUSP = iota
	iprKGP
	iprUnique
)
