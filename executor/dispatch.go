/*
 * axpcore - Opcode/function dense dispatch table.
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

// Package executor implements the integer, floating point, memory,
// branch and PAL executors, plus the exception taxonomy they report
// through. Dispatch is a dense table keyed by opcode and function code;
// each sub-executor is a pure function over the decoded record, the CPU
// state, and the memory handle, not a type hierarchy.
package executor

import (
	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/decode"
)

// knownPALFunctions maps the 26-bit CALL_PAL immediate (and the small set
// of hardware-privileged opcodes under 0x19/0x1b-0x1f that use the same
// immediate-as-function convention) to the PALFunc enum this core
// implements. Anything absent raises ExcReservedOperand in ExecutePAL.
var knownPALFunctions = map[uint32]PALFunc{
	0x0000: PALHalt,
	0x0086: PALImb,
	0x0092: PALRei,
	0x0030: PALSwpctx,
	0x0083: PALCallsys,
	0x000E: PALRdusp,
	0x000F: PALWrusp,
	0x0025: PALWrkgp,
	0x0032: PALTbiap,
	0x0033: PALTbia,
	0x0034: PALTbis,
	0x0035: PALSwpipl,
	0x0036: PALRdps,
	0x0037: PALWrps,
	0x009E: PALRdunique,
	0x009F: PALWrunique,
	0x002D: PALDraina,
}

// Table holds every collaborator the dispatch loop needs beyond the
// per-CPU register file itself.
type Table struct {
	Memory *Executor
	PAL    *PALContext
}

// Dispatch executes one decoded instruction against CPU state s, returning
// the next PC to fetch from and a Fault if the instruction raised a guest
// exception. Non-branch, non-faulting instructions advance PC by 4 inline;
// branches report their own target through BranchResult.
func (t *Table) Dispatch(s *cpustate.State, in decode.Instruction) (nextPC uint64, fault *Fault) {
	switch in.Format {
	case decode.Operate:
		if in.Opcode == 0x18 {
			// Memory-barrier family is routed by the barrier coordinator,
			// not this table; core/cpu.go checks in.Opcode == 0x18 before
			// calling Dispatch at all. Reaching here means a caller skipped
			// that check.
			return in.PC, &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
		}
		if in.Opcode >= 0x14 && in.Opcode <= 0x17 {
			if !s.FPEnabled() {
				return in.PC, &Fault{Kind: ExcReservedOperand, PC: in.PC}
			}
			fault = ExecuteFloat(s, in)
		} else {
			fault = ExecuteInteger(s, in)
		}
		if fault != nil {
			return in.PC, fault
		}
		return in.PC + 4, nil

	case decode.Memory:
		if in.Opcode >= 0x20 && in.Opcode <= 0x27 && !s.FPEnabled() {
			return in.PC, &Fault{Kind: ExcReservedOperand, PC: in.PC}
		}
		fault = t.Memory.ExecuteMemory(s, in)
		if fault != nil {
			return in.PC, fault
		}
		return in.PC + 4, nil

	case decode.Branch:
		result, branchFault := ExecuteBranch(s, in)
		if branchFault != nil {
			return in.PC, branchFault
		}
		return result.NextPC, nil

	case decode.PAL:
		fn, known := knownPALFunctions[in.PALFunction]
		fault = ExecutePAL(s, in, t.PAL, fn, known)
		if fault != nil {
			return in.PC, fault
		}
		return in.PC + 4, nil

	default:
		return in.PC, &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}
