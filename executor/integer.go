/*
 * axpcore - Integer, logical, shift and multiply executors.
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
	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/decode"
)

// operandB resolves Rb-or-literal per the Alpha operate-format encoding.
func operandB(s *cpustate.State, in decode.Instruction) uint64 {
	if in.IsLiteral {
		return uint64(in.Literal)
	}
	return s.GetGPR(in.Rb)
}

func signExtend32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

func boolReg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// ExecuteInteger dispatches an opcode 0x10-0x13 operate instruction. Returns
// a non-nil Fault for an opcode or function code it does not recognize, and
// otherwise only for the overflow-qualified (/V) function codes when the
// architectural overflow condition is met; Rc is suppressed
// automatically when it names R31 (cpustate.State.SetGPR already no-ops).
func ExecuteInteger(s *cpustate.State, in decode.Instruction) *Fault {
	a := s.GetGPR(in.Ra)
	b := operandB(s, in)

	switch in.Opcode {
	case 0x10:
		return executeArith(s, in, a, b)
	case 0x11:
		return executeLogical(s, in, a, b)
	case 0x12:
		return executeShiftByte(s, in, a, b)
	case 0x13:
		return executeMultiply(s, in, a, b)
	}
	return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
}

func executeArith(s *cpustate.State, in decode.Instruction, a, b uint64) *Fault {
	switch in.Function {
	case 0x00: // ADDL
		s.SetGPR(in.Rc, signExtend32(uint32(a)+uint32(b)))
	case 0x02: // S4ADDL
		s.SetGPR(in.Rc, signExtend32(uint32(a)*4+uint32(b)))
	case 0x09: // SUBL
		s.SetGPR(in.Rc, signExtend32(uint32(a)-uint32(b)))
	case 0x0B: // S4SUBL
		s.SetGPR(in.Rc, signExtend32(uint32(a)*4-uint32(b)))
	case 0x0F: // CMPBGE
		s.SetGPR(in.Rc, cmpbge(a, b))
	case 0x12: // S8ADDL
		s.SetGPR(in.Rc, signExtend32(uint32(a)*8+uint32(b)))
	case 0x1B: // S8SUBL
		s.SetGPR(in.Rc, signExtend32(uint32(a)*8-uint32(b)))
	case 0x1D: // CMPULT
		s.SetGPR(in.Rc, boolReg(a < b))
	case 0x20: // ADDQ
		s.SetGPR(in.Rc, a+b)
	case 0x22: // S4ADDQ
		s.SetGPR(in.Rc, a*4+b)
	case 0x29: // SUBQ
		s.SetGPR(in.Rc, a-b)
	case 0x2B: // S4SUBQ
		s.SetGPR(in.Rc, a*4-b)
	case 0x2D: // CMPEQ
		s.SetGPR(in.Rc, boolReg(a == b))
	case 0x32: // S8ADDQ
		s.SetGPR(in.Rc, a*8+b)
	case 0x3B: // S8SUBQ
		s.SetGPR(in.Rc, a*8-b)
	case 0x3D: // CMPULE
		s.SetGPR(in.Rc, boolReg(a <= b))
	case 0x40: // ADDL/V
		r := uint32(a) + uint32(b)
		s.SetGPR(in.Rc, signExtend32(r))
		if overflowAddL(a, b, r) {
			return &Fault{Kind: ExcArithmeticTrap, PC: in.PC}
		}
	case 0x49: // SUBL/V
		r := uint32(a) - uint32(b)
		s.SetGPR(in.Rc, signExtend32(r))
		if overflowSubL(a, b, r) {
			return &Fault{Kind: ExcArithmeticTrap, PC: in.PC}
		}
	case 0x4D: // CMPLT
		s.SetGPR(in.Rc, boolReg(int64(a) < int64(b)))
	case 0x60: // ADDQ/V
		r := a + b
		s.SetGPR(in.Rc, r)
		if overflowAddQ(a, b, r) {
			return &Fault{Kind: ExcArithmeticTrap, PC: in.PC}
		}
	case 0x69: // SUBQ/V
		r := a - b
		s.SetGPR(in.Rc, r)
		if overflowSubQ(a, b, r) {
			return &Fault{Kind: ExcArithmeticTrap, PC: in.PC}
		}
	case 0x6D: // CMPLE
		s.SetGPR(in.Rc, boolReg(int64(a) <= int64(b)))
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
	return nil
}

func cmpbge(a, b uint64) uint64 {
	var result uint64
	for i := 0; i < 8; i++ {
		shift := uint(i * 8)
		if byte(a>>shift) >= byte(b>>shift) {
			result |= 1 << i
		}
	}
	return result
}

func overflowAddL(a, b uint64, r uint32) bool {
	sa, sb := int32(uint32(a)), int32(uint32(b))
	sr := int32(r)
	return (sa > 0 && sb > 0 && sr < 0) || (sa < 0 && sb < 0 && sr >= 0)
}

func overflowSubL(a, b uint64, r uint32) bool {
	sa, sb := int32(uint32(a)), int32(uint32(b))
	sr := int32(r)
	return (sa >= 0 && sb < 0 && sr < 0) || (sa < 0 && sb >= 0 && sr >= 0)
}

func overflowAddQ(a, b, r uint64) bool {
	sa, sb, sr := int64(a), int64(b), int64(r)
	return (sa > 0 && sb > 0 && sr < 0) || (sa < 0 && sb < 0 && sr >= 0)
}

func overflowSubQ(a, b, r uint64) bool {
	sa, sb, sr := int64(a), int64(b), int64(r)
	return (sa >= 0 && sb < 0 && sr < 0) || (sa < 0 && sb >= 0 && sr >= 0)
}

func executeLogical(s *cpustate.State, in decode.Instruction, a, b uint64) *Fault {
	switch in.Function {
	case 0x00: // AND
		s.SetGPR(in.Rc, a&b)
	case 0x08: // BIC
		s.SetGPR(in.Rc, a&^b)
	case 0x14: // CMOVLBS
		if a&1 != 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x16: // CMOVLBC
		if a&1 == 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x20: // BIS (OR)
		s.SetGPR(in.Rc, a|b)
	case 0x24: // CMOVEQ
		if a == 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x26: // CMOVNE
		if a != 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x28: // ORNOT
		s.SetGPR(in.Rc, a|^b)
	case 0x40: // XOR
		s.SetGPR(in.Rc, a^b)
	case 0x44: // CMOVLT
		if int64(a) < 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x46: // CMOVGE
		if int64(a) >= 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x48: // EQV
		s.SetGPR(in.Rc, ^(a ^ b))
	case 0x64: // CMOVLE
		if int64(a) <= 0 {
			s.SetGPR(in.Rc, b)
		}
	case 0x66: // CMOVGT
		if int64(a) > 0 {
			s.SetGPR(in.Rc, b)
		}
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
	return nil
}

func executeShiftByte(s *cpustate.State, in decode.Instruction, a, b uint64) *Fault {
	shift := uint(b & 0x3f)
	byteOff := uint(b & 0x7)
	switch in.Function {
	case 0x06: // EXTBL
		s.SetGPR(in.Rc, (a>>(byteOff*8))&0xff)
	case 0x16: // EXTWL
		s.SetGPR(in.Rc, (a>>(byteOff*8))&0xffff)
	case 0x26: // EXTLL
		s.SetGPR(in.Rc, (a>>(byteOff*8))&0xffffffff)
	case 0x36: // EXTQL
		s.SetGPR(in.Rc, a>>(byteOff*8))
	case 0x0B: // INSBL
		s.SetGPR(in.Rc, (a&0xff)<<(byteOff*8))
	case 0x1B: // INSWL
		s.SetGPR(in.Rc, (a&0xffff)<<(byteOff*8))
	case 0x2B: // INSLL
		s.SetGPR(in.Rc, (a&0xffffffff)<<(byteOff*8))
	case 0x3B: // INSQL
		s.SetGPR(in.Rc, shiftLeftSafe(a, byteOff*8))
	case 0x02: // MSKBL
		s.SetGPR(in.Rc, a&^(uint64(0xff)<<(byteOff*8)))
	case 0x12: // MSKWL
		s.SetGPR(in.Rc, a&^(uint64(0xffff)<<(byteOff*8)))
	case 0x22: // MSKLL
		s.SetGPR(in.Rc, a&^(uint64(0xffffffff)<<(byteOff*8)))
	case 0x32: // MSKQL
		s.SetGPR(in.Rc, a&^shiftLeftSafe(^uint64(0), byteOff*8))
	case 0x30: // ZAP
		s.SetGPR(in.Rc, zap(a, b, false))
	case 0x31: // ZAPNOT
		s.SetGPR(in.Rc, zap(a, b, true))
	case 0x34: // SRL
		s.SetGPR(in.Rc, a>>shift)
	case 0x39: // SLL
		s.SetGPR(in.Rc, shiftLeftSafe(a, shift))
	case 0x3C: // SRA
		s.SetGPR(in.Rc, uint64(int64(a)>>shift))
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
	return nil
}

// shiftLeftSafe avoids Go's undefined behaviour for shift counts >= 64 by
// clamping the result to zero, matching the architectural result of
// shifting a 64-bit quantity out entirely.
func shiftLeftSafe(v uint64, shift uint) uint64 {
	if shift >= 64 {
		return 0
	}
	return v << shift
}

// zap clears (or, when invert is true, keeps only) the bytes of a selected
// by the low 8 bits of mask, per ZAP/ZAPNOT.
func zap(a, mask uint64, invert bool) uint64 {
	var result uint64
	for i := 0; i < 8; i++ {
		bit := mask&(1<<i) != 0
		keep := !bit
		if invert {
			keep = bit
		}
		if keep {
			result |= a & (uint64(0xff) << (i * 8))
		}
	}
	return result
}

func executeMultiply(s *cpustate.State, in decode.Instruction, a, b uint64) *Fault {
	switch in.Function {
	case 0x00: // MULL
		s.SetGPR(in.Rc, signExtend32(uint32(a)*uint32(b)))
	case 0x20: // MULQ
		s.SetGPR(in.Rc, a*b)
	case 0x30: // UMULH
		hi, _ := mul128(a, b)
		s.SetGPR(in.Rc, hi)
	case 0x40: // MULL/V
		r := uint32(a) * uint32(b)
		s.SetGPR(in.Rc, signExtend32(r))
		if int64(int32(r)) != int64(int32(a))*int64(int32(b)) {
			return &Fault{Kind: ExcArithmeticTrap, PC: in.PC}
		}
	case 0x60: // MULQ/V
		r := a * b
		s.SetGPR(in.Rc, r)
		// mul128 computes the *unsigned* 128-bit product; correct it to the
		// signed one (two's-complement multiply identity: subtract the other
		// operand from the high half for each negative operand), then compare
		// against the sign-extension of the truncated result, the same
		// technique MULL/V uses above.
		hi, _ := mul128(a, b)
		if int64(a) < 0 {
			hi -= b
		}
		if int64(b) < 0 {
			hi -= a
		}
		want := uint64(0)
		if int64(r) < 0 {
			want = ^uint64(0)
		}
		if hi != want {
			return &Fault{Kind: ExcArithmeticTrap, PC: in.PC}
		}
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
	return nil
}

func mul128(a, b uint64) (hi, lo uint64) {
	aLo, aHi := a&0xffffffff, a>>32
	bLo, bHi := b&0xffffffff, b>>32

	t := aLo * bLo
	lo = t & 0xffffffff
	carry := t >> 32

	t = aHi*bLo + carry
	mid1 := t & 0xffffffff
	carry = t >> 32

	t = aLo*bHi + mid1
	lo |= (t & 0xffffffff) << 32
	carry2 := t >> 32

	hi = aHi*bHi + carry + carry2
	return hi, lo
}
