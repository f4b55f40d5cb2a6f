/*
 * axpcore - Floating-point executor.
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

// Floating-point registers hold every format in IEEE double (T) canonical
// expanded form. S format converts to/from this
// canonical form through Go's float32<->float64 conversion, which matches
// IEEE round-to-nearest semantics closely enough for this core's purposes.
// VAX F and G formats convert through the explicit bit-level converters
// below, driven from memory.go's LDF/LDG/STF/STG handlers: VAX has no
// infinities, NaNs or denormals, so a zero exponent field is simply taken
// as 0.0 regardless of sign or fraction.
package executor

import (
	"math"

	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/decode"
)

func fpOperandB(s *cpustate.State, in decode.Instruction) uint64 {
	return s.GetFPR(in.Rb)
}

// ExecuteFloat dispatches opcode 0x14-0x17 instructions. FP is disabled
// unless PS.FP-enable is set; callers are expected to have already checked
// that through State.FPEnabled and raised ExcReservedOperand themselves;
// Table.Dispatch in dispatch.go makes that check for FP loads/stores too.
func ExecuteFloat(s *cpustate.State, in decode.Instruction) *Fault {
	switch in.Opcode {
	case 0x14:
		return executeITFP(s, in)
	case 0x15:
		return executeVaxArith(s, in)
	case 0x16:
		return executeIEEEArith(s, in)
	case 0x17:
		return executeFPMisc(s, in)
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}

// executeITFP handles opcode 0x14: integer-to-float register moves and the
// square-root family. The low 8 function bits identify the base operation;
// the upper positions carry rounding/trap qualifiers that collapse onto the
// same code path, the way executeIEEEArith already treats its qualifier
// bits.
func executeITFP(s *cpustate.State, in decode.Instruction) *Fault {
	switch in.FloatFunction & 0x0ff {
	case 0x004: // ITOFS: low 32 GPR bits reinterpreted as IEEE single
		bits := uint32(s.GetGPR(in.Ra))
		v := float64(math.Float32frombits(bits))
		s.SetFPR(in.Rc, math.Float64bits(v))
	case 0x014: // ITOFF: VAX F bit pattern from the low GPR half
		v := vaxFBitsToFloat64(uint32(s.GetGPR(in.Ra)))
		s.SetFPR(in.Rc, math.Float64bits(v))
	case 0x024: // ITOFT: raw 64-bit move, no reinterpretation
		s.SetFPR(in.Rc, s.GetGPR(in.Ra))
	case 0x08A, 0x0AA: // SQRTF/SQRTG
		v := math.Float64frombits(fpOperandB(s, in))
		if v < 0 {
			return &Fault{Kind: ExcFPInvalid, PC: in.PC}
		}
		r := math.Sqrt(v)
		if _, ok := float64ToVaxGBits(r); !ok {
			return &Fault{Kind: ExcFPOverflow, PC: in.PC}
		}
		s.SetFPR(in.Rc, math.Float64bits(r))
	case 0x08B, 0x0AB: // SQRTS/SQRTT
		v := math.Float64frombits(fpOperandB(s, in))
		if v < 0 {
			return &Fault{Kind: ExcFPInvalid, PC: in.PC}
		}
		s.SetFPR(in.Rc, math.Float64bits(math.Sqrt(v)))
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
	return nil
}

// executeVaxArith handles opcode 0x15: VAX F and G arithmetic. Operands
// already sit in the register file in canonical double form, so the
// arithmetic itself is ordinary float64 work; what distinguishes F from G
// is the representable range the result is checked against before
// writeback, since VAX has no infinities to absorb an overflow. The low 6
// function bits select the operation (F in the 0x0x block, G in the 0x2x
// block), collapsing rounding-qualifier variants onto one path.
func executeVaxArith(s *cpustate.State, in decode.Instruction) *Fault {
	a := math.Float64frombits(s.GetFPR(in.Ra))
	b := math.Float64frombits(fpOperandB(s, in))

	fn := in.FloatFunction & 0x3f
	var v float64
	switch fn {
	case 0x00, 0x20: // ADDF/ADDG
		v = a + b
	case 0x01, 0x21: // SUBF/SUBG
		v = a - b
	case 0x02, 0x22: // MULF/MULG
		v = a * b
	case 0x03, 0x23: // DIVF/DIVG
		if b == 0 {
			return &Fault{Kind: ExcFPDivide, PC: in.PC}
		}
		v = a / b
	case 0x25: // CMPGEQ-class compares
		s.SetFPCC(compareFPCC(a, b))
		return nil
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}

	if fn < 0x20 {
		if _, ok := float64ToVaxFBits(v); !ok {
			return &Fault{Kind: ExcFPOverflow, PC: in.PC}
		}
	} else {
		if _, ok := float64ToVaxGBits(v); !ok {
			return &Fault{Kind: ExcFPOverflow, PC: in.PC}
		}
	}
	s.SetFPR(in.Rc, math.Float64bits(v))
	return nil
}

func executeIEEEArith(s *cpustate.State, in decode.Instruction) *Fault {
	a := math.Float64frombits(s.GetFPR(in.Ra))
	b := math.Float64frombits(fpOperandB(s, in))

	// The 11-bit FP function field places S (single) operations in the
	// 0x0x block and T (double) operations in the 0x2x block, with
	// rounding-mode/trap-enable qualifiers in the upper positions. Both
	// precisions execute at full double width here -- results narrow to
	// float32 only at STS/LDS boundaries in memory.go, which is what the
	// register file's canonical expanded form requires -- so each pair of
	// function slots collapses onto one case, and masking to the low 6
	// bits drops the qualifiers.
	switch in.FloatFunction & 0x3f {
	case 0x00, 0x20: // ADDS/ADDT
		return storeFPResult(s, in, a+b)
	case 0x01, 0x21: // SUBS/SUBT
		return storeFPResult(s, in, a-b)
	case 0x02, 0x22: // MULS/MULT
		return storeFPResult(s, in, a*b)
	case 0x03, 0x23: // DIVS/DIVT
		if b == 0 {
			return &Fault{Kind: ExcFPDivide, PC: in.PC}
		}
		return storeFPResult(s, in, a/b)
	case 0x24, 0x25, 0x26, 0x27: // CMPTUN/CMPTEQ/CMPTLT/CMPTLE
		// Every compare computes the full LT/EQ/GT/UN relation; the FPCC
		// bits record it and FBxx/FCMOVxx consume whichever bit they test.
		s.SetFPCC(compareFPCC(a, b))
		return nil
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}

func storeFPResult(s *cpustate.State, in decode.Instruction, v float64) *Fault {
	if math.IsInf(v, 0) {
		return &Fault{Kind: ExcFPOverflow, PC: in.PC}
	}
	s.SetFPR(in.Rc, math.Float64bits(v))
	return nil
}

func compareFPCC(a, b float64) uint64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return cpustate.FPCCUNBit
	case a < b:
		return cpustate.FPCCLTBit
	case a == b:
		return cpustate.FPCCEQBit
	default:
		return cpustate.FPCCGTBit
	}
}

// executeFPMisc handles opcode 0x17: format conversion, FPCR move, and
// conditional-move-on-FP-condition.
func executeFPMisc(s *cpustate.State, in decode.Instruction) *Fault {
	switch in.FloatFunction {
	case 0x010: // CVTQT/CVTQS: integer (in FPR bits) to float
		iv := int64(s.GetFPR(in.Rb))
		s.SetFPR(in.Rc, math.Float64bits(float64(iv)))
	case 0x0AF: // CVTTQ: float to integer, truncating
		fv := math.Float64frombits(s.GetFPR(in.Rb))
		s.SetFPR(in.Rc, uint64(int64(fv)))
	case 0x024: // MT_FPCR
		s.FPCR = s.GetFPR(in.Ra)
	case 0x025: // MF_FPCR
		s.SetFPR(in.Rc, s.FPCR)
	case 0x02A: // FCMOVEQ
		if s.FPCC()&cpustate.FPCCEQBit != 0 {
			s.SetFPR(in.Rc, s.GetFPR(in.Rb))
		}
	case 0x02B: // FCMOVNE
		if s.FPCC()&cpustate.FPCCEQBit == 0 {
			s.SetFPR(in.Rc, s.GetFPR(in.Rb))
		}
	case 0x02C: // FCMOVLT
		if s.FPCC()&cpustate.FPCCLTBit != 0 {
			s.SetFPR(in.Rc, s.GetFPR(in.Rb))
		}
	case 0x02D: // FCMOVGE
		if s.FPCC()&cpustate.FPCCLTBit == 0 {
			s.SetFPR(in.Rc, s.GetFPR(in.Rb))
		}
	case 0x02E: // FCMOVLE
		if s.FPCC()&(cpustate.FPCCLTBit|cpustate.FPCCEQBit) != 0 {
			s.SetFPR(in.Rc, s.GetFPR(in.Rb))
		}
	case 0x02F: // FCMOVGT
		if s.FPCC()&(cpustate.FPCCLTBit|cpustate.FPCCEQBit) == 0 {
			s.SetFPR(in.Rc, s.GetFPR(in.Rb))
		}
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
	return nil
}

// VAX F/G bias and fraction widths. Both formats use a hidden
// leading 1 like IEEE, but an all-zero exponent field means the datum is
// 0.0 rather than denormal, and there is no encoding for infinity or NaN.
const (
	vaxFBias     = 128
	vaxFFracBits = 23
	vaxGBias     = 1024
	vaxGFracBits = 52
)

// vaxWordSwap32 reorders a 32-bit VAX F-floating memory image into
// conventional sign/exponent/fraction bit order. VAX stores the high-order
// 16-bit word (sign, exponent, and the top fraction bits) at the lower
// address, the opposite of a straight little-endian 32-bit read.
func vaxWordSwap32(raw uint32) uint32 {
	return (raw << 16) | (raw >> 16)
}

// vaxWordSwap64 reorders the four 16-bit words of a VAX G-floating memory
// image into conventional sign/exponent/fraction bit order. VAX stores the
// word holding sign and exponent at the lowest address, so a little-endian
// 64-bit read leaves the words exactly reversed; word reversal is its own
// inverse, so the same function serves both load and store.
func vaxWordSwap64(raw uint64) uint64 {
	w0 := raw & 0xffff
	w1 := (raw >> 16) & 0xffff
	w2 := (raw >> 32) & 0xffff
	w3 := (raw >> 48) & 0xffff
	return w0<<48 | w1<<32 | w2<<16 | w3
}

// vaxFBitsToFloat64 converts a conventionally-ordered VAX F-floating bit
// pattern to this core's canonical double representation.
func vaxFBitsToFloat64(conv uint32) float64 {
	exp := (conv >> 23) & 0xff
	if exp == 0 {
		return 0
	}
	frac := conv & 0x7fffff
	v := (1 + float64(frac)/float64(int64(1)<<vaxFFracBits)) * math.Ldexp(1, int(exp)-vaxFBias)
	if conv>>31 != 0 {
		v = -v
	}
	return v
}

// float64ToVaxFBits converts v to a conventionally-ordered VAX F-floating
// bit pattern. ok is false when v's magnitude falls outside F's 8-bit
// biased exponent range, the caller's cue to raise a floating overflow.
func float64ToVaxFBits(v float64) (bits uint32, ok bool) {
	if v == 0 {
		return 0, true
	}
	sign := uint32(0)
	if v < 0 {
		sign = 1
		v = -v
	}
	frac, exp := math.Frexp(v)
	biased := exp - 1 + vaxFBias
	if biased <= 0 || biased >= 0xff {
		return 0, false
	}
	mantissa := uint32((frac*2 - 1) * float64(int64(1)<<vaxFFracBits))
	return sign<<31 | uint32(biased)<<23 | (mantissa & 0x7fffff), true
}

// vaxGBitsToFloat64 converts a conventionally-ordered VAX G-floating bit
// pattern to this core's canonical double representation.
func vaxGBitsToFloat64(conv uint64) float64 {
	exp := (conv >> 52) & 0x7ff
	if exp == 0 {
		return 0
	}
	frac := conv & 0xfffffffffffff
	v := (1 + float64(frac)/float64(int64(1)<<vaxGFracBits)) * math.Ldexp(1, int(exp)-vaxGBias)
	if conv>>63 != 0 {
		v = -v
	}
	return v
}

// float64ToVaxGBits converts v to a conventionally-ordered VAX G-floating
// bit pattern. ok is false when v's magnitude falls outside G's 11-bit
// biased exponent range.
func float64ToVaxGBits(v float64) (bits uint64, ok bool) {
	if v == 0 {
		return 0, true
	}
	sign := uint64(0)
	if v < 0 {
		sign = 1
		v = -v
	}
	frac, exp := math.Frexp(v)
	biased := exp - 1 + vaxGBias
	if biased <= 0 || biased >= 0x7ff {
		return 0, false
	}
	mantissa := uint64((frac*2 - 1) * float64(int64(1)<<vaxGFracBits))
	return sign<<63 | uint64(biased)<<52 | (mantissa & 0xfffffffffffff), true
}
