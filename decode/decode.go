/*
 * axpcore - Alpha instruction decoder.
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

// Package decode splits a 32-bit Alpha instruction word into a tagged
// operation record. Never faults on its own — an unrecognized
// opcode decodes to Format Unknown and the dispatcher routes it to an
// illegal-instruction exception.
package decode

// Format tags the instruction's encoding shape.
type Format int

const (
	Memory Format = iota
	Branch
	Operate
	PAL
	Unknown
)

func (f Format) String() string {
	switch f {
	case Memory:
		return "Memory"
	case Branch:
		return "Branch"
	case Operate:
		return "Operate"
	case PAL:
		return "PAL"
	default:
		return "Unknown"
	}
}

// Instruction is the decoded operation record. Field extraction is
// bit-exact to the Alpha Architecture Reference Manual:
//
//	31:26 opcode   25:21 Ra   20:16 Rb   4:0 Rc
//	11:5  function (operate)   15:0 function (memory-barrier funcs)
//	15:0  signed displacement (memory/branch low bits reused as disp16)
//	20:13 8-bit literal, bit 12 literal flag
//	25:0  PAL function (CALL_PAL)
//	20:0  signed 21-bit branch displacement
type Instruction struct {
	Raw    uint32
	PC     uint64
	Format Format

	Opcode   uint8
	Ra       uint8
	Rb       uint8
	Rc       uint8
	Function uint16 // 7-bit integer-operate function, bits 11:5

	// FloatFunction is the 11-bit function field (bits 15:5) the
	// floating-point format uses instead of the 7-bit integer-operate
	// field: FP opcodes route far more function codes (per-rounding-mode
	// ADD/SUB/MUL/DIV/CVT variants) through the same 4-bit-wider slot.
	FloatFunction uint16

	Disp16    int16
	BranchOff int32 // sign-extended 21-bit branch displacement, already *1 (not yet *4)

	Literal     uint8
	IsLiteral   bool
	PALFunction uint32 // 26-bit CALL_PAL immediate
}

// Decode extracts every field the dispatcher might need, tags the format,
// and never returns an error: an opcode this core does not recognize comes
// back as Format Unknown with Opcode/Ra/Rb/Rc/Disp16 still populated so a
// disassembler or trace log can still describe it.
func Decode(word uint32, pc uint64) Instruction {
	in := Instruction{
		Raw: word,
		PC:  pc,

		Opcode: uint8(word >> 26 & 0x3f),
		Ra:     uint8(word >> 21 & 0x1f),
		Rb:     uint8(word >> 16 & 0x1f),
		Rc:     uint8(word & 0x1f),

		Disp16:      int16(word & 0xffff),
		Literal:     uint8(word >> 13 & 0xff),
		IsLiteral:   word&(1<<12) != 0,
		PALFunction: word & 0x3ffffff,
	}

	// 21-bit signed branch displacement, bits 20:0.
	raw21 := int32(word & 0x1fffff)
	if raw21&(1<<20) != 0 {
		raw21 -= 1 << 21
	}
	in.BranchOff = raw21

	in.Function = uint16(word >> 5 & 0x7f)
	in.FloatFunction = uint16(word >> 5 & 0x7ff)

	in.Format = classify(in.Opcode)
	return in
}

func classify(opcode uint8) Format {
	switch {
	case opcode == 0x00:
		return PAL
	case opcode == 0x19 || opcode == 0x1c || (opcode >= 0x1b && opcode <= 0x1f):
		return PAL // hardware-privileged / implementation-specific set
	case opcode == 0x1a:
		return Branch // JMP/JSR/RET/JSR_COROUTINE share the memory-format encoding but act as branches
	case opcode >= 0x30 && opcode <= 0x3f:
		return Branch
	case opcode >= 0x10 && opcode <= 0x17:
		return Operate
	case opcode == 0x18:
		return Operate // memory-barrier family, routed by the barrier coordinator
	case opcode >= 0x08 && opcode <= 0x0f:
		return Memory
	case opcode >= 0x20 && opcode <= 0x2f:
		return Memory
	default:
		return Unknown
	}
}

// MemoryBarrierFunction identifies the well-known memory-barrier sub-opcodes under
// opcode 0x18, keyed by the 16-bit function field in bits 15:0 (this family
// does not use the 7-bit operate function-code layout).
func MemoryBarrierFunction(word uint32) uint16 {
	return uint16(word & 0xffff)
}

// BranchTarget computes PC + 4 + BranchOff*4.
func (in *Instruction) BranchTarget() uint64 {
	return in.PC + 4 + uint64(in.BranchOff*4)
}

// EffectiveAddress computes Rb + sign-extend-16(Disp16) for memory-format
// instructions given the current value of Rb.
func (in *Instruction) EffectiveAddress(rbValue uint64) uint64 {
	return rbValue + uint64(int64(in.Disp16))
}
