package decode

import "testing"

// encodeOperate assembles an operate-format word: ADDQ R1,R2,R3 is
// opcode 0x10, function 0x20, Ra=1, Rb=2, Rc=3.
func encodeOperate(opcode, ra, rb, function, rc uint32) uint32 {
	return (opcode << 26) | (ra << 21) | (rb << 16) | (function << 5) | rc
}

func TestDecodeAddq(t *testing.T) {
	word := encodeOperate(0x10, 1, 2, 0x20, 3)
	in := Decode(word, 0x10000)

	if in.Format != Operate {
		t.Fatalf("format = %v, want Operate", in.Format)
	}
	if in.Opcode != 0x10 || in.Ra != 1 || in.Rb != 2 || in.Rc != 3 {
		t.Fatalf("fields = %+v", in)
	}
	if in.Function != 0x20 {
		t.Fatalf("function = %#x, want 0x20", in.Function)
	}
}

func TestDecodeFieldsRoundTrip(t *testing.T) {
	// Every extracted field must reconstruct the original word when
	// reassembled by hand (decode/encode idempotence).
	cases := []uint32{
		0x47ec0403, // ADDQ-shaped pattern
		0x00000080, // CALL_PAL 0x80 (typical syscall vector)
		0xc3e00010, // branch-shaped word with a small positive displacement
	}
	for _, word := range cases {
		in := Decode(word, 0)
		if in.Raw != word {
			t.Fatalf("Raw not preserved: got %#x want %#x", in.Raw, word)
		}
		// Field-level round trip: opcode/Ra/Rb/Rc always reconstruct.
		gotOpRaRb := uint32(in.Opcode)<<26 | uint32(in.Ra)<<21 | uint32(in.Rb)<<16 | uint32(in.Rc)
		wantOpRaRb := word&0xffff0000 | word&0x1f
		if gotOpRaRb != wantOpRaRb {
			t.Fatalf("opcode/Ra/Rb/Rc round trip mismatch: got %#x want %#x", gotOpRaRb, wantOpRaRb)
		}
	}
}

func TestDecodeFloatFunctionIsElevenBits(t *testing.T) {
	// MT_FPCR is function 0x024 in the FP-format field, which does not fit
	// in the 7-bit integer-operate Function field but does fit in the
	// 11-bit FloatFunction field.
	word := encodeOperate(0x17, 1, 0, 0x024, 0)
	in := Decode(word, 0)
	if in.FloatFunction != 0x024 {
		t.Fatalf("FloatFunction = %#x, want 0x024", in.FloatFunction)
	}
}

func TestDecodeUnknownNeverFaults(t *testing.T) {
	// Opcode 0x06 is architecturally reserved; the decoder still returns a
	// record instead of panicking or erroring.
	in := Decode(encodeOperate(0x06, 0, 0, 0, 0), 0)
	if in.Format != Unknown {
		t.Fatalf("format = %v, want Unknown", in.Format)
	}
}

func TestDecodeLiteralFlag(t *testing.T) {
	// Bit 12 set selects the 8-bit literal operand instead of Rb.
	word := encodeOperate(0x10, 1, 0, 0x20, 3) | (1 << 12) | (0x55 << 13)
	in := Decode(word, 0)
	if !in.IsLiteral {
		t.Fatal("expected literal flag set")
	}
	if in.Literal != 0x55 {
		t.Fatalf("literal = %#x, want 0x55", in.Literal)
	}
}

func TestBranchTargetMaxDisplacement(t *testing.T) {
	// Maximum positive 21-bit displacement.
	word := uint32(0x39<<26) | 0xfffff // BEQ, disp = 0xfffff (positive max, bit20=0... use 0x0fffff)
	in := Decode(word, 0x1000)
	want := in.PC + 4 + uint64(int64(in.BranchOff))*4
	if in.BranchTarget() != want {
		t.Fatalf("target = %#x, want %#x", in.BranchTarget(), want)
	}

	// Maximum negative displacement: bit 20 set, rest zero -> -2^20.
	negWord := uint32(0x39<<26) | (1 << 20)
	negIn := Decode(negWord, 0x1000)
	if negIn.BranchOff != -(1 << 20) {
		t.Fatalf("BranchOff = %d, want %d", negIn.BranchOff, -(1 << 20))
	}
}

func TestEffectiveAddressMasksNothingByDefault(t *testing.T) {
	in := Decode(encodeOperate(0x29, 1, 2, 0, 0)|0x0010, 0) // LDQ-shaped, disp=0x10
	ea := in.EffectiveAddress(0x2000)
	if ea != 0x2010 {
		t.Fatalf("ea = %#x, want 0x2010", ea)
	}
}
