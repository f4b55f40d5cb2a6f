package jit

import "github.com/rcornwell/axpcore/decode"

// MaxTraceLength bounds how far the tracer will follow straight-line code
// before giving up.
const MaxTraceLength = 1000

// BasicBlock is an immutable straight-line run of instructions starting at
// a hot PC and ending at the first control-flow-changing instruction.
type BasicBlock struct {
	StartPC    uint64
	EndPC      uint64
	Words      []uint32
	Complexity int
}

// Fetcher reads one instruction word at a given PC; core/cpu.go's fetch
// path (through the cache hierarchy) implements this for the tracer.
type Fetcher interface {
	FetchWord(pc uint64) (uint32, error)
}

// Trace follows execution forward from startPC until a terminator
// instruction (branch, jump, PAL) or MaxTraceLength is reached, scoring
// complexity as it goes: base 1 per instruction, +2 per branch, +3 per
// memory access.
func Trace(f Fetcher, startPC uint64) (*BasicBlock, error) {
	block := &BasicBlock{StartPC: startPC}
	pc := startPC

	for len(block.Words) < MaxTraceLength {
		word, err := f.FetchWord(pc)
		if err != nil {
			return nil, err
		}
		in := decode.Decode(word, pc)
		block.Words = append(block.Words, word)
		block.Complexity += scoreInstruction(in)

		pc += 4
		if isTerminator(in) {
			break
		}
	}
	block.EndPC = pc
	return block, nil
}

func scoreInstruction(in decode.Instruction) int {
	score := 1
	switch in.Format {
	case decode.Branch:
		score += 2
	case decode.Memory:
		score += 3
	case decode.Operate:
		if in.Opcode >= 0x14 && in.Opcode <= 0x17 {
			score += 2 // FP ops cost more than integer ops to lower
		}
	}
	return score
}

func isTerminator(in decode.Instruction) bool {
	switch in.Format {
	case decode.Branch, decode.PAL:
		return true
	default:
		return false
	}
}
