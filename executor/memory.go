/*
 * axpcore - Memory executor: loads, stores, LDx_L/STx_C.
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
	"encoding/binary"
	"math"

	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/decode"
	"github.com/rcornwell/axpcore/tlb"
)

// CacheLevel is the subset of the cache hierarchy's outermost CPU-facing
// level (normally a PerCPU's L1D) that the memory executor drives.
type CacheLevel interface {
	Read(pa uint64, length int) ([]byte, error)
	Write(pa uint64, data []byte) error
}

// Translator is the TLB surface the memory executor needs: lookup, with a
// miss serviced by walking the page table and inserting the result.
type Translator interface {
	Lookup(va uint64, asn uint32, isKernel, isInstruction bool) (hit bool, pa uint64, perms tlb.Perm)
	Insert(va, pa uint64, asn uint32, perms tlb.Perm, isInstruction bool)
	RecordHit()
	RecordMiss()
}

// ReservationBroadcaster notifies peer CPUs that this CPU just wrote a
// physical line, so any peer holding a matching lock reservation clears
// it. Wired to the SMP manager by core/engine.go.
type ReservationBroadcaster interface {
	NotifyWrite(cpu int, pa uint64)
}

// Executor is the memory-access pipeline: one per CPU, sharing that CPU's
// TLB and cache level.
type Executor struct {
	CPU    int
	TLB    Translator
	Cache  CacheLevel
	Walker tlb.PageTableWalker
	Res    ReservationBroadcaster
}

func (e *Executor) translate(s *cpustate.State, ea uint64, isWrite, isInstruction bool) (uint64, *Fault) {
	hit, pa, perms := e.TLB.Lookup(ea, s.ASN, s.IsKernel(), isInstruction)
	if hit {
		e.TLB.RecordHit()
	} else {
		e.TLB.RecordMiss()
		walked, wperms, err := e.Walker.Walk(ea, s.ASN, s.IsKernel(), isWrite, isInstruction)
		if err != nil {
			return 0, translateWalkFault(err, s, ea)
		}
		e.TLB.Insert(ea, walked, s.ASN, wperms, isInstruction)
		pa, perms = walked, wperms
	}

	if isWrite && perms&tlb.PermWrite == 0 {
		return 0, &Fault{Kind: ExcWriteFault, PC: s.PC, Address: ea}
	}
	if !isWrite && perms&tlb.PermRead == 0 {
		return 0, &Fault{Kind: ExcReadFault, PC: s.PC, Address: ea}
	}
	return pa, nil
}

func translateWalkFault(err error, s *cpustate.State, ea uint64) *Fault {
	switch err {
	case tlb.FaultAccessViolation:
		return &Fault{Kind: ExcAccessViolation, PC: s.PC, Address: ea}
	case tlb.FaultOnRead:
		return &Fault{Kind: ExcReadFault, PC: s.PC, Address: ea}
	case tlb.FaultOnWrite:
		return &Fault{Kind: ExcWriteFault, PC: s.PC, Address: ea}
	default:
		return &Fault{Kind: ExcPageFault, PC: s.PC, Address: ea}
	}
}

// ExecuteMemory dispatches a Memory-format instruction: loads, stores, and
// the LDx_L/STx_C reservation pair. Opcodes follow the Alpha Architecture
// Reference Manual memory-format map.
func (e *Executor) ExecuteMemory(s *cpustate.State, in decode.Instruction) *Fault {
	switch in.Opcode {
	case 0x08: // LDA
		s.SetGPR(in.Ra, in.EffectiveAddress(s.GetGPR(in.Rb)))
		return nil
	case 0x09: // LDAH
		s.SetGPR(in.Ra, s.GetGPR(in.Rb)+uint64(int64(in.Disp16)<<16))
		return nil
	case 0x0A: // LDBU
		return e.load(s, in, 1, false, false)
	case 0x0B: // LDQ_U
		return e.loadUnaligned(s, in)
	case 0x0C: // LDWU
		return e.load(s, in, 2, false, false)
	case 0x0D: // STW
		return e.store(s, in, 2)
	case 0x0E: // STB
		return e.store(s, in, 1)
	case 0x0F: // STQ_U
		return e.storeUnaligned(s, in)
	case 0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27: // LDF/LDG/LDS/LDT/STF/STG/STS/STT
		return e.fpMemory(s, in)
	case 0x28: // LDL
		return e.load(s, in, 4, true, false)
	case 0x29: // LDQ
		return e.load(s, in, 8, false, false)
	case 0x2A: // LDL_L
		return e.loadLocked(s, in, 4)
	case 0x2B: // LDQ_L
		return e.loadLocked(s, in, 8)
	case 0x2C: // STL
		return e.store(s, in, 4)
	case 0x2D: // STQ
		return e.store(s, in, 8)
	case 0x2E: // STL_C
		return e.storeConditional(s, in, 4)
	case 0x2F: // STQ_C
		return e.storeConditional(s, in, 8)
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}

func (e *Executor) effectiveAddress(s *cpustate.State, in decode.Instruction) uint64 {
	return in.EffectiveAddress(s.GetGPR(in.Rb))
}

func (e *Executor) load(s *cpustate.State, in decode.Instruction, size int, signExtend32bit bool, fp bool) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, false, false)
	if fault != nil {
		return fault
	}
	data, err := e.Cache.Read(pa, size)
	if err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	v := bytesToUint(data)
	if signExtend32bit {
		v = signExtend32(uint32(v))
	}
	s.SetGPR(in.Ra, v)
	return nil
}

func (e *Executor) store(s *cpustate.State, in decode.Instruction, size int) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, true, false)
	if fault != nil {
		return fault
	}
	v := s.GetGPR(in.Ra)
	buf := uintToBytes(v, size)
	if err := e.Cache.Write(pa, buf); err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	if e.Res != nil {
		e.Res.NotifyWrite(e.CPU, pa)
	}
	return nil
}

// loadUnaligned implements LDQ_U: masks the low three bits of EA before
// translation.
func (e *Executor) loadUnaligned(s *cpustate.State, in decode.Instruction) *Fault {
	ea := e.effectiveAddress(s, in) &^ 0x7
	pa, fault := e.translate(s, ea, false, false)
	if fault != nil {
		return fault
	}
	data, err := e.Cache.Read(pa, 8)
	if err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	s.SetGPR(in.Ra, bytesToUint(data))
	return nil
}

func (e *Executor) storeUnaligned(s *cpustate.State, in decode.Instruction) *Fault {
	ea := e.effectiveAddress(s, in) &^ 0x7
	pa, fault := e.translate(s, ea, true, false)
	if fault != nil {
		return fault
	}
	if err := e.Cache.Write(pa, uintToBytes(s.GetGPR(in.Ra), 8)); err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	if e.Res != nil {
		e.Res.NotifyWrite(e.CPU, pa)
	}
	return nil
}

// loadLocked implements LDL_L/LDQ_L: an ordinary load that additionally
// establishes a lock reservation on the line for this CPU.
func (e *Executor) loadLocked(s *cpustate.State, in decode.Instruction, size int) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, false, false)
	if fault != nil {
		return fault
	}
	data, err := e.Cache.Read(pa, size)
	if err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	v := bytesToUint(data)
	if size == 4 {
		v = signExtend32(uint32(v))
	}
	s.SetGPR(in.Ra, v)
	s.Reservation = cpustate.LockReservation{VA: ea, PA: pa, ASN: s.ASN, CPU: e.CPU, Valid: true}
	return nil
}

// storeConditional implements STL_C/STQ_C: succeeds only if the CPU still
// holds a valid reservation matching this physical address; the
// reservation is cleared unconditionally afterward.
func (e *Executor) storeConditional(s *cpustate.State, in decode.Instruction, size int) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, true, false)
	if fault != nil {
		return fault
	}

	ok := s.Reservation.Valid && s.Reservation.PA == pa && s.Reservation.CPU == e.CPU
	if ok {
		if err := e.Cache.Write(pa, uintToBytes(s.GetGPR(in.Ra), size)); err != nil {
			return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
		}
		if e.Res != nil {
			e.Res.NotifyWrite(e.CPU, pa)
		}
	}
	s.ClearReservation()
	s.SetGPR(in.Ra, boolReg(ok))
	return nil
}

// NotifyPeerWrite is called by core/cpu.go's mailbox handler when the SMP
// manager delivers a peer CPU's write of a physical line, clearing this
// CPU's reservation if it
// was watching that line.
func (e *Executor) NotifyPeerWrite(s *cpustate.State, pa uint64) {
	if s.Reservation.Valid && s.Reservation.PA == pa {
		s.ClearReservation()
	}
}

func (e *Executor) loadFP(s *cpustate.State, in decode.Instruction, single bool) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, false, false)
	if fault != nil {
		return fault
	}
	size := 8
	if single {
		size = 4
	}
	data, err := e.Cache.Read(pa, size)
	if err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	if single {
		bits := binary.LittleEndian.Uint32(data)
		v := float64(math.Float32frombits(bits))
		s.SetFPR(in.Ra, math.Float64bits(v))
	} else {
		s.SetFPR(in.Ra, bytesToUint(data))
	}
	return nil
}

// loadVaxF implements LDF: reads a 32-bit VAX F-floating memory image,
// word-swaps it into conventional bit order, and converts to the register
// file's canonical IEEE double form.
func (e *Executor) loadVaxF(s *cpustate.State, in decode.Instruction) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, false, false)
	if fault != nil {
		return fault
	}
	data, err := e.Cache.Read(pa, 4)
	if err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	raw := binary.LittleEndian.Uint32(data)
	v := vaxFBitsToFloat64(vaxWordSwap32(raw))
	s.SetFPR(in.Ra, math.Float64bits(v))
	return nil
}

// storeVaxF implements STF: converts the canonical IEEE double in Ra to VAX
// F-floating, raising Floating Overflow if the magnitude exceeds F's 8-bit
// exponent range, then word-swaps before writing to memory.
func (e *Executor) storeVaxF(s *cpustate.State, in decode.Instruction) *Fault {
	v := math.Float64frombits(s.GetFPR(in.Ra))
	bits, ok := float64ToVaxFBits(v)
	if !ok {
		return &Fault{Kind: ExcFPOverflow, PC: in.PC}
	}
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, true, false)
	if fault != nil {
		return fault
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, vaxWordSwap32(bits))
	if err := e.Cache.Write(pa, buf); err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	return nil
}

// loadVaxG implements LDG: the 64-bit VAX G-floating counterpart of loadVaxF.
func (e *Executor) loadVaxG(s *cpustate.State, in decode.Instruction) *Fault {
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, false, false)
	if fault != nil {
		return fault
	}
	data, err := e.Cache.Read(pa, 8)
	if err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	v := vaxGBitsToFloat64(vaxWordSwap64(bytesToUint(data)))
	s.SetFPR(in.Ra, math.Float64bits(v))
	return nil
}

// storeVaxG implements STG: the 64-bit VAX G-floating counterpart of
// storeVaxF.
func (e *Executor) storeVaxG(s *cpustate.State, in decode.Instruction) *Fault {
	v := math.Float64frombits(s.GetFPR(in.Ra))
	bits, ok := float64ToVaxGBits(v)
	if !ok {
		return &Fault{Kind: ExcFPOverflow, PC: in.PC}
	}
	ea := e.effectiveAddress(s, in)
	pa, fault := e.translate(s, ea, true, false)
	if fault != nil {
		return fault
	}
	if err := e.Cache.Write(pa, uintToBytes(vaxWordSwap64(bits), 8)); err != nil {
		return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
	}
	return nil
}

// fpMemory handles the full FP load/store set this core supports: LDS/LDT
// and STS/STT move IEEE single/double directly; LDF/LDG/STF/STG convert
// through the VAX F/G bit-level converters in float.go, since the register
// file only ever holds the canonical IEEE double form.
func (e *Executor) fpMemory(s *cpustate.State, in decode.Instruction) *Fault {
	switch in.Opcode {
	case 0x20: // LDF
		return e.loadVaxF(s, in)
	case 0x21: // LDG
		return e.loadVaxG(s, in)
	case 0x22: // LDS
		return e.loadFP(s, in, true)
	case 0x23: // LDT
		return e.loadFP(s, in, false)
	case 0x24: // STF
		return e.storeVaxF(s, in)
	case 0x25: // STG
		return e.storeVaxG(s, in)
	case 0x26: // STS
		v := float32(math.Float64frombits(s.GetFPR(in.Ra)))
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		ea := e.effectiveAddress(s, in)
		pa, fault := e.translate(s, ea, true, false)
		if fault != nil {
			return fault
		}
		if err := e.Cache.Write(pa, buf); err != nil {
			return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
		}
		return nil
	case 0x27: // STT
		ea := e.effectiveAddress(s, in)
		pa, fault := e.translate(s, ea, true, false)
		if fault != nil {
			return fault
		}
		if err := e.Cache.Write(pa, uintToBytes(s.GetFPR(in.Ra), 8)); err != nil {
			return &Fault{Kind: ExcBusError, PC: in.PC, Address: ea}
		}
		return nil
	default:
		return &Fault{Kind: ExcIllegalInstruction, PC: in.PC}
	}
}

func bytesToUint(b []byte) uint64 {
	var v uint64
	for i, by := range b {
		v |= uint64(by) << (8 * i)
	}
	return v
}

func uintToBytes(v uint64, size int) []byte {
	buf := make([]byte, size)
	for i := 0; i < size; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return buf
}
