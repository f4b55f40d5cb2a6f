/*
 * axpcore - Per-CPU translation buffer (ITB/DTB model).
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

// Package tlb implements a per-CPU set-associative translation buffer
// with ASN tagging, LRU replacement, and dynamic auto-tuning. Entries
// carry the full hardware tuple: virtual and physical page numbers, ASN,
// permission bits, page size, and the instruction/data tag.
package tlb

import (
	"sync"
	"sync/atomic"
)

// Perm is the permission bit set carried by a TLB entry.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExecute
	PermGlobal // ASN-independent match
	PermDirty
	PermRef
)

// PageTableWalker is the external page-table collaborator: invoked on
// TLB miss, may itself fault.
type PageTableWalker interface {
	Walk(va uint64, asn uint32, isKernel, isWrite, isInstruction bool) (pa uint64, perms Perm, err error)
	// Writeback persists dirty/ref bits for an entry being evicted, so
	// eviction of a dirty entry never loses them.
	Writeback(va uint64, asn uint32, perms Perm)
}

// Fault distinguishes the page-table-walk failure modes.
type Fault int

const (
	FaultNone Fault = iota
	FaultTranslationNotValid
	FaultAccessViolation
	FaultOnRead
	FaultOnWrite
)

func (f Fault) Error() string {
	switch f {
	case FaultTranslationNotValid:
		return "translation not valid"
	case FaultAccessViolation:
		return "access violation"
	case FaultOnRead:
		return "fault on read"
	case FaultOnWrite:
		return "fault on write"
	default:
		return "no fault"
	}
}

type entry struct {
	vpn      uint64
	ppn      uint64
	asn      uint32
	perms    Perm
	pageSize uint64
	isInsn   bool
	valid    bool
	lastUse  uint64
}

// Config is the TLB's configurable geometry, taken from the TlbSystem
// configuration keys.
type Config struct {
	Sets        int
	Ways        int
	MaxSets     int
	MaxWays     int
	PageBits    uint
	Replacement ReplacementPolicy
}

// ReplacementPolicy selects the eviction rule within a set.
type ReplacementPolicy int

const (
	LRU ReplacementPolicy = iota
	Random
	FIFO
)

// DefaultConfig returns the architectural default: 512 sets x 8 ways, 8 KiB
// pages, LRU replacement, room to auto_tune up to 2048 sets and 16 ways.
func DefaultConfig() Config {
	return Config{
		Sets:        512,
		Ways:        8,
		MaxSets:     2048,
		MaxWays:     16,
		PageBits:    13,
		Replacement: LRU,
	}
}

// Stats accumulates the counters AutoTune and the diagnostics surface
// consult. All fields are updated under the TLB's own lock, not atomics:
// readers take the read lock already held for lookup.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	Contention  uint64 // bumped by every invalidate; actual lock waits are not measured
	Invalidates uint64
}

// TLB is one CPU's instruction or data translation buffer.
type TLB struct {
	mu     sync.RWMutex
	cfg    Config
	sets   [][]entry
	walker PageTableWalker
	clock  uint64 // logical LRU clock, bumped on every insert and, under LRU, every hit
	stats  Stats
}

// New builds a TLB of the given configuration backed by walker for misses.
func New(cfg Config, walker PageTableWalker) *TLB {
	t := &TLB{cfg: cfg, walker: walker}
	t.sets = make([][]entry, cfg.Sets)
	for i := range t.sets {
		t.sets[i] = make([]entry, cfg.Ways)
	}
	return t
}

func (t *TLB) setIndex(vpn uint64) int {
	return int(vpn % uint64(len(t.sets)))
}

// Lookup performs VA->PA translation under the current ASN, mode, and
// instruction/data flag. Readers take only the read lock — concurrent
// lookups never block each other; only the rare insert/invalidate writer
// does.
func (t *TLB) Lookup(va uint64, asn uint32, isKernel, isInstruction bool) (hit bool, pa uint64, perms Perm) {
	vpn := va >> t.cfg.PageBits
	idx := t.setIndex(vpn)

	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.sets[idx]
	for i := range set {
		e := &set[i]
		if !e.valid || e.vpn != vpn || e.isInsn != isInstruction {
			continue
		}
		if e.perms&PermGlobal == 0 && e.asn != asn {
			continue
		}
		off := va & (t.pageMask())
		if t.cfg.Replacement == LRU {
			// Concurrent readers share the read lock, so recency is
			// updated atomically; writers hold the write lock exclusively.
			atomic.StoreUint64(&e.lastUse, atomic.AddUint64(&t.clock, 1))
		}
		return true, (e.ppn << t.cfg.PageBits) | off, e.perms
	}
	return false, 0, 0
}

func (t *TLB) pageMask() uint64 {
	return (uint64(1) << t.cfg.PageBits) - 1
}

// Insert installs a new mapping, evicting by the configured replacement
// policy. A dirty evictee's permission bits (including Dirty/Ref) are
// written back through the page-table collaborator before being discarded,
// so eviction never loses dirty/ref state.
func (t *TLB) Insert(va, pa uint64, asn uint32, perms Perm, isInstruction bool) {
	vpn := va >> t.cfg.PageBits
	ppn := pa >> t.cfg.PageBits
	idx := t.setIndex(vpn)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.clock++
	set := t.sets[idx]

	// Drop any entry a lookup for this (page, ASN, side) would already
	// match, so at most one valid entry ever exists for it even on a
	// double insert.
	for i := range set {
		e := &set[i]
		if e.valid && e.vpn == vpn && e.isInsn == isInstruction && (e.asn == asn || e.perms&PermGlobal != 0) {
			*e = entry{}
		}
	}

	way := -1
	for i := range set {
		if !set[i].valid {
			way = i
			break
		}
	}
	if way == -1 {
		way = t.chooseVictim(set)
		victim := &set[way]
		if victim.perms&(PermDirty|PermRef) != 0 {
			t.walker.Writeback(victim.vpn<<t.cfg.PageBits, victim.asn, victim.perms)
		}
		t.stats.Evictions++
	}

	set[way] = entry{
		vpn:      vpn,
		ppn:      ppn,
		asn:      asn,
		perms:    perms,
		pageSize: uint64(1) << t.cfg.PageBits,
		isInsn:   isInstruction,
		valid:    true,
		lastUse:  t.clock,
	}
}

func (t *TLB) chooseVictim(set []entry) int {
	switch t.cfg.Replacement {
	case FIFO, LRU:
		oldest := 0
		for i := range set {
			if set[i].lastUse < set[oldest].lastUse {
				oldest = i
			}
		}
		return oldest
	default: // Random
		return int(t.clock) % len(set)
	}
}

// RecordHit/RecordMiss let the memory executor report outcomes for a
// lookup it already performed via Lookup, keeping stats updates under the
// same lock discipline as Insert/invalidate.
func (t *TLB) RecordHit()  { t.mu.Lock(); t.stats.Hits++; t.mu.Unlock() }
func (t *TLB) RecordMiss() { t.mu.Lock(); t.stats.Misses++; t.mu.Unlock() }

// Stats returns a snapshot of the counters.
func (t *TLB) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// InvalidateAll clears every entry (TBIA).
func (t *TLB) InvalidateAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sets {
		for j := range t.sets[i] {
			t.sets[i][j] = entry{}
		}
	}
	t.stats.Invalidates++
	t.stats.Contention++
}

// InvalidateASN clears every entry tagged with asn and not global (TBIS
// class sweep restricted to one address space).
func (t *TLB) InvalidateASN(asn uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sets {
		for j := range t.sets[i] {
			e := &t.sets[i][j]
			if e.valid && e.perms&PermGlobal == 0 && e.asn == asn {
				*e = entry{}
			}
		}
	}
	t.stats.Invalidates++
	t.stats.Contention++
}

// InvalidateAddress clears the single entry matching (va, asn), if any
// (TBIS).
func (t *TLB) InvalidateAddress(va uint64, asn uint32) {
	vpn := va >> t.cfg.PageBits
	idx := t.setIndex(vpn)

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sets[idx] {
		e := &t.sets[idx][i]
		if e.valid && e.vpn == vpn && (e.asn == asn || e.perms&PermGlobal != 0) {
			*e = entry{}
		}
	}
	t.stats.Invalidates++
	t.stats.Contention++
}

// InvalidateInstructionEntries clears all entries tagged instruction (or
// data, if instruction is false) (TBIM class sweep).
func (t *TLB) InvalidateInstructionEntries(instruction bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.sets {
		for j := range t.sets[i] {
			e := &t.sets[i][j]
			if e.valid && e.isInsn == instruction {
				*e = entry{}
			}
		}
	}
	t.stats.Invalidates++
	t.stats.Contention++
}
