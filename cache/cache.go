/*
 * axpcore - Unified set-associative cache level.
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

// Package cache implements a unified set-associative cache level, wired
// into a per-CPU L1I/L1D/L2 plus shared-L3 hierarchy by hierarchy.go. The
// MESI line-state machine lives in coherency.go, the translation-event
// bridge in integrator.go.
//
// Locking protocol: c.mu protects one cache's line arrays and is only ever
// held for local work. Directory requests (which call peer caches'
// notifiers) and backing traffic (which can ripple further directory
// requests) are always issued with c.mu released; a dirty victim displaced
// under the lock is carried out as a pending writeback and issued after
// the unlock. Holding a cache lock across either call is a lock-order
// cycle waiting for the mirror-image access on a peer CPU.
package cache

import "sync"

// Backing is the next level down: either another Cache or final physical
// memory. Both satisfy this interface, so a Cache never special-cases
// "am I the last level".
type Backing interface {
	Read(pa uint64, length int) ([]byte, error)
	Write(pa uint64, data []byte) error
}

// Config parameterizes one cache level from the Cache-L1Data /
// Cache-L1Inst / Cache-L2 / Cache-L3 configuration keys.
type Config struct {
	Sets             int
	Associativity    int
	LineSize         int
	EnablePrefetch   bool
	EnableStatistics bool
	EnableCoherency  bool
}

// DefaultL1Config is a representative EV6-class L1 geometry.
func DefaultL1Config() Config {
	return Config{Sets: 256, Associativity: 2, LineSize: 64, EnablePrefetch: true, EnableStatistics: true, EnableCoherency: true}
}

// DefaultL2Config is a representative EV6-class unified L2 geometry.
func DefaultL2Config() Config {
	return Config{Sets: 2048, Associativity: 4, LineSize: 64, EnablePrefetch: true, EnableStatistics: true, EnableCoherency: true}
}

// DefaultL3Config is a representative shared L3 geometry.
func DefaultL3Config() Config {
	return Config{Sets: 8192, Associativity: 16, LineSize: 64, EnablePrefetch: false, EnableStatistics: true, EnableCoherency: true}
}

type line struct {
	tag   uint64
	state LineState
	data  []byte
	valid bool
	dirty bool
	used  uint64
}

// writeback is a dirty line displaced (or surrendered) under c.mu, issued
// to backing only after the lock is released.
type writeback struct {
	tag  uint64
	data []byte
}

// Stats accumulates level-local counters.
type Stats struct {
	Reads         uint64
	Writes        uint64
	Hits          uint64
	Misses        uint64
	Fills         uint64
	Evictions     uint64
	Writebacks    uint64
	Invalidations uint64
}

// Cache is one level of the hierarchy: read-mostly L1-I, read/write L1-D,
// unified L2, or shared L3.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	lines   [][]line
	backing Backing
	clock   uint64
	coh     *Directory // nil for levels without coherency participation
	cpu     int        // owning CPU id, or -1 for the shared L3
	stats   Stats
}

// New builds a cache level backed by the next level down. coh may be nil
// for a level that does not participate in coherency, such as the
// read-mostly L1-I; the standard hierarchy wires one everywhere else.
func New(cfg Config, backing Backing, coh *Directory, cpu int) *Cache {
	c := &Cache{cfg: cfg, backing: backing, coh: coh, cpu: cpu}
	c.lines = make([][]line, cfg.Sets)
	for i := range c.lines {
		c.lines[i] = make([]line, cfg.Associativity)
	}
	return c
}

func (c *Cache) lineMask() uint64 { return uint64(c.cfg.LineSize) - 1 }

func (c *Cache) tagOf(pa uint64) (tag uint64, set int, off int) {
	lineAddr := pa &^ c.lineMask()
	idx := int((lineAddr / uint64(c.cfg.LineSize)) % uint64(c.cfg.Sets))
	return lineAddr, idx, int(pa & c.lineMask())
}

func copyRange(data []byte, off, want int) []byte {
	end := off + want
	if end > len(data) {
		end = len(data)
	}
	return append([]byte(nil), data[off:end]...)
}

// Read satisfies PA/len reads, filling from backing on miss. Crossing a
// line boundary is handled by looping one line at a time; callers issuing
// naturally-aligned accesses (the common case) take exactly one pass.
func (c *Cache) Read(pa uint64, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	for len(out) < length {
		want := length - len(out)
		chunk, err := c.readLine(pa+uint64(len(out)), want)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (c *Cache) readLine(pa uint64, want int) ([]byte, error) {
	tag, set, off := c.tagOf(pa)

	if data, ok := c.readHit(tag, set, off, want); ok {
		return data, nil
	}

	// Miss, or a hit on a line whose coherency state is Invalid. Take the
	// line Shared before touching backing: the directory forces a peer
	// holding it Modified to write its dirty data down first, so the read
	// below observes the fresh value. Both calls run with c.mu released,
	// per the package locking protocol.
	if c.coh != nil {
		c.coh.AcquireShared(c.cpu, tag)
	}
	data, err := c.backing.Read(tag, c.cfg.LineSize)
	if err != nil {
		return nil, err
	}

	var wb *writeback
	c.mu.Lock()
	c.clock++
	serve := data
	found := false
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			// Present after all: the Invalid-state hit case. Refresh the
			// stale bytes from the backing read rather than double-filling.
			if l.state == Invalid {
				copy(l.data, data)
				l.state = Shared
			}
			l.used = c.clock
			serve = l.data
			found = true
			break
		}
	}
	if !found {
		_, wb = c.fill(set, tag, data, Shared)
	}
	out := copyRange(serve, off, want)
	c.mu.Unlock()

	if wb != nil {
		c.backing.Write(wb.tag, wb.data)
	}
	return out, nil
}

// readHit serves a read that hits a valid, coherent line; ok=false means
// a miss (or an Invalid-state hit that needs a fresh acquire), with the
// miss already counted.
func (c *Cache) readHit(tag uint64, set, off, want int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Reads++
	c.clock++
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			if c.coh != nil && l.state == Invalid {
				break
			}
			c.stats.Hits++
			l.used = c.clock
			return copyRange(l.data, off, want), true
		}
	}
	c.stats.Misses++
	return nil, false
}

// Write write-allocates: a miss fills the line before the write lands, and
// the line transitions toward Modified, broadcasting an invalidate to any
// peers holding it Shared.
func (c *Cache) Write(pa uint64, data []byte) error {
	written := 0
	for written < len(data) {
		tag, set, off := c.tagOf(pa + uint64(written))
		n, err := c.writeLine(tag, set, off, data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (c *Cache) writeLine(tag uint64, set, off int, data []byte) (int, error) {
	if n, ok := c.writeHit(tag, set, off, data); ok {
		return n, nil
	}

	// Exclusive ownership is taken with c.mu released, and before the
	// fill read below, so a peer holding the line Modified has written
	// its dirty data down by the time backing is read.
	if c.coh != nil {
		c.coh.AcquireExclusive(c.cpu, tag)
	}
	existing, err := c.backing.Read(tag, c.cfg.LineSize)
	if err != nil {
		return 0, err
	}

	var wb *writeback
	c.mu.Lock()
	c.clock++
	var l *line
	for i := range c.lines[set] {
		if c.lines[set][i].valid && c.lines[set][i].tag == tag {
			l = &c.lines[set][i]
			break
		}
	}
	if l == nil {
		var way int
		way, wb = c.fill(set, tag, existing, Exclusive)
		l = &c.lines[set][way]
	}
	l.state = Modified
	l.dirty = true
	l.used = c.clock
	n := copy(l.data[off:], data)
	c.mu.Unlock()

	if wb != nil {
		c.backing.Write(wb.tag, wb.data)
	}
	return n, nil
}

// writeHit serves a store that may land without a coherency request: any
// hit when no directory is wired, or a hit on a line already held
// Modified. ok=false means the caller must take exclusive ownership first;
// the access has been counted either way.
func (c *Cache) writeHit(tag uint64, set, off int, data []byte) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Writes++
	c.clock++
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			c.stats.Hits++
			if c.coh != nil && l.state != Modified {
				return 0, false
			}
			l.state = Modified
			l.dirty = true
			l.used = c.clock
			return copy(l.data[off:], data), true
		}
	}
	c.stats.Misses++
	return 0, false
}

// fill installs a new line in set, evicting by least-recently-used if
// every way is occupied. Returns the way index used and, for a dirty
// victim, the pending writeback the caller must issue after releasing
// c.mu. Called with c.mu held.
func (c *Cache) fill(set int, tag uint64, data []byte, state LineState) (way int, wb *writeback) {
	ways := c.lines[set]
	way = -1
	for i := range ways {
		if !ways[i].valid {
			way = i
			break
		}
	}
	if way == -1 {
		way = 0
		for i := range ways {
			if ways[i].used < ways[way].used {
				way = i
			}
		}
		victim := &ways[way]
		if victim.dirty {
			wb = &writeback{tag: victim.tag, data: victim.data}
			c.stats.Writebacks++
		}
		if c.coh != nil {
			c.coh.Release(c.cpu, victim.tag)
		}
		c.stats.Evictions++
	}
	c.stats.Fills++
	buf := make([]byte, c.cfg.LineSize)
	copy(buf, data)
	ways[way] = line{tag: tag, state: state, data: buf, valid: true, used: c.clock}
	return way, wb
}

// Prefetch speculatively fills a line without returning data to the caller.
func (c *Cache) Prefetch(pa uint64, length int) {
	if !c.cfg.EnablePrefetch {
		return
	}
	for done := 0; done < length; done += c.cfg.LineSize {
		tag, set, _ := c.tagOf(pa + uint64(done))
		c.mu.Lock()
		present := false
		for i := range c.lines[set] {
			if c.lines[set][i].valid && c.lines[set][i].tag == tag {
				present = true
				break
			}
		}
		c.mu.Unlock()
		if present {
			continue
		}
		c.readLine(tag, c.cfg.LineSize)
	}
}

// PrefetchExclusive speculatively fills a line and requests ownership
// upfront, driven by the FETCH_M barrier operation.
func (c *Cache) PrefetchExclusive(pa uint64, length int) {
	if !c.cfg.EnablePrefetch {
		return
	}
	for done := 0; done < length; done += c.cfg.LineSize {
		tag, set, _ := c.tagOf(pa + uint64(done))
		if c.coh != nil {
			c.coh.AcquireExclusive(c.cpu, tag)
		}
		existing, err := c.backing.Read(tag, c.cfg.LineSize)
		if err != nil {
			continue
		}
		var wb *writeback
		c.mu.Lock()
		c.clock++
		present := false
		for i := range c.lines[set] {
			l := &c.lines[set][i]
			if l.valid && l.tag == tag {
				if l.state == Shared || l.state == Invalid {
					l.state = Exclusive
				}
				present = true
				break
			}
		}
		if !present {
			_, wb = c.fill(set, tag, existing, Exclusive)
		}
		c.mu.Unlock()
		if wb != nil {
			c.backing.Write(wb.tag, wb.data)
		}
	}
}

// InvalidateLine drops a single line without writing it back, used by
// self-modifying-code handling on the instruction side and by TBIS through
// the TLB-cache integrator.
func (c *Cache) InvalidateLine(pa uint64) {
	tag, set, _ := c.tagOf(pa)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			if c.coh != nil {
				c.coh.Release(c.cpu, l.tag)
			}
			*l = line{}
			c.stats.Invalidations++
			return
		}
	}
}

// InvalidateShared surrenders a line the coherency directory says a peer
// has taken Exclusive: the MODIFIED -> [peer write] -> INVALID transition.
// Dirty bytes are pushed down through WriteBack -- all the way to the
// shared point, since the new owner fills from its own chain and would
// never see data parked in this CPU's private levels -- and the line is
// dropped; a clean line is simply dropped.
func (c *Cache) InvalidateShared(pa uint64) {
	tag, set, _ := c.tagOf(pa)
	var wb *writeback
	c.mu.Lock()
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			if l.dirty {
				wb = &writeback{tag: l.tag, data: l.data}
				c.stats.Writebacks++
			}
			*l = line{}
			c.stats.Invalidations++
			break
		}
	}
	c.mu.Unlock()
	if wb != nil {
		c.surrender(wb.tag, wb.data)
	}
}

// DowngradeShared surrenders exclusivity but keeps the line: the MODIFIED
// -> [peer read] -> SHARED transition. Dirty bytes are pushed down to the
// shared point so the peer's fill observes them; the local copy stays,
// clean and Shared.
func (c *Cache) DowngradeShared(pa uint64) {
	tag, set, _ := c.tagOf(pa)
	var wb *writeback
	c.mu.Lock()
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			if l.dirty {
				wb = &writeback{tag: l.tag, data: append([]byte(nil), l.data...)}
				c.stats.Writebacks++
				l.dirty = false
			}
			l.state = Shared
			break
		}
	}
	c.mu.Unlock()
	if wb != nil {
		c.surrender(wb.tag, wb.data)
	}
}

// WriteBack deposits a surrendered line's bytes without taking ownership:
// the writer is giving the line up, not claiming it, so no invalidation
// ripples to peers and no coherency request is made. Any copy this level
// holds is refreshed in passing, and the bytes continue down toward
// physical memory so every reader's fill chain observes them.
func (c *Cache) WriteBack(pa uint64, data []byte) error {
	tag, set, _ := c.tagOf(pa)
	c.mu.Lock()
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag {
			copy(l.data, data)
			l.dirty = false
			break
		}
	}
	c.mu.Unlock()
	return c.surrender(tag, data)
}

// surrender forwards surrendered bytes one level down: through the
// ownership-free WriteBack path while the backing is another cache, and a
// plain write once it is physical memory.
func (c *Cache) surrender(tag uint64, data []byte) error {
	if bc, ok := c.backing.(*Cache); ok {
		return bc.WriteBack(tag, data)
	}
	return c.backing.Write(tag, data)
}

// WritebackLine pushes one line's dirty bytes down to backing without
// dropping the line, downgrading Modified to Exclusive. The
// self-modifying-code path uses it so a subsequent L1-I refill through the
// shared L2 observes a store that would otherwise sit dirty in L1-D only.
func (c *Cache) WritebackLine(pa uint64) {
	tag, set, _ := c.tagOf(pa)
	var wb *writeback
	c.mu.Lock()
	for i := range c.lines[set] {
		l := &c.lines[set][i]
		if l.valid && l.tag == tag && l.dirty {
			wb = &writeback{tag: l.tag, data: append([]byte(nil), l.data...)}
			c.stats.Writebacks++
			l.dirty = false
			if l.state == Modified {
				l.state = Exclusive
			}
			break
		}
	}
	c.mu.Unlock()
	if wb != nil {
		c.backing.Write(wb.tag, wb.data)
	}
}

// Flush drains every dirty line to backing and transitions all lines to
// Invalid. Dirty data is collected under the lock and written out after
// it is released, like every other backing call in this package.
func (c *Cache) Flush() {
	var wbs []writeback
	c.mu.Lock()
	for set := range c.lines {
		for way := range c.lines[set] {
			l := &c.lines[set][way]
			if !l.valid {
				continue
			}
			if l.dirty {
				wbs = append(wbs, writeback{tag: l.tag, data: l.data})
				c.stats.Writebacks++
			}
			if c.coh != nil {
				c.coh.Release(c.cpu, l.tag)
			}
			c.stats.Evictions++
			*l = line{}
		}
	}
	c.mu.Unlock()
	for _, wb := range wbs {
		c.backing.Write(wb.tag, wb.data)
	}
}

// Stats returns a snapshot of this level's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
