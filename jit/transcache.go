package jit

import "sync"

// CacheStats accumulates the per-cache counters the adaptive tuner and the
// diagnostics surface consume.
type CacheStats struct {
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	Invalidations uint64
}

// TranslationCache is the bounded PC -> CompiledBlock map with
// LRU-by-(access-count, last-time) eviction.
type TranslationCache struct {
	mu       sync.Mutex
	capacity int
	blocks   map[uint64]*CompiledBlock
	lastUse  map[uint64]uint64
	clock    uint64
	stats    CacheStats
}

// NewTranslationCache builds a cache bounded to capacity entries.
func NewTranslationCache(capacity int) *TranslationCache {
	return &TranslationCache{
		capacity: capacity,
		blocks:   make(map[uint64]*CompiledBlock),
		lastUse:  make(map[uint64]uint64),
	}
}

// Lookup returns the compiled block for pc, if present, bumping its
// recency and access-count stats.
func (c *TranslationCache) Lookup(pc uint64) (*CompiledBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.blocks[pc]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	c.stats.Hits++
	c.clock++
	c.lastUse[pc] = c.clock
	cb.executions++
	return cb, true
}

// Insert adds a compiled block, evicting the least-recently/least-often
// used entry if the cache is at capacity.
func (c *TranslationCache) Insert(cb *CompiledBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.blocks[cb.StartPC]; !exists && len(c.blocks) >= c.capacity {
		c.evictLocked()
	}
	c.clock++
	c.blocks[cb.StartPC] = cb
	c.lastUse[cb.StartPC] = c.clock
}

// evictLocked drops the entry with the lowest (executions, lastUse) pair.
// Called with c.mu held.
func (c *TranslationCache) evictLocked() {
	var victim uint64
	first := true
	for pc, cb := range c.blocks {
		if first {
			victim = pc
			first = false
			continue
		}
		v := c.blocks[victim]
		if cb.executions < v.executions || (cb.executions == v.executions && c.lastUse[pc] < c.lastUse[victim]) {
			victim = pc
		}
	}
	if !first {
		delete(c.blocks, victim)
		delete(c.lastUse, victim)
		c.stats.Evictions++
	}
}

// InvalidateRange removes every compiled block whose covered PC range
// [start, start+len(words)*4) intersects [pc, pc+4), the granularity
// self-modifying-code detection operates at.
func (c *TranslationCache) InvalidateRange(pc uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for start, cb := range c.blocks {
		end := start + uint64(cb.InstructionCount)*4
		if pc >= start && pc < end {
			delete(c.blocks, start)
			delete(c.lastUse, start)
			c.stats.Invalidations++
		}
	}
}

// Stats returns a snapshot of the cache's counters.
func (c *TranslationCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Len reports the current number of cached blocks, for tuning and tests.
func (c *TranslationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}
