/*
 * axpcore - TLB-cache integrator: translation-driven prefetch and page
 * invalidation.
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

package cache

import "sync"

// IntegratorConfig carries the TlbCacheIntegration configuration keys: how
// many lines to pull behind a fresh translation, how far ahead of the
// translated address to start, and which of the integrator's behaviors are
// active.
type IntegratorConfig struct {
	PrefetchDepth    int
	PrefetchDistance int
	CacheLineSize    int
	PageSize         uint64
	EfficiencyTarget float64
	CoherencyEnabled bool
	PrefetchEnabled  bool
	WritebackEnabled bool
}

// DefaultIntegratorConfig pulls two lines starting one line past the
// translated address, on 64-byte lines over 8 KiB pages.
func DefaultIntegratorConfig() IntegratorConfig {
	return IntegratorConfig{
		PrefetchDepth:    2,
		PrefetchDistance: 1,
		CacheLineSize:    64,
		PageSize:         8192,
		EfficiencyTarget: 0.5,
		CoherencyEnabled: true,
		PrefetchEnabled:  true,
		WritebackEnabled: true,
	}
}

// IntegratorStats counts the integrator's own activity, separate from the
// per-level cache counters it drives.
type IntegratorStats struct {
	PagesMapped       uint64
	PagesUnmapped     uint64
	LinesPrefetched   uint64
	LinesInvalidated  uint64
	PrefetchSuspended uint64
}

// Integrator bridges translation events into the cache hierarchy for one
// CPU: a fresh translation warms the data or instruction cache with the
// first lines of the new page, and a translation invalidation drops the
// page's lines so no stale copy outlives its mapping. Review periodically
// compares the data cache's hit rate against the configured efficiency
// target and suspends prefetching while it underperforms.
type Integrator struct {
	mu     sync.Mutex
	cfg    IntegratorConfig
	l1d    *Cache
	l1i    *Cache
	active bool
	stats  IntegratorStats
}

// NewIntegrator builds an integrator over a CPU's private L1 pair.
func NewIntegrator(cfg IntegratorConfig, l1d, l1i *Cache) *Integrator {
	if cfg.CacheLineSize <= 0 {
		cfg.CacheLineSize = 64
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 8192
	}
	return &Integrator{cfg: cfg, l1d: l1d, l1i: l1i, active: cfg.PrefetchEnabled}
}

// PageMapped reacts to a new translation for the page holding pa: pull the
// next PrefetchDepth lines, starting PrefetchDistance lines past the
// translated address, into the side of the L1 the translation feeds. Stops
// at the page boundary so a speculative fill never crosses into a page
// whose translation was not the trigger.
func (i *Integrator) PageMapped(pa uint64, isInstruction bool) {
	i.mu.Lock()
	enabled := i.active
	i.stats.PagesMapped++
	i.mu.Unlock()
	if !enabled {
		return
	}

	target := i.l1d
	if isInstruction {
		target = i.l1i
	}

	line := uint64(i.cfg.CacheLineSize)
	pageEnd := (pa &^ (i.cfg.PageSize - 1)) + i.cfg.PageSize
	addr := pa + uint64(i.cfg.PrefetchDistance)*line
	for d := 0; d < i.cfg.PrefetchDepth; d++ {
		if addr >= pageEnd {
			break
		}
		target.Prefetch(addr, i.cfg.CacheLineSize)
		i.mu.Lock()
		i.stats.LinesPrefetched++
		i.mu.Unlock()
		addr += line
	}
}

// PageUnmapped reacts to a translation invalidation for the page holding
// pa, sweeping its lines out of both L1 sides. With WritebackEnabled a
// dirty data line drains to the next level first; otherwise lines are
// dropped outright, for deployments that treat an unmap as a discard.
func (i *Integrator) PageUnmapped(pa uint64) {
	i.mu.Lock()
	i.stats.PagesUnmapped++
	i.mu.Unlock()

	line := uint64(i.cfg.CacheLineSize)
	base := pa &^ (i.cfg.PageSize - 1)
	for addr := base; addr < base+i.cfg.PageSize; addr += line {
		if i.cfg.WritebackEnabled {
			i.l1d.InvalidateShared(addr)
		} else {
			i.l1d.InvalidateLine(addr)
		}
		i.l1i.InvalidateLine(addr)
		i.mu.Lock()
		i.stats.LinesInvalidated++
		i.mu.Unlock()
	}
}

// Review compares the data cache's cumulative hit rate against the
// efficiency target and suspends or resumes prefetching accordingly.
// Driven from the same maintenance tick that reviews TLB auto-tune.
func (i *Integrator) Review() {
	if !i.cfg.PrefetchEnabled {
		return
	}
	s := i.l1d.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return
	}
	rate := float64(s.Hits) / float64(total)

	i.mu.Lock()
	defer i.mu.Unlock()
	if rate < i.cfg.EfficiencyTarget {
		if i.active {
			i.stats.PrefetchSuspended++
		}
		i.active = false
	} else {
		i.active = true
	}
}

// Stats returns a snapshot of the integrator's counters.
func (i *Integrator) Stats() IntegratorStats {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stats
}
