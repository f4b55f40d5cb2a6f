/*
 * axpcore - JIT adaptive threshold tuning.
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

package jit

// Tuner periodically reviews compile success rate and cache pressure and
// adjusts the profiler's hot-PC threshold, so a flood of short-lived or
// uncompilable blocks doesn't waste worker time and a cache that's mostly
// hits can afford to compile more eagerly.
type Tuner struct {
	profiler *Profiler
	compiler *Compiler
	cache    *TranslationCache

	minThreshold uint64
	maxThreshold uint64

	lastHits   uint64
	lastMisses uint64
}

// NewTuner builds a tuner bounding the threshold to [minThreshold, maxThreshold].
func NewTuner(profiler *Profiler, compiler *Compiler, cache *TranslationCache, minThreshold, maxThreshold uint64) *Tuner {
	return &Tuner{
		profiler:     profiler,
		compiler:     compiler,
		cache:        cache,
		minThreshold: minThreshold,
		maxThreshold: maxThreshold,
	}
}

// Review runs one tuning step. Call it periodically (e.g. once per N
// profiler-reported hot blocks, or on a timer) from core/engine.go.
func (t *Tuner) Review() {
	success := t.compiler.SuccessRate()
	stats := t.cache.Stats()

	hitRate := t.intervalHitRate(stats)

	current := t.profiler.Threshold()
	switch {
	case success < 0.5:
		// Too many traced blocks fail to lower usefully; raise the bar so
		// the tracer is pickier about what it calls hot.
		t.profiler.SetThreshold(t.clamp(current * 2))
	case success > 0.9 && hitRate > 0.8:
		// Compilation is paying off and the cache isn't thrashing; lower
		// the bar so more code gets the JIT treatment.
		if current > t.minThreshold {
			t.profiler.SetThreshold(t.clamp(current / 2))
		}
	}
}

func (t *Tuner) intervalHitRate(stats CacheStats) float64 {
	hits := stats.Hits - t.lastHits
	misses := stats.Misses - t.lastMisses
	t.lastHits = stats.Hits
	t.lastMisses = stats.Misses

	total := hits + misses
	if total == 0 {
		return 1
	}
	return float64(hits) / float64(total)
}

func (t *Tuner) clamp(v uint64) uint64 {
	if v < t.minThreshold {
		return t.minThreshold
	}
	if v > t.maxThreshold {
		return t.maxThreshold
	}
	return v
}
