/*
 * axpcore - JIT hot-PC profiler.
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

// Package jit implements the translation pipeline's four cooperating
// entities: profiler, basic-block tracer, compile task pool, and
// translation cache. The compile pool runs on golang.org/x/sync/errgroup
// (wired in by compiler.go), bounded by errgroup.SetLimit.
package jit

import (
	"sync"
	"sync/atomic"
)

// counters is one PC's profiling state. Fields are updated with relaxed
// atomic increment; nothing orders them against anything else.
type counters struct {
	executions atomic.Uint64
	taken      atomic.Uint64
	memAccess  atomic.Uint64
}

// Profiler tracks per-PC execution counts and reports hot PCs once they
// cross the current dynamic threshold.
type Profiler struct {
	threshold atomic.Uint64
	counts    syncMap
}

// NewProfiler builds a profiler with the given initial hot-PC threshold.
func NewProfiler(initialThreshold uint64) *Profiler {
	p := &Profiler{}
	p.threshold.Store(initialThreshold)
	return p
}

// RecordExecution bumps the execution counter for pc and reports whether
// this call just crossed the hot threshold (fires exactly once per PC
// until Reset is called for it).
func (p *Profiler) RecordExecution(pc uint64) (hot bool) {
	c := p.counterFor(pc)
	n := c.executions.Add(1)
	return n == p.threshold.Load()
}

// RecordBranchTaken and RecordMemoryAccess feed the secondary per-PC
// counters. The tracer's complexity score is computed from the decoded
// instructions and does not read them.
func (p *Profiler) RecordBranchTaken(pc uint64) {
	p.counterFor(pc).taken.Add(1)
}

func (p *Profiler) RecordMemoryAccess(pc uint64) {
	p.counterFor(pc).memAccess.Add(1)
}

// Threshold returns the current hot-PC threshold.
func (p *Profiler) Threshold() uint64 { return p.threshold.Load() }

// SetThreshold is called by the adaptive tuner in tuning.go.
func (p *Profiler) SetThreshold(v uint64) { p.threshold.Store(v) }

// Reset clears a PC's counters, used when its compiled block is evicted or
// invalidated so it can become hot again independently.
func (p *Profiler) Reset(pc uint64) {
	p.counts.Delete(pc)
}

func (p *Profiler) counterFor(pc uint64) *counters {
	if v, ok := p.counts.Load(pc); ok {
		return v
	}
	c := &counters{}
	actual := p.counts.LoadOrStore(pc, c)
	return actual
}

// syncMap is a small typed wrapper over sync.Map for uint64 -> *counters,
// avoiding the interface{} boxing a raw sync.Map would otherwise spread
// through this file's call sites.
type syncMap struct {
	inner sync.Map
}

func (m *syncMap) Load(pc uint64) (*counters, bool) {
	v, ok := m.inner.Load(pc)
	if !ok {
		return nil, false
	}
	return v.(*counters), true
}

func (m *syncMap) LoadOrStore(pc uint64, c *counters) *counters {
	v, _ := m.inner.LoadOrStore(pc, c)
	return v.(*counters)
}

func (m *syncMap) Delete(pc uint64) {
	m.inner.Delete(pc)
}
