/*
 * axpcore - JIT compile task and background worker pool.
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

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Tier selects how aggressively a basic block is lowered, by complexity
// score.
type Tier int

const (
	// TierInterpreted is used for complexity < 10: a thin closure that
	// still re-dispatches each instruction through the normal executor,
	// skipping only fetch and decode.
	TierInterpreted Tier = iota
	// TierOptimized is used for complexity 10..50: the lowering callback
	// may fuse or reorder operations.
	TierOptimized
	// TierFallback is used for complexity > 50, to keep compile latency
	// bounded.
	TierFallback
)

func tierFor(complexity int) Tier {
	switch {
	case complexity < 10:
		return TierInterpreted
	case complexity <= 50:
		return TierOptimized
	default:
		return TierFallback
	}
}

// CompiledFunc executes a compiled basic block and returns the PC to
// resume fetching from (normally the block's EndPC, or a branch target if
// the block ends with a taken branch folded into the compiled form).
type CompiledFunc func() (nextPC uint64, err error)

// CompiledBlock is the unit the translation cache stores, keyed by
// start-PC.
type CompiledBlock struct {
	StartPC          uint64
	InstructionCount int
	Tier             Tier
	Fn               CompiledFunc

	executions  uint64
	totalCycles uint64
}

// RecordCycles accumulates the cycle cost of one execution of the block.
// Called only from the owning CPU's goroutine, so no lock is needed.
func (cb *CompiledBlock) RecordCycles(n uint64) {
	cb.totalCycles += n
}

// Lowerer turns a traced BasicBlock into an executable CompiledFunc at the
// given tier. core/engine.go supplies the concrete implementation, since
// only it has the executor and per-CPU state the closure needs to capture;
// this keeps package jit free of an import on package executor.
type Lowerer interface {
	Lower(block *BasicBlock, tier Tier) CompiledFunc
}

// Compiler runs compile tasks on a bounded background worker pool
// (golang.org/x/sync/errgroup with SetLimit), enforcing at-most-one
// in-flight compilation per start-PC.
type Compiler struct {
	lower Lowerer
	cache *TranslationCache

	mu       sync.Mutex
	inFlight map[uint64]bool

	group *errgroup.Group

	successes uint64
	failures  uint64
}

// NewCompiler builds a Compiler with workers concurrent compile slots,
// inserting finished blocks into cache.
func NewCompiler(ctx context.Context, workers int, lower Lowerer, cache *TranslationCache) *Compiler {
	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	return &Compiler{
		lower:    lower,
		cache:    cache,
		inFlight: make(map[uint64]bool),
		group:    group,
	}
}

// Submit enqueues block for background compilation unless its PC is
// already cached or a compile for it is already in flight.
func (c *Compiler) Submit(block *BasicBlock) {
	c.mu.Lock()
	if c.inFlight[block.StartPC] {
		c.mu.Unlock()
		return
	}
	if _, ok := c.cache.Lookup(block.StartPC); ok {
		c.mu.Unlock()
		return
	}
	c.inFlight[block.StartPC] = true
	c.mu.Unlock()

	c.group.Go(func() error {
		defer func() {
			c.mu.Lock()
			delete(c.inFlight, block.StartPC)
			c.mu.Unlock()
		}()

		tier := tierFor(block.Complexity)
		fn := c.lower.Lower(block, tier)
		if fn == nil {
			c.mu.Lock()
			c.failures++
			c.mu.Unlock()
			return nil
		}

		cb := &CompiledBlock{
			StartPC:          block.StartPC,
			InstructionCount: len(block.Words),
			Tier:             tier,
			Fn:               fn,
		}
		c.cache.Insert(cb)

		c.mu.Lock()
		c.successes++
		c.mu.Unlock()
		return nil
	})
}

// Wait blocks until every submitted compile task has completed; used by
// tests and by a clean shutdown path, never by the interpreter's hot path
// (compilation never blocks execution).
func (c *Compiler) Wait() error {
	return c.group.Wait()
}

// SuccessRate reports the fraction of completed compile tasks that
// produced a usable block, consumed by the adaptive tuner.
func (c *Compiler) SuccessRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.successes + c.failures
	if total == 0 {
		return 1
	}
	return float64(c.successes) / float64(total)
}
