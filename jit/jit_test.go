package jit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestProfilerFiresOnceAtThreshold(t *testing.T) {
	p := NewProfiler(3)
	var hits int
	for i := 0; i < 5; i++ {
		if p.RecordExecution(0x1000) {
			hits++
		}
	}
	if hits != 1 {
		t.Fatalf("expected exactly one threshold crossing, got %d", hits)
	}
}

func TestProfilerResetAllowsRefire(t *testing.T) {
	p := NewProfiler(2)
	p.RecordExecution(0x2000)
	if !p.RecordExecution(0x2000) {
		t.Fatal("expected threshold crossing on second execution")
	}
	p.Reset(0x2000)
	p.RecordExecution(0x2000)
	if !p.RecordExecution(0x2000) {
		t.Fatal("expected threshold crossing again after reset")
	}
}

func TestProfilerIndependentPCs(t *testing.T) {
	p := NewProfiler(100)
	p.RecordExecution(0x1000)
	p.RecordExecution(0x2000)
	p.RecordBranchTaken(0x1000)
	p.RecordMemoryAccess(0x2000)
	c1 := p.counterFor(0x1000)
	c2 := p.counterFor(0x2000)
	if c1.taken.Load() != 1 || c1.memAccess.Load() != 0 {
		t.Fatalf("unexpected counters for pc1: %+v", c1)
	}
	if c2.taken.Load() != 0 || c2.memAccess.Load() != 1 {
		t.Fatalf("unexpected counters for pc2: %+v", c2)
	}
}

type fakeFetcher struct {
	words map[uint64]uint32
}

func (f *fakeFetcher) FetchWord(pc uint64) (uint32, error) {
	return f.words[pc], nil
}

func encodeOperateWord(opcode, ra, rb, function, rc uint32) uint32 {
	return opcode<<26 | ra<<21 | rb<<16 | function<<5 | rc
}

func encodeBranchWord(opcode, ra uint32, disp int32) uint32 {
	return opcode<<26 | ra<<21 | uint32(disp)&0x1fffff
}

func TestTraceStopsAtBranch(t *testing.T) {
	f := &fakeFetcher{words: map[uint64]uint32{
		0x1000: encodeOperateWord(0x10, 1, 2, 0x20, 3), // ADDQ-like
		0x1004: encodeOperateWord(0x10, 1, 2, 0x20, 4),
		0x1008: encodeBranchWord(0x30, 0, 0), // BR
		0x100c: encodeOperateWord(0x10, 1, 2, 0x20, 5),
	}}
	block, err := Trace(f, 0x1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if block.EndPC != 0x100c {
		t.Fatalf("expected trace to stop after branch at 0x100c, got %#x", block.EndPC)
	}
	if len(block.Words) != 3 {
		t.Fatalf("expected 3 words traced, got %d", len(block.Words))
	}
	if block.Complexity <= 0 {
		t.Fatal("expected nonzero complexity score")
	}
}

func TestTraceRespectsMaxLength(t *testing.T) {
	words := make(map[uint64]uint32)
	for i := 0; i < MaxTraceLength+50; i++ {
		words[uint64(i*4)] = encodeOperateWord(0x10, 1, 2, 0x20, 3)
	}
	f := &fakeFetcher{words: words}
	block, err := Trace(f, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(block.Words) != MaxTraceLength {
		t.Fatalf("expected trace capped at %d words, got %d", MaxTraceLength, len(block.Words))
	}
}

type fakeLowerer struct {
	mu        sync.Mutex
	lowered   []uint64
	failPC    uint64
	callCount map[uint64]int
}

func (l *fakeLowerer) Lower(block *BasicBlock, tier Tier) CompiledFunc {
	l.mu.Lock()
	l.lowered = append(l.lowered, block.StartPC)
	if l.callCount == nil {
		l.callCount = make(map[uint64]int)
	}
	l.callCount[block.StartPC]++
	l.mu.Unlock()

	if block.StartPC == l.failPC {
		return nil
	}
	return func() (uint64, error) { return block.EndPC, nil }
}

func TestCompilerSubmitProducesCachedBlock(t *testing.T) {
	cache := NewTranslationCache(16)
	lower := &fakeLowerer{}
	c := NewCompiler(context.Background(), 2, lower, cache)

	block := &BasicBlock{StartPC: 0x1000, EndPC: 0x1010, Words: []uint32{1, 2, 3, 4}, Complexity: 3}
	c.Submit(block)
	if err := c.Wait(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cb, ok := cache.Lookup(0x1000)
	if !ok {
		t.Fatal("expected compiled block to be cached")
	}
	if cb.Tier != TierInterpreted {
		t.Fatalf("expected TierInterpreted for complexity 3, got %v", cb.Tier)
	}
	if c.SuccessRate() != 1 {
		t.Fatalf("expected success rate 1, got %f", c.SuccessRate())
	}
}

func TestCompilerSkipsAlreadyCachedPC(t *testing.T) {
	cache := NewTranslationCache(16)
	lower := &fakeLowerer{}
	c := NewCompiler(context.Background(), 2, lower, cache)

	block := &BasicBlock{StartPC: 0x2000, EndPC: 0x2010, Words: []uint32{1}, Complexity: 1}
	c.Submit(block)
	c.Wait()
	c.Submit(block)
	c.Wait()

	lower.mu.Lock()
	calls := lower.callCount[0x2000]
	lower.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one lowering call for already-cached pc, got %d", calls)
	}
}

func TestCompilerRecordsFailure(t *testing.T) {
	cache := NewTranslationCache(16)
	lower := &fakeLowerer{failPC: 0x3000}
	c := NewCompiler(context.Background(), 2, lower, cache)

	block := &BasicBlock{StartPC: 0x3000, EndPC: 0x3010, Words: []uint32{1}, Complexity: 1}
	c.Submit(block)
	c.Wait()

	if _, ok := cache.Lookup(0x3000); ok {
		t.Fatal("expected failed lowering to not populate the cache")
	}
	if c.SuccessRate() != 0 {
		t.Fatalf("expected success rate 0, got %f", c.SuccessRate())
	}
}

func TestCompilerAtMostOneInFlightPerPC(t *testing.T) {
	cache := NewTranslationCache(16)
	started := make(chan struct{}, 100)
	release := make(chan struct{})
	lower := &blockingLowerer{started: started, release: release}
	c := NewCompiler(context.Background(), 8, lower, cache)

	block := &BasicBlock{StartPC: 0x4000, EndPC: 0x4010, Words: []uint32{1}, Complexity: 1}
	for i := 0; i < 10; i++ {
		c.Submit(block)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("expected at least one lowering to start")
	}

	select {
	case <-started:
		t.Fatal("expected only one in-flight compile for the same PC")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	c.Wait()
}

type blockingLowerer struct {
	started chan struct{}
	release chan struct{}
}

func (l *blockingLowerer) Lower(block *BasicBlock, tier Tier) CompiledFunc {
	l.started <- struct{}{}
	<-l.release
	return func() (uint64, error) { return block.EndPC, nil }
}

func TestTranslationCacheEvictsLeastUsed(t *testing.T) {
	cache := NewTranslationCache(2)
	cache.Insert(&CompiledBlock{StartPC: 0x1000, InstructionCount: 1})
	cache.Insert(&CompiledBlock{StartPC: 0x2000, InstructionCount: 1})

	// Touch 0x1000 repeatedly so it accumulates more executions than 0x2000.
	cache.Lookup(0x1000)
	cache.Lookup(0x1000)
	cache.Lookup(0x1000)

	cache.Insert(&CompiledBlock{StartPC: 0x3000, InstructionCount: 1})

	if _, ok := cache.Lookup(0x1000); !ok {
		t.Fatal("expected frequently used block 0x1000 to survive eviction")
	}
	if _, ok := cache.Lookup(0x2000); ok {
		t.Fatal("expected rarely used block 0x2000 to be evicted")
	}
	if cache.Stats().Evictions != 1 {
		t.Fatalf("expected 1 eviction, got %d", cache.Stats().Evictions)
	}
}

func TestTranslationCacheInvalidateRangeRemovesCoveredEntry(t *testing.T) {
	cache := NewTranslationCache(16)
	cache.Insert(&CompiledBlock{StartPC: 0x1000, InstructionCount: 4})

	cache.InvalidateRange(0x1008) // falls within [0x1000, 0x1010)

	if _, ok := cache.Lookup(0x1000); ok {
		t.Fatal("expected block covering the invalidated address to be removed")
	}
	if cache.Stats().Invalidations != 1 {
		t.Fatalf("expected 1 invalidation, got %d", cache.Stats().Invalidations)
	}
}

func TestTranslationCacheInvalidateRangeLeavesOthersIntact(t *testing.T) {
	cache := NewTranslationCache(16)
	cache.Insert(&CompiledBlock{StartPC: 0x1000, InstructionCount: 4})
	cache.Insert(&CompiledBlock{StartPC: 0x5000, InstructionCount: 4})

	cache.InvalidateRange(0x1004)

	if _, ok := cache.Lookup(0x5000); !ok {
		t.Fatal("expected unrelated block to survive invalidation")
	}
}

func TestTunerRaisesThresholdOnLowSuccessRate(t *testing.T) {
	cache := NewTranslationCache(16)
	lower := &fakeLowerer{failPC: 0x1000}
	c := NewCompiler(context.Background(), 2, lower, cache)
	p := NewProfiler(10)
	tuner := NewTuner(p, c, cache, 1, 1000)

	block := &BasicBlock{StartPC: 0x1000, EndPC: 0x1010, Words: []uint32{1}, Complexity: 1}
	c.Submit(block)
	c.Wait()

	before := p.Threshold()
	tuner.Review()
	if p.Threshold() <= before {
		t.Fatalf("expected threshold to rise after low success rate, before=%d after=%d", before, p.Threshold())
	}
}

func TestTunerLowersThresholdOnHighSuccessAndHitRate(t *testing.T) {
	cache := NewTranslationCache(16)
	lower := &fakeLowerer{}
	c := NewCompiler(context.Background(), 2, lower, cache)
	p := NewProfiler(100)
	tuner := NewTuner(p, c, cache, 1, 1000)

	block := &BasicBlock{StartPC: 0x2000, EndPC: 0x2010, Words: []uint32{1}, Complexity: 1}
	c.Submit(block)
	c.Wait()
	for i := 0; i < 10; i++ {
		cache.Lookup(0x2000)
	}

	before := p.Threshold()
	tuner.Review()
	if p.Threshold() >= before {
		t.Fatalf("expected threshold to fall after high success/hit rate, before=%d after=%d", before, p.Threshold())
	}
}
