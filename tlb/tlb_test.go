package tlb

import "testing"

type fakeWalker struct {
	writebacks int
}

func (w *fakeWalker) Walk(va uint64, asn uint32, isKernel, isWrite, isInstruction bool) (uint64, Perm, error) {
	return va, PermRead | PermWrite, nil
}

func (w *fakeWalker) Writeback(va uint64, asn uint32, perms Perm) {
	w.writebacks++
}

func TestInsertThenLookupReturnsSamePAAndPerms(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	tb.Insert(0x10000, 0x90000, 7, PermRead|PermWrite, false)

	hit, pa, perms := tb.Lookup(0x10000, 7, false, false)
	if !hit {
		t.Fatal("expected hit")
	}
	if pa != 0x90000 {
		t.Fatalf("pa = %#x, want 0x90000", pa)
	}
	if perms&PermWrite == 0 {
		t.Fatal("expected write permission preserved")
	}
}

func TestASNMismatchMisses(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	tb.Insert(0x20000, 0xa0000, 1, PermRead, false)

	hit, _, _ := tb.Lookup(0x20000, 2, false, false)
	if hit {
		t.Fatal("expected miss on ASN mismatch even though VA matches")
	}
}

func TestInvalidateAllThenLookupAlwaysMisses(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	for i := uint64(0); i < 16; i++ {
		tb.Insert(i<<13, i<<13, 0, PermRead, false)
	}
	tb.InvalidateAll()

	for i := uint64(0); i < 16; i++ {
		if hit, _, _ := tb.Lookup(i<<13, 0, false, false); hit {
			t.Fatalf("entry %d still present after invalidate_all", i)
		}
	}
}

func TestInstructionDataEntriesAreIndependent(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	tb.Insert(0x30000, 0xb0000, 0, PermExecute, true)

	if hit, _, _ := tb.Lookup(0x30000, 0, false, false); hit {
		t.Fatal("data lookup should not match an instruction-tagged entry")
	}
	if hit, _, _ := tb.Lookup(0x30000, 0, false, true); !hit {
		t.Fatal("instruction lookup should match")
	}
}

func TestEvictionOfDirtyEntryWritesBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sets = 1
	cfg.Ways = 2
	walker := &fakeWalker{}
	tb := New(cfg, walker)

	// Fill both ways in the single set, then force a third insert to the
	// same set, evicting one of the two.
	tb.Insert(0x2000, 0x2000, 0, PermDirty, false)
	tb.Insert(0x4000, 0x4000, 0, PermDirty, false)
	tb.Insert(0x6000, 0x6000, 0, PermDirty, false)

	if walker.writebacks == 0 {
		t.Fatal("expected a writeback on dirty eviction")
	}
}

func TestGlobalEntryIgnoresASN(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	tb.Insert(0x40000, 0xc0000, 5, PermRead|PermGlobal, false)

	if hit, _, _ := tb.Lookup(0x40000, 999, false, false); !hit {
		t.Fatal("global entry should match regardless of ASN")
	}
}

func TestAutoTuneGrowsSetsUnderLowHitRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sets = 2
	cfg.MaxSets = 8
	tb := New(cfg, &fakeWalker{})

	for i := 0; i < 50; i++ {
		tb.RecordMiss()
	}
	for i := 0; i < 5; i++ {
		tb.RecordHit()
	}

	grew := tb.AutoTune(DefaultThresholds())
	if !grew {
		t.Fatal("expected auto_tune to grow sets under a poor hit rate")
	}
	if len(tb.sets) <= 2 {
		t.Fatalf("sets = %d, want > 2", len(tb.sets))
	}
}

func TestAsyncLookupResolves(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	tb.Insert(0x50000, 0xd0000, 0, PermRead, false)

	h := tb.AsyncLookup(0x50000, 0, false, false)
	res := h.Wait()
	if !res.Hit || res.PA != 0xd0000 {
		t.Fatalf("async result = %+v", res)
	}
}

func TestDoubleInsertKeepsSingleEntry(t *testing.T) {
	tb := New(DefaultConfig(), &fakeWalker{})
	tb.Insert(0x60000, 0xe0000, 3, PermRead, false)
	tb.Insert(0x60000, 0xf0000, 3, PermRead|PermWrite, false)

	idx := tb.setIndex(0x60000 >> tb.cfg.PageBits)
	matches := 0
	for i := range tb.sets[idx] {
		e := &tb.sets[idx][i]
		if e.valid && e.vpn == 0x60000>>tb.cfg.PageBits && e.asn == 3 && !e.isInsn {
			matches++
		}
	}
	if matches != 1 {
		t.Fatalf("matching entries = %d, want exactly 1 after a double insert", matches)
	}

	hit, pa, perms := tb.Lookup(0x60000, 3, false, false)
	if !hit || pa != 0xf0000 || perms&PermWrite == 0 {
		t.Fatalf("lookup after re-insert = (%v, %#x, %v), want the newer mapping", hit, pa, perms)
	}
}
