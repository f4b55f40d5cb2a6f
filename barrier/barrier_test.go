package barrier

import (
	"testing"
	"time"
)

type fakeTraps struct {
	arith, fp uint32
}

func (t *fakeTraps) PendingArithmeticTraps() uint32 { return t.arith }
func (t *fakeTraps) PendingFPExceptions() uint32    { return t.fp }
func (t *fakeTraps) DrainArithmeticTraps()          { t.arith = 0 }
func (t *fakeTraps) DrainFPExceptions()             { t.fp = 0 }

type fakeCache struct {
	flushed    int
	prefetched []uint64
	exclusives []uint64
}

func (c *fakeCache) Flush()                                  { c.flushed++ }
func (c *fakeCache) Prefetch(pa uint64, length int)          { c.prefetched = append(c.prefetched, pa) }
func (c *fakeCache) PrefetchExclusive(pa uint64, length int) { c.exclusives = append(c.exclusives, pa) }

type fakeSMP struct {
	acked    []int
	timedOut []int
}

func (s *fakeSMP) Broadcast(sender int, msg string, timeout time.Duration) ([]int, []int) {
	return s.acked, s.timedOut
}
func (s *fakeSMP) CPUCount() int  { return 2 }
func (s *fakeSMP) ThisCPUID() int { return 0 }

type fakeFaults struct {
	reports []string
}

func (f *fakeFaults) ReportFault(cpu int, kind, detail string) {
	f.reports = append(f.reports, kind+":"+detail)
}

func newTestCoordinator(traps *fakeTraps, cache *fakeCache, smp *fakeSMP, faults *fakeFaults) *Coordinator {
	return New(Config{CPU: 0, Traps: traps, Cache: cache, SMP: smp, Faults: faults})
}

func TestTrapbDrainsArithmeticOnly(t *testing.T) {
	traps := &fakeTraps{arith: 3, fp: 5}
	c := newTestCoordinator(traps, &fakeCache{}, &fakeSMP{}, &fakeFaults{})
	c.Execute(TRAPB, 0, 0)
	if traps.arith != 0 {
		t.Fatal("TRAPB must drain arithmetic traps")
	}
	if traps.fp != 5 {
		t.Fatal("TRAPB must not touch FP exceptions")
	}
}

func TestExcbDrainsBothKinds(t *testing.T) {
	traps := &fakeTraps{arith: 1, fp: 1}
	c := newTestCoordinator(traps, &fakeCache{}, &fakeSMP{}, &fakeFaults{})
	c.Execute(EXCB, 0, 0)
	if traps.arith != 0 || traps.fp != 0 {
		t.Fatal("EXCB must drain both arithmetic traps and FP exceptions")
	}
}

func TestMBFlushesCacheAndBroadcasts(t *testing.T) {
	cache := &fakeCache{}
	smp := &fakeSMP{acked: []int{1}}
	c := newTestCoordinator(&fakeTraps{}, cache, smp, &fakeFaults{})
	c.Execute(MB, 0, 0)
	if cache.flushed != 1 {
		t.Fatal("MB must flush the cache hierarchy")
	}
}

func TestTimeoutReportsFaultUnderResetPolicy(t *testing.T) {
	smp := &fakeSMP{timedOut: []int{1}}
	faults := &fakeFaults{}
	c := newTestCoordinator(&fakeTraps{}, &fakeCache{}, smp, faults)
	c.Execute(WMB, 0, 0)

	if len(faults.reports) != 1 {
		t.Fatalf("expected one fault report, got %d", len(faults.reports))
	}
	if c.Stats().Timeouts != 1 {
		t.Fatal("timeout must be counted in stats")
	}
}

func TestFetchAndFetchMRouteToCache(t *testing.T) {
	cache := &fakeCache{}
	c := newTestCoordinator(&fakeTraps{}, cache, &fakeSMP{}, &fakeFaults{})
	c.Execute(FETCH, 0x1000, 0)
	c.Execute(FETCHM, 0x2000, 0)
	if len(cache.prefetched) != 1 || cache.prefetched[0] != 0x1000 {
		t.Fatalf("prefetched = %v", cache.prefetched)
	}
	if len(cache.exclusives) != 1 || cache.exclusives[0] != 0x2000 {
		t.Fatalf("exclusives = %v", cache.exclusives)
	}
}

func TestRPCCReturnsSuppliedCounter(t *testing.T) {
	c := newTestCoordinator(&fakeTraps{}, &fakeCache{}, &fakeSMP{}, &fakeFaults{})
	if got := c.Execute(RPCC, 0, 12345); got != 12345 {
		t.Fatalf("RPCC = %d, want 12345", got)
	}
}

func TestRCThenRSToggleUniqueBit(t *testing.T) {
	c := newTestCoordinator(&fakeTraps{}, &fakeCache{}, &fakeSMP{}, &fakeFaults{})
	if got := c.Execute(RS, 0, 0); got != 0 {
		t.Fatalf("first RS = %d, want 0 (bit was clear)", got)
	}
	if got := c.Execute(RC, 0, 0); got != 1 {
		t.Fatalf("RC after RS = %d, want 1", got)
	}
	if got := c.Execute(RC, 0, 0); got != 0 {
		t.Fatalf("second RC = %d, want 0 (already cleared)", got)
	}
}

func TestEliminatorDisabledWhenTraceEnabled(t *testing.T) {
	e := NewEliminator(100)
	e.RecordCompletion(MB, 0x1000)
	if e.Allow(MB, 0x1000, true) {
		t.Fatal("elision must never be allowed while trace is enabled")
	}
	if !e.Allow(MB, 0x1000, false) {
		t.Fatal("expected elision allowed for a recently completed same-type barrier")
	}
}

func TestEliminatorInvalidatedByMemoryActivity(t *testing.T) {
	e := NewEliminator(100)
	e.RecordCompletion(MB, 0x1000)
	e.RecordMemoryActivity(MB)
	if e.Allow(MB, 0x1000, false) {
		t.Fatal("intervening memory activity must invalidate elision eligibility")
	}
}

func TestEliminatorExpiresOutsideWindow(t *testing.T) {
	e := NewEliminator(2)
	e.RecordCompletion(MB, 0x1000)
	for i := 0; i < 5; i++ {
		e.Tick()
	}
	if e.Allow(MB, 0x1000, false) {
		t.Fatal("elision must expire outside its recency window")
	}
}
