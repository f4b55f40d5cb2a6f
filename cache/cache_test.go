package cache

import (
	"bytes"
	"sync"
	"testing"
)

// fakeMemory is a flat byte-addressed backing store standing in for
// physical memory.
type fakeMemory struct {
	mu   sync.Mutex
	data map[uint64][]byte
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{data: make(map[uint64][]byte)}
}

func (m *fakeMemory) Read(pa uint64, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, length)
	if existing, ok := m.data[pa]; ok {
		copy(out, existing)
	}
	return out, nil
}

func (m *fakeMemory) Write(pa uint64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.data[pa] = buf
	return nil
}

func smallConfig() Config {
	return Config{Sets: 4, Associativity: 2, LineSize: 16, EnablePrefetch: true, EnableStatistics: true, EnableCoherency: true}
}

func TestReadFillsFromBackingOnMiss(t *testing.T) {
	mem := newFakeMemory()
	mem.Write(0x1000, bytes.Repeat([]byte{0xaa}, 16))
	c := New(smallConfig(), mem, NewDirectory(), 0)

	got, err := c.Read(0x1000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{0xaa, 0xaa, 0xaa, 0xaa}) {
		t.Fatalf("got %x", got)
	}
	if c.Stats().Misses != 1 {
		t.Fatalf("misses = %d, want 1", c.Stats().Misses)
	}
}

func TestReadHitsAfterFill(t *testing.T) {
	mem := newFakeMemory()
	c := New(smallConfig(), mem, NewDirectory(), 0)

	c.Read(0x2000, 4)
	c.Read(0x2000, 4)
	if c.Stats().Hits != 1 {
		t.Fatalf("hits = %d, want 1", c.Stats().Hits)
	}
}

func TestWriteThenReadObservesWrittenData(t *testing.T) {
	mem := newFakeMemory()
	c := New(smallConfig(), mem, NewDirectory(), 0)

	if err := c.Write(0x3000, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	got, err := c.Read(0x3000, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("got %v", got)
	}
}

func TestFlushWritesBackDirtyLines(t *testing.T) {
	mem := newFakeMemory()
	c := New(smallConfig(), mem, NewDirectory(), 0)
	c.Write(0x4000, []byte{9, 9, 9, 9})
	c.Flush()

	raw, _ := mem.Read(0x4000, 4)
	if !bytes.Equal(raw, []byte{9, 9, 9, 9}) {
		t.Fatalf("backing store not updated after flush: %v", raw)
	}
}

func TestInvalidateLineDropsEntry(t *testing.T) {
	mem := newFakeMemory()
	c := New(smallConfig(), mem, NewDirectory(), 0)
	c.Read(0x5000, 4)
	c.InvalidateLine(0x5000)
	c.Read(0x5000, 4)
	if c.Stats().Misses != 2 {
		t.Fatalf("misses = %d, want 2 (second pass must re-fill)", c.Stats().Misses)
	}
}

func TestExclusiveWriteInvalidatesPeerSharer(t *testing.T) {
	mem := newFakeMemory()
	dir := NewDirectory()
	peerL2 := New(smallConfig(), mem, dir, 1)
	peerL1D := New(smallConfig(), peerL2, dir, 1)
	dir.Register(1, &l1dNotifier{l1d: peerL1D, l2: peerL2})

	owner := New(smallConfig(), mem, dir, 0)

	peerL1D.Read(0x6000, 4) // peer caches it Shared
	owner.Write(0x6000, []byte{7, 7, 7, 7})

	// Peer's line must have been invalidated by the coherency broadcast.
	peerL1D.Read(0x6000, 4)
	if peerL1D.Stats().Misses != 2 {
		t.Fatalf("peer misses = %d, want 2 (invalidated then re-filled)", peerL1D.Stats().Misses)
	}
}

// TestExclusiveWriteWritesBackModifiedPeer exercises the MODIFIED ->
// [peer write] -> INVALID transition: the peer holds dirty data
// and owner's exclusive acquire must flush it to backing instead of
// dropping it. peer is a single flat level directly over mem (rather than
// an L1D/L2 stack) so the surrendered writeback is observable one hop
// away; the stacked case is covered by
// TestPeerWritebackPropagatesThroughItsOwnL2.
func TestExclusiveWriteWritesBackModifiedPeer(t *testing.T) {
	mem := newFakeMemory()
	dir := NewDirectory()
	peer := New(smallConfig(), mem, dir, 1)
	dir.Register(1, peer)

	peer.Write(0x6100, []byte{5, 5, 5, 5}) // peer holds it Modified, dirty

	owner := New(smallConfig(), mem, dir, 0)
	owner.Write(0x6100, []byte{9, 9, 9, 9})

	got, err := owner.Read(0x6100, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{9, 9, 9, 9}) {
		t.Fatalf("owner's own write not observed: %v", got)
	}

	raw, _ := mem.Read(0x6100, 4)
	if !bytes.Equal(raw[:4], []byte{5, 5, 5, 5}) {
		t.Fatalf("peer's dirty data was dropped instead of written back: %x", raw[:4])
	}
}

// TestSharedReadDowngradesModifiedPeer exercises the MODIFIED ->
// [peer read] -> SHARED, emit dirty data transition: a peer reading
// a line another CPU holds Modified must see that dirty data, not whatever
// stale value sits in backing.
func TestSharedReadDowngradesModifiedPeer(t *testing.T) {
	mem := newFakeMemory()
	dir := NewDirectory()
	peer := New(smallConfig(), mem, dir, 1)
	dir.Register(1, peer)

	peer.Write(0x6200, []byte{4, 4, 4, 4}) // peer holds it Modified, dirty

	reader := New(smallConfig(), mem, dir, 0)
	got, err := reader.Read(0x6200, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{4, 4, 4, 4}) {
		t.Fatalf("reader observed stale backing instead of peer's dirty data: %v", got)
	}

	// peer's own copy must still be readable and no longer dirty.
	again, err := peer.Read(0x6200, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(again, []byte{4, 4, 4, 4}) {
		t.Fatalf("peer's own data changed after downgrade: %v", again)
	}
}

func TestHierarchyFlushAllDrainsToMemory(t *testing.T) {
	mem := newFakeMemory()
	h := NewHierarchy(2, smallConfig(), smallConfig(), smallConfig(), smallConfig(), mem)

	h.CPUs[0].L1D.Write(0x7000, []byte{3, 3, 3, 3})
	h.FlushAll()

	raw, _ := mem.Read(0x7000, 4)
	if !bytes.Equal(raw, []byte{3, 3, 3, 3}) {
		t.Fatalf("hierarchy flush did not reach memory: %v", raw)
	}
}

func TestPrefetchExclusiveClaimsOwnership(t *testing.T) {
	mem := newFakeMemory()
	dir := NewDirectory()
	c := New(smallConfig(), mem, dir, 0)
	c.PrefetchExclusive(0x8000, 4)
	if dir.SharerCount(0x8000) != 1 {
		t.Fatalf("sharer count = %d, want 1", dir.SharerCount(0x8000))
	}
}

func TestIntegratorPrefetchesBehindNewTranslation(t *testing.T) {
	mem := newFakeMemory()
	dir := NewDirectory()
	l2 := New(smallConfig(), mem, dir, 0)
	l1d := New(smallConfig(), l2, dir, 0)
	l1i := New(smallConfig(), l2, nil, 0)

	cfg := DefaultIntegratorConfig()
	cfg.CacheLineSize = 16
	cfg.PageSize = 256
	cfg.PrefetchDepth = 2
	cfg.PrefetchDistance = 1
	integ := NewIntegrator(cfg, l1d, l1i)

	integ.PageMapped(0x100, false)

	if got := integ.Stats().LinesPrefetched; got != 2 {
		t.Fatalf("LinesPrefetched = %d, want 2", got)
	}
	l1d.Read(0x110, 4)
	if l1d.Stats().Hits == 0 {
		t.Fatal("expected the prefetched line to hit on the following read")
	}
}

func TestIntegratorPrefetchStopsAtPageBoundary(t *testing.T) {
	mem := newFakeMemory()
	l1d := New(smallConfig(), mem, nil, 0)
	l1i := New(smallConfig(), mem, nil, 0)

	cfg := DefaultIntegratorConfig()
	cfg.CacheLineSize = 16
	cfg.PageSize = 64
	cfg.PrefetchDepth = 8
	cfg.PrefetchDistance = 1
	integ := NewIntegrator(cfg, l1d, l1i)

	// Mapping the page's last line leaves no room ahead of it.
	integ.PageMapped(0x30, false)
	if got := integ.Stats().LinesPrefetched; got != 0 {
		t.Fatalf("LinesPrefetched = %d, want 0 (nothing left inside the page)", got)
	}
}

func TestIntegratorUnmapDropsPageLines(t *testing.T) {
	mem := newFakeMemory()
	l1d := New(smallConfig(), mem, nil, 0)
	l1i := New(smallConfig(), mem, nil, 0)

	cfg := DefaultIntegratorConfig()
	cfg.CacheLineSize = 16
	cfg.PageSize = 64
	integ := NewIntegrator(cfg, l1d, l1i)

	l1d.Read(0x40, 4)
	integ.PageUnmapped(0x40)
	l1d.Read(0x40, 4)
	if got := l1d.Stats().Misses; got != 2 {
		t.Fatalf("misses = %d, want 2 (line must re-fill after the unmap sweep)", got)
	}
}

func TestIntegratorReviewSuspendsPoorPrefetch(t *testing.T) {
	mem := newFakeMemory()
	l1d := New(smallConfig(), mem, nil, 0)
	l1i := New(smallConfig(), mem, nil, 0)

	cfg := DefaultIntegratorConfig()
	cfg.CacheLineSize = 16
	cfg.PageSize = 64
	cfg.EfficiencyTarget = 0.9
	integ := NewIntegrator(cfg, l1d, l1i)

	// All misses: every read lands on a fresh line.
	for i := uint64(0); i < 8; i++ {
		l1d.Read(i*16, 4)
	}
	integ.Review()

	integ.PageMapped(0, false)
	if got := integ.Stats().LinesPrefetched; got != 0 {
		t.Fatalf("LinesPrefetched = %d, want 0 while suspended", got)
	}
}

func TestWritebackLineMakesStoreVisibleBelow(t *testing.T) {
	mem := newFakeMemory()
	l2 := New(smallConfig(), mem, nil, 0)
	l1d := New(smallConfig(), l2, nil, 0)
	l1i := New(smallConfig(), l2, nil, 0)

	l1d.Write(0x100, []byte{1, 2, 3, 4})

	// Before the writeback the store sits dirty in L1-D only; the sibling
	// L1-I refills through L2 and must observe it afterwards.
	l1d.WritebackLine(0x100)
	got, err := l1i.Read(0x100, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("L1-I refill missed the written-back store: %v", got)
	}
}

func TestPeerWritebackPropagatesThroughItsOwnL2(t *testing.T) {
	mem := newFakeMemory()
	dir := NewDirectory()
	peerL2 := New(smallConfig(), mem, dir, 1)
	peerL1D := New(smallConfig(), peerL2, dir, 1)
	dir.Register(1, &l1dNotifier{l1d: peerL1D, l2: peerL2})

	peerL1D.Write(0x6300, []byte{6, 6, 6, 6}) // dirty in the peer's L1-D only

	owner := New(smallConfig(), mem, dir, 0)
	owner.Write(0x6300, []byte{8, 8, 8, 8})

	got, err := owner.Read(0x6300, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{8, 8, 8, 8}) {
		t.Fatalf("owner's write lost: %v", got)
	}
	raw, _ := mem.Read(0x6300, 4)
	if !bytes.Equal(raw[:4], []byte{6, 6, 6, 6}) {
		t.Fatalf("peer's dirty bytes parked in its private L2 instead of reaching memory: %x", raw[:4])
	}
}

func TestSelfModifyReachesSplitInstructionSide(t *testing.T) {
	mem := newFakeMemory()
	h := NewHierarchy(1, smallConfig(), smallConfig(), smallConfig(), smallConfig(), mem)

	h.CPUs[0].L1I.Read(0x200, 4) // instruction side caches the old bytes

	h.CPUs[0].L1D.Write(0x200, []byte{9, 8, 7, 6})
	h.InvalidateSelfModified(0, 0x200)

	got, err := h.CPUs[0].L1I.Read(0x200, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{9, 8, 7, 6}) {
		t.Fatalf("instruction refill observed stale bytes: %v", got)
	}
}
