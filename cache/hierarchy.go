package cache

// PhysicalMemory is the final backing store below L3 (or below L2 on a
// configuration with no L3, though the standard hierarchy always has one).
type PhysicalMemory interface {
	Read(pa uint64, length int) ([]byte, error)
	Write(pa uint64, data []byte) error
}

// PerCPU bundles one CPU's private cache levels.
type PerCPU struct {
	L1I *Cache
	L1D *Cache
	L2  *Cache
}

// Hierarchy wires the full multi-CPU cache tree: each CPU's L1I/L1D/L2
// stacked over a shared L3, with the L3's coherency Directory fanning
// invalidations and downgrades out to every CPU's private L1D and L2, the
// levels that can hold a line Modified in this design.
type Hierarchy struct {
	L3   *Cache
	CPUs []PerCPU
	Dir  *Directory
}

// l1dNotifier adapts a CPU's L1D cache (plus its L2, which must also drop
// the line) to the coherency Notifier interface.
type l1dNotifier struct {
	l1d *Cache
	l2  *Cache
}

// InvalidateShared surrenders both private levels. L2 goes first: its copy
// can only be as old as L1D's, so its writeback must land at the shared
// point before L1D's fresher bytes, never after them.
func (n *l1dNotifier) InvalidateShared(pa uint64) {
	n.l2.InvalidateShared(pa)
	n.l1d.InvalidateShared(pa)
}

// DowngradeShared surrenders both private levels in the same order as
// InvalidateShared: L2 holds a line Modified once an L1D writeback has
// landed there, and L1D's surrender path, which refreshes the L2 copy on
// the way down to the shared point, must run last.
func (n *l1dNotifier) DowngradeShared(pa uint64) {
	n.l2.DowngradeShared(pa)
	n.l1d.DowngradeShared(pa)
}

// NewHierarchy builds a complete hierarchy for numCPUs processors given
// per-level configs. L1 instruction and data sides are configured
// separately, through the distinct Cache-L1Inst / Cache-L1Data sections,
// since a real EV6-class split L1 rarely shares geometry between the two.
func NewHierarchy(numCPUs int, l1DataCfg, l1InstCfg, l2Cfg, l3Cfg Config, mem PhysicalMemory) *Hierarchy {
	dir := NewDirectory()
	l3 := New(l3Cfg, mem, dir, -1)

	h := &Hierarchy{L3: l3, Dir: dir}
	h.CPUs = make([]PerCPU, numCPUs)
	for i := 0; i < numCPUs; i++ {
		l2 := New(l2Cfg, l3, dir, i)
		l1i := New(l1InstCfg, l2, nil, i) // L1-I is read-mostly, no coherency state beyond invalidate
		l1d := New(l1DataCfg, l2, dir, i)
		dir.Register(i, &l1dNotifier{l1d: l1d, l2: l2})
		h.CPUs[i] = PerCPU{L1I: l1i, L1D: l1d, L2: l2}
	}
	return h
}

// FlushAll drains every level to memory, from L1 down to L3, so a dirty L1
// line isn't overwritten by a stale L2 writeback racing behind it.
func (h *Hierarchy) FlushAll() {
	for _, cpu := range h.CPUs {
		cpu.L1D.Flush()
		cpu.L1I.Flush()
		cpu.L2.Flush()
	}
	h.L3.Flush()
}

// InvalidateSelfModified handles a store that may target cached
// instructions (self-modifying code). The store itself only dirtied the
// CPU's L1-D line, so the bytes are first pushed down to L2 -- the level
// the split L1-I refills from -- and then the stale instruction line is
// dropped, so the next fetch at that address observes the new word. Peer
// CPUs' instruction caches are left alone: the architecture only makes a
// remote instruction stream coherent after that CPU itself executes IMB.
func (h *Hierarchy) InvalidateSelfModified(cpu int, pa uint64) {
	h.CPUs[cpu].L1D.WritebackLine(pa)
	h.CPUs[cpu].L1I.InvalidateLine(pa)
}
