package cache

import "sync"

// LineState is the MESI state of a cache line.
type LineState int

const (
	Invalid LineState = iota
	Shared
	Exclusive
	Modified
)

func (s LineState) String() string {
	switch s {
	case Shared:
		return "SHARED"
	case Exclusive:
		return "EXCLUSIVE"
	case Modified:
		return "MODIFIED"
	default:
		return "INVALID"
	}
}

// Notifier receives coherency actions targeted at one CPU's cache. The L3
// directory calls back into every sharer's L1/L2 when ownership changes;
// hierarchy.go wires each CPU's caches in as a Notifier at construction.
type Notifier interface {
	InvalidateShared(pa uint64)
	DowngradeShared(pa uint64)
}

// Directory is the coherency authority for one cache line address space,
// owned by the shared L3. It tracks, per line, which CPUs hold it and in
// what state,
// and fans out invalidations when a CPU requests exclusive ownership.
type Directory struct {
	mu       sync.Mutex
	sharers  map[uint64]map[int]bool
	owner    map[uint64]int // CPU holding Modified/Exclusive; no key when none
	notifier map[int]Notifier
}

// NewDirectory builds an empty coherency directory.
func NewDirectory() *Directory {
	return &Directory{
		sharers:  make(map[uint64]map[int]bool),
		owner:    make(map[uint64]int),
		notifier: make(map[int]Notifier),
	}
}

// Register associates a CPU id with the Notifier that should receive
// invalidations targeting that CPU's caches.
func (d *Directory) Register(cpu int, n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifier[cpu] = n
}

// AcquireShared records cpu as a sharer of tag. If another CPU currently
// holds it Modified, that CPU's Notifier is asked to write its dirty data
// back to backing and downgrade to Shared (the MODIFIED -> [peer read] ->
// SHARED transition) before this call
// returns, so the caller's own backing read -- which happens after
// AcquireShared in cache.go's miss path -- observes the fresh value instead
// of a stale one.
func (d *Directory) AcquireShared(cpu int, tag uint64) {
	d.mu.Lock()
	var notifier Notifier
	if owner, ok := d.owner[tag]; ok && owner != cpu {
		delete(d.owner, tag)
		notifier = d.notifier[owner]
	}
	set, ok := d.sharers[tag]
	if !ok {
		set = make(map[int]bool)
		d.sharers[tag] = set
	}
	set[cpu] = true
	d.mu.Unlock()

	if notifier != nil {
		notifier.DowngradeShared(tag)
	}
}

// AcquireExclusive gives cpu sole ownership of tag, invalidating every
// other sharer via their registered Notifier.
func (d *Directory) AcquireExclusive(cpu int, tag uint64) {
	d.mu.Lock()
	peers := d.sharers[tag]
	var toNotify []int
	for peer := range peers {
		if peer != cpu {
			toNotify = append(toNotify, peer)
		}
	}
	d.sharers[tag] = map[int]bool{cpu: true}
	d.owner[tag] = cpu
	notifiers := make([]Notifier, 0, len(toNotify))
	for _, peer := range toNotify {
		if n, ok := d.notifier[peer]; ok {
			notifiers = append(notifiers, n)
		}
	}
	d.mu.Unlock()

	for _, n := range notifiers {
		n.InvalidateShared(tag)
	}
}

// Release drops cpu's interest in tag, called on local eviction.
func (d *Directory) Release(cpu int, tag uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if set, ok := d.sharers[tag]; ok {
		delete(set, cpu)
		if len(set) == 0 {
			delete(d.sharers, tag)
		}
	}
	if d.owner[tag] == cpu {
		delete(d.owner, tag)
	}
}

// SharerCount reports how many CPUs currently hold tag, for tests and
// diagnostics.
func (d *Directory) SharerCount(tag uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sharers[tag])
}
