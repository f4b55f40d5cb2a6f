package tlb

import "sync/atomic"

// AutoTuneThresholds controls when AutoTune grows the TLB's sets or ways.
// There is no striped partitioning; contention is answered by adding ways.
type AutoTuneThresholds struct {
	MinHitRate     float64 // below this, consider growing sets
	MaxContention  uint64  // above this Stats.Contention count, consider growing ways
}

// DefaultThresholds mirrors a conservative, rarely-retuning default.
func DefaultThresholds() AutoTuneThresholds {
	return AutoTuneThresholds{MinHitRate: 0.90, MaxContention: 1000}
}

var autoTuneEpoch atomic.Uint64

// AutoTune inspects hit rate and contention and, if warranted, grows the
// TLB's sets or ways up to the configured maxima. It never shrinks: the
// implementation-defined recovery path is to grow towards the ceiling, not
// to oscillate. Returns true if geometry changed.
func (t *TLB) AutoTune(th AutoTuneThresholds) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.stats.Hits + t.stats.Misses
	if total == 0 {
		return false
	}
	hitRate := float64(t.stats.Hits) / float64(total)

	grew := false
	if hitRate < th.MinHitRate && len(t.sets) < t.cfg.MaxSets {
		t.growSets()
		grew = true
	}
	if t.stats.Contention > th.MaxContention && len(t.sets[0]) < t.cfg.MaxWays {
		t.growWays()
		grew = true
	}
	if grew {
		autoTuneEpoch.Add(1)
	}
	return grew
}

// growSets doubles the number of sets (up to MaxSets), rehashing existing
// entries into their new set index. Called with the write lock held.
func (t *TLB) growSets() {
	newCount := len(t.sets) * 2
	if newCount > t.cfg.MaxSets {
		newCount = t.cfg.MaxSets
	}
	if newCount == len(t.sets) {
		return
	}
	newSets := make([][]entry, newCount)
	for i := range newSets {
		newSets[i] = make([]entry, len(t.sets[0]))
	}
	old := t.sets
	t.sets = newSets
	for _, set := range old {
		for _, e := range set {
			if !e.valid {
				continue
			}
			idx := int(e.vpn % uint64(newCount))
			placed := false
			for w := range t.sets[idx] {
				if !t.sets[idx][w].valid {
					t.sets[idx][w] = e
					placed = true
					break
				}
			}
			if !placed {
				// New geometry still collides; drop the entry rather than
				// lose the write lock re-running Insert's eviction path,
				// writing its dirty/ref bits back first as Insert does.
				// The next miss will refill it from the page table.
				if e.perms&(PermDirty|PermRef) != 0 {
					t.walker.Writeback(e.vpn<<t.cfg.PageBits, e.asn, e.perms)
				}
				continue
			}
		}
	}
}

// growWays widens every set by one way (up to MaxWays). Called with the
// write lock held.
func (t *TLB) growWays() {
	target := len(t.sets[0]) + 1
	if target > t.cfg.MaxWays {
		return
	}
	for i := range t.sets {
		grown := make([]entry, target)
		copy(grown, t.sets[i])
		t.sets[i] = grown
	}
}
