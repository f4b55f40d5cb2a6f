package barrier

import "sync"

// history records, for a single PC, when a same-type barrier last
// completed cleanly and whether intervening memory activity was observed
// since.
type history struct {
	lastCompletedTick uint64
	dirty             bool
}

// Eliminator implements the JIT-assisted barrier elision policy: a
// barrier may be skipped when execution history shows a
// same-type barrier recently completed for a nearby PC and no intervening
// memory activity of the ordered kind occurred. It MUST be disabled
// whenever debug-trace is requested, which callers enforce by consulting
// debug.TraceEnabled() before calling Allow.
type Eliminator struct {
	mu      sync.Mutex
	window  uint64 // ticks within which a prior completion still counts
	history map[Func]map[uint64]*history
	tick    uint64
}

// NewEliminator builds an elision policy with the given recency window
// (in coordinator ticks, advanced by Tick).
func NewEliminator(window uint64) *Eliminator {
	return &Eliminator{window: window, history: make(map[Func]map[uint64]*history)}
}

// Tick advances the eliminator's logical clock; callers tick once per
// executed instruction or some coarser granularity of their choosing.
func (e *Eliminator) Tick() {
	e.mu.Lock()
	e.tick++
	e.mu.Unlock()
}

// nearbyKey buckets a PC to a cache-line-granularity key so "nearby PC"
// means "same bucket" rather than requiring an exact match.
func nearbyKey(pc uint64) uint64 {
	return pc &^ 0x3f
}

// Allow reports whether fn at pc may be skipped, given the current
// history. traceEnabled must reflect the live debug-trace state; when true
// elision is always disallowed regardless of history.
func (e *Eliminator) Allow(fn Func, pc uint64, traceEnabled bool) bool {
	if traceEnabled {
		return false
	}
	key := nearbyKey(pc)

	e.mu.Lock()
	defer e.mu.Unlock()

	byPC, ok := e.history[fn]
	if !ok {
		return false
	}
	h, ok := byPC[key]
	if !ok || h.dirty {
		return false
	}
	return e.tick-h.lastCompletedTick <= e.window
}

// RecordCompletion notes that fn completed (was actually executed, not
// elided) at pc, resetting the dirty flag for that bucket.
func (e *Eliminator) RecordCompletion(fn Func, pc uint64) {
	key := nearbyKey(pc)

	e.mu.Lock()
	defer e.mu.Unlock()

	byPC, ok := e.history[fn]
	if !ok {
		byPC = make(map[uint64]*history)
		e.history[fn] = byPC
	}
	byPC[key] = &history{lastCompletedTick: e.tick, dirty: false}
}

// RecordMemoryActivity marks every tracked bucket dirty for fn's ordered
// memory kind, invalidating any history that would otherwise permit
// elision. Called by the CPU run loop (core/cpu.go) whenever an instruction
// performs the kind of access the given barrier orders (loads for MB,
// stores for MB and WMB).
func (e *Eliminator) RecordMemoryActivity(fn Func) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range e.history[fn] {
		h.dirty = true
	}
}
