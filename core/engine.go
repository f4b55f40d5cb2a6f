/*
 * axpcore - CPU set owner: builds and threads every subsystem together.
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

package core

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rcornwell/axpcore/barrier"
	"github.com/rcornwell/axpcore/cache"
	"github.com/rcornwell/axpcore/config/configparser"
	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/event"
	"github.com/rcornwell/axpcore/executor"
	"github.com/rcornwell/axpcore/jit"
	"github.com/rcornwell/axpcore/memory"
	"github.com/rcornwell/axpcore/mmio"
	"github.com/rcornwell/axpcore/platform"
	"github.com/rcornwell/axpcore/smp"
	"github.com/rcornwell/axpcore/tlb"
)

// EngineConfig bundles every tunable the configuration collaborator
// (config/configparser) can set, one field family per section.
type EngineConfig struct {
	NumCPUs    int
	Profile    *platform.Profile
	MemorySize uint64

	JITEnabled   bool
	JITThreshold uint64
	JITWorkers   int

	L1DataConfig cache.Config
	L1InstConfig cache.Config
	L2Config     cache.Config
	L3Config     cache.Config

	TLBConfig   tlb.Config
	Integration cache.IntegratorConfig

	BarrierTimeout time.Duration
	BarrierPolicy  barrier.TimeoutPolicy

	MMIO mmio.Collaborator
}

// DefaultEngineConfig returns a single-CPU EV6 system with the
// representative geometries cache.go and tlb.go already name as defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		NumCPUs:        1,
		Profile:        platform.Default(),
		MemorySize:     memory.MinSize,
		JITEnabled:     true,
		JITThreshold:   1000,
		JITWorkers:     4,
		L1DataConfig:   cache.DefaultL1Config(),
		L1InstConfig:   cache.DefaultL1Config(),
		L2Config:       cache.DefaultL2Config(),
		L3Config:       cache.DefaultL3Config(),
		TLBConfig:      tlb.DefaultConfig(),
		Integration:    cache.DefaultIntegratorConfig(),
		BarrierTimeout: barrier.DefaultTimeout,
		BarrierPolicy:  barrier.PolicyReset,
		MMIO:           mmio.NullCollaborator{},
	}
}

// HostFault is a host-internal fault reported through barrier.FaultReporter
// or a TLB walker error, surfaced on Engine.Faults for whatever embeds this
// module to log or act on.
type HostFault struct {
	CPU    int
	Kind   string
	Detail string
}

// Engine owns every CPU in the set plus the shared subsystems: the L3 of
// the cache hierarchy, the SMP manager, the exception router, and the
// event scheduler that drives periodic maintenance (TLB auto-tune,
// integrator review, JIT tuner review).
type Engine struct {
	cfg EngineConfig
	log *slog.Logger

	mem  *memory.Memory
	hier *cache.Hierarchy
	smp  *smp.Manager

	cpus       []*CPU
	exceptions *ExceptionRouter
	sched      *event.Scheduler

	faults chan HostFault

	nextASN atomic32
}

// atomic32 is a tiny unexported ASN counter; SWPCTX calls NextASN far less
// often than any hot path in this package, so a mutex-free type isn't
// worth the import for one field. Once the counter wraps its maximum,
// every further allocation hands out a recycled number, and the caller
// must sweep stale translations tagged with it before reuse.
type atomic32 struct {
	mu      chan struct{}
	val     uint32
	max     uint32
	wrapped bool
}

func newAtomic32(max uint32) atomic32 {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}
	return atomic32{mu: ch, max: max}
}

func (a *atomic32) next() (v uint32, recycled bool) {
	<-a.mu
	a.val++
	if a.val > a.max {
		a.val = 1
		a.wrapped = true
	}
	v = a.val
	recycled = a.wrapped
	a.mu <- struct{}{}
	return v, recycled
}

// identityWalker is the default page-table collaborator: a flat
// identity VA->PA mapping bounded by physical memory size, full
// permissions. A real guest OS page table is external to this core --
// the page-table collaborator is something the core is invoked against,
// not something it implements -- and this stub lets the core run
// standalone test programs without one.
type identityWalker struct {
	mem *memory.Memory
}

func (w *identityWalker) Walk(va uint64, asn uint32, isKernel, isWrite, isInstruction bool) (uint64, tlb.Perm, error) {
	if va >= w.mem.Size() {
		return 0, 0, tlb.FaultAccessViolation
	}
	return va, tlb.PermRead | tlb.PermWrite | tlb.PermExecute | tlb.PermGlobal, nil
}

func (w *identityWalker) Writeback(va uint64, asn uint32, perms tlb.Perm) {}

// NewEngine builds every collaborator and wires them together: memory,
// cache hierarchy, per-CPU TLBs, the barrier coordinator and eliminator,
// the JIT profiler and translation cache, and the SMP manager. The JIT
// compiler and tuner are built in Start, since errgroup.WithContext needs
// the caller's context.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Profile == nil {
		cfg.Profile = platform.Default()
	}
	mem := memory.New(cfg.MemorySize)
	hier := cache.NewHierarchy(cfg.NumCPUs, cfg.L1DataConfig, cfg.L1InstConfig, cfg.L2Config, cfg.L3Config, mem)
	smpMgr := smp.New(cfg.NumCPUs)

	e := &Engine{
		cfg:        cfg,
		log:        slog.Default().With("component", "axpcore-engine"),
		mem:        mem,
		hier:       hier,
		smp:        smpMgr,
		exceptions: NewExceptionRouter(),
		sched:      event.New(),
		faults:     make(chan HostFault, 64),
		nextASN:    newAtomic32(cfg.Profile.MaxASN),
	}

	walker := &identityWalker{mem: mem}

	e.cpus = make([]*CPU, cfg.NumCPUs)
	for i := 0; i < cfg.NumCPUs; i++ {
		e.cpus[i] = e.newCPU(i, walker, hier.CPUs[i])
	}
	return e
}

// newCPU assembles one CPU's private collaborators: state, TLB with its
// cache integrator, the memory executor and dispatch table, the barrier
// coordinator and eliminator, and the JIT profiler and translation cache
// (the compiler and tuner, which need a context, are filled in by Start).
func (e *Engine) newCPU(id int, walker tlb.PageTableWalker, per cache.PerCPU) *CPU {
	state := cpustate.New(id, e.cfg.Profile)
	integ := cache.NewIntegrator(e.cfg.Integration, per.L1D, per.L1I)
	tlbT := &integratedTLB{
		TLB:   tlb.New(e.cfg.TLBConfig, walker),
		integ: integ,
	}

	profiler := jit.NewProfiler(e.cfg.JITThreshold)
	transcache := jit.NewTranslationCache(1024)

	router := &memoryRouter{
		cache:      per.L1D,
		profile:    e.cfg.Profile,
		mmio:       e.cfg.MMIO,
		hier:       e.hier,
		cpu:        id,
		transcache: transcache,
	}

	mem := &executor.Executor{
		CPU:    id,
		TLB:    tlbT,
		Cache:  router,
		Walker: walker,
		Res:    e,
	}

	pal := &executor.PALContext{
		TLB:   tlbT,
		Cache: router,
		FlushICache: func() {
			per.L1I.Flush()
		},
		NextASN: func() uint32 {
			v, recycled := e.nextASN.next()
			if recycled {
				// The number being handed out has been used before; any
				// translation still tagged with it belongs to a long-dead
				// context and must not alias the new one.
				for _, peer := range e.cpus {
					peer.itlb.InvalidateASN(v)
				}
			}
			return v
		},
		SetPageTable: func(base uint64) {
			state.PageTable = base
		},
	}

	barrierC := barrier.New(barrier.Config{
		CPU:     id,
		Traps:   state,
		Cache:   router,
		SMP:     e.smp,
		Faults:  e,
		Policy:  e.cfg.BarrierPolicy,
		Timeout: e.cfg.BarrierTimeout,
	})

	cpu := &CPU{
		id:         id,
		engine:     e,
		log:        e.log.With("cpu", id),
		state:      state,
		itlb:       tlbT,
		l1i:        per.L1I,
		l1d:        router,
		table:      &executor.Table{Memory: mem, PAL: pal},
		mem:        mem,
		barrierC:   barrierC,
		elim:       barrier.NewEliminator(64),
		profiler:   profiler,
		transcache: transcache,
		mailbox:    e.smp.Mailbox(id),
	}
	return cpu
}

// integratedTLB couples a CPU's TLB to its cache integrator: a translation
// install warms the cache behind the newly mapped page, and a translation
// invalidation sweeps the page's lines out, so the two structures never
// disagree about a page's liveness. Every other TLB operation passes
// through the embedded TLB unchanged.
type integratedTLB struct {
	*tlb.TLB
	integ *cache.Integrator
}

func (t *integratedTLB) Insert(va, pa uint64, asn uint32, perms tlb.Perm, isInstruction bool) {
	t.TLB.Insert(va, pa, asn, perms, isInstruction)
	t.integ.PageMapped(pa, isInstruction)
}

func (t *integratedTLB) InvalidateAddress(va uint64, asn uint32) {
	// Resolve the physical page before the entry disappears so the cache
	// sweep targets the right lines; either the data or the instruction
	// side may hold the mapping.
	if hit, pa, _ := t.TLB.Lookup(va, asn, true, false); hit {
		defer t.integ.PageUnmapped(pa)
	} else if ihit, ipa, _ := t.TLB.Lookup(va, asn, true, true); ihit {
		defer t.integ.PageUnmapped(ipa)
	}
	t.TLB.InvalidateAddress(va, asn)
}

// memoryRouter implements both executor.CacheLevel and barrier.CacheDrain,
// routing an access to the per-CPU L1-D cache or to the MMIO collaborator
// depending on whether the physical address falls in the profile's MMIO
// window. It also owns self-modifying-code detection: every store drops
// the matching L1-I line and any translation-cache entry covering it.
type memoryRouter struct {
	cache      *cache.Cache
	profile    *platform.Profile
	mmio       mmio.Collaborator
	hier       *cache.Hierarchy
	cpu        int
	transcache *jit.TranslationCache
}

func (r *memoryRouter) Read(pa uint64, length int) ([]byte, error) {
	if r.profile.IsMMIO(pa) {
		return r.mmio.Read(pa, length)
	}
	return r.cache.Read(pa, length)
}

func (r *memoryRouter) Write(pa uint64, data []byte) error {
	if r.profile.IsMMIO(pa) {
		return r.mmio.Write(pa, data)
	}
	if err := r.cache.Write(pa, data); err != nil {
		return err
	}
	r.hier.InvalidateSelfModified(r.cpu, pa)
	r.transcache.InvalidateRange(pa)
	return nil
}

func (r *memoryRouter) Flush() { r.cache.Flush() }

// Stats exposes the wrapped L1-D cache's counters to CPU.Stats via
// inspect.go's statter interface assertion.
func (r *memoryRouter) Stats() cache.Stats { return r.cache.Stats() }

func (r *memoryRouter) Prefetch(pa uint64, length int) {
	if !r.profile.IsMMIO(pa) {
		r.cache.Prefetch(pa, length)
	}
}

func (r *memoryRouter) PrefetchExclusive(pa uint64, length int) {
	if !r.profile.IsMMIO(pa) {
		r.cache.PrefetchExclusive(pa, length)
	}
}

// NotifyWrite implements executor.ReservationBroadcaster: a store on cpu
// clears every peer's lock reservation on the same physical line.
func (e *Engine) NotifyWrite(cpu int, pa uint64) {
	for i, peer := range e.cpus {
		if i == cpu {
			continue
		}
		e.smp.SendAddr(cpu, peer.id, "LL-SC-CLEAR", pa)
	}
}

// ReportFault implements barrier.FaultReporter: logs the fault and pushes
// it onto the non-blocking host-fault channel for an embedding host to
// drain via Faults(). Under the escalate timeout policy a barrier timeout
// additionally halts the CPU that owned the barrier, delivered through its
// own mailbox so the halt lands in the CPU's run loop rather than racing a
// write against it.
func (e *Engine) ReportFault(cpu int, kind string, detail string) {
	e.log.Warn("host fault", "cpu", cpu, "kind", kind, "detail", detail)
	select {
	case e.faults <- HostFault{CPU: cpu, Kind: kind, Detail: detail}:
	default:
		e.log.Warn("fault channel full, dropping report", "cpu", cpu, "kind", kind)
	}
	if kind == "barrier-timeout" && e.cfg.BarrierPolicy == barrier.PolicyEscalate {
		if cpu >= 0 && cpu < len(e.cpus) {
			e.smp.SendAddr(cpu, cpu, "HALT", 0)
		}
	}
}

// Faults returns the channel host-internal faults are reported on.
func (e *Engine) Faults() <-chan HostFault {
	return e.faults
}

// Exceptions returns the guest exception router, for a host to register
// per-kind callbacks on before calling Start.
func (e *Engine) Exceptions() *ExceptionRouter {
	return e.exceptions
}

// CPUCount reports the number of CPUs in the set.
func (e *Engine) CPUCount() int {
	return len(e.cpus)
}

// Schedule arms cb to fire after delay maintenance ticks, for a host
// embedding this module to hook periodic work (stats flush, a simulated
// console heartbeat) through the same delta queue that drives TLB
// auto-tune and JIT tuner review.
func (e *Engine) Schedule(owner any, cb event.Callback, delay, arg int) {
	e.sched.Add(owner, cb, delay, arg)
}

// maintenanceInterval is how often Start's background goroutine reviews
// TLB auto-tune thresholds and the JIT tuner, independent of any one CPU's
// instruction rate.
const maintenanceInterval = 50 * time.Millisecond

// Start builds the per-CPU JIT compilers (which need ctx for their
// worker-pool errgroup), launches one goroutine per CPU plus a maintenance
// goroutine, and blocks until ctx is cancelled or a CPU returns an error.
// The errgroup.WithContext fan-out means the first CPU's unrecoverable
// error cancels every sibling.
func (e *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, cpu := range e.cpus {
		cpu.compiler = jit.NewCompiler(gctx, e.cfg.JITWorkers, cpu, cpu.transcache)
		cpu.tuner = jit.NewTuner(cpu.profiler, cpu.compiler, cpu.transcache, e.cfg.JITThreshold/10, e.cfg.JITThreshold*10)
	}

	for _, cpu := range e.cpus {
		cpu := cpu
		g.Go(func() error {
			return cpu.Run(gctx)
		})
	}

	g.Go(func() error {
		return e.maintain(gctx)
	})

	return g.Wait()
}

// maintain runs the periodic housekeeping: advancing the event scheduler
// and reviewing each CPU's TLB auto-tune, integrator, and JIT tuner
// thresholds.
func (e *Engine) maintain(ctx context.Context) error {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	thresholds := tlb.DefaultThresholds()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.sched.Advance(1)
			for _, cpu := range e.cpus {
				cpu.itlb.AutoTune(thresholds)
				cpu.itlb.integ.Review()
				if e.cfg.JITEnabled && cpu.tuner != nil {
					cpu.tuner.Review()
				}
			}
		}
	}
}

// RegisterConfig attaches the System, Cache-L1Data, Cache-L1Inst, Cache-L2,
// Cache-L3, TlbSystem, and TlbCacheIntegration section handlers to p, each mutating cfg in
// place as its section is read. Call before configparser.Parser.LoadFile,
// then pass the mutated cfg to NewEngine.
func RegisterConfig(p *configparser.Parser, cfg *EngineConfig) {
	p.Register("System", func(values map[string]string) error {
		return applySystemSection(values, cfg)
	})
	p.Register("Cache-L1Data", func(values map[string]string) error {
		return applyCacheSection(values, &cfg.L1DataConfig)
	})
	p.Register("Cache-L1Inst", func(values map[string]string) error {
		return applyCacheSection(values, &cfg.L1InstConfig)
	})
	p.Register("Cache-L2", func(values map[string]string) error {
		return applyCacheSection(values, &cfg.L2Config)
	})
	p.Register("Cache-L3", func(values map[string]string) error {
		return applyCacheSection(values, &cfg.L3Config)
	})
	p.Register("TlbSystem", func(values map[string]string) error {
		return applyTLBSystemSection(values, cfg)
	})
	p.Register("TlbCacheIntegration", func(values map[string]string) error {
		return applyIntegrationSection(values, &cfg.Integration)
	})
}

func applySystemSection(values map[string]string, cfg *EngineConfig) error {
	if raw, ok := values["MemorySize"]; ok {
		gib, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("System.MemorySize: %w", err)
		}
		if gib < 4 {
			return fmt.Errorf("System.MemorySize: must be at least 4 GiB, got %d", gib)
		}
		cfg.MemorySize = gib * memory.GiB
	}
	if raw, ok := values["Processor-Count"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fmt.Errorf("System.Processor-Count: invalid value %q", raw)
		}
		cfg.NumCPUs = n
	}
	if raw, ok := values["JIT"]; ok {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("System.JIT: %w", err)
		}
		cfg.JITEnabled = enabled
	}
	if raw, ok := values["JIT-Threshold"]; ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("System.JIT-Threshold: %w", err)
		}
		cfg.JITThreshold = v
	}
	if raw, ok := values["Coherency-Cache"]; ok {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("System.Coherency-Cache: %w", err)
		}
		cfg.L1DataConfig.EnableCoherency = enabled
		cfg.L1InstConfig.EnableCoherency = enabled
		cfg.L2Config.EnableCoherency = enabled
		cfg.L3Config.EnableCoherency = enabled
	}
	return nil
}

func applyCacheSection(values map[string]string, out *cache.Config) error {
	if raw, ok := values["numSets"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("numSets: %w", err)
		}
		out.Sets = v
	}
	if raw, ok := values["associativity"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("associativity: %w", err)
		}
		out.Associativity = v
	}
	if raw, ok := values["lineSize"]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("lineSize: %w", err)
		}
		out.LineSize = v
	}
	if raw, ok := values["enablePrefetch"]; ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("enablePrefetch: %w", err)
		}
		out.EnablePrefetch = v
	}
	if raw, ok := values["enableStatistics"]; ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("enableStatistics: %w", err)
		}
		out.EnableStatistics = v
	}
	if raw, ok := values["enableCoherency"]; ok {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("enableCoherency: %w", err)
		}
		out.EnableCoherency = v
	}
	if raw, ok := values["coherencyProtocol"]; ok {
		if !strings.EqualFold(raw, "MESI") {
			return fmt.Errorf("coherencyProtocol: only MESI is implemented, got %q", raw)
		}
	}
	return nil
}

// applyTLBSystemSection handles the TlbSystem keys: the per-CPU geometry
// goes to the TLB config, and maxCpus caps the processor count at what the
// TLB subsystem was sized for.
func applyTLBSystemSection(values map[string]string, cfg *EngineConfig) error {
	if err := applyTLBSection(values, &cfg.TLBConfig); err != nil {
		return err
	}
	if raw, ok := values["maxCpus"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fmt.Errorf("maxCpus: invalid value %q", raw)
		}
		if cfg.NumCPUs > n {
			cfg.NumCPUs = n
		}
	}
	return nil
}

func applyTLBSection(values map[string]string, out *tlb.Config) error {
	if raw, ok := values["entriesPerCpu"]; ok {
		entries, err := strconv.Atoi(raw)
		if err != nil || entries < 1 {
			return fmt.Errorf("entriesPerCpu: invalid value %q", raw)
		}
		ways := out.Ways
		if ways == 0 {
			ways = 8
		}
		out.Ways = ways
		out.Sets = entries / ways
		if out.Sets < 1 {
			out.Sets = 1
		}
	}
	if raw, ok := values["replacementPolicy"]; ok {
		switch strings.ToUpper(raw) {
		case "LRU":
			out.Replacement = tlb.LRU
		case "RANDOM":
			out.Replacement = tlb.Random
		case "FIFO":
			out.Replacement = tlb.FIFO
		default:
			return fmt.Errorf("replacementPolicy: unrecognized value %q", raw)
		}
	}
	return nil
}

func applyIntegrationSection(values map[string]string, out *cache.IntegratorConfig) error {
	intKeys := map[string]*int{
		"prefetchDepth":    &out.PrefetchDepth,
		"prefetchDistance": &out.PrefetchDistance,
		"cacheLineSize":    &out.CacheLineSize,
	}
	for key, dst := range intKeys {
		if raw, ok := values[key]; ok {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 0 {
				return fmt.Errorf("%s: invalid value %q", key, raw)
			}
			*dst = v
		}
	}
	if raw, ok := values["pageSize"]; ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || v == 0 {
			return fmt.Errorf("pageSize: invalid value %q", raw)
		}
		out.PageSize = v
	}
	if raw, ok := values["efficiencyTarget"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return fmt.Errorf("efficiencyTarget: must be in [0, 1], got %q", raw)
		}
		out.EfficiencyTarget = v
	}
	boolKeys := map[string]*bool{
		"coherencyEnabled": &out.CoherencyEnabled,
		"prefetchEnabled":  &out.PrefetchEnabled,
		"writebackEnabled": &out.WritebackEnabled,
	}
	for key, dst := range boolKeys {
		if raw, ok := values[key]; ok {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = v
		}
	}
	return nil
}
