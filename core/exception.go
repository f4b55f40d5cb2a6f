/*
 * axpcore - Guest exception vectoring.
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
	"sync"

	"github.com/rcornwell/axpcore/cpustate"
	"github.com/rcornwell/axpcore/executor"
)

// Handler is called after a guest exception has been vectored, receiving
// the faulting CPU id, the exception kind, the faulting PC, and (for
// access-type faults) the fault address. Registered per kind so a
// front-end can watch ExcSystemCall without also seeing every page fault.
type Handler func(cpu int, kind executor.Exception, pc, address uint64)

// ExceptionRouter fans a vectored exception out to every Handler
// registered for its kind. One Router serves the
// whole Engine; CPUs report through it rather than holding their own copy.
type ExceptionRouter struct {
	mu       sync.Mutex
	handlers map[executor.Exception][]Handler
}

// NewExceptionRouter builds an empty router.
func NewExceptionRouter() *ExceptionRouter {
	return &ExceptionRouter{handlers: make(map[executor.Exception][]Handler)}
}

// Register attaches h to fire whenever kind is vectored.
func (r *ExceptionRouter) Register(kind executor.Exception, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

// dispatch invokes every handler registered for f.Kind.
func (r *ExceptionRouter) dispatch(cpu int, f *executor.Fault) {
	r.mu.Lock()
	handlers := append([]Handler(nil), r.handlers[f.Kind]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(cpu, f.Kind, f.PC, f.Address)
	}
}

// trapFrame is the saved context an REI unwinds, standing in for the
// kernel-stack push real PALcode performs on exception entry.
type trapFrame struct {
	pc uint64
	ps uint64
}

// palFunctionREI is CALL_PAL REI's 26-bit function immediate, matching the
// executor package's own knownPALFunctions table entry for PALRei.
const palFunctionREI = 0x0092

// vectorException saves the interrupted context, switches the CPU to
// kernel mode at the exception's fixed IPL, reports the fault through the
// engine's ExceptionRouter, and returns the PC to resume fetching at: the
// exception's entry vector, offset by the PAL base address held in this
// generation's PAL_BASE register (zero until PALcode writes one, so the
// vectors land at their architectural 0x100 + kind*0x80 defaults).
func (c *CPU) vectorException(f *executor.Fault) uint64 {
	s := c.state

	c.trapStack = append(c.trapStack, trapFrame{pc: f.PC, ps: s.PS()})

	s.IPRs[s.Profile.IPRs.ExcAddr] = f.PC

	s.SetMode(cpustate.Kernel)
	s.SetIPL(7)

	if c.engine != nil && c.engine.exceptions != nil {
		c.engine.exceptions.dispatch(c.id, f)
	}

	return f.Kind.Vector() + s.IPRs[s.Profile.IPRs.PalBase]
}

// popTrapFrame restores the context saved by the most recent
// vectorException, for CALL_PAL REI. Returns the PC to resume at; the
// caller (core/cpu.go's step) is responsible for actually setting
// s.PC -- popTrapFrame only does the bookkeeping since executor.ExecutePAL
// deliberately leaves PALRei a no-op.
func (c *CPU) popTrapFrame() uint64 {
	if len(c.trapStack) == 0 {
		return c.state.PC + 4
	}
	top := c.trapStack[len(c.trapStack)-1]
	c.trapStack = c.trapStack[:len(c.trapStack)-1]
	c.restorePS(top.ps)
	return top.pc
}

// restorePS reinstates a previously saved PS word wholesale, used only by
// popTrapFrame: cpustate.State exposes mode/IPL/FP-enable as separate
// setters for the executor's sake, so REI restores each field individually
// rather than poking the packed word directly from another package.
func (c *CPU) restorePS(ps uint64) {
	s := c.state
	s.SetMode(cpustate.Mode((ps >> 3) & 0x3))
	s.SetIPL(uint8(ps & 0x7))
	s.SetFPEnabled(ps&(1<<5) != 0)
}
