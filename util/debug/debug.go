/*
 * axpcore - Process-wide debug-trace toggle
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

// Package debug holds the single process-wide debug-trace flag. Several
// components consult it to disable speculative optimizations that would
// otherwise hide guest-visible timing/ordering detail from a trace session:
// the JIT-assisted barrier elimination policy (barrier package) must be off
// whenever trace is requested, and the JIT compiler falls back to always
// generating interpreted closures instead of lowered ones so a trace can
// single-step compiled code.
package debug

import "sync/atomic"

var traceEnabled atomic.Bool

// SetTrace enables or disables debug-trace mode process-wide.
func SetTrace(enabled bool) {
	traceEnabled.Store(enabled)
}

// TraceEnabled reports whether debug-trace mode is active. Checked with
// relaxed ordering; it only gates an optimization, never correctness.
func TraceEnabled() bool {
	return traceEnabled.Load()
}
