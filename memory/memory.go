/*
 * axpcore - Physical memory collaborator.
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

// Package memory implements the physical memory collaborator: the final
// backing store below the cache hierarchy's L3. A flat, bounds-checked,
// byte-addressed array with no package-level state; every system gets its
// own *Memory built by New. Storage protection is the TLB/page-table
// collaborator's job, so no per-block key state lives here.
package memory

import "fmt"

// GiB is the unit the MemorySize configuration key is expressed in.
const GiB = 1 << 30

// MinSize is the 4 GiB floor the MemorySize configuration key enforces.
const MinSize = 4 * GiB

// Memory is a flat byte-addressed physical address space. It implements
// cache.PhysicalMemory so a *Memory can be handed straight to
// cache.NewHierarchy as the level below L3.
type Memory struct {
	bytes []byte
}

// New allocates a physical memory of the given size in bytes, exactly
// once: a running system's memory size does not change after boot.
// Enforcing the architectural MinSize floor is the
// configuration collaborator's job (core/engine.go's System section handler
// validates MemorySize before NewEngine ever calls New), not this constructor's
// -- keeping New usable for smaller test fixtures.
func New(size uint64) *Memory {
	return &Memory{bytes: make([]byte, size)}
}

// Size reports the memory's capacity in bytes.
func (m *Memory) Size() uint64 {
	return uint64(len(m.bytes))
}

// Read returns a copy of length bytes starting at pa. An access that runs
// past the end of memory is reported as an error rather than silently
// truncated or wrapped, so a misbehaving guest or a page-table bug surfaces
// as a bus error at the executor (executor.ExcBusError) instead of
// corrupting an adjacent region.
func (m *Memory) Read(pa uint64, length int) ([]byte, error) {
	if !m.inRange(pa, length) {
		return nil, fmt.Errorf("memory: read [%#x, %#x) out of range (size %#x)", pa, pa+uint64(length), m.Size())
	}
	out := make([]byte, length)
	copy(out, m.bytes[pa:pa+uint64(length)])
	return out, nil
}

// Write stores data at pa.
func (m *Memory) Write(pa uint64, data []byte) error {
	if !m.inRange(pa, len(data)) {
		return fmt.Errorf("memory: write [%#x, %#x) out of range (size %#x)", pa, pa+uint64(len(data)), m.Size())
	}
	copy(m.bytes[pa:pa+uint64(len(data))], data)
	return nil
}

func (m *Memory) inRange(pa uint64, length int) bool {
	if length < 0 {
		return false
	}
	end := pa + uint64(length)
	return end >= pa && end <= m.Size()
}
