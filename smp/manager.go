/*
 * axpcore - SMP manager: CPU set ownership, IPIs, barrier acknowledgement.
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

// Package smp implements the SMP manager collaborator: broadcast, send,
// CPU count, and per-CPU mailboxes addressed by CPU id. Its callers are the
// barrier coordinator and the core package: the engine's lock-reservation
// and halt notices, and each CPU's run loop, which drains and acks.
package smp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Message is one IPI or barrier notification delivered to a CPU's mailbox.
type Message struct {
	Sender int
	Kind   string // e.g. "MB", "WMB", "TLB-SHOOTDOWN"
	Addr   uint64
	Corr   uint64 // correlation id for a Broadcast the receiver must Ack
}

// Mailbox is a single CPU's inbound message queue, drained by the owning
// CPU's goroutine from its own run loop (core/cpu.go).
type Mailbox chan Message

// Manager owns the CPU set and routes IPIs and barrier broadcasts between
// them. One Manager serves an entire emulated system.
type Manager struct {
	mu        sync.RWMutex
	mailboxes []Mailbox
	acked     map[uint64]map[int]bool // correlation id -> set of cpus that acked
	nextCorr  uint64
	ackCh     chan ackSignal
}

type ackSignal struct {
	corr uint64
	cpu  int
}

// New builds a Manager for numCPUs processors, each with a buffered
// mailbox so a sender never blocks on a slow or halted peer.
func New(numCPUs int) *Manager {
	m := &Manager{
		mailboxes: make([]Mailbox, numCPUs),
		acked:     make(map[uint64]map[int]bool),
		ackCh:     make(chan ackSignal, numCPUs*4),
	}
	for i := range m.mailboxes {
		m.mailboxes[i] = make(Mailbox, 64)
	}
	go m.collectAcks()
	return m
}

func (m *Manager) collectAcks() {
	for sig := range m.ackCh {
		m.mu.Lock()
		if set, ok := m.acked[sig.corr]; ok {
			set[sig.cpu] = true
		}
		m.mu.Unlock()
	}
}

// CPUCount reports the number of CPUs in the set.
func (m *Manager) CPUCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mailboxes)
}

// ThisCPUID always returns -1: one Manager serves every CPU and does not
// know which one is calling. It rounds out the barrier.SMP surface; the
// barrier coordinator and CPU loop track their own id.
func (m *Manager) ThisCPUID() int {
	return -1
}

// Mailbox returns the inbound channel for a given CPU so its run loop can
// select on it.
func (m *Manager) Mailbox(cpu int) Mailbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mailboxes[cpu]
}

// Send delivers msg to a single target CPU (a point-to-point IPI).
func (m *Manager) Send(sender, target int, msg string) {
	m.send(sender, target, msg, 0)
}

// SendAddr delivers msg to a single target CPU along with an address
// payload, for IPIs the receiver needs more than a bare kind string for
// (e.g. the lock-reservation-clear notification carries the physical line
// that was written).
func (m *Manager) SendAddr(sender, target int, msg string, addr uint64) {
	m.mu.RLock()
	box := m.mailboxes[target]
	m.mu.RUnlock()
	select {
	case box <- Message{Sender: sender, Kind: msg, Addr: addr}:
	default:
		slog.Warn("smp: mailbox full, dropping message", "target", target, "kind", msg)
	}
}

func (m *Manager) send(sender, target int, msg string, corr uint64) {
	m.mu.RLock()
	box := m.mailboxes[target]
	m.mu.RUnlock()
	select {
	case box <- Message{Sender: sender, Kind: msg, Corr: corr}:
	default:
		slog.Warn("smp: mailbox full, dropping message", "target", target, "kind", msg)
	}
}

// Ack is called by a CPU's run loop after it has locally processed a
// broadcast message, to satisfy the barrier coordinator's wait.
func (m *Manager) Ack(corr uint64, cpu int) {
	m.ackCh <- ackSignal{corr: corr, cpu: cpu}
}

// Broadcast delivers msg to every CPU except sender and blocks until all of
// them ack or timeout elapses. Returns the CPUs that acked and the CPUs
// that timed out, matching the barrier.SMP interface the coordinator
// expects.
func (m *Manager) Broadcast(sender int, msg string, timeout time.Duration) (acked []int, timedOut []int) {
	m.mu.Lock()
	corr := m.nextCorr
	m.nextCorr++
	targets := make([]int, 0, len(m.mailboxes)-1)
	for i := range m.mailboxes {
		if i != sender {
			targets = append(targets, i)
		}
	}
	m.acked[corr] = make(map[int]bool)
	m.mu.Unlock()

	for _, cpu := range targets {
		m.mu.RLock()
		box := m.mailboxes[cpu]
		m.mu.RUnlock()
		select {
		case box <- Message{Sender: sender, Kind: msg, Corr: corr}:
		default:
			slog.Warn("smp: mailbox full on broadcast", "target", cpu, "kind", msg)
		}
	}

	deadline := time.After(timeout)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

waitLoop:
	for {
		select {
		case <-deadline:
			break waitLoop
		case <-ticker.C:
			m.mu.RLock()
			done := len(m.acked[corr]) == len(targets)
			m.mu.RUnlock()
			if done {
				break waitLoop
			}
		}
	}

	m.mu.Lock()
	ackSet := m.acked[corr]
	delete(m.acked, corr)
	m.mu.Unlock()

	for _, cpu := range targets {
		if ackSet[cpu] {
			acked = append(acked, cpu)
		} else {
			timedOut = append(timedOut, cpu)
		}
	}
	return acked, timedOut
}

// Describe renders a human-readable summary for diagnostics commands.
func (m *Manager) Describe() string {
	return fmt.Sprintf("smp: %d cpus", m.CPUCount())
}
