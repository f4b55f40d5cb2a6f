/*
 * axpcore - Cycle-accounted event scheduler.
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

// Package event is a delta-queue scheduler core/engine.go drives from its
// maintenance loop: each entry stores cycles-until-fire *relative to the
// entry ahead of it*, so advancing time is a single subtraction on the
// head instead of a scan of the whole list. Entries are keyed by an
// arbitrary owner, since this core's periodic work (TLB auto-tune, JIT
// tuner review, stats flush) has no device to own it.
package event

// Callback fires when an event's delay reaches zero.
type Callback func(arg int)

type entry struct {
	delay int
	owner any
	cb    Callback
	arg   int
	prev  *entry
	next  *entry
}

// Scheduler is a single delta queue. core/engine.go owns exactly one,
// constructed once and threaded through to whatever needs to arm a timer;
// no package-level instance exists, per the no-global-singletons rule.
type Scheduler struct {
	head *entry
	tail *entry
}

// New builds an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Add arms cb to fire after delay cycles, attributed to owner (used only
// by Cancel to find it again) and passed arg when it fires. A delay of
// zero fires cb immediately, synchronously, without entering the queue.
func (s *Scheduler) Add(owner any, cb Callback, delay, arg int) {
	if delay <= 0 {
		cb(arg)
		return
	}

	ev := &entry{owner: owner, cb: cb, delay: delay, arg: arg}

	cur := s.head
	if cur == nil {
		s.head = ev
		s.tail = ev
		return
	}

	for cur != nil {
		if ev.delay <= cur.delay {
			cur.delay -= ev.delay
			ev.prev = cur.prev
			ev.next = cur
			cur.prev = ev
			if ev.prev != nil {
				ev.prev.next = ev
			} else {
				s.head = ev
			}
			return
		}
		ev.delay -= cur.delay
		cur = cur.next
	}

	ev.prev = s.tail
	s.tail.next = ev
	s.tail = ev
}

// Cancel removes the first queued event matching owner and arg, if any.
func (s *Scheduler) Cancel(owner any, arg int) {
	for cur := s.head; cur != nil; cur = cur.next {
		if cur.owner != owner || cur.arg != arg {
			continue
		}
		if cur.next != nil {
			cur.next.delay += cur.delay
			cur.next.prev = cur.prev
		} else {
			s.tail = cur.prev
		}
		if cur.prev != nil {
			cur.prev.next = cur.next
		} else {
			s.head = cur.next
		}
		return
	}
}

// Advance moves the scheduler's clock forward by cycles, firing every
// event whose delay has been exhausted, in delay order.
func (s *Scheduler) Advance(cycles int) {
	cur := s.head
	if cur == nil {
		return
	}
	cur.delay -= cycles
	for cur != nil && cur.delay <= 0 {
		cur.cb(cur.arg)
		s.head = cur.next
		if s.head != nil {
			s.head.prev = nil
			// The next delay is relative to this event; carry the overshoot.
			s.head.delay += cur.delay
		} else {
			s.tail = nil
		}
		cur = s.head
	}
}
