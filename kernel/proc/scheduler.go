/*
 * Astra64 - Round robin scheduler.
 *
 * schedule() runs in non-IRQ context only. The timer IRQ burns the
 * slice and raises the reschedule flag; safe points act on it.
 *
 * Copyright 2024, Richard Cornwell
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

package proc

import (
	"sync/atomic"

	"github.com/rcornwell/astra64/kernel/pit"
	"github.com/rcornwell/astra64/kernel/spinlock"
)

// FIFO of ready slots, linked through Process.next.
var (
	readyHead int16 = noProc
	readyTail int16 = noProc

	schedLock       spinlock.Lock
	contextSwitches atomic.Uint64
)

func schedulerReset() {
	readyHead = noProc
	readyTail = noProc
	contextSwitches.Store(0)
}

// Enqueue under the scheduler lock.
func schedulerAdd(slot int16) {
	flags := schedLock.AcquireSave()
	readyPush(slot)
	schedLock.ReleaseRestore(flags)
}

func readyPush(slot int16) {
	table[slot].next = noProc
	if readyTail != noProc {
		table[readyTail].next = slot
		readyTail = slot
		return
	}
	readyHead = slot
	readyTail = slot
}

func readyPop() int16 {
	slot := readyHead
	if slot == noProc {
		return noProc
	}
	readyHead = table[slot].next
	if readyHead == noProc {
		readyTail = noProc
	}
	table[slot].next = noProc
	return slot
}

// Drop a slot from the queue wherever it sits.
func schedulerRemove(slot int16) {
	flags := schedLock.AcquireSave()
	defer schedLock.ReleaseRestore(flags)

	prev := noProc
	for cur := readyHead; cur != noProc; cur = table[cur].next {
		if cur != slot {
			prev = cur
			continue
		}
		if prev != noProc {
			table[prev].next = table[cur].next
		} else {
			readyHead = table[cur].next
		}
		if readyTail == cur {
			readyTail = prev
		}
		table[cur].next = noProc
		return
	}
}

// Whether a slot is queued, for the fairness checks.
func InReadyQueue(proc *Process) bool {
	flags := schedLock.AcquireSave()
	defer schedLock.ReleaseRestore(flags)
	for cur := readyHead; cur != noProc; cur = table[cur].next {
		if &table[cur] == proc {
			return true
		}
	}
	return false
}

// Rotate to the next ready task. Non-IRQ context only.
func Schedule() {
	flags := schedLock.AcquireSave()

	pit.ClearReschedule()

	slot := int16(current.Load())
	proc := &table[slot]

	next := readyPop()
	if next == noProc {
		// Nothing ready, the caller keeps running.
		schedLock.ReleaseRestore(flags)
		return
	}

	if next == slot {
		proc.TimeSlice.Store(DefaultTimeSlice)
		readyPush(next)
		schedLock.ReleaseRestore(flags)
		return
	}

	if proc.State == StateRunning {
		proc.State = StateReady
		readyPush(slot)
	}

	incoming := &table[next]
	incoming.State = StateRunning
	incoming.TimeSlice.Store(DefaultTimeSlice)
	current.Store(int32(next))
	contextSwitches.Add(1)

	schedLock.ReleaseRestore(flags)
	contextSwitch(proc.Ctx, incoming.Ctx)
}

// Timer tick hook, IRQ context: burn the running task's slice and
// ask for a reschedule when it hits zero. Touches only atomics.
func SchedulerTick() {
	proc := &table[current.Load()]
	if proc.ID == 0 {
		return
	}
	if proc.TimeSlice.Load() > 0 {
		if proc.TimeSlice.Add(-1) == 0 {
			pit.RequestReschedule()
		}
	}
}

// Safe point: reschedule if the timer asked for one.
func MaybeReschedule() {
	if pit.TakeReschedule() {
		Schedule()
	}
}

// Context switches since boot.
func ContextSwitches() uint64 {
	return contextSwitches.Load()
}
