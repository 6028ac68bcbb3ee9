/*
 * Astra64 - Interrupt aware spinlock.
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

package spinlock

import (
	"sync/atomic"

	"github.com/rcornwell/astra64/kernel/cpu"
)

// Single bit lock. Only for short sections that never cross a
// scheduling boundary; release before yielding.
type Lock struct {
	locked atomic.Uint32
}

// Acquire by atomic test and set, spinning with the pause hint.
func (l *Lock) Acquire() {
	for {
		if l.locked.CompareAndSwap(0, 1) {
			return
		}
		for l.locked.Load() != 0 {
			cpu.Pause()
		}
	}
}

// Release the lock.
func (l *Lock) Release() {
	l.locked.Store(0)
}

// Try to acquire without spinning.
func (l *Lock) TryAcquire() bool {
	return l.locked.CompareAndSwap(0, 1)
}

// Save and disable interrupts, then acquire. The saved state stays
// outside the critical section on both sides.
func (l *Lock) AcquireSave() uint64 {
	flags := cpu.SaveFlags()
	cpu.CLI()
	l.Acquire()
	return flags
}

// Release, then restore the saved interrupt state.
func (l *Lock) ReleaseRestore(flags uint64) {
	l.Release()
	cpu.RestoreFlags(flags)
}
