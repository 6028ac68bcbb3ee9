/*
 * Astra64 - Spinlock test cases.
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
	"sync"
	"testing"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
)

func TestMutualExclusion(t *testing.T) {
	cpu.Setup(machine.New(8 * 1024 * 1024))

	var lock Lock
	counter := 0
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				lock.Acquire()
				counter++
				lock.Release()
			}
		}()
	}
	wg.Wait()
	if counter != 8000 {
		t.Errorf("lost increments: %d", counter)
	}
}

func TestTryAcquire(t *testing.T) {
	cpu.Setup(machine.New(8 * 1024 * 1024))

	var lock Lock
	if !lock.TryAcquire() {
		t.Fatal("free lock should try-acquire")
	}
	if lock.TryAcquire() {
		t.Fatal("held lock should refuse")
	}
	lock.Release()
	if !lock.TryAcquire() {
		t.Fatal("released lock should try-acquire again")
	}
	lock.Release()
}

func TestInterruptSaveRestore(t *testing.T) {
	mach := machine.New(8 * 1024 * 1024)
	cpu.Setup(mach)
	cpu.STI()

	var lock Lock
	flags := lock.AcquireSave()
	if mach.InterruptsEnabled() {
		t.Error("interrupts must be off inside the section")
	}
	lock.ReleaseRestore(flags)
	if !mach.InterruptsEnabled() {
		t.Error("interrupt state should be restored")
	}

	// And the disabled state round trips too.
	cpu.CLI()
	flags = lock.AcquireSave()
	lock.ReleaseRestore(flags)
	if mach.InterruptsEnabled() {
		t.Error("disabled state should stay disabled")
	}
}
