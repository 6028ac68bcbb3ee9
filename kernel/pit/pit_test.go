/*
 * Astra64 - Timer driver test cases.
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

package pit

import (
	"testing"

	"github.com/rcornwell/astra64/emu/i8254"
	"github.com/rcornwell/astra64/emu/i8259"
	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/irq"
	"github.com/rcornwell/astra64/kernel/isr"
)

type rig struct {
	mach  *machine.Machine
	pic   *i8259.Pair
	timer *i8254.Timer
}

func bootTimer(t *testing.T) *rig {
	t.Helper()
	mach := machine.New(8 * 1024 * 1024)
	cpu.Setup(mach)
	pic := i8259.New(mach)
	timer := i8254.New(mach, pic)
	isr.Install(mach)
	irq.Init()
	if err := Init(1000); err != nil {
		t.Fatal(err)
	}
	return &rig{mach: mach, pic: pic, timer: timer}
}

// Deliver everything the controller has, synchronously.
func (r *rig) deliver() {
	for r.pic.Pending() {
		vector, ok := r.pic.Acknowledge()
		if !ok {
			return
		}
		r.mach.Dispatch(uint64(vector), 0)
	}
}

func (r *rig) tick(n int) {
	for i := 0; i < n; i++ {
		r.timer.Tick()
		r.deliver()
	}
}

func TestArming(t *testing.T) {
	r := bootTimer(t)
	if got := r.timer.Frequency(); got < 999 || got > 1001 {
		t.Errorf("device should be programmed near 1000 Hz, got %d", got)
	}
	if Frequency() != 1000 {
		t.Errorf("driver frequency wrong: %d", Frequency())
	}
}

func TestTickCounting(t *testing.T) {
	r := bootTimer(t)
	base := Ticks()
	r.tick(5)
	if got := Ticks() - base; got != 5 {
		t.Errorf("want 5 ticks, got %d", got)
	}
}

func TestRescheduleEveryTenth(t *testing.T) {
	r := bootTimer(t)
	ClearReschedule()

	// Align to a multiple of ten.
	for Ticks()%10 != 0 {
		r.tick(1)
	}
	ClearReschedule()

	r.tick(9)
	if CheckReschedule() {
		t.Error("flag must stay clear before the tenth tick")
	}
	r.tick(1)
	if !CheckReschedule() {
		t.Error("tenth tick should set the flag")
	}
	if !TakeReschedule() {
		t.Error("take should observe the flag")
	}
	if CheckReschedule() || TakeReschedule() {
		t.Error("take must clear the flag")
	}
}

func TestTickCallback(t *testing.T) {
	r := bootTimer(t)
	calls := 0
	SetTickCallback(func() { calls++ })
	defer SetTickCallback(nil)
	r.tick(3)
	if calls != 3 {
		t.Errorf("callback should fire per tick, got %d", calls)
	}
}
