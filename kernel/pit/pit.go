/*
 * Astra64 - Interval timer driver. The IRQ body is two lines: count
 * the tick, request a reschedule every tenth one. Scheduling itself
 * happens at safe points outside IRQ context.
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
	"sync/atomic"

	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/irq"
)

const (
	commandPort  uint16 = 0x43
	channel0Port uint16 = 0x40

	// Input clock in Hz.
	baseFrequency = 1193182

	// Square wave, lobyte/hibyte, channel 0.
	modeSquareWave uint8 = 0x36
)

var (
	ticks        atomic.Uint64
	needResched  atomic.Bool
	frequency    uint32
	tickCallback atomic.Value // func()
)

// Arm channel 0 at the requested rate and hook IRQ 0.
func Init(freq uint32) error {
	divisor := uint32(baseFrequency) / freq
	if divisor > 65535 {
		divisor = 65535
	}
	if divisor < 1 {
		divisor = 1
	}
	frequency = uint32(baseFrequency) / divisor

	cpu.Outb(commandPort, modeSquareWave)
	cpu.Outb(channel0Port, uint8(divisor))
	cpu.Outb(channel0Port, uint8(divisor>>8))

	if err := irq.Register(irq.Timer, irqHandler); err != nil {
		return err
	}
	irq.Enable(irq.Timer)
	return nil
}

// Timer IRQ body. No locks, no scheduling work.
func irqHandler(uint8) {
	t := ticks.Add(1)
	if t%10 == 0 {
		needResched.Store(true)
	}
	if cb, ok := tickCallback.Load().(func()); ok && cb != nil {
		cb()
	}
}

// Hook run on every tick, still in IRQ context. Used by the
// scheduler to burn the running task's time slice.
func SetTickCallback(cb func()) {
	tickCallback.Store(cb)
}

// Monotonic tick count.
func Ticks() uint64 {
	return ticks.Load()
}

// Programmed rate in Hz.
func Frequency() uint32 {
	return frequency
}

// Reschedule wanted, left set until a reader takes it.
func CheckReschedule() bool {
	return needResched.Load()
}

// Read and clear the flag. Only non-IRQ code calls this.
func TakeReschedule() bool {
	return needResched.Swap(false)
}

// Ask for a reschedule at the next safe point.
func RequestReschedule() {
	needResched.Store(true)
}

func ClearReschedule() {
	needResched.Store(false)
}

// Busy wait sleep against the tick counter, for short delays only.
func SleepMS(ms uint64) {
	if frequency == 0 {
		return
	}
	target := ticks.Load() + ms*uint64(frequency)/1000
	for ticks.Load() < target {
		cpu.Halt()
	}
}
