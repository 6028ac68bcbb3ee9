/*
 * Astra64 - Emulated 8254 interval timer, channel 0 only.
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

package i8254

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rcornwell/astra64/emu/i8259"
	"github.com/rcornwell/astra64/emu/machine"
)

const (
	Channel0 uint16 = 0x40
	Command  uint16 = 0x43

	// Input clock in Hz.
	baseClock = 1193182
)

// Timer raises IRQ 0 at the programmed square wave rate.
type Timer struct {
	mu      sync.Mutex
	pic     *i8259.Pair
	divisor uint32
	loLoad  bool // Next data write is the low byte.
	lo      uint8
	running bool

	wg     sync.WaitGroup
	done   chan struct{}
	period chan time.Duration
}

// Create the timer and claim its ports. Call Start to run the clock
// in real time; tests drive Tick by hand instead.
func New(mach *machine.Machine, pic *i8259.Pair) *Timer {
	timer := &Timer{
		pic:    pic,
		done:   make(chan struct{}),
		period: make(chan time.Duration, 1),
	}
	mach.RegisterPorts(timer, Channel0, Command)
	return timer
}

func (timer *Timer) In(port uint16) uint8 {
	return 0
}

func (timer *Timer) Out(port uint16, data uint8) {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	switch port {
	case Command:
		// Channel 0, lobyte/hibyte access expected. Mode is not
		// modeled beyond the rate.
		timer.loLoad = true
	case Channel0:
		if timer.loLoad {
			timer.lo = data
			timer.loLoad = false
			return
		}
		timer.divisor = uint32(data)<<8 | uint32(timer.lo)
		if timer.divisor == 0 {
			timer.divisor = 0x10000
		}
		timer.reprogram()
	}
}

// Programmed output rate in Hz.
func (timer *Timer) Frequency() uint32 {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	if timer.divisor == 0 {
		return 0
	}
	return baseClock / timer.divisor
}

// One output pulse: raise IRQ 0.
func (timer *Timer) Tick() {
	timer.pic.RaiseIRQ(0)
}

// Run the clock against wall time.
func (timer *Timer) Start() {
	timer.mu.Lock()
	defer timer.mu.Unlock()
	if timer.running {
		return
	}
	timer.running = true
	timer.wg.Add(1)
	go timer.run()
	timer.reprogram()
}

func (timer *Timer) reprogram() {
	if !timer.running || timer.divisor == 0 {
		return
	}
	interval := time.Second * time.Duration(timer.divisor) / baseClock
	if interval <= 0 {
		interval = time.Millisecond
	}
	select {
	case timer.period <- interval:
	default:
	}
}

func (timer *Timer) run() {
	defer timer.wg.Done()
	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	defer ticker.Stop()
	for {
		select {
		case <-timer.done:
			return
		case interval := <-timer.period:
			ticker.Reset(interval)
		case <-ticker.C:
			timer.Tick()
		}
	}
}

// Stop the clock and wait for it.
func (timer *Timer) Shutdown() {
	timer.mu.Lock()
	running := timer.running
	timer.running = false
	timer.mu.Unlock()
	if !running {
		return
	}
	close(timer.done)
	done := make(chan struct{})
	go func() {
		timer.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		slog.Warn("Timed out waiting for timer to finish.")
	}
}
