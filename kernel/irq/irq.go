/*
 * Astra64 - IRQ routing over the PIC.
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

package irq

import (
	"errors"

	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/pic"
)

// Well known lines.
const (
	Timer    uint8 = 0
	Keyboard uint8 = 1

	Max = 16
)

type HandlerFn func(irq uint8)

var handlers [Max]HandlerFn

// Bring up the controller, everything masked.
func Init() {
	for i := range handlers {
		handlers[i] = nil
	}
	pic.Init()
}

// Register a handler for one line. The slot must be free.
func Register(irq uint8, handler HandlerFn) error {
	if irq >= Max || handler == nil {
		return errors.New("irq: bad registration")
	}
	flags := cpu.SaveFlags()
	cpu.CLI()
	defer cpu.RestoreFlags(flags)

	if handlers[irq] != nil {
		return errors.New("irq: line already registered")
	}
	handlers[irq] = handler
	return nil
}

// Drop a handler and mask its line.
func Unregister(irq uint8) {
	if irq >= Max {
		return
	}
	flags := cpu.SaveFlags()
	cpu.CLI()
	handlers[irq] = nil
	pic.DisableIRQ(irq)
	cpu.RestoreFlags(flags)
}

// Unmask a line.
func Enable(irq uint8) {
	if irq < Max {
		pic.EnableIRQ(irq)
	}
}

// Mask a line.
func Disable(irq uint8) {
	if irq < Max {
		pic.DisableIRQ(irq)
	}
}

// Route one arrival: spurious interrupts are dropped without an EOI,
// everything else runs its handler and is acknowledged.
func Dispatch(irq uint8) {
	if irq >= Max {
		return
	}
	if pic.IsSpurious(irq) {
		return
	}
	if handler := handlers[irq]; handler != nil {
		handler(irq)
	}
	pic.SendEOI(irq)
}
