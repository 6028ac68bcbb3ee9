/*
 * Astra64 - Emulated 8259A interrupt controller pair.
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

package i8259

import (
	"sync"

	"github.com/rcornwell/astra64/emu/machine"
)

// Port assignments for the legacy pair.
const (
	MasterCommand uint16 = 0x20
	MasterData    uint16 = 0x21
	SlaveCommand  uint16 = 0xa0
	SlaveData     uint16 = 0xa1
)

const (
	cmdEOI     = 0x20
	cmdReadIRR = 0x0a
	cmdReadISR = 0x0b
	icw1Init   = 0x10
	icw1ICW4   = 0x01
)

// One 8259A chip.
type chip struct {
	base uint8 // Vector offset from ICW2.
	irr  uint8 // Requested.
	isr  uint8 // In service.
	imr  uint8 // Masked.

	initStep   int // ICW sequence position, 0 when idle.
	expectICW4 bool
	readISR    bool // OCW3 read selector.

	eois int // EOI commands accepted, for inspection.
}

// The cascaded pair wired to the machine INTR pin.
type Pair struct {
	mu     sync.Mutex
	mach   *machine.Machine
	master chip
	slave  chip
}

// Create the controller pair and claim its ports.
func New(mach *machine.Machine) *Pair {
	pair := &Pair{mach: mach}
	pair.master.imr = 0xff
	pair.slave.imr = 0xff
	pair.master.base = 0x08
	pair.slave.base = 0x70
	mach.RegisterPorts(pair, MasterCommand, MasterData, SlaveCommand, SlaveData)
	mach.SetIntController(pair)
	return pair
}

// Raise interrupt request line n (0..15).
func (pair *Pair) RaiseIRQ(n int) {
	pair.mu.Lock()
	if n < 8 {
		pair.master.irr |= 1 << n
	} else if n < 16 {
		pair.slave.irr |= 1 << (n - 8)
		pair.master.irr |= 1 << 2 // Cascade line.
	}
	pair.mu.Unlock()
	pair.mach.NotifyInterrupt()
}

// Any unmasked request outstanding.
func (pair *Pair) Pending() bool {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	return pair.pendingLocked()
}

func (pair *Pair) pendingLocked() bool {
	if pair.slave.irr&^pair.slave.imr != 0 && pair.master.imr&(1<<2) == 0 {
		return true
	}
	return pair.master.irr&^pair.master.imr&^(1<<2) != 0
}

// Accept the highest priority unmasked request: move it from request
// to in-service and return its vector.
func (pair *Pair) Acknowledge() (uint8, bool) {
	pair.mu.Lock()
	defer pair.mu.Unlock()

	ready := pair.master.irr &^ pair.master.imr
	for bit := 0; bit < 8; bit++ {
		if ready&(1<<bit) == 0 {
			continue
		}
		if bit == 2 {
			// Cascade: resolve on the slave.
			sready := pair.slave.irr &^ pair.slave.imr
			for sbit := 0; sbit < 8; sbit++ {
				if sready&(1<<sbit) == 0 {
					continue
				}
				pair.slave.irr &^= 1 << sbit
				pair.slave.isr |= 1 << sbit
				pair.master.irr &^= 1 << 2
				pair.master.isr |= 1 << 2
				return pair.slave.base + uint8(sbit), true
			}
			pair.master.irr &^= 1 << 2
			continue
		}
		pair.master.irr &^= 1 << bit
		pair.master.isr |= 1 << bit
		return pair.master.base + uint8(bit), true
	}
	return 0, false
}

// Port input.
func (pair *Pair) In(port uint16) uint8 {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	switch port {
	case MasterCommand:
		if pair.master.readISR {
			return pair.master.isr
		}
		return pair.master.irr
	case MasterData:
		return pair.master.imr
	case SlaveCommand:
		if pair.slave.readISR {
			return pair.slave.isr
		}
		return pair.slave.irr
	case SlaveData:
		return pair.slave.imr
	}
	return 0xff
}

// Port output.
func (pair *Pair) Out(port uint16, data uint8) {
	pair.mu.Lock()
	switch port {
	case MasterCommand:
		pair.master.command(data)
	case MasterData:
		pair.master.data(data)
	case SlaveCommand:
		pair.slave.command(data)
	case SlaveData:
		pair.slave.data(data)
	}
	pending := pair.pendingLocked()
	pair.mu.Unlock()
	if pending {
		pair.mach.NotifyInterrupt()
	}
}

func (c *chip) command(data uint8) {
	switch {
	case data&icw1Init != 0:
		c.initStep = 1
		c.expectICW4 = data&icw1ICW4 != 0
		c.irr = 0
		c.isr = 0
	case data == cmdEOI:
		c.eois++
		for bit := 0; bit < 8; bit++ {
			if c.isr&(1<<bit) != 0 {
				c.isr &^= 1 << bit
				break
			}
		}
	case data == cmdReadIRR:
		c.readISR = false
	case data == cmdReadISR:
		c.readISR = true
	}
}

func (c *chip) data(value uint8) {
	switch c.initStep {
	case 1:
		c.base = value
		c.initStep = 2
	case 2:
		// ICW3 cascade wiring, fixed on this board.
		if c.expectICW4 {
			c.initStep = 3
		} else {
			c.initStep = 0
		}
	case 3:
		// ICW4 mode byte.
		c.initStep = 0
	default:
		c.imr = value
	}
}

// Inspection surfaces for the monitor and tests.

func (pair *Pair) MasterISR() uint8 {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	return pair.master.isr
}

func (pair *Pair) SlaveISR() uint8 {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	return pair.slave.isr
}

func (pair *Pair) Masks() (uint8, uint8) {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	return pair.master.imr, pair.slave.imr
}

func (pair *Pair) VectorBases() (uint8, uint8) {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	return pair.master.base, pair.slave.base
}

// EOI commands accepted by each chip since reset.
func (pair *Pair) EOICounts() (int, int) {
	pair.mu.Lock()
	defer pair.mu.Unlock()
	return pair.master.eois, pair.slave.eois
}

// Deliver a vector with no request line asserted: the in-service bit
// stays clear, which is exactly the spurious case the kernel must
// detect.
func (pair *Pair) InjectSpurious(irq int) {
	var vector uint8
	pair.mu.Lock()
	if irq < 8 {
		vector = pair.master.base + uint8(irq)
	} else {
		vector = pair.slave.base + uint8(irq-8)
	}
	pair.mu.Unlock()
	pair.mach.Dispatch(uint64(vector), 0)
}
