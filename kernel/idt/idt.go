/*
 * Astra64 - Interrupt descriptor table.
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

package idt

import (
	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/gdt"
)

// Gate type and attribute bits.
const (
	TypeInterrupt uint8 = 0x0e
	TypeTrap      uint8 = 0x0f
	FlagPresent   uint8 = 0x80
	FlagDPL0      uint8 = 0x00
	FlagDPL3      uint8 = 0x60
)

// One of 256 gates.
type Gate struct {
	Selector uint16
	Attr     uint8
	set      bool
}

var gates [256]Gate

// Fill one gate. The handler target is shared, the gate records the
// descriptor attributes.
func SetEntry(vector int, attr uint8) {
	if vector < 0 || vector > 255 {
		return
	}
	gates[vector] = Gate{Selector: gdt.SelKernelCode, Attr: attr, set: true}
}

// Gate attributes for one vector.
func Entry(vector int) (Gate, bool) {
	if vector < 0 || vector > 255 {
		return Gate{}, false
	}
	return gates[vector], gates[vector].set
}

// Load the table: every present gate dispatches into handler.
func Load(mach *machine.Machine, handler machine.Handler) {
	for vector := range gates {
		if gates[vector].set {
			mach.SetVector(vector, handler)
		}
	}
}
