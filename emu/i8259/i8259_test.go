/*
 * Astra64 - Interrupt controller test cases.
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
	"testing"

	"github.com/rcornwell/astra64/emu/machine"
)

// Program both chips to the standard kernel bases with everything
// unmasked.
func remap(m *machine.Machine) {
	m.Out8(MasterCommand, 0x11)
	m.Out8(SlaveCommand, 0x11)
	m.Out8(MasterData, 0x20)
	m.Out8(SlaveData, 0x28)
	m.Out8(MasterData, 4)
	m.Out8(SlaveData, 2)
	m.Out8(MasterData, 1)
	m.Out8(SlaveData, 1)
	m.Out8(MasterData, 0x00)
	m.Out8(SlaveData, 0x00)
}

func TestRemapAndAcknowledge(t *testing.T) {
	m := machine.New(8 * 1024 * 1024)
	pair := New(m)
	remap(m)

	mbase, sbase := pair.VectorBases()
	if mbase != 0x20 || sbase != 0x28 {
		t.Fatalf("vector bases wrong: %x %x", mbase, sbase)
	}

	pair.RaiseIRQ(0)
	if !pair.Pending() {
		t.Fatal("IRQ 0 should be pending")
	}
	vector, ok := pair.Acknowledge()
	if !ok || vector != 0x20 {
		t.Fatalf("acknowledge: vector %x ok=%v", vector, ok)
	}
	if pair.MasterISR()&1 == 0 {
		t.Error("ISR bit 0 should be in service")
	}

	// EOI clears the in-service bit.
	m.Out8(MasterCommand, 0x20)
	if pair.MasterISR() != 0 {
		t.Error("EOI should clear ISR")
	}
}

func TestMasking(t *testing.T) {
	m := machine.New(8 * 1024 * 1024)
	pair := New(m)
	remap(m)

	m.Out8(MasterData, 0xff)
	pair.RaiseIRQ(3)
	if pair.Pending() {
		t.Error("masked line must not be pending")
	}
	m.Out8(MasterData, 0x00)
	if !pair.Pending() {
		t.Error("unmasking should expose the request")
	}
	if m.In8(MasterData) != 0 {
		t.Error("IMR readback wrong")
	}
}

func TestCascade(t *testing.T) {
	m := machine.New(8 * 1024 * 1024)
	pair := New(m)
	remap(m)

	pair.RaiseIRQ(8)
	vector, ok := pair.Acknowledge()
	if !ok || vector != 0x28 {
		t.Fatalf("slave vector wrong: %x ok=%v", vector, ok)
	}
	if pair.SlaveISR()&1 == 0 {
		t.Error("slave ISR should show line 0")
	}
	if pair.MasterISR()&(1<<2) == 0 {
		t.Error("cascade line should be in service on the master")
	}

	// Slave EOI then master EOI.
	m.Out8(SlaveCommand, 0x20)
	m.Out8(MasterCommand, 0x20)
	if pair.SlaveISR() != 0 || pair.MasterISR() != 0 {
		t.Error("EOI pair should clear both chips")
	}
}

func TestISRReadSelect(t *testing.T) {
	m := machine.New(8 * 1024 * 1024)
	pair := New(m)
	remap(m)

	pair.RaiseIRQ(5)
	pair.Acknowledge()

	m.Out8(MasterCommand, 0x0b)
	if m.In8(MasterCommand)&(1<<5) == 0 {
		t.Error("OCW3 ISR read should show line 5")
	}
	m.Out8(MasterCommand, 0x0a)
	if m.In8(MasterCommand) != 0 {
		t.Error("IRR should be empty after acknowledge")
	}
}

func TestPriorityOrder(t *testing.T) {
	m := machine.New(8 * 1024 * 1024)
	pair := New(m)
	remap(m)

	pair.RaiseIRQ(5)
	pair.RaiseIRQ(1)
	vector, _ := pair.Acknowledge()
	if vector != 0x21 {
		t.Errorf("lowest line first: got %x", vector)
	}
	vector, _ = pair.Acknowledge()
	if vector != 0x25 {
		t.Errorf("then line 5: got %x", vector)
	}
}
