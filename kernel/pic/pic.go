/*
 * Astra64 - 8259 PIC driver.
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

package pic

import "github.com/rcornwell/astra64/kernel/cpu"

const (
	pic1Command uint16 = 0x20
	pic1Data    uint16 = 0x21
	pic2Command uint16 = 0xa0
	pic2Data    uint16 = 0xa1

	// Remapped vector bases.
	Offset1 uint8 = 0x20
	Offset2 uint8 = 0x28

	eoi     uint8 = 0x20
	readIRR uint8 = 0x0a
	readISR uint8 = 0x0b

	icw1Init uint8 = 0x10
	icw1ICW4 uint8 = 0x01
	icw48086 uint8 = 0x01
)

// Shadow of the mask registers.
var (
	mask1 uint8 = 0xff
	mask2 uint8 = 0xff
)

// Remap both chips to new vector offsets. The power on mapping
// collides with the CPU exception vectors.
func Remap(offset1, offset2 uint8) {
	saved1 := cpu.Inb(pic1Data)
	saved2 := cpu.Inb(pic2Data)

	cpu.Outb(pic1Command, icw1Init|icw1ICW4)
	cpu.IOWait()
	cpu.Outb(pic2Command, icw1Init|icw1ICW4)
	cpu.IOWait()

	cpu.Outb(pic1Data, offset1)
	cpu.IOWait()
	cpu.Outb(pic2Data, offset2)
	cpu.IOWait()

	// Cascade wiring: slave on master line 2.
	cpu.Outb(pic1Data, 4)
	cpu.IOWait()
	cpu.Outb(pic2Data, 2)
	cpu.IOWait()

	cpu.Outb(pic1Data, icw48086)
	cpu.IOWait()
	cpu.Outb(pic2Data, icw48086)
	cpu.IOWait()

	cpu.Outb(pic1Data, saved1)
	cpu.Outb(pic2Data, saved2)
	mask1 = saved1
	mask2 = saved2
}

// Remap to the standard offsets and mask everything until drivers
// register.
func Init() {
	Remap(Offset1, Offset2)
	DisableAll()
}

// Acknowledge an interrupt. Slave lines acknowledge both chips.
func SendEOI(irq uint8) {
	if irq >= 8 {
		cpu.Outb(pic2Command, eoi)
	}
	cpu.Outb(pic1Command, eoi)
}

// Unmask one line. Slave lines also unmask the cascade.
func EnableIRQ(irq uint8) {
	if irq < 8 {
		mask1 &^= 1 << irq
		cpu.Outb(pic1Data, mask1)
		return
	}
	mask2 &^= 1 << (irq - 8)
	cpu.Outb(pic2Data, mask2)
	if mask1&(1<<2) != 0 {
		mask1 &^= 1 << 2
		cpu.Outb(pic1Data, mask1)
	}
}

// Mask one line.
func DisableIRQ(irq uint8) {
	if irq < 8 {
		mask1 |= 1 << irq
		cpu.Outb(pic1Data, mask1)
		return
	}
	mask2 |= 1 << (irq - 8)
	cpu.Outb(pic2Data, mask2)
}

// Mask every line.
func DisableAll() {
	mask1 = 0xff
	mask2 = 0xff
	cpu.Outb(pic1Data, mask1)
	cpu.Outb(pic2Data, mask2)
}

// Read the request register pair.
func ReadIRR() uint16 {
	cpu.Outb(pic1Command, readIRR)
	cpu.Outb(pic2Command, readIRR)
	return uint16(cpu.Inb(pic2Command))<<8 | uint16(cpu.Inb(pic1Command))
}

// Read the in-service register pair.
func ReadISR() uint16 {
	cpu.Outb(pic1Command, readISR)
	cpu.Outb(pic2Command, readISR)
	return uint16(cpu.Inb(pic2Command))<<8 | uint16(cpu.Inb(pic1Command))
}

// True when an IRQ 7 or 15 arrival has no in-service bit behind it.
// The cascade case acknowledges the master, nothing else is sent.
func IsSpurious(irq uint8) bool {
	switch irq {
	case 7:
		cpu.Outb(pic1Command, readISR)
		return cpu.Inb(pic1Command)&0x80 == 0
	case 15:
		cpu.Outb(pic2Command, readISR)
		if cpu.Inb(pic2Command)&0x80 == 0 {
			cpu.Outb(pic1Command, eoi)
			return true
		}
	}
	return false
}
