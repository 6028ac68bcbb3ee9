/*
 * Astra64 - CPU intrinsics and port I/O for kernel code.
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

package cpu

import (
	"runtime"
	"time"

	"github.com/rcornwell/astra64/emu/machine"
)

// RFLAGS interrupt enable bit.
const FlagIF uint64 = 0x200

var mach *machine.Machine

// Bind the kernel to its machine. Must run before anything else.
func Setup(m *machine.Machine) {
	mach = m
}

// The bound machine, for subsystems that touch physical memory.
func Mach() *machine.Machine {
	return mach
}

// Disable interrupts.
func CLI() {
	mach.DisableInterrupts()
}

// Enable interrupts.
func STI() {
	mach.EnableInterrupts()
}

// Read RFLAGS. Only the interrupt bit is live here.
func SaveFlags() uint64 {
	if mach.InterruptsEnabled() {
		return FlagIF
	}
	return 0
}

// Restore the interrupt bit from saved RFLAGS.
func RestoreFlags(flags uint64) {
	if flags&FlagIF != 0 {
		mach.EnableInterrupts()
	} else {
		mach.DisableInterrupts()
	}
}

// Spin hint for contended locks.
func Pause() {
	runtime.Gosched()
}

// Park until something interesting happens. The emulated machine has
// no wakeup line, a short sleep stands in for the halt instruction.
func Halt() {
	time.Sleep(time.Millisecond)
}

func ReadCR2() uint64 {
	return mach.CR2()
}

func ReadCR3() uint64 {
	return mach.CR3()
}

func WriteCR3(root uint64) {
	mach.SetCR3(root)
}

// Invalidate one TLB entry.
func Invlpg(virt uint64) {
	mach.Invalidate(virt)
}

// Port I/O.

func Inb(port uint16) uint8 {
	return mach.In8(port)
}

func Outb(port uint16, data uint8) {
	mach.Out8(port, data)
}

func Inw(port uint16) uint16 {
	return mach.In16(port)
}

func Outw(port uint16, data uint16) {
	mach.Out16(port, data)
}

// Short delay after a port write, the traditional port 0x80 wait.
func IOWait() {
	mach.Out8(0x80, 0)
}
