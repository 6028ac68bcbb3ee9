/*
 * Astra64 - ACPI shutdown contract.
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

package acpi

import (
	"github.com/rcornwell/astra64/kernel/cpu"
)

var rsdp uint64

// Record the firmware root pointer from the handoff. A zero pointer
// means the collaborator is missing and shutdown degrades to a halt.
func Init(rsdpAddr uint64) {
	rsdp = rsdpAddr
}

func Present() bool {
	return rsdp != 0
}

// Power the machine off. Succeeds by side effect; with no firmware
// tables the CPU is simply halted.
func Poweroff() {
	cpu.CLI()
	if rsdp != 0 {
		cpu.Mach().FatalHalt("power off")
		return
	}
	cpu.Mach().FatalHalt("halt: no firmware shutdown path")
}

// Reset the machine. The emulated board has no reset line, the
// outcome is the same stopped machine.
func Reboot() {
	cpu.CLI()
	cpu.Mach().FatalHalt("reboot")
}
