/*
 * Astra64 - CPU exception decoding and the common interrupt handler.
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

package isr

import (
	"fmt"
	"strings"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/idt"
	"github.com/rcornwell/astra64/kernel/irq"
	"github.com/rcornwell/astra64/kernel/serial"
	"github.com/rcornwell/astra64/util/hex"
)

// Exception vectors referenced by name.
const (
	VecDoubleFault       = 8
	VecInvalidTSS        = 10
	VecSegmentNotPresent = 11
	VecStackFault        = 12
	VecGeneralProtection = 13
	VecPageFault         = 14
	VecAlignmentCheck    = 17
	VecControlProtection = 21
	VecVMMCommunication  = 29
	VecSecurity          = 30
)

var exceptionNames = [32]string{
	"Division Error",
	"Debug",
	"Non-Maskable Interrupt",
	"Breakpoint",
	"Overflow",
	"Bound Range Exceeded",
	"Invalid Opcode",
	"Device Not Available",
	"Double Fault",
	"Coprocessor Segment Overrun",
	"Invalid TSS",
	"Segment Not Present",
	"Stack-Segment Fault",
	"General Protection Fault",
	"Page Fault",
	"Reserved",
	"x87 FPU Error",
	"Alignment Check",
	"Machine Check",
	"SIMD Floating-Point",
	"Virtualization",
	"Control Protection",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Reserved",
	"Hypervisor Injection",
	"VMM Communication",
	"Security",
	"Reserved",
}

// Vectors for which the CPU pushes an error code.
var pushesErrCode = map[uint64]bool{
	VecDoubleFault:       true,
	VecInvalidTSS:        true,
	VecSegmentNotPresent: true,
	VecStackFault:        true,
	VecGeneralProtection: true,
	VecPageFault:         true,
	VecAlignmentCheck:    true,
	VecControlProtection: true,
	VecVMMCommunication:  true,
	VecSecurity:          true,
}

// Decoded CPU exception.
type Exception interface {
	Vector() uint64
	Describe() string
}

// Exception without side data beyond an optional error code.
type Fault struct {
	Vec     uint64
	Name    string
	ErrCode uint64
	HasCode bool
}

func (f Fault) Vector() uint64 { return f.Vec }

func (f Fault) Describe() string {
	if f.HasCode {
		return fmt.Sprintf("%s (#%d) error code %s", f.Name, f.Vec, hex.Quad(f.ErrCode))
	}
	return fmt.Sprintf("%s (#%d)", f.Name, f.Vec)
}

// Page fault with the faulting address and decoded cause bits.
type PageFault struct {
	Addr    uint64
	ErrCode uint64
	Present bool
	Write   bool
	User    bool
}

func (PageFault) Vector() uint64 { return VecPageFault }

func (pf PageFault) Describe() string {
	var cause strings.Builder
	if pf.Present {
		cause.WriteString("Protection violation, ")
	} else {
		cause.WriteString("Non-present page, ")
	}
	if pf.Write {
		cause.WriteString("Write, ")
	} else {
		cause.WriteString("Read, ")
	}
	if pf.User {
		cause.WriteString("User mode")
	} else {
		cause.WriteString("Kernel mode")
	}
	return cause.String()
}

// Turn a vector entry into its exception variant.
func Decode(frame *machine.Frame) Exception {
	if frame.Vector == VecPageFault {
		return PageFault{
			Addr:    cpu.ReadCR2(),
			ErrCode: frame.ErrCode,
			Present: frame.ErrCode&machine.FaultPresent != 0,
			Write:   frame.ErrCode&machine.FaultWrite != 0,
			User:    frame.ErrCode&machine.FaultUser != 0,
		}
	}
	name := "Reserved"
	if frame.Vector < 32 {
		name = exceptionNames[frame.Vector]
	}
	return Fault{
		Vec:     frame.Vector,
		Name:    name,
		ErrCode: frame.ErrCode,
		HasCode: pushesErrCode[frame.Vector],
	}
}

// Unhandled exception: dump everything to the debug channel and stop.
func handleException(frame *machine.Frame) {
	exc := Decode(frame)

	serial.Puts("\n!!! CPU EXCEPTION !!!\n")
	serial.Printf("Exception: %s (#%d)\n", exceptionName(frame.Vector), frame.Vector)
	if pushesErrCode[frame.Vector] {
		serial.Printf("Error Code: %s\n", hex.Quad(frame.ErrCode))
	}
	if pf, ok := exc.(PageFault); ok {
		serial.Printf("Faulting Address (CR2): %s\n", hex.Quad(pf.Addr))
		serial.Printf("Cause: %s\n", pf.Describe())
	}

	serial.Puts("\nRegisters:\n")
	dump := []struct {
		name  string
		value uint64
	}{
		{"RIP", frame.RIP}, {"RSP", frame.RSP}, {"RBP", frame.RBP},
		{"RAX", frame.RAX}, {"RBX", frame.RBX}, {"RCX", frame.RCX},
		{"RDX", frame.RDX}, {"RSI", frame.RSI}, {"RDI", frame.RDI},
		{"CS", frame.CS}, {"SS", frame.SS}, {"RFLAGS", frame.RFLAGS},
	}
	for _, reg := range dump {
		serial.Printf("  %-6s %s\n", reg.name+":", hex.Quad(reg.value))
	}

	cpu.Mach().FatalHalt(fmt.Sprintf("unhandled CPU exception: vector %d", frame.Vector))
}

func exceptionName(vector uint64) string {
	if vector < 32 {
		return exceptionNames[vector]
	}
	return "Unknown"
}

// Common handler behind every gate.
func handler(frame *machine.Frame) {
	switch {
	case frame.Vector < 32:
		handleException(frame)
	case frame.Vector < 48:
		irq.Dispatch(uint8(frame.Vector - 32))
	default:
		serial.Printf("Unhandled interrupt: %s\n", hex.Quad(frame.Vector))
	}
}

// Fill all 256 gates and activate the table. Exception and IRQ
// vectors are present ring 0 interrupt gates on the kernel code
// selector.
func Install(mach *machine.Machine) {
	for vector := 0; vector < 256; vector++ {
		idt.SetEntry(vector, idt.FlagPresent|idt.FlagDPL0|idt.TypeInterrupt)
	}
	idt.Load(mach, handler)
}
