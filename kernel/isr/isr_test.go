/*
 * Astra64 - Exception decode and fatal halt test cases.
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
	"strings"
	"testing"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/emu/uart"
	"github.com/rcornwell/astra64/kernel/cpu"
)

func bootISR(t *testing.T) (*machine.Machine, *uart.UART) {
	t.Helper()
	mach := machine.New(8 * 1024 * 1024)
	mach.Boot()
	cpu.Setup(mach)
	channel := uart.New(mach)
	Install(mach)
	return mach, channel
}

// Dereference an unmapped address: the fatal log names vector 14, the
// faulting address, and the decoded cause, then the machine stops.
func TestPageFaultDecode(t *testing.T) {
	mach, channel := bootISR(t)

	bad := uint64(0xdeadbeef000)
	if _, ok := mach.ReadVirt8(bad); ok {
		t.Fatal("read of unmapped address should fail")
	}

	log := channel.Transcript()
	for _, want := range []string{
		"Page Fault (#14)",
		"Faulting Address (CR2): 0x00000DEADBEEF000",
		"Cause: Non-present page, Read, Kernel mode",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("fatal log missing %q\n%s", want, log)
		}
	}
	if !strings.Contains(log, "RIP:") || !strings.Contains(log, "RFLAGS:") {
		t.Error("register dump missing")
	}
	if !mach.Halted() {
		t.Error("unhandled exception must halt the machine")
	}
}

func TestWriteFaultDecode(t *testing.T) {
	mach, channel := bootISR(t)

	if ok := mach.WriteVirt8(0x5000_0000_0000, 1); ok {
		t.Fatal("write to unmapped address should fail")
	}
	if !strings.Contains(channel.Transcript(), "Non-present page, Write, Kernel mode") {
		t.Errorf("write cause line wrong:\n%s", channel.Transcript())
	}
}

func TestDecodeVariants(t *testing.T) {
	bootISR(t)

	frame := &machine.Frame{Vector: 13, ErrCode: 0x10}
	exc := Decode(frame)
	fault, ok := exc.(Fault)
	if !ok {
		t.Fatalf("vector 13 should decode to a Fault, got %T", exc)
	}
	if !fault.HasCode || fault.Name != "General Protection Fault" {
		t.Errorf("GP decode wrong: %+v", fault)
	}

	frame = &machine.Frame{Vector: 6}
	fault = Decode(frame).(Fault)
	if fault.HasCode {
		t.Error("invalid opcode pushes no error code")
	}
	if !strings.Contains(fault.Describe(), "Invalid Opcode") {
		t.Errorf("describe wrong: %s", fault.Describe())
	}

	frame = &machine.Frame{Vector: 14, ErrCode: machine.FaultPresent | machine.FaultWrite | machine.FaultUser}
	pf, ok := Decode(frame).(PageFault)
	if !ok {
		t.Fatal("vector 14 should decode to a PageFault")
	}
	if !pf.Present || !pf.Write || !pf.User {
		t.Errorf("cause bits wrong: %+v", pf)
	}
	if pf.Describe() != "Protection violation, Write, User mode" {
		t.Errorf("cause line wrong: %s", pf.Describe())
	}
}

func TestUnknownVectorLogged(t *testing.T) {
	mach, channel := bootISR(t)

	mach.Dispatch(99, 0)
	if !strings.Contains(channel.Transcript(), "Unhandled interrupt") {
		t.Error("stray vectors should be logged")
	}
	if mach.Halted() {
		t.Error("stray vectors are not fatal")
	}
}
