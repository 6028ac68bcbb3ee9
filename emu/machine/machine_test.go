/*
 * Astra64 - Machine and boot handoff test cases.
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

package machine

import (
	"bytes"
	"testing"
)

func TestBootHandoff(t *testing.T) {
	m := New(64 * 1024 * 1024)
	info := m.Boot()

	if info.HHDM != HHDM {
		t.Errorf("HHDM base wrong: %x", info.HHDM)
	}
	if m.CR3() == 0 {
		t.Error("boot left CR3 empty")
	}

	kinds := map[int]bool{}
	for _, entry := range info.MemMap {
		kinds[entry.Kind] = true
		if entry.Length == 0 {
			t.Errorf("zero length entry at %x", entry.Base)
		}
	}
	for _, kind := range []int{MemUsable, MemReserved, MemBootloaderReclaimable, MemKernelAndModules, MemFramebuffer} {
		if !kinds[kind] {
			t.Errorf("memory map missing kind %d", kind)
		}
	}
}

func TestHHDMTranslation(t *testing.T) {
	m := New(64 * 1024 * 1024)
	m.Boot()

	for _, phys := range []uint64{0x0, 0x1234, 0x200000, 0x3f_0000} {
		got, ok := m.Translate(HHDM+phys, false)
		if !ok || got != phys {
			t.Errorf("translate HHDM+%x: got %x ok=%v", phys, got, ok)
		}
	}

	// Above installed memory the HHDM is unmapped.
	if _, ok := m.Translate(HHDM+m.MemSize()+0x1000000, false); ok {
		t.Error("translation past memory top should fail")
	}
	// Entirely unmapped address.
	if _, ok := m.Translate(0xdead_beef_000, false); ok {
		t.Error("unmapped address should not translate")
	}
}

func TestVirtCopy(t *testing.T) {
	m := New(64 * 1024 * 1024)
	m.Boot()

	data := []byte("the quick brown fox")
	virt := HHDM + 0x100000
	if !m.WriteVirt(virt, data) {
		t.Fatal("WriteVirt failed")
	}
	back := make([]byte, len(data))
	if !m.ReadVirt(virt, back) {
		t.Fatal("ReadVirt failed")
	}
	if !bytes.Equal(data, back) {
		t.Errorf("round trip mismatch: %q", back)
	}
	if m.ReadPhys8(0x100000) != 't' {
		t.Error("HHDM write did not land in physical memory")
	}

	// Copy spanning a 2M page boundary.
	edge := HHDM + 0x200000 - 4
	if !m.WriteVirt(edge, []byte("12345678")) {
		t.Fatal("boundary write failed")
	}
	back = make([]byte, 8)
	m.ReadVirt(edge, back)
	if string(back) != "12345678" {
		t.Errorf("boundary round trip: %q", back)
	}
}

func TestUnclaimedPorts(t *testing.T) {
	m := New(8 * 1024 * 1024)
	if m.In8(0x1f7) != 0xff {
		t.Error("unclaimed byte port should float high")
	}
	if m.In16(0x1f0) != 0xffff {
		t.Error("unclaimed word port should float high")
	}
	m.Out8(0x80, 0) // Discarded.
}

func TestFatalHalt(t *testing.T) {
	m := New(8 * 1024 * 1024)
	m.EnableInterrupts()
	m.FatalHalt("first")
	m.FatalHalt("second")
	if !m.Halted() {
		t.Error("machine should be halted")
	}
	if m.HaltReason() != "first" {
		t.Errorf("first reason should win: %q", m.HaltReason())
	}
	if m.InterruptsEnabled() {
		t.Error("halt should disable interrupts")
	}
	select {
	case <-m.Done():
	default:
		t.Error("done channel should be closed")
	}
}
