/*
 * Astra64 - Kernel heap test cases.
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

package heap

import (
	"testing"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/vmm"
)

func bootHeap(t *testing.T) *machine.Machine {
	t.Helper()
	mach := machine.New(64 * 1024 * 1024)
	boot := mach.Boot()
	cpu.Setup(mach)
	if err := pmm.Init(boot.MemMap); err != nil {
		t.Fatal(err)
	}
	vmm.Init(boot.HHDM)
	if err := Init(); err != nil {
		t.Fatal(err)
	}
	return mach
}

func TestAlignmentAndRegion(t *testing.T) {
	bootHeap(t)

	low, high := Extent()
	for _, size := range []uint64{1, 7, 16, 33, 100, 1024, 5000} {
		addr, err := Alloc(size)
		if err != nil {
			t.Fatal(err)
		}
		if addr%16 != 0 {
			t.Errorf("allocation of %d not 16 byte aligned: %x", size, addr)
		}
		if addr < low || addr >= high {
			t.Errorf("allocation of %d outside heap region: %x", size, addr)
		}
	}
}

func TestPayloadSurvives(t *testing.T) {
	mach := bootHeap(t)

	a, _ := Alloc(64)
	b, _ := Alloc(64)
	mach.WriteVirt(a, []byte("aaaaaaaa"))
	mach.WriteVirt(b, []byte("bbbbbbbb"))

	buf := make([]byte, 8)
	mach.ReadVirt(a, buf)
	if string(buf) != "aaaaaaaa" {
		t.Errorf("payload a clobbered: %q", buf)
	}
	mach.ReadVirt(b, buf)
	if string(buf) != "bbbbbbbb" {
		t.Errorf("payload b clobbered: %q", buf)
	}
}

func TestFreeReuse(t *testing.T) {
	bootHeap(t)

	addr, err := Alloc(256)
	if err != nil {
		t.Fatal(err)
	}
	Free(addr)
	again, err := Alloc(256)
	if err != nil {
		t.Fatal(err)
	}
	if again != addr {
		t.Errorf("first fit should reuse the freed block: %x vs %x", again, addr)
	}
}

func TestCoalesceToOne(t *testing.T) {
	bootHeap(t)

	var addrs []uint64
	for i := 0; i < 20; i++ {
		addr, err := Alloc(500)
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, addr)
	}
	// Free in a mixed order: evens forward, odds backward.
	for i := 0; i < len(addrs); i += 2 {
		Free(addrs[i])
	}
	for i := len(addrs) - 1; i >= 0; i-- {
		if i%2 == 1 {
			Free(addrs[i])
		}
	}
	if got := FreeBlocks(); got != 1 {
		t.Errorf("after freeing everything there must be one free block, got %d", got)
	}
	if Used() != 0 {
		t.Errorf("used bytes should be zero, got %d", Used())
	}
}

func TestDoubleFreeIgnored(t *testing.T) {
	bootHeap(t)

	addr, _ := Alloc(64)
	Free(addr)
	used := Used()
	Free(addr)
	if Used() != used {
		t.Error("double free changed accounting")
	}
}

// Fill the initial 64 frame region with 1 KiB blocks: instead of
// failing, the heap grows and the allocation succeeds.
func TestGrowth(t *testing.T) {
	bootHeap(t)

	_, initialTop := Extent()
	usedFrames := pmm.UsedPages()

	var addrs []uint64
	for {
		addr, err := Alloc(1024)
		if err != nil {
			t.Fatalf("allocation failed instead of growing: %v", err)
		}
		addrs = append(addrs, addr)
		if _, top := Extent(); top != initialTop {
			break
		}
		if len(addrs) > 10000 {
			t.Fatal("heap never grew")
		}
	}

	if got := pmm.UsedPages(); got < usedFrames+4 {
		t.Errorf("growth should take at least 4 frames: %d vs %d", got, usedFrames)
	}

	for _, addr := range addrs {
		Free(addr)
	}
	if got := FreeBlocks(); got != 1 {
		t.Errorf("free list should hold one block, got %d", got)
	}
}

func TestRealloc(t *testing.T) {
	mach := bootHeap(t)

	addr, _ := Alloc(32)
	mach.WriteVirt(addr, []byte("0123456789abcdef"))
	bigger, err := Realloc(addr, 4096)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	mach.ReadVirt(bigger, buf)
	if string(buf) != "0123456789abcdef" {
		t.Errorf("realloc lost payload: %q", buf)
	}
	Free(bigger)
}

func TestZeroed(t *testing.T) {
	mach := bootHeap(t)

	addr, _ := Alloc(128)
	mach.WriteVirt(addr, []byte("dirty dirty dirty"))
	Free(addr)

	again, err := AllocZeroed(128)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 128)
	mach.ReadVirt(again, buf)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}
