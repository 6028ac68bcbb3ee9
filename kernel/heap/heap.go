/*
 * Astra64 - Kernel heap, first fit with coalescing.
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
	"errors"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/spinlock"
	"github.com/rcornwell/astra64/kernel/vmm"
)

const (
	// Reserved virtual region for the heap.
	HeapStart uint64 = 0xffff_8001_0000_0000

	initialPages = 64

	blockMagic uint32 = 0xdeadbeef
	headerSize uint64 = 32
	minBlock   uint64 = 32
	alignment  uint64 = 16
)

var (
	ErrOutOfMemory = errors.New("heap: out of memory")
	ErrBadPointer  = errors.New("heap: bad pointer")
)

// Blocks form a doubly linked free-and-used list in address order,
// headers resident in the heap region itself.
//
// Header layout: magic u32, payload size u32, next u64, prev u64,
// free u8, 7 pad bytes.
var (
	start uint64 // First block header.
	end   uint64 // Last block header.
	top   uint64 // First unmapped heap address.

	totalAllocated uint64
	lock           spinlock.Lock
)

type block uint64

func (b block) magic() uint32 {
	v, _ := cpu.Mach().ReadVirt32(uint64(b))
	return v
}

func (b block) size() uint64 {
	v, _ := cpu.Mach().ReadVirt32(uint64(b) + 4)
	return uint64(v)
}

func (b block) next() block {
	v, _ := cpu.Mach().ReadVirt64(uint64(b) + 8)
	return block(v)
}

func (b block) prev() block {
	v, _ := cpu.Mach().ReadVirt64(uint64(b) + 16)
	return block(v)
}

func (b block) isFree() bool {
	v, _ := cpu.Mach().ReadVirt8(uint64(b) + 24)
	return v != 0
}

func (b block) setMagic(v uint32)  { cpu.Mach().WriteVirt32(uint64(b), v) }
func (b block) setSize(v uint64)   { cpu.Mach().WriteVirt32(uint64(b)+4, uint32(v)) }
func (b block) setNext(next block) { cpu.Mach().WriteVirt64(uint64(b)+8, uint64(next)) }
func (b block) setPrev(prev block) { cpu.Mach().WriteVirt64(uint64(b)+16, uint64(prev)) }

func (b block) setFree(free bool) {
	var v uint8
	if free {
		v = 1
	}
	cpu.Mach().WriteVirt8(uint64(b)+24, v)
}

func (b block) payload() uint64 {
	return uint64(b) + headerSize
}

// Map the initial region and plant a single free block spanning it.
func Init() error {
	for i := uint64(0); i < initialPages; i++ {
		frame, err := pmm.AllocPage()
		if err != nil {
			return err
		}
		if err := vmm.MapPage(0, HeapStart+i*machine.PageSize, frame, vmm.FlagWritable); err != nil {
			return err
		}
	}
	top = HeapStart + initialPages*machine.PageSize

	first := block(HeapStart)
	first.setMagic(blockMagic)
	first.setSize(top - HeapStart - headerSize)
	first.setNext(0)
	first.setPrev(0)
	first.setFree(true)

	start = HeapStart
	end = HeapStart
	totalAllocated = 0
	return nil
}

// Map more frames past the current top and fuse the fresh span with
// the trailing block.
func expand(minSize uint64) error {
	pages := (minSize + machine.PageSize - 1) / machine.PageSize
	if pages < 4 {
		pages = 4
	}
	grown := uint64(0)
	for i := uint64(0); i < pages; i++ {
		frame, err := pmm.AllocPage()
		if err != nil {
			return err
		}
		if err := vmm.MapPage(0, top, frame, vmm.FlagWritable); err != nil {
			pmm.FreePage(frame)
			return err
		}
		top += machine.PageSize
		grown += machine.PageSize
	}

	tail := block(end)
	if tail.isFree() {
		// Fuse the new span straight into the trailing free block.
		tail.setSize(tail.size() + grown)
		return nil
	}

	fresh := block(uint64(tail) + headerSize + tail.size())
	fresh.setMagic(blockMagic)
	fresh.setSize(top - uint64(fresh) - headerSize)
	fresh.setNext(0)
	fresh.setPrev(tail)
	fresh.setFree(true)
	tail.setNext(fresh)
	end = uint64(fresh)
	return nil
}

// Carve the found block: mark used, split off the remainder when it
// can host another header plus a minimum block.
func carve(found block, size uint64) uint64 {
	if found.size() >= size+headerSize+minBlock {
		split := block(uint64(found) + headerSize + size)
		split.setMagic(blockMagic)
		split.setSize(found.size() - size - headerSize)
		split.setNext(found.next())
		split.setPrev(found)
		split.setFree(true)
		if next := found.next(); next != 0 {
			next.setPrev(split)
		}
		found.setNext(split)
		found.setSize(size)
		if uint64(found) == end {
			end = uint64(split)
		}
	}
	found.setFree(false)
	totalAllocated += found.size()
	return found.payload()
}

// Allocate size bytes, 16 byte aligned. Grows the heap when no block
// fits; a second pass then satisfies the request.
func Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, errors.New("heap: zero size request")
	}
	size = (size + alignment - 1) &^ (alignment - 1)
	if size < minBlock {
		size = minBlock
	}

	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)

	for attempt := 0; attempt < 2; attempt++ {
		for b := block(start); b != 0; b = b.next() {
			if b.isFree() && b.size() >= size {
				return carve(b, size), nil
			}
		}
		if err := expand(size + headerSize); err != nil {
			return 0, ErrOutOfMemory
		}
	}
	return 0, ErrOutOfMemory
}

// Allocate zeroed memory.
func AllocZeroed(size uint64) (uint64, error) {
	addr, err := Alloc(size)
	if err != nil {
		return 0, err
	}
	cpu.Mach().WriteVirt(addr, make([]byte, size))
	return addr, nil
}

// Grow or shrink an allocation, copying the payload when it moves.
func Realloc(addr uint64, newSize uint64) (uint64, error) {
	if addr == 0 {
		return Alloc(newSize)
	}
	if newSize == 0 {
		Free(addr)
		return 0, nil
	}
	b := block(addr - headerSize)
	if b.magic() != blockMagic {
		return 0, ErrBadPointer
	}
	if b.size() >= newSize {
		return addr, nil
	}
	fresh, err := Alloc(newSize)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, b.size())
	cpu.Mach().ReadVirt(addr, buf)
	cpu.Mach().WriteVirt(fresh, buf)
	Free(addr)
	return fresh, nil
}

// Return a block, coalescing with free neighbors. Bad pointers are
// ignored.
func Free(addr uint64) {
	if addr == 0 {
		return
	}
	b := block(addr - headerSize)
	if b.magic() != blockMagic {
		return
	}

	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)

	if b.isFree() {
		return
	}
	b.setFree(true)
	totalAllocated -= b.size()

	// Absorb the next block.
	if next := b.next(); next != 0 && next.isFree() {
		b.setSize(b.size() + headerSize + next.size())
		b.setNext(next.next())
		if nn := next.next(); nn != 0 {
			nn.setPrev(b)
		}
		if end == uint64(next) {
			end = uint64(b)
		}
	}

	// Fold into the previous block.
	if prev := b.prev(); prev != 0 && prev.isFree() {
		prev.setSize(prev.size() + headerSize + b.size())
		prev.setNext(b.next())
		if next := b.next(); next != 0 {
			next.setPrev(prev)
		}
		if end == uint64(b) {
			end = uint64(prev)
		}
	}
}

// Statistics.

func Used() uint64 {
	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)
	return totalAllocated
}

func FreeBytes() uint64 {
	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)
	var free uint64
	for b := block(start); b != 0; b = b.next() {
		if b.isFree() {
			free += b.size()
		}
	}
	return free
}

// Count of free blocks on the list.
func FreeBlocks() int {
	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)
	count := 0
	for b := block(start); b != 0; b = b.next() {
		if b.isFree() {
			count++
		}
	}
	return count
}

// Current mapped extent of the heap region.
func Extent() (uint64, uint64) {
	return HeapStart, top
}
