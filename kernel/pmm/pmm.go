/*
 * Astra64 - Physical frame allocator, one bit per frame.
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

package pmm

import (
	"errors"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/spinlock"
)

const PageSize = machine.PageSize

var ErrOutOfMemory = errors.New("pmm: out of memory")

// Allocator state. The bitmap itself lives in physical memory inside
// the first usable region that can hold it, one set bit per
// allocated frame.
var (
	bitmapPhys  uint64
	bitmapSize  uint64 // In bytes.
	totalPages  uint64
	usedPages   uint64
	highestPage uint64
	lock        spinlock.Lock
)

func alignUp(addr uint64) uint64 {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

func alignDown(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// The bitmap is dereferenced through the HHDM like every other
// physical pointer in the kernel.
func bitmapByte(page uint64) uint64 {
	return machine.HHDM + bitmapPhys + page/8
}

func bitSet(page uint64) {
	m := cpu.Mach()
	b, _ := m.ReadVirt8(bitmapByte(page))
	m.WriteVirt8(bitmapByte(page), b|1<<(page%8))
}

func bitClear(page uint64) {
	m := cpu.Mach()
	b, _ := m.ReadVirt8(bitmapByte(page))
	m.WriteVirt8(bitmapByte(page), b&^(1<<(page%8)))
}

func bitTest(page uint64) bool {
	b, _ := cpu.Mach().ReadVirt8(bitmapByte(page))
	return b>>(page%8)&1 != 0
}

// Build the allocator from the handoff memory map.
func Init(memmap []machine.MemMapEntry) error {
	mach := cpu.Mach()

	// Highest address anywhere in the map sizes the bitmap.
	var highestAddr uint64
	for _, entry := range memmap {
		if top := entry.Base + entry.Length; top > highestAddr {
			highestAddr = top
		}
	}
	highestPage = highestAddr / PageSize
	bitmapSize = (highestPage + 7) / 8

	// Only usable frames count toward the total.
	totalPages = 0
	for _, entry := range memmap {
		if entry.Kind != machine.MemUsable {
			continue
		}
		start := alignUp(entry.Base) / PageSize
		end := alignDown(entry.Base+entry.Length) / PageSize
		totalPages += end - start
	}

	// Place the bitmap in the first usable region that can hold it.
	bitmapPhys = 0
	found := false
	for _, entry := range memmap {
		if entry.Kind == machine.MemUsable && entry.Length >= bitmapSize {
			bitmapPhys = entry.Base
			found = true
			break
		}
	}
	if !found {
		return errors.New("pmm: no region large enough for bitmap")
	}

	// Everything allocated until proven usable.
	for i := uint64(0); i < bitmapSize; i++ {
		mach.WriteVirt8(machine.HHDM+bitmapPhys+i, 0xff)
	}
	usedPages = 0

	// Free page aligned frames strictly inside each usable region.
	for _, entry := range memmap {
		if entry.Kind != machine.MemUsable {
			continue
		}
		start := alignUp(entry.Base) / PageSize
		end := alignDown(entry.Base+entry.Length) / PageSize
		for page := start; page < end; page++ {
			bitClear(page)
		}
	}

	// Re-reserve the frames holding the bitmap itself.
	bitmapStart := bitmapPhys / PageSize
	bitmapPages := alignUp(bitmapSize) / PageSize
	for i := uint64(0); i < bitmapPages; i++ {
		if !bitTest(bitmapStart + i) {
			bitSet(bitmapStart + i)
			usedPages++
		}
	}

	// Frame 0 stays out of circulation for null protection.
	if !bitTest(0) {
		bitSet(0)
		usedPages++
	}
	return nil
}

// Allocate one frame, first fit from index 1.
func AllocPage() (uint64, error) {
	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)

	for page := uint64(1); page < highestPage; page++ {
		if !bitTest(page) {
			bitSet(page)
			usedPages++
			return page * PageSize, nil
		}
	}
	return 0, ErrOutOfMemory
}

// Allocate count contiguous frames.
func AllocPages(count uint64) (uint64, error) {
	if count == 0 {
		return 0, errors.New("pmm: zero page request")
	}
	if count == 1 {
		return AllocPage()
	}

	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)

	var run, start uint64
	for page := uint64(1); page < highestPage; page++ {
		if bitTest(page) {
			run = 0
			continue
		}
		if run == 0 {
			start = page
		}
		run++
		if run == count {
			for i := uint64(0); i < count; i++ {
				bitSet(start + i)
			}
			usedPages += count
			return start * PageSize, nil
		}
	}
	return 0, ErrOutOfMemory
}

// Free one frame. Freeing a free frame is a no-op.
func FreePage(addr uint64) {
	FreePages(addr, 1)
}

// Free count frames starting at addr.
func FreePages(addr uint64, count uint64) {
	if count == 0 {
		return
	}
	start := addr / PageSize

	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)

	for i := uint64(0); i < count; i++ {
		page := start + i
		if page < highestPage && bitTest(page) {
			bitClear(page)
			usedPages--
		}
	}
}

// Statistics.

func TotalMemory() uint64 {
	return totalPages * PageSize
}

func UsedPages() uint64 {
	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)
	return usedPages
}

func FreeMemory() uint64 {
	flags := lock.AcquireSave()
	defer lock.ReleaseRestore(flags)
	return (totalPages - usedPages) * PageSize
}

func HighestPage() uint64 {
	return highestPage
}
