/*
 * Astra64 - Virtual memory manager, 4-level paging.
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

package vmm

import (
	"errors"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/spinlock"
)

// Entry flags re-exported for mapping callers.
const (
	FlagPresent  = machine.PTEPresent
	FlagWritable = machine.PTEWritable
	FlagUser     = machine.PTEUser
	FlagNoCache  = machine.PTENoCache
	FlagHuge     = machine.PTEHuge
	FlagGlobal   = machine.PTEGlobal

	addrMask = machine.PTEAddrMask
)

var (
	hhdmOffset uint64
	kernelRoot uint64
	lock       spinlock.Lock
)

func pml4Index(addr uint64) uint64 { return addr >> 39 & 0x1ff }
func pdptIndex(addr uint64) uint64 { return addr >> 30 & 0x1ff }
func pdIndex(addr uint64) uint64   { return addr >> 21 & 0x1ff }
func ptIndex(addr uint64) uint64   { return addr >> 12 & 0x1ff }

// Table frames are dereferenced through the HHDM.
func readEntry(table, index uint64) uint64 {
	value, _ := cpu.Mach().ReadVirt64(hhdmOffset + table + index*8)
	return value
}

func writeEntry(table, index, value uint64) {
	cpu.Mach().WriteVirt64(hhdmOffset+table+index*8, value)
}

// Record the HHDM base and adopt the paging root the bootloader left
// in CR3 as the kernel address space.
func Init(hhdm uint64) {
	hhdmOffset = hhdm
	kernelRoot = cpu.ReadCR3() & addrMask
}

// Root table frame of the kernel address space.
func KernelRoot() uint64 {
	return kernelRoot
}

// Read the indexed entry, allocating and linking a zeroed table when
// absent. Intermediate levels carry writable|user so the leaf is the
// effective permission.
func getOrCreateTable(table, index uint64) (uint64, error) {
	entry := readEntry(table, index)
	if entry&FlagPresent == 0 {
		frame, err := pmm.AllocPage()
		if err != nil {
			return 0, err
		}
		cpu.Mach().ZeroPage(frame)
		writeEntry(table, index, frame|FlagWritable|FlagUser|FlagPresent)
		return frame, nil
	}
	return entry & addrMask, nil
}

// Read the indexed entry without mutation, zero when absent.
func getTable(table, index uint64) uint64 {
	entry := readEntry(table, index)
	if entry&FlagPresent == 0 {
		return 0
	}
	return entry & addrMask
}

// Map one page. A zero root means the kernel address space.
func MapPage(root, virt, phys, flags uint64) error {
	irqflags := lock.AcquireSave()
	defer lock.ReleaseRestore(irqflags)

	if root == 0 {
		root = kernelRoot
	}

	pdpt, err := getOrCreateTable(root, pml4Index(virt))
	if err != nil {
		return err
	}
	pd, err := getOrCreateTable(pdpt, pdptIndex(virt))
	if err != nil {
		return err
	}
	pt, err := getOrCreateTable(pd, pdIndex(virt))
	if err != nil {
		return err
	}

	writeEntry(pt, ptIndex(virt), phys&addrMask|flags|FlagPresent)
	cpu.Invlpg(virt)
	return nil
}

// Unmap one page. Empty intermediate tables are not reclaimed.
func UnmapPage(root, virt uint64) {
	irqflags := lock.AcquireSave()
	defer lock.ReleaseRestore(irqflags)

	if root == 0 {
		root = kernelRoot
	}

	pdpt := getTable(root, pml4Index(virt))
	if pdpt == 0 {
		return
	}
	pd := getTable(pdpt, pdptIndex(virt))
	if pd == 0 {
		return
	}
	pt := getTable(pd, pdIndex(virt))
	if pt == 0 {
		return
	}
	writeEntry(pt, ptIndex(virt), 0)
	cpu.Invlpg(virt)
}

// Translate without mutation. Returns zero when any entry along the
// path is absent.
func VirtToPhys(root, virt uint64) uint64 {
	if root == 0 {
		root = kernelRoot
	}
	pdpt := getTable(root, pml4Index(virt))
	if pdpt == 0 {
		return 0
	}
	pd := getTable(pdpt, pdptIndex(virt))
	if pd == 0 {
		return 0
	}
	pt := getTable(pd, pdIndex(virt))
	if pt == 0 {
		return 0
	}
	entry := readEntry(pt, ptIndex(virt))
	if entry&FlagPresent == 0 {
		return 0
	}
	return entry&addrMask | virt&0xfff
}

// Create an address space: fresh zeroed root with the kernel upper
// half (256..511) copied by value, lower half empty.
func CreateAddressSpace() (uint64, error) {
	root, err := pmm.AllocPage()
	if err != nil {
		return 0, err
	}
	cpu.Mach().ZeroPage(root)
	for i := uint64(256); i < 512; i++ {
		writeEntry(root, i, readEntry(kernelRoot, i))
	}
	return root, nil
}

// Destroy an address space: walk only the lower half, freeing every
// present intermediate table and finally the root. The shared kernel
// half is never touched.
func DestroyAddressSpace(root uint64) error {
	if root == 0 || root == kernelRoot {
		return errors.New("vmm: refusing to destroy kernel space")
	}
	for i := uint64(0); i < 256; i++ {
		pdpt := getTable(root, i)
		if pdpt == 0 {
			continue
		}
		for j := uint64(0); j < 512; j++ {
			pd := getTable(pdpt, j)
			if pd == 0 {
				continue
			}
			for k := uint64(0); k < 512; k++ {
				entry := readEntry(pd, k)
				if entry&FlagPresent != 0 && entry&FlagHuge == 0 {
					pmm.FreePage(entry & addrMask)
				}
			}
			pmm.FreePage(pd)
		}
		pmm.FreePage(pdpt)
	}
	pmm.FreePage(root)
	return nil
}

// Load a root into CR3.
func SwitchAddressSpace(root uint64) {
	cpu.WriteCR3(root)
}
