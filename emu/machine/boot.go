/*
 * Astra64 - Bootloader handoff: memory map, HHDM page tables, boot record.
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

// Memory map entry kinds, in handoff order.
const (
	MemUsable = iota
	MemReserved
	MemACPIReclaimable
	MemACPINVS
	MemBad
	MemBootloaderReclaimable
	MemKernelAndModules
	MemFramebuffer
)

type MemMapEntry struct {
	Base   uint64
	Length uint64
	Kind   int
}

// Linear framebuffer descriptor. Present in the handoff for the
// console collaborator; the core never draws.
type Framebuffer struct {
	Address        uint64
	Width          uint32
	Height         uint32
	Pitch          uint32
	BPP            uint16
	RedMaskSize    uint8
	RedMaskShift   uint8
	GreenMaskSize  uint8
	GreenMaskShift uint8
	BlueMaskSize   uint8
	BlueMaskShift  uint8
}

// Bootloader handoff record. All physical pointers are consumed
// through the HHDM.
type BootInfo struct {
	HHDM           uint64
	MemMap         []MemMapEntry
	Framebuffer    Framebuffer
	KernelPhysBase uint64
	KernelVirtBase uint64
	RSDP           uint64
	Bootloader     string
	Version        string
}

const (
	kernelPhysBase = 0x100000
	kernelVirtBase = 0xffff_ffff_8000_0000
	kernelSpan     = 0x200000

	framebufferBase = 0xfd00_0000
	rsdpAddr        = 0xe0000

	// Frames reserved at the top of memory for the boot page tables.
	bootTableFrames = 16
)

// Boot assembles the handoff record the way a Limine style loader
// leaves the machine: long mode with the HHDM installed. The HHDM is
// built from 2 MiB pages in frames taken from a region marked
// bootloader reclaimable, then CR3 is loaded.
func (m *Machine) Boot() *BootInfo {
	ramTop := uint64(len(m.mem))
	tableBase := ramTop - bootTableFrames*PageSize

	info := &BootInfo{
		HHDM: HHDM,
		MemMap: []MemMapEntry{
			{Base: 0, Length: 0x9f000, Kind: MemUsable},
			{Base: 0x9f000, Length: 0x1000, Kind: MemACPINVS},
			{Base: 0xa0000, Length: 0x40000, Kind: MemReserved},
			{Base: 0xe0000, Length: 0x10000, Kind: MemACPIReclaimable},
			{Base: 0xf0000, Length: 0x10000, Kind: MemReserved},
			{Base: kernelPhysBase, Length: kernelSpan, Kind: MemKernelAndModules},
			{Base: kernelPhysBase + kernelSpan, Length: tableBase - kernelPhysBase - kernelSpan, Kind: MemUsable},
			{Base: tableBase, Length: bootTableFrames * PageSize, Kind: MemBootloaderReclaimable},
			{Base: framebufferBase, Length: 640 * 480 * 4, Kind: MemFramebuffer},
		},
		Framebuffer: Framebuffer{
			Address:        framebufferBase,
			Width:          640,
			Height:         480,
			Pitch:          640 * 4,
			BPP:            32,
			RedMaskSize:    8,
			RedMaskShift:   16,
			GreenMaskSize:  8,
			GreenMaskShift: 8,
			BlueMaskSize:   8,
			BlueMaskShift:  0,
		},
		KernelPhysBase: kernelPhysBase,
		KernelVirtBase: kernelVirtBase,
		RSDP:           rsdpAddr,
		Bootloader:     "astraboot",
		Version:        "1.1",
	}

	m.buildHHDM(tableBase, ramTop)
	return info
}

// Build the boot paging tree: PML4 entry 256 covers the HHDM, mapping
// all of physical memory with 2 MiB pages.
func (m *Machine) buildHHDM(tableBase, ramTop uint64) {
	next := tableBase
	alloc := func() uint64 {
		frame := next
		next += PageSize
		m.ZeroPage(frame)
		return frame
	}

	pml4 := alloc()
	pdpt := alloc()
	m.WritePhys64(pml4+256*8, pdpt|PTEPresent|PTEWritable)

	var pd uint64
	pdIndex := uint64(512) // Force allocation on first use.
	for phys := uint64(0); phys < ramTop; phys += 0x200000 {
		slot := (phys >> 21) & 0x1ff
		if slot == 0 || pdIndex == 512 {
			pd = alloc()
			m.WritePhys64(pdpt+((phys>>30)&0x1ff)*8, pd|PTEPresent|PTEWritable)
			pdIndex = 0
		}
		m.WritePhys64(pd+slot*8, phys|PTEPresent|PTEWritable|PTEHuge)
		pdIndex++
	}

	m.SetCR3(pml4)
}
