/*
 * Astra64 - Segment descriptor table and task state segment.
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

package gdt

// Selector offsets in bytes.
const (
	SelNull       = 0x00
	SelKernelCode = 0x08
	SelKernelData = 0x10
	SelUserCode   = 0x18
	SelUserData   = 0x20
	SelTSS        = 0x28 // Occupies two slots.
)

// Access byte bits.
const (
	accessPresent    = 1 << 7
	accessRing3      = 3 << 5
	accessSegment    = 1 << 4
	accessExecutable = 1 << 3
	accessReadWrite  = 1 << 1
	accessTSS        = 0x09 // Available 64-bit TSS.
)

// Flags nibble bits.
const (
	flagLong        = 1 << 1
	flagGranularity = 1 << 3
)

// 64-bit task state segment. Ring 0 stack and IST slots; no task
// switching is done through it, the CPU only needs RSP0.
type TSS struct {
	RSP0      uint64
	RSP1      uint64
	RSP2      uint64
	IST       [7]uint64
	IOMapBase uint16
}

var (
	table [7]uint64 // Null through the two TSS slots.
	tss   TSS
)

// Encode a normal 8-byte descriptor. Base and limit are zero in long
// mode, the access and flag bits carry everything.
func descriptor(access uint8, flags uint8) uint64 {
	return uint64(access)<<40 | uint64(flags)<<52
}

// Build and activate the descriptor tables. In long mode the only
// interesting content is the ring and long bits plus the TSS.
func Init(kernelStackTop uint64) {
	table[SelNull/8] = 0
	table[SelKernelCode/8] = descriptor(accessPresent|accessSegment|accessExecutable|accessReadWrite, flagLong|flagGranularity)
	table[SelKernelData/8] = descriptor(accessPresent|accessSegment|accessReadWrite, flagGranularity)
	table[SelUserCode/8] = descriptor(accessPresent|accessRing3|accessSegment|accessExecutable|accessReadWrite, flagLong|flagGranularity)
	table[SelUserData/8] = descriptor(accessPresent|accessRing3|accessSegment|accessReadWrite, flagGranularity)

	tss = TSS{RSP0: kernelStackTop, IOMapBase: uint16(104)}

	// System descriptor: type in the access byte, 16 bytes wide.
	base := uint64(0) // The TSS lives outside emulated memory.
	limit := uint64(103)
	low := limit&0xffff |
		(base&0xffffff)<<16 |
		uint64(accessPresent|accessTSS)<<40 |
		(limit>>16&0xf)<<48 |
		(base>>24&0xff)<<56
	table[SelTSS/8] = low
	table[SelTSS/8+1] = base >> 32
}

// Installed descriptor slots, null through TSS high.
func Table() [7]uint64 {
	return table
}

// The resident task state segment.
func TaskState() *TSS {
	return &tss
}

// Update the ring 0 stack used on privilege transitions.
func SetKernelStack(top uint64) {
	tss.RSP0 = top
}
