/*
 * Astra64 - Emulated x86_64 machine: physical memory, port bus, CPU state.
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
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// Size of a physical page frame.
	PageSize = 4096

	// Higher half direct map base. virt = phys + HHDM.
	HHDM uint64 = 0xffff_8000_0000_0000
)

// Page table entry flag bits.
const (
	PTEPresent      uint64 = 1 << 0
	PTEWritable     uint64 = 1 << 1
	PTEUser         uint64 = 1 << 2
	PTEWriteThrough uint64 = 1 << 3
	PTENoCache      uint64 = 1 << 4
	PTEAccessed     uint64 = 1 << 5
	PTEDirty        uint64 = 1 << 6
	PTEHuge         uint64 = 1 << 7
	PTEGlobal       uint64 = 1 << 8
	PTENoExecute    uint64 = 1 << 63

	// Physical address field, bits 51:12.
	PTEAddrMask uint64 = 0x000f_ffff_ffff_f000
)

// Page fault error code bits.
const (
	FaultPresent uint64 = 1 << 0
	FaultWrite   uint64 = 1 << 1
	FaultUser    uint64 = 1 << 2
)

// Port mapped device, one handler per registered port.
type Device interface {
	In(port uint16) uint8
	Out(port uint16, data uint8)
}

// Devices with a 16-bit data register implement WordDevice in
// addition to Device. Others are composed from two byte transfers.
type WordDevice interface {
	In16(port uint16) uint16
	Out16(port uint16, data uint16)
}

// Interrupt controller attached to the CPU INTR pin.
type IntController interface {
	Pending() bool              // Any unmasked request outstanding.
	Acknowledge() (uint8, bool) // Accept highest priority request, return vector.
}

// Architectural state pushed on vector entry.
type Frame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RDI, RSI, RBP, RDX, RCX, RBX, RAX    uint64
	Vector                               uint64
	ErrCode                              uint64
	RIP, CS, RFLAGS, RSP, SS             uint64
}

// Vector handler installed by the descriptor table layer.
type Handler func(*Frame)

type Machine struct {
	mem []byte

	portMu sync.RWMutex
	ports  map[uint16]Device

	vecMu   sync.RWMutex
	vectors [256]Handler

	intf atomic.Bool   // Interrupt enable flag.
	cr2  atomic.Uint64 // Last faulting address.
	cr3  atomic.Uint64 // Current paging root.

	flushes  atomic.Uint64 // TLB invalidations, single entry and full.
	switches atomic.Uint64 // CR3 reloads.

	pic  IntController
	intr chan struct{} // INTR pin assertions.

	haltMu     sync.Mutex
	halted     bool
	haltReason string
	done       chan struct{}

	wg sync.WaitGroup
}

// Create a machine with the given amount of physical memory.
func New(memBytes uint64) *Machine {
	if memBytes < 8*1024*1024 {
		memBytes = 8 * 1024 * 1024
	}
	memBytes &^= PageSize - 1
	return &Machine{
		mem:   make([]byte, memBytes),
		ports: map[uint16]Device{},
		intr:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Amount of installed physical memory.
func (m *Machine) MemSize() uint64 {
	return uint64(len(m.mem))
}

// Check a physical address range against installed memory.
func (m *Machine) CheckAddr(addr, size uint64) bool {
	return addr < uint64(len(m.mem)) && size <= uint64(len(m.mem))-addr
}

// Copy physical memory into buf. Out of range reads return false.
func (m *Machine) ReadPhys(addr uint64, buf []byte) bool {
	if !m.CheckAddr(addr, uint64(len(buf))) {
		return false
	}
	copy(buf, m.mem[addr:])
	return true
}

// Copy buf into physical memory. Out of range writes return false.
func (m *Machine) WritePhys(addr uint64, buf []byte) bool {
	if !m.CheckAddr(addr, uint64(len(buf))) {
		return false
	}
	copy(m.mem[addr:], buf)
	return true
}

func (m *Machine) ReadPhys8(addr uint64) uint8 {
	if !m.CheckAddr(addr, 1) {
		return 0
	}
	return m.mem[addr]
}

func (m *Machine) WritePhys8(addr uint64, data uint8) {
	if m.CheckAddr(addr, 1) {
		m.mem[addr] = data
	}
}

func (m *Machine) ReadPhys16(addr uint64) uint16 {
	if !m.CheckAddr(addr, 2) {
		return 0
	}
	return binary.LittleEndian.Uint16(m.mem[addr:])
}

func (m *Machine) ReadPhys32(addr uint64) uint32 {
	if !m.CheckAddr(addr, 4) {
		return 0
	}
	return binary.LittleEndian.Uint32(m.mem[addr:])
}

func (m *Machine) ReadPhys64(addr uint64) uint64 {
	if !m.CheckAddr(addr, 8) {
		return 0
	}
	return binary.LittleEndian.Uint64(m.mem[addr:])
}

func (m *Machine) WritePhys32(addr uint64, data uint32) {
	if m.CheckAddr(addr, 4) {
		binary.LittleEndian.PutUint32(m.mem[addr:], data)
	}
}

func (m *Machine) WritePhys64(addr uint64, data uint64) {
	if m.CheckAddr(addr, 8) {
		binary.LittleEndian.PutUint64(m.mem[addr:], data)
	}
}

// Zero one physical page frame.
func (m *Machine) ZeroPage(addr uint64) {
	if m.CheckAddr(addr, PageSize) {
		clear(m.mem[addr : addr+PageSize])
	}
}

// Register a device on a set of ports.
func (m *Machine) RegisterPorts(dev Device, ports ...uint16) {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	for _, p := range ports {
		m.ports[p] = dev
	}
}

func (m *Machine) device(port uint16) Device {
	m.portMu.RLock()
	defer m.portMu.RUnlock()
	return m.ports[port]
}

// Byte port input. Unclaimed ports float high.
func (m *Machine) In8(port uint16) uint8 {
	if dev := m.device(port); dev != nil {
		return dev.In(port)
	}
	return 0xff
}

// Byte port output. Writes to unclaimed ports are discarded.
func (m *Machine) Out8(port uint16, data uint8) {
	if dev := m.device(port); dev != nil {
		dev.Out(port, data)
	}
}

// Word port input, used by the ATA data register.
func (m *Machine) In16(port uint16) uint16 {
	dev := m.device(port)
	if dev == nil {
		return 0xffff
	}
	if wdev, ok := dev.(WordDevice); ok {
		return wdev.In16(port)
	}
	return uint16(dev.In(port)) | uint16(dev.In(port))<<8
}

// Word port output.
func (m *Machine) Out16(port uint16, data uint16) {
	dev := m.device(port)
	if dev == nil {
		return
	}
	if wdev, ok := dev.(WordDevice); ok {
		wdev.Out16(port, data)
		return
	}
	dev.Out(port, uint8(data))
	dev.Out(port, uint8(data>>8))
}

// Interrupt enable flag.
func (m *Machine) InterruptsEnabled() bool {
	return m.intf.Load()
}

func (m *Machine) EnableInterrupts() {
	m.intf.Store(true)
	m.NotifyInterrupt()
}

func (m *Machine) DisableInterrupts() {
	m.intf.Store(false)
}

func (m *Machine) CR2() uint64 {
	return m.cr2.Load()
}

func (m *Machine) CR3() uint64 {
	return m.cr3.Load()
}

// Reload the paging root. Implies a full TLB flush.
func (m *Machine) SetCR3(root uint64) {
	m.cr3.Store(root)
	m.switches.Add(1)
	m.flushes.Add(1)
}

// Invalidate the TLB entry for one virtual address. The emulated MMU
// keeps no TLB; the count is kept for inspection.
func (m *Machine) Invalidate(virt uint64) {
	_ = virt
	m.flushes.Add(1)
}

func (m *Machine) Flushes() uint64 {
	return m.flushes.Load()
}

// Install a vector handler. Done by the descriptor table layer before
// interrupts are enabled.
func (m *Machine) SetVector(vector int, h Handler) {
	if vector < 0 || vector > 255 {
		return
	}
	m.vecMu.Lock()
	m.vectors[vector] = h
	m.vecMu.Unlock()
}

// Deliver a vector to the installed handler with a synthesized frame.
// Runs in the caller: device interrupts arrive on the interrupt wire,
// CPU exceptions in whatever task touched the bad address.
func (m *Machine) Dispatch(vector uint64, errCode uint64) {
	m.vecMu.RLock()
	h := m.vectors[vector]
	m.vecMu.RUnlock()
	if h == nil {
		slog.Warn("machine: vector with no gate", "vector", vector)
		return
	}
	frame := Frame{
		Vector:  vector,
		ErrCode: errCode,
		CS:      0x08,
		SS:      0x10,
		RFLAGS:  0x202,
	}
	h(&frame)
}

// Attach the interrupt controller to the INTR pin.
func (m *Machine) SetIntController(ic IntController) {
	m.pic = ic
}

// Assert the INTR pin. Safe from any goroutine, coalesces.
func (m *Machine) NotifyInterrupt() {
	select {
	case m.intr <- struct{}{}:
	default:
	}
}

// Run the interrupt wire: accept controller requests whenever the
// interrupt flag is set and dispatch them through the gate table.
func (m *Machine) Start() {
	m.wg.Add(1)
	go m.run()
}

func (m *Machine) run() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case <-m.intr:
		}
		for m.intf.Load() && m.pic != nil && m.pic.Pending() {
			vector, ok := m.pic.Acknowledge()
			if !ok {
				break
			}
			m.Dispatch(uint64(vector), 0)
		}
	}
}

// Record a page fault and deliver vector 14.
func (m *Machine) pageFault(virt uint64, errCode uint64) {
	m.cr2.Store(virt)
	m.Dispatch(14, errCode)
}

// Walk the 4-level tree under CR3 for one virtual address. Handles the
// huge bit at the 1G and 2M levels. Returns the physical address and
// the error code of the fault when the walk fails.
func (m *Machine) walk(virt uint64, write bool) (uint64, uint64, bool) {
	var code uint64
	if write {
		code |= FaultWrite
	}
	table := m.cr3.Load() & PTEAddrMask
	shifts := []uint{39, 30, 21, 12}
	for level, shift := range shifts {
		index := (virt >> shift) & 0x1ff
		entry := m.ReadPhys64(table + index*8)
		if entry&PTEPresent == 0 {
			return 0, code, false
		}
		if write && entry&PTEWritable == 0 {
			return 0, code | FaultPresent, false
		}
		if entry&PTEHuge != 0 && (level == 1 || level == 2) {
			mask := uint64(1)<<shift - 1
			return (entry & PTEAddrMask &^ mask) | (virt & mask), 0, true
		}
		if level == 3 {
			return (entry & PTEAddrMask) | (virt & 0xfff), 0, true
		}
		table = entry & PTEAddrMask
	}
	return 0, code, false
}

// Translate a virtual address without raising a fault.
func (m *Machine) Translate(virt uint64, write bool) (uint64, bool) {
	phys, _, ok := m.walk(virt, write)
	return phys, ok
}

// Copy virtual memory into buf through the MMU. A failed translation
// raises a page fault and returns false with the copy abandoned.
func (m *Machine) ReadVirt(virt uint64, buf []byte) bool {
	return m.copyVirt(virt, buf, false)
}

// Copy buf into virtual memory through the MMU.
func (m *Machine) WriteVirt(virt uint64, buf []byte) bool {
	return m.copyVirt(virt, buf, true)
}

func (m *Machine) copyVirt(virt uint64, buf []byte, write bool) bool {
	off := 0
	for off < len(buf) {
		addr := virt + uint64(off)
		phys, code, ok := m.walk(addr, write)
		if !ok {
			m.pageFault(addr, code)
			return false
		}
		chunk := int(PageSize - addr%PageSize)
		if chunk > len(buf)-off {
			chunk = len(buf) - off
		}
		if write {
			if !m.WritePhys(phys, buf[off:off+chunk]) {
				return false
			}
		} else {
			if !m.ReadPhys(phys, buf[off:off+chunk]) {
				return false
			}
		}
		off += chunk
	}
	return true
}

func (m *Machine) ReadVirt8(virt uint64) (uint8, bool) {
	var buf [1]byte
	ok := m.ReadVirt(virt, buf[:])
	return buf[0], ok
}

func (m *Machine) ReadVirt16(virt uint64) (uint16, bool) {
	var buf [2]byte
	ok := m.ReadVirt(virt, buf[:])
	return binary.LittleEndian.Uint16(buf[:]), ok
}

func (m *Machine) ReadVirt32(virt uint64) (uint32, bool) {
	var buf [4]byte
	ok := m.ReadVirt(virt, buf[:])
	return binary.LittleEndian.Uint32(buf[:]), ok
}

func (m *Machine) ReadVirt64(virt uint64) (uint64, bool) {
	var buf [8]byte
	ok := m.ReadVirt(virt, buf[:])
	return binary.LittleEndian.Uint64(buf[:]), ok
}

func (m *Machine) WriteVirt8(virt uint64, data uint8) bool {
	buf := [1]byte{data}
	return m.WriteVirt(virt, buf[:])
}

func (m *Machine) WriteVirt16(virt uint64, data uint16) bool {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], data)
	return m.WriteVirt(virt, buf[:])
}

func (m *Machine) WriteVirt32(virt uint64, data uint32) bool {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], data)
	return m.WriteVirt(virt, buf[:])
}

func (m *Machine) WriteVirt64(virt uint64, data uint64) bool {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], data)
	return m.WriteVirt(virt, buf[:])
}

// Stop the machine for good: interrupts off, wire stopped. First
// reason recorded wins.
func (m *Machine) FatalHalt(reason string) {
	m.DisableInterrupts()
	m.haltMu.Lock()
	defer m.haltMu.Unlock()
	if m.halted {
		return
	}
	m.halted = true
	m.haltReason = reason
	close(m.done)
}

func (m *Machine) Halted() bool {
	m.haltMu.Lock()
	defer m.haltMu.Unlock()
	return m.halted
}

func (m *Machine) HaltReason() string {
	m.haltMu.Lock()
	defer m.haltMu.Unlock()
	return m.haltReason
}

// Closed when the machine halts.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Stop the interrupt wire and wait for it.
func (m *Machine) Shutdown() {
	m.FatalHalt("shutdown")
	m.wg.Wait()
}
