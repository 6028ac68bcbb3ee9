/*
 * Astra64 - Emulated IDE channel pair, PIO reads only.
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

package ide

import (
	"fmt"
	"os"
	"sync"

	config "github.com/rcornwell/astra64/config/configparser"
	"github.com/rcornwell/astra64/emu/machine"
)

const (
	PrimaryBase      uint16 = 0x1f0
	PrimaryControl   uint16 = 0x3f6
	SecondaryBase    uint16 = 0x170
	SecondaryControl uint16 = 0x376

	SectorSize = 512
)

const (
	statusErr = 1 << 0
	statusDRQ = 1 << 3
	statusRDY = 1 << 6
	statusBSY = 1 << 7

	cmdReadSectors = 0x20
	cmdIdentify    = 0xec
)

// One attached drive, backed by a sector image.
type drive struct {
	image   []byte
	file    *os.File
	sectors uint64
	model   string
	serial  string
}

func (d *drive) readSector(lba uint64, buf []byte) bool {
	if lba >= d.sectors {
		return false
	}
	if d.file != nil {
		_, err := d.file.ReadAt(buf, int64(lba)*SectorSize)
		return err == nil
	}
	copy(buf, d.image[lba*SectorSize:])
	return true
}

// One legacy channel: two drives, shared register file.
type Channel struct {
	mu      sync.Mutex
	base    uint16
	control uint16
	drives  [2]*drive

	selected uint8 // Raw drive/head register.
	secCount uint8
	lba0     uint8
	lba1     uint8
	lba2     uint8
	status   uint8
	errReg   uint8

	// PIO transfer in progress.
	data      [SectorSize]byte
	dataPos   int
	dataLen   int
	remaining uint32
	nextLBA   uint64
}

// Create one channel and claim its ports.
func NewChannel(mach *machine.Machine, base, control uint16) *Channel {
	ch := &Channel{base: base, control: control}
	ports := []uint16{control}
	for off := uint16(0); off < 8; off++ {
		ports = append(ports, base+off)
	}
	mach.RegisterPorts(ch, ports...)
	return ch
}

// Create the legacy pair of channels.
func NewLegacy(mach *machine.Machine) (*Channel, *Channel) {
	return NewChannel(mach, PrimaryBase, PrimaryControl),
		NewChannel(mach, SecondaryBase, SecondaryControl)
}

// Attach an in-memory image to the master (slot 0) or slave (slot 1).
// The image is truncated to whole sectors.
func (ch *Channel) AttachImage(slot int, image []byte, model string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	sectors := uint64(len(image)) / SectorSize
	ch.drives[slot&1] = &drive{
		image:   image[:sectors*SectorSize],
		sectors: sectors,
		model:   model,
		serial:  fmt.Sprintf("AST%05d", slot),
	}
}

// Attach a drive backed by an image file.
func (ch *Channel) AttachFile(slot int, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ide: unable to open image %s: %w", path, err)
	}
	st, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.drives[slot&1] = &drive{
		file:    file,
		sectors: uint64(st.Size()) / SectorSize,
		model:   "ASTRA VIRTUAL DISK",
		serial:  fmt.Sprintf("AST%05d", slot),
	}
	return nil
}

func (ch *Channel) current() *drive {
	slot := 0
	if ch.selected&0x10 != 0 {
		slot = 1
	}
	return ch.drives[slot]
}

func (ch *Channel) In(port uint16) uint8 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if port == ch.control {
		return ch.statusLocked()
	}
	switch port - ch.base {
	case 1:
		return ch.errReg
	case 2:
		return ch.secCount
	case 3:
		return ch.lba0
	case 4:
		return ch.lba1
	case 5:
		return ch.lba2
	case 6:
		return ch.selected
	case 7:
		return ch.statusLocked()
	}
	return 0
}

func (ch *Channel) statusLocked() uint8 {
	if ch.current() == nil {
		// Floating bus, no drive responds.
		return 0
	}
	return ch.status
}

func (ch *Channel) Out(port uint16, data uint8) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if port == ch.control {
		// Device control: reset and nIEN are accepted silently.
		return
	}
	switch port - ch.base {
	case 1:
		// Features, unused.
	case 2:
		ch.secCount = data
	case 3:
		ch.lba0 = data
	case 4:
		ch.lba1 = data
	case 5:
		ch.lba2 = data
	case 6:
		ch.selected = data
	case 7:
		ch.command(data)
	}
}

func (ch *Channel) command(cmd uint8) {
	dev := ch.current()
	if dev == nil {
		return
	}
	switch cmd {
	case cmdIdentify:
		ch.identify(dev)
	case cmdReadSectors:
		count := uint32(ch.secCount)
		if count == 0 {
			count = 256
		}
		lba := uint64(ch.selected&0x0f)<<24 |
			uint64(ch.lba2)<<16 | uint64(ch.lba1)<<8 | uint64(ch.lba0)
		ch.remaining = count
		ch.nextLBA = lba
		ch.loadSector(dev)
	default:
		ch.status = statusRDY | statusErr
		ch.errReg = 0x04 // Command aborted.
	}
}

func (ch *Channel) loadSector(dev *drive) {
	if !dev.readSector(ch.nextLBA, ch.data[:]) {
		ch.status = statusRDY | statusErr
		ch.errReg = 0x10 // Sector not found.
		ch.remaining = 0
		return
	}
	ch.nextLBA++
	ch.remaining--
	ch.dataPos = 0
	ch.dataLen = SectorSize
	ch.status = statusRDY | statusDRQ
	ch.errReg = 0
}

// Fill the data buffer with the IDENTIFY block. Strings are stored in
// the on-wire big-endian word order the kernel must swap back.
func (ch *Channel) identify(dev *drive) {
	clear(ch.data[:])
	putString := func(word, length int, s string) {
		for i := 0; i < length*2; i++ {
			c := byte(' ')
			if i < len(s) {
				c = s[i]
			}
			// Even bytes land in the high half of the word.
			ch.data[word*2+(i^1)] = c
		}
	}
	putWord := func(word int, value uint16) {
		ch.data[word*2] = uint8(value)
		ch.data[word*2+1] = uint8(value >> 8)
	}

	putWord(0, 0x0040) // Fixed device.
	putString(10, 10, dev.serial)
	putString(27, 20, dev.model)

	lba28 := dev.sectors
	if lba28 > 0x0fffffff {
		lba28 = 0x0fffffff
	}
	putWord(60, uint16(lba28))
	putWord(61, uint16(lba28>>16))

	// LBA-48 feature set and full sector count.
	putWord(83, 1<<10)
	putWord(100, uint16(dev.sectors))
	putWord(101, uint16(dev.sectors>>16))
	putWord(102, uint16(dev.sectors>>32))
	putWord(103, uint16(dev.sectors>>48))

	ch.dataPos = 0
	ch.dataLen = SectorSize
	ch.remaining = 0
	ch.status = statusRDY | statusDRQ
}

// 16-bit data register.
func (ch *Channel) In16(port uint16) uint16 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if port != ch.base || ch.status&statusDRQ == 0 {
		return 0xffff
	}
	value := uint16(ch.data[ch.dataPos]) | uint16(ch.data[ch.dataPos+1])<<8
	ch.dataPos += 2
	if ch.dataPos >= ch.dataLen {
		if ch.remaining > 0 {
			if dev := ch.current(); dev != nil {
				ch.loadSector(dev)
				return value
			}
		}
		ch.status = statusRDY
	}
	return value
}

func (ch *Channel) Out16(port uint16, data uint16) {
	// Read-only device: data register writes are discarded.
}

// Pending disk attachments from the configuration file, consumed by
// machine bring-up.
type Attachment struct {
	Unit int
	Path string
}

var pending []Attachment

func PendingAttachments() []Attachment {
	return pending
}

func init() {
	config.RegisterModel("DISK", create)
}

// Record a DISK line: DISK <unit 0..3> FILE=<path>.
func create(unit int, _ string, options []config.Option) error {
	if unit < 0 || unit > 3 {
		return fmt.Errorf("ide: disk unit %d out of range", unit)
	}
	for _, opt := range options {
		if opt.Name == "FILE" && opt.EqualOpt != "" {
			pending = append(pending, Attachment{Unit: unit, Path: opt.EqualOpt})
			return nil
		}
	}
	return fmt.Errorf("ide: disk %d has no FILE option", unit)
}
