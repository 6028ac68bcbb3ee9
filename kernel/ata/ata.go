/*
 * Astra64 - ATA disk driver, polled PIO, reads only.
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

package ata

import (
	"errors"
	"strings"

	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/util/debug"
)

// Debug options.
const (
	debugCmd    = 1 << iota // Log reads.
	debugDetail             // Probe details.
)

func init() {
	debug.RegisterOptions("ATA", map[string]int{
		"CMD":    debugCmd,
		"DETAIL": debugDetail,
	})
}

const (
	SectorSize = 512

	primaryBase      uint16 = 0x1f0
	primaryControl   uint16 = 0x3f6
	secondaryBase    uint16 = 0x170
	secondaryControl uint16 = 0x376

	regSecCount uint16 = 2
	regLBALow   uint16 = 3
	regLBAMid   uint16 = 4
	regLBAHigh  uint16 = 5
	regDrive    uint16 = 6
	regStatus   uint16 = 7
	regCommand  uint16 = 7

	statusErr uint8 = 1 << 0
	statusDRQ uint8 = 1 << 3
	statusRDY uint8 = 1 << 6
	statusBSY uint8 = 1 << 7

	cmdReadPIO  uint8 = 0x20
	cmdIdentify uint8 = 0xec

	driveMaster uint8 = 0xa0
	driveSlave  uint8 = 0xb0

	// Hard status poll budget.
	pollTimeout = 100000
)

var (
	ErrNoDrive  = errors.New("ata: no drive present")
	ErrBadLBA   = errors.New("ata: LBA past end of device")
	ErrTimeout  = errors.New("ata: timeout waiting for drive")
	ErrReadOnly = errors.New("ata: write not supported")
)

// One of four candidate drives across the two legacy channels.
type Drive struct {
	Present     bool
	IsMaster    bool
	BasePort    uint16
	ControlPort uint16
	Sectors     uint64
	Model       string
	Serial      string
}

var drives [4]Drive

// Wait until the drive is ready for a command.
func waitReady(base uint16) bool {
	for i := 0; i < pollTimeout; i++ {
		status := cpu.Inb(base + regStatus)
		if status&statusErr != 0 {
			return false
		}
		if status&statusBSY == 0 && status&statusRDY != 0 {
			return true
		}
	}
	return false
}

// Wait until the drive has data for us.
func waitDRQ(base uint16) bool {
	for i := 0; i < pollTimeout; i++ {
		status := cpu.Inb(base + regStatus)
		if status&statusErr != 0 {
			return false
		}
		if status&statusDRQ != 0 {
			return true
		}
	}
	return false
}

func selectDrive(base uint16, slave bool) {
	sel := driveMaster
	if slave {
		sel = driveSlave
	}
	cpu.Outb(base+regDrive, sel)
	// 400ns settle, four status reads.
	for i := 0; i < 4; i++ {
		cpu.Inb(base + regStatus)
	}
}

// Pull a byte-swapped identify string, words are big endian on the
// wire.
func identifyString(data []uint16, word, words int) string {
	buf := make([]byte, words*2)
	for i := 0; i < words; i++ {
		buf[i*2] = byte(data[word+i] >> 8)
		buf[i*2+1] = byte(data[word+i])
	}
	return strings.TrimRight(string(buf), " \x00")
}

// Issue IDENTIFY and record what the drive reports.
func identify(num int) bool {
	drive := &drives[num]

	base := primaryBase
	control := primaryControl
	if num >= 2 {
		base = secondaryBase
		control = secondaryControl
	}
	slave := num%2 == 1

	drive.BasePort = base
	drive.ControlPort = control
	drive.IsMaster = !slave
	drive.Present = false

	selectDrive(base, slave)

	cpu.Outb(base+regSecCount, 0)
	cpu.Outb(base+regLBALow, 0)
	cpu.Outb(base+regLBAMid, 0)
	cpu.Outb(base+regLBAHigh, 0)
	cpu.Outb(base+regCommand, cmdIdentify)

	if cpu.Inb(base+regStatus) == 0 {
		return false
	}

	timeout := pollTimeout
	for timeout > 0 {
		status := cpu.Inb(base + regStatus)
		if status&statusErr != 0 {
			// ATAPI or broken, not ours.
			return false
		}
		if status&statusBSY == 0 {
			break
		}
		timeout--
	}
	if timeout <= 0 {
		return false
	}

	// ATAPI announces itself in the LBA registers.
	if cpu.Inb(base+regLBAMid) != 0 || cpu.Inb(base+regLBAHigh) != 0 {
		return false
	}

	if !waitDRQ(base) {
		return false
	}

	var data [256]uint16
	for i := range data {
		data[i] = cpu.Inw(base)
	}

	drive.Present = true
	drive.Sectors = uint64(data[60]) | uint64(data[61])<<16

	// LBA-48 sizing is recognized; the read path stays LBA-28.
	if data[83]&(1<<10) != 0 {
		drive.Sectors = uint64(data[100]) |
			uint64(data[101])<<16 |
			uint64(data[102])<<32 |
			uint64(data[103])<<48
	}

	drive.Model = identifyString(data[:], 27, 20)
	drive.Serial = identifyString(data[:], 10, 10)
	debug.Debugf("ATA", debugDetail, "drive %d: %s, %d sectors", num, drive.Model, drive.Sectors)
	return true
}

// Probe all four candidate drives.
func Init() int {
	found := 0
	for i := range drives {
		if identify(i) {
			found++
		}
	}
	return found
}

func DrivePresent(num int) bool {
	if num < 0 || num > 3 {
		return false
	}
	return drives[num].Present
}

func GetDrive(num int) *Drive {
	if num < 0 || num > 3 {
		return nil
	}
	return &drives[num]
}

// Read one sector over LBA-28 PIO.
func readSector(drive *Drive, lba uint32, buf []byte) error {
	base := drive.BasePort

	sel := uint8(0xe0)
	if !drive.IsMaster {
		sel = 0xf0
	}
	cpu.Outb(base+regDrive, sel|uint8(lba>>24)&0x0f)

	if !waitReady(base) {
		return ErrTimeout
	}

	cpu.Outb(base+regSecCount, 1)
	cpu.Outb(base+regLBALow, uint8(lba))
	cpu.Outb(base+regLBAMid, uint8(lba>>8))
	cpu.Outb(base+regLBAHigh, uint8(lba>>16))
	cpu.Outb(base+regCommand, cmdReadPIO)

	if !waitDRQ(base) {
		return ErrTimeout
	}

	for i := 0; i < SectorSize/2; i++ {
		word := cpu.Inw(base)
		buf[i*2] = uint8(word)
		buf[i*2+1] = uint8(word >> 8)
	}
	return nil
}

// Read count sectors starting at lba into buf. The buffer must hold
// count*512 bytes.
func Read(num int, lba uint64, count uint32, buf []byte) error {
	if num < 0 || num > 3 || !drives[num].Present {
		return ErrNoDrive
	}
	drive := &drives[num]
	if lba+uint64(count) > drive.Sectors {
		return ErrBadLBA
	}
	if count == 0 {
		return nil
	}
	if lba+uint64(count) >= 1<<28 {
		// LBA-48 read path is not implemented.
		return ErrBadLBA
	}
	debug.Debugf("ATA", debugCmd, "read drive %d lba %d count %d", num, lba, count)
	for i := uint32(0); i < count; i++ {
		err := readSector(drive, uint32(lba)+i, buf[i*SectorSize:(i+1)*SectorSize])
		if err != nil {
			return err
		}
	}
	return nil
}
