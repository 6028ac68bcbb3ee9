/*
 * Astra64 - ATA driver test cases.
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
	"bytes"
	"errors"
	"testing"

	"github.com/rcornwell/astra64/emu/ide"
	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
)

func bootATA(t *testing.T, sectors int) []byte {
	t.Helper()
	mach := machine.New(8 * 1024 * 1024)
	cpu.Setup(mach)
	primary, _ := ide.NewLegacy(mach)

	image := make([]byte, sectors*SectorSize)
	for i := range image {
		image[i] = byte((i/SectorSize + i) & 0xff)
	}
	primary.AttachImage(0, image, "ASTRA TEST DISK")

	if found := Init(); found != 1 {
		t.Fatalf("probe should find one drive, found %d", found)
	}
	return image
}

func TestIdentify(t *testing.T) {
	bootATA(t, 128)

	if !DrivePresent(0) {
		t.Fatal("drive 0 should be present")
	}
	for _, num := range []int{1, 2, 3} {
		if DrivePresent(num) {
			t.Errorf("drive %d should be absent", num)
		}
	}

	drive := GetDrive(0)
	if drive.Sectors != 128 {
		t.Errorf("sector count wrong: %d", drive.Sectors)
	}
	if drive.Model != "ASTRA TEST DISK" {
		t.Errorf("model string wrong: %q", drive.Model)
	}
	if drive.Serial == "" {
		t.Error("serial string empty")
	}
}

func TestReadMatchesImage(t *testing.T) {
	image := bootATA(t, 128)

	buf := make([]byte, 3*SectorSize)
	if err := Read(0, 10, 3, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, image[10*SectorSize:13*SectorSize]) {
		t.Error("read data does not match the image")
	}
}

func TestReadErrors(t *testing.T) {
	bootATA(t, 128)

	buf := make([]byte, SectorSize)
	if err := Read(1, 0, 1, buf); !errors.Is(err, ErrNoDrive) {
		t.Errorf("absent drive: %v", err)
	}
	if err := Read(0, 127, 2, buf); !errors.Is(err, ErrBadLBA) {
		t.Errorf("read past end: %v", err)
	}
	if err := Read(0, 0, 0, buf); err != nil {
		t.Errorf("zero count read should succeed: %v", err)
	}
	if err := Read(9, 0, 1, buf); !errors.Is(err, ErrNoDrive) {
		t.Errorf("bad drive number: %v", err)
	}
}
