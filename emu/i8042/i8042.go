/*
 * Astra64 - Emulated 8042 keyboard controller.
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

package i8042

import (
	"sync"

	"github.com/rcornwell/astra64/emu/i8259"
	"github.com/rcornwell/astra64/emu/machine"
)

const (
	DataPort   uint16 = 0x60
	StatusPort uint16 = 0x64

	statusOutputFull = 0x01
)

// Controller queues scancodes and raises IRQ 1 as they arrive.
type Controller struct {
	mu    sync.Mutex
	pic   *i8259.Pair
	queue []uint8
}

// Create the controller and claim its ports.
func New(mach *machine.Machine, pic *i8259.Pair) *Controller {
	ctl := &Controller{pic: pic}
	mach.RegisterPorts(ctl, DataPort, StatusPort)
	return ctl
}

func (ctl *Controller) In(port uint16) uint8 {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	switch port {
	case StatusPort:
		if len(ctl.queue) != 0 {
			return statusOutputFull
		}
		return 0
	case DataPort:
		if len(ctl.queue) == 0 {
			return 0
		}
		code := ctl.queue[0]
		ctl.queue = ctl.queue[1:]
		if len(ctl.queue) != 0 {
			// Output buffer still full, keep the line asserted.
			defer ctl.pic.RaiseIRQ(1)
		}
		return code
	}
	return 0xff
}

func (ctl *Controller) Out(port uint16, data uint8) {
	// Controller and device commands are accepted and ignored.
}

// Queue scancodes, raising IRQ 1 per code.
func (ctl *Controller) Inject(codes ...uint8) {
	for _, code := range codes {
		ctl.mu.Lock()
		ctl.queue = append(ctl.queue, code)
		ctl.mu.Unlock()
		ctl.pic.RaiseIRQ(1)
	}
}

// Set 1 make codes for printable ASCII, used by the remote console to
// type. Zero means no simple mapping.
var asciiMake = map[byte]uint8{
	'1': 0x02, '2': 0x03, '3': 0x04, '4': 0x05, '5': 0x06,
	'6': 0x07, '7': 0x08, '8': 0x09, '9': 0x0a, '0': 0x0b,
	'-': 0x0c, '=': 0x0d, '\b': 0x0e, '\t': 0x0f,
	'q': 0x10, 'w': 0x11, 'e': 0x12, 'r': 0x13, 't': 0x14,
	'y': 0x15, 'u': 0x16, 'i': 0x17, 'o': 0x18, 'p': 0x19,
	'[': 0x1a, ']': 0x1b, '\n': 0x1c,
	'a': 0x1e, 's': 0x1f, 'd': 0x20, 'f': 0x21, 'g': 0x22,
	'h': 0x23, 'j': 0x24, 'k': 0x25, 'l': 0x26, ';': 0x27,
	'\'': 0x28, '`': 0x29, '\\': 0x2b,
	'z': 0x2c, 'x': 0x2d, 'c': 0x2e, 'v': 0x2f, 'b': 0x30,
	'n': 0x31, 'm': 0x32, ',': 0x33, '.': 0x34, '/': 0x35,
	' ': 0x39,
}

// Shifted keys mapped back to their unshifted position.
var asciiShifted = map[byte]byte{
	'!': '1', '@': '2', '#': '3', '$': '4', '%': '5', '^': '6',
	'&': '7', '*': '8', '(': '9', ')': '0', '_': '-', '+': '=',
	'{': '[', '}': ']', ':': ';', '"': '\'', '~': '`', '|': '\\',
	'<': ',', '>': '.', '?': '/',
}

const (
	scanLeftShift = 0x2a
	breakBit      = 0x80
)

// Type one ASCII byte as make/break scancode traffic.
func (ctl *Controller) TypeByte(ch byte) {
	if ch == '\r' {
		ch = '\n'
	}
	shift := false
	if ch >= 'A' && ch <= 'Z' {
		shift = true
		ch += 'a' - 'A'
	} else if base, ok := asciiShifted[ch]; ok {
		shift = true
		ch = base
	}
	code, ok := asciiMake[ch]
	if !ok {
		return
	}
	if shift {
		ctl.Inject(scanLeftShift, code, code|breakBit, scanLeftShift|breakBit)
		return
	}
	ctl.Inject(code, code|breakBit)
}
