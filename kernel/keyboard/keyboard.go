/*
 * Astra64 - PS/2 keyboard driver. The IRQ body reads one byte and
 * queues it; decoding lives entirely in the consumer path.
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

package keyboard

import (
	"sync/atomic"

	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/irq"
)

const (
	dataPort   uint16 = 0x60
	statusPort uint16 = 0x64

	bufferSize = 256
)

// Modifier scancodes.
const (
	scanLeftShift  uint8 = 0x2a
	scanRightShift uint8 = 0x36
	scanLeftCtrl   uint8 = 0x1d
	scanLeftAlt    uint8 = 0x38
	scanCapsLock   uint8 = 0x3a

	breakBit uint8 = 0x80
)

// Single producer, single consumer scancode ring. The producer index
// advances only when the next slot is not the consumer index; a full
// ring drops the byte.
var (
	buffer [bufferSize]uint8
	head   atomic.Uint32
	tail   atomic.Uint32
)

// Consumer-side key state.
var (
	shiftDown bool
	ctrlDown  bool
	altDown   bool
	capsLock  bool
)

// US QWERTY set 1, unshifted.
var scancodeToASCII = [128]byte{
	0, 0, '1', '2', '3', '4', '5', '6', '7', '8', '9', '0', '-', '=', '\b',
	'\t', 'q', 'w', 'e', 'r', 't', 'y', 'u', 'i', 'o', 'p', '[', ']', '\n',
	0, 'a', 's', 'd', 'f', 'g', 'h', 'j', 'k', 'l', ';', '\'', '`',
	0, '\\', 'z', 'x', 'c', 'v', 'b', 'n', 'm', ',', '.', '/', 0,
	'*', 0, ' ',
}

// US QWERTY set 1, shifted.
var scancodeToASCIIShift = [128]byte{
	0, 0, '!', '@', '#', '$', '%', '^', '&', '*', '(', ')', '_', '+', '\b',
	'\t', 'Q', 'W', 'E', 'R', 'T', 'Y', 'U', 'I', 'O', 'P', '{', '}', '\n',
	0, 'A', 'S', 'D', 'F', 'G', 'H', 'J', 'K', 'L', ':', '"', '~',
	0, '|', 'Z', 'X', 'C', 'V', 'B', 'N', 'M', '<', '>', '?', 0,
	'*', 0, ' ',
}

// Keyboard IRQ body.
func irqHandler(uint8) {
	code := cpu.Inb(dataPort)
	h := head.Load()
	next := (h + 1) % bufferSize
	if next == tail.Load() {
		// Ring full, byte dropped.
		return
	}
	buffer[h] = code
	head.Store(next)
}

// Flush the controller and hook IRQ 1.
func Init() error {
	head.Store(0)
	tail.Store(0)
	for i := 0; i < 64 && cpu.Inb(statusPort)&0x01 != 0; i++ {
		cpu.Inb(dataPort)
	}
	if err := irq.Register(irq.Keyboard, irqHandler); err != nil {
		return err
	}
	irq.Enable(irq.Keyboard)
	return nil
}

// Anything queued.
func HasKey() bool {
	return head.Load() != tail.Load()
}

// Pop one raw scancode.
func GetScancode() (uint8, bool) {
	t := tail.Load()
	if head.Load() == t {
		return 0, false
	}
	code := buffer[t]
	tail.Store((t + 1) % bufferSize)
	return code, true
}

// Fold one scancode into the key state. Returns the decoded
// character or zero for modifiers and releases.
func ProcessScancode(code uint8) byte {
	if code&breakBit != 0 {
		switch code &^ breakBit {
		case scanLeftShift, scanRightShift:
			shiftDown = false
		case scanLeftCtrl:
			ctrlDown = false
		case scanLeftAlt:
			altDown = false
		}
		return 0
	}

	switch code {
	case scanLeftShift, scanRightShift:
		shiftDown = true
		return 0
	case scanLeftCtrl:
		ctrlDown = true
		return 0
	case scanLeftAlt:
		altDown = true
		return 0
	case scanCapsLock:
		capsLock = !capsLock
		return 0
	}

	var ch byte
	if shiftDown {
		ch = scancodeToASCIIShift[code&0x7f]
	} else {
		ch = scancodeToASCII[code&0x7f]
	}

	if capsLock {
		switch {
		case ch >= 'a' && ch <= 'z':
			ch -= 32
		case ch >= 'A' && ch <= 'Z':
			ch += 32
		}
	}
	return ch
}

// Block for the next decoded character.
func GetChar() byte {
	for {
		for !HasKey() {
			cpu.Halt()
		}
		code, _ := GetScancode()
		if ch := ProcessScancode(code); ch != 0 {
			return ch
		}
	}
}

// Modifier state, consumer side.

func ShiftPressed() bool { return shiftDown }
func CtrlPressed() bool  { return ctrlDown }
func AltPressed() bool   { return altDown }
func CapsLockOn() bool   { return capsLock }
