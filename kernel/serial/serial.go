/*
 * Astra64 - Serial debug channel driver.
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

package serial

import (
	"fmt"

	"github.com/rcornwell/astra64/kernel/cpu"
)

const (
	dataPort       uint16 = 0x3f8
	lineStatusPort uint16 = 0x3fd

	lsrTransmitEmpty uint8 = 0x20
)

// Send one byte, waiting for the transmitter.
func Putc(b byte) {
	for i := 0; i < 10000; i++ {
		if cpu.Inb(lineStatusPort)&lsrTransmitEmpty != 0 {
			break
		}
		cpu.Pause()
	}
	cpu.Outb(dataPort, b)
}

// Send a string.
func Puts(s string) {
	for i := 0; i < len(s); i++ {
		Putc(s[i])
	}
}

// Formatted output on the debug channel.
func Printf(format string, a ...interface{}) {
	Puts(fmt.Sprintf(format, a...))
}

// Writer lets the channel stand in anywhere an io.Writer is wanted.
type Writer struct{}

func (Writer) Write(p []byte) (int, error) {
	for _, b := range p {
		Putc(b)
	}
	return len(p), nil
}
