/*
 * Astra64 - Emulated serial debug channel at 0x3F8.
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

package uart

import (
	"bytes"
	"io"
	"sync"

	"github.com/rcornwell/astra64/emu/machine"
)

const (
	DataPort   uint16 = 0x3f8
	LineStatus uint16 = 0x3fd

	lsrTransmitEmpty = 0x20
)

// Port bytes fan out to every attached sink and are kept in a bounded
// transcript for the tests and the monitor.
type UART struct {
	mu         sync.Mutex
	sinks      []io.Writer
	transcript bytes.Buffer
}

// Create the channel and claim its ports.
func New(mach *machine.Machine) *UART {
	u := &UART{}
	mach.RegisterPorts(u, DataPort, LineStatus)
	return u
}

// Attach an output sink.
func (u *UART) Attach(w io.Writer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sinks = append(u.sinks, w)
}

func (u *UART) In(port uint16) uint8 {
	if port == LineStatus {
		// Always ready to transmit.
		return lsrTransmitEmpty
	}
	return 0
}

func (u *UART) Out(port uint16, data uint8) {
	if port != DataPort {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.transcript.Len() < 1<<20 {
		u.transcript.WriteByte(data)
	}
	for _, sink := range u.sinks {
		sink.Write([]byte{data})
	}
}

// Everything written to the channel since reset.
func (u *UART) Transcript() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.transcript.String()
}
