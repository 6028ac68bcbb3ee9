/*
 * Astra64 - Remote console test cases.
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

package telnet

import (
	"net"
	"testing"
	"time"

	"github.com/rcornwell/astra64/emu/i8042"
	"github.com/rcornwell/astra64/emu/i8259"
	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/emu/uart"
)

func TestConsoleRoundTrip(t *testing.T) {
	mach := machine.New(8 * 1024 * 1024)
	pic := i8259.New(mach)
	kbd := i8042.New(mach, pic)
	serial := uart.New(mach)

	srv, err := Start("127.0.0.1:0", serial, kbd)
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown()

	conn, err := net.Dial("tcp", srv.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait until the server has registered the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		srv.mu.Lock()
		n := len(srv.clients)
		srv.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	// Serial output reaches the client.
	mach.Out8(uart.DataPort, 'o')
	mach.Out8(uart.DataPort, 'k')
	buf := make([]byte, 2)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ok" {
		t.Errorf("client received %q", buf)
	}

	// Client bytes land on the keyboard controller; telnet IAC
	// negotiation is stripped.
	conn.Write([]byte{255, 253, 1}) // IAC DO ECHO, dropped.
	conn.Write([]byte("a"))

	deadline = time.Now().Add(2 * time.Second)
	for mach.In8(i8042.StatusPort)&1 == 0 {
		if time.Now().After(deadline) {
			t.Fatal("keystroke never arrived")
		}
		time.Sleep(time.Millisecond)
	}
	if code := mach.In8(i8042.DataPort); code != 0x1e {
		t.Errorf("scancode for 'a' wrong: %x", code)
	}
}
