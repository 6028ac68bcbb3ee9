/*
 * Astra64 - Remote console: mirrors the serial channel to TCP
 * clients and types their input on the emulated keyboard.
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
	"log/slog"
	"net"
	"sync"

	config "github.com/rcornwell/astra64/config/configparser"
	"github.com/rcornwell/astra64/emu/i8042"
	"github.com/rcornwell/astra64/emu/uart"
)

// Telnet protocol bytes stripped from the inbound stream.
const (
	iac  = 255
	will = 251
	wont = 252
	do   = 253
	dont = 254
)

type Server struct {
	mu       sync.Mutex
	listener net.Listener
	keyboard *i8042.Controller
	clients  map[net.Conn]struct{}
	done     chan struct{}
}

// Start a remote console on addr. Serial output fans out to every
// client; client bytes are typed on the keyboard controller.
func Start(addr string, serial *uart.UART, keyboard *i8042.Controller) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &Server{
		listener: listener,
		keyboard: keyboard,
		clients:  map[net.Conn]struct{}{},
		done:     make(chan struct{}),
	}
	serial.Attach(srv)
	go srv.accept()
	slog.Info("remote console listening", "addr", addr)
	return srv, nil
}

// Broadcast one chunk of serial output.
func (srv *Server) Write(p []byte) (int, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for conn := range srv.clients {
		conn.Write(p)
	}
	return len(p), nil
}

func (srv *Server) accept() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-srv.done:
			default:
				slog.Warn("remote console accept failed", "err", err)
			}
			return
		}
		srv.mu.Lock()
		srv.clients[conn] = struct{}{}
		srv.mu.Unlock()
		go srv.serve(conn)
	}
}

func (srv *Server) serve(conn net.Conn) {
	defer func() {
		srv.mu.Lock()
		delete(srv.clients, conn)
		srv.mu.Unlock()
		conn.Close()
	}()

	buf := make([]byte, 256)
	skip := 0
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			if skip > 0 {
				skip--
				continue
			}
			switch {
			case b == iac:
				skip = 2
			case b == 0:
				// Telnet CR NUL padding.
			default:
				srv.keyboard.TypeByte(b)
			}
		}
	}
}

// Stop listening and drop every client.
func (srv *Server) Shutdown() {
	close(srv.done)
	srv.listener.Close()
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for conn := range srv.clients {
		conn.Close()
	}
	srv.clients = map[net.Conn]struct{}{}
}

// Pending console address from the configuration file.
var pendingAddr string

func PendingAddr() string {
	return pendingAddr
}

func init() {
	config.RegisterOptions("CONSOLE", create)
}

// Record a CONSOLE line: CONSOLE <port> or CONSOLE 0 PORT=<port>.
func create(_ int, arg string, options []config.Option) error {
	pendingAddr = ":" + arg
	for _, opt := range options {
		if opt.Name == "PORT" && opt.EqualOpt != "" {
			pendingAddr = ":" + opt.EqualOpt
		}
	}
	return nil
}
