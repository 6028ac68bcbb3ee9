/*
 * Astra64 - Emulator entry point.
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

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	getopt "github.com/pborman/getopt/v2"

	"github.com/rcornwell/astra64/command"
	config "github.com/rcornwell/astra64/config/configparser"
	"github.com/rcornwell/astra64/emu/i8042"
	"github.com/rcornwell/astra64/emu/i8254"
	"github.com/rcornwell/astra64/emu/i8259"
	"github.com/rcornwell/astra64/emu/ide"
	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/emu/uart"
	"github.com/rcornwell/astra64/kernel"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/keyboard"
	"github.com/rcornwell/astra64/kernel/proc"
	kserial "github.com/rcornwell/astra64/kernel/serial"
	"github.com/rcornwell/astra64/telnet"
	"github.com/rcornwell/astra64/util/logger"
)

func main() {
	optConfig := getopt.StringLong("config", 'c', "astra64.cfg", "Configuration file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		file, _ = os.Create(*optLogFile)
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelDebug)
	slog.SetDefault(slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel})))

	slog.Info("Astra64 started")

	if _, err := os.Stat(*optConfig); err == nil {
		if err := config.LoadConfigFile(*optConfig); err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
	} else {
		slog.Warn("no configuration file, using defaults", "file", *optConfig)
	}

	// Assemble the machine.
	mach := machine.New(machine.ConfiguredMemSize())
	pic := i8259.New(mach)
	timer := i8254.New(mach, pic)
	kbd := i8042.New(mach, pic)
	serial := uart.New(mach)
	primary, secondary := ide.NewLegacy(mach)

	for _, att := range ide.PendingAttachments() {
		channel := primary
		if att.Unit >= 2 {
			channel = secondary
		}
		if err := channel.AttachFile(att.Unit%2, att.Path); err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
		slog.Info("attached disk", "unit", att.Unit, "image", att.Path)
	}

	if addr := telnet.PendingAddr(); addr != "" {
		srv, err := telnet.Start(addr, serial, kbd)
		if err != nil {
			slog.Error(err.Error())
			os.Exit(1)
		}
		defer srv.Shutdown()
	}
	serial.Attach(os.Stderr)

	// Boot and bring the kernel up; this goroutine is the kernel
	// task from here on.
	boot := mach.Boot()
	slog.Info("boot", "loader", boot.Bootloader, "version", boot.Version, "hhdm", boot.HHDM)
	if err := kernel.Init(mach, boot); err != nil {
		slog.Error("kernel bring-up failed: " + err.Error())
		os.Exit(1)
	}
	timer.Start()

	// Keyboard echo task: drain scancodes to the serial channel,
	// then give the CPU back.
	_, err := proc.Create("kbd-echo", func() {
		for !mach.Halted() {
			for keyboard.HasKey() {
				if code, ok := keyboard.GetScancode(); ok {
					if ch := keyboard.ProcessScancode(code); ch != 0 {
						kserial.Putc(ch)
					}
				}
			}
			proc.Yield()
		}
	})
	if err != nil {
		slog.Error(err.Error())
	}

	// Stop on SIGINT or SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		mach.FatalHalt("signal")
	}()
	go func() {
		<-mach.Done()
		slog.Info("machine halted", "reason", mach.HaltReason())
		os.Exit(0)
	}()

	// The kernel task's long running loop.
	command.ConsoleReader()

	cpu.CLI()
	timer.Shutdown()
	mach.Shutdown()
	slog.Info("Astra64 stopped")
}
