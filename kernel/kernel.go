/*
 * Astra64 - Kernel bring-up.
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

package kernel

import (
	"log/slog"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/acpi"
	"github.com/rcornwell/astra64/kernel/ata"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/fat"
	"github.com/rcornwell/astra64/kernel/gdt"
	"github.com/rcornwell/astra64/kernel/heap"
	"github.com/rcornwell/astra64/kernel/irq"
	"github.com/rcornwell/astra64/kernel/isr"
	"github.com/rcornwell/astra64/kernel/keyboard"
	"github.com/rcornwell/astra64/kernel/pit"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/proc"
	"github.com/rcornwell/astra64/kernel/vfs"
	"github.com/rcornwell/astra64/kernel/vmm"
)

// Timer rate in Hz.
const TimerHz = 1000

// Conventional low memory boot stack, through the HHDM.
const bootStackTop = machine.HHDM + 0x90000

// Bring the core up in dependency order: descriptor tables, PIC,
// interrupts on, physical then virtual memory then heap, timer,
// keyboard, process table, disk probe, root mount. Returns with the
// kernel task current and everything armed.
func Init(mach *machine.Machine, boot *machine.BootInfo) error {
	cpu.Setup(mach)
	vmm.Init(boot.HHDM)

	gdt.Init(bootStackTop)
	isr.Install(mach)
	irq.Init()
	mach.Start()
	cpu.STI()

	if err := pmm.Init(boot.MemMap); err != nil {
		return err
	}
	slog.Info("pmm up", "total", pmm.TotalMemory(), "used", pmm.UsedPages())

	if err := heap.Init(); err != nil {
		return err
	}

	if err := pit.Init(TimerHz); err != nil {
		return err
	}
	pit.SetTickCallback(proc.SchedulerTick)

	if err := keyboard.Init(); err != nil {
		return err
	}

	proc.Init()
	acpi.Init(boot.RSDP)

	found := ata.Init()
	slog.Info("ata probe", "drives", found)

	vfs.Init()
	for drive := 0; drive < 4; drive++ {
		if !fat.Detect(drive, 0) {
			continue
		}
		root, err := fat.Mount(drive, 0)
		if err != nil {
			slog.Warn("fat mount failed", "drive", drive, "err", err)
			continue
		}
		if err := vfs.MountRoot(root); err != nil {
			return err
		}
		slog.Info("mounted root", "drive", drive)
		break
	}
	if vfs.Root() == nil {
		slog.Warn("no root filesystem")
	}
	return nil
}
