/*
 * Astra64 - Process table and lifecycle.
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

package proc

import (
	"errors"
	"runtime"
	"sync/atomic"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/spinlock"
	"github.com/rcornwell/astra64/kernel/vmm"
)

const (
	MaxProcesses = 64

	// Per task kernel stack, four frames.
	KernelStackSize = 16 * 1024

	// Ticks before the scheduler should rotate, 10 ms at 1000 Hz.
	DefaultTimeSlice = 10

	noProc = int16(-1)
)

var ErrOutOfSlots = errors.New("proc: process table full")

type State int

const (
	StateUnused State = iota
	StateCreated
	StateReady
	StateRunning
	StateBlocked
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateUnused:
		return "unused"
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	}
	return "?"
}

// Process control block. Queue links are slots in the fixed table,
// not pointers.
type Process struct {
	ID              uint64
	State           State
	CPUID           int
	PageTable       uint64 // Address space root frame.
	KernelStack     uint64 // Top, virtual through the HHDM.
	KernelStackBase uint64
	TimeSlice       atomic.Int32
	Ctx             *Context
	Name            string
	ExitCode        int

	next   int16 // Next slot in the ready queue.
	parent int16
}

var (
	table       [MaxProcesses]Process
	nextPID     uint64
	current     atomic.Int32
	processLock spinlock.Lock
)

// Build the table with the kernel task in slot 0, already running on
// the kernel address space.
func Init() {
	for i := range table {
		table[i] = Process{next: noProc, parent: noProc}
	}
	nextPID = 1
	schedulerReset()

	idle := &table[0]
	idle.ID = 0
	idle.State = StateRunning
	idle.PageTable = vmm.KernelRoot()
	idle.TimeSlice.Store(DefaultTimeSlice)
	idle.Ctx = newContext()
	idle.Name = "kernel"
	current.Store(0)
}

func findFreeSlot() int16 {
	for i := 1; i < MaxProcesses; i++ {
		if table[i].State == StateUnused {
			return int16(i)
		}
	}
	return noProc
}

// Create a kernel task: reserve a slot, give it a stack through the
// HHDM, and park its trampoline on the saved context. The task is
// enqueued ready.
func Create(name string, entry func()) (*Process, error) {
	flags := processLock.AcquireSave()

	slot := findFreeSlot()
	if slot == noProc {
		processLock.ReleaseRestore(flags)
		return nil, ErrOutOfSlots
	}

	stackPages := uint64((KernelStackSize + machine.PageSize - 1) / machine.PageSize)
	stackPhys, err := pmm.AllocPages(stackPages)
	if err != nil {
		processLock.ReleaseRestore(flags)
		return nil, err
	}
	stackBase := stackPhys + machine.HHDM

	proc := &table[slot]
	proc.ID = nextPID
	nextPID++
	proc.State = StateCreated
	proc.CPUID = 0
	proc.PageTable = vmm.KernelRoot()
	proc.KernelStack = stackBase + KernelStackSize
	proc.KernelStackBase = stackBase
	proc.TimeSlice.Store(DefaultTimeSlice)
	proc.ExitCode = 0
	proc.next = noProc
	proc.parent = int16(current.Load())
	if name == "" {
		name = "unnamed"
	}
	proc.Name = name

	// Resume target is the trampoline; the entry pointer rides in
	// the save area.
	ctx := newContext()
	ctx.entry = entry
	proc.Ctx = ctx
	go trampoline(ctx)

	proc.State = StateReady
	schedulerAdd(slot)

	processLock.ReleaseRestore(flags)
	return proc, nil
}

// A fresh task resumes here on its first switch in. When the entry
// function returns the task exits with status 0.
func trampoline(ctx *Context) {
	<-ctx.resume
	if ctx.entry != nil {
		ctx.entry()
	}
	Exit(0)
}

// Terminate the calling task: stack back to the allocator, slot
// unused, control to the next ready task. Never returns to the
// caller. Task 0 cannot exit, it just reschedules.
func Exit(code int) {
	flags := processLock.AcquireSave()

	slot := int16(current.Load())
	proc := &table[slot]
	if proc.ID == 0 {
		processLock.ReleaseRestore(flags)
		Schedule()
		return
	}

	proc.ExitCode = code
	proc.State = StateZombie
	if proc.KernelStackBase != 0 {
		stackPages := uint64((KernelStackSize + machine.PageSize - 1) / machine.PageSize)
		pmm.FreePages(proc.KernelStackBase-machine.HHDM, stackPages)
	}
	proc.State = StateUnused
	processLock.ReleaseRestore(flags)

	dispatchNext()
}

// Hand the CPU to the head of the ready queue and let this goroutine
// end. With nothing ready and the kernel task wedged somewhere there
// is nobody left to run.
func dispatchNext() {
	flags := schedLock.AcquireSave()
	next := readyPop()
	if next == noProc {
		schedLock.ReleaseRestore(flags)
		cpu.Mach().FatalHalt("exit with no runnable task")
		runtime.Goexit()
	}
	proc := &table[next]
	proc.State = StateRunning
	proc.TimeSlice.Store(DefaultTimeSlice)
	current.Store(int32(next))
	contextSwitches.Add(1)
	schedLock.ReleaseRestore(flags)
	contextSwitch(nil, proc.Ctx)
	runtime.Goexit()
}

// The running task's control block.
func Current() *Process {
	return &table[current.Load()]
}

// Look a task up by identifier.
func Get(pid uint64) *Process {
	for i := range table {
		if table[i].State != StateUnused && table[i].ID == pid {
			return &table[i]
		}
	}
	return nil
}

// Give up the remainder of the time slice.
func Yield() {
	Current().TimeSlice.Store(0)
	Schedule()
}

// Park the calling task in the given waiting state. Someone else must
// Unblock it.
func Block(reason State) {
	flags := processLock.AcquireSave()
	proc := &table[current.Load()]
	if proc.ID != 0 {
		proc.State = reason
	}
	processLock.ReleaseRestore(flags)
	Schedule()
}

// Make a blocked task ready again. It lands in the queue exactly
// once.
func Unblock(proc *Process) {
	if proc == nil {
		return
	}
	flags := processLock.AcquireSave()
	defer processLock.ReleaseRestore(flags)
	if proc.State != StateBlocked {
		return
	}
	proc.State = StateReady
	for i := range table {
		if &table[i] == proc {
			schedulerAdd(int16(i))
			break
		}
	}
}

// Live entries in the table.
func Count() int {
	count := 0
	for i := range table {
		if table[i].State != StateUnused {
			count++
		}
	}
	return count
}

// Snapshot for the monitor's process listing.
type Info struct {
	ID    uint64
	Name  string
	State State
	Slice int32
}

func List() []Info {
	flags := processLock.AcquireSave()
	defer processLock.ReleaseRestore(flags)
	var out []Info
	for i := range table {
		if table[i].State == StateUnused {
			continue
		}
		out = append(out, Info{
			ID:    table[i].ID,
			Name:  table[i].Name,
			State: table[i].State,
			Slice: table[i].TimeSlice.Load(),
		})
	}
	return out
}
