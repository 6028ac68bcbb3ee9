/*
 * Astra64 - Process and scheduler test cases.
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
	"strings"
	"testing"

	"github.com/rcornwell/astra64/emu/machine"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/pit"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/vmm"
)

func bootProc(t *testing.T) *machine.Machine {
	t.Helper()
	mach := machine.New(64 * 1024 * 1024)
	boot := mach.Boot()
	cpu.Setup(mach)
	if err := pmm.Init(boot.MemMap); err != nil {
		t.Fatal(err)
	}
	vmm.Init(boot.HHDM)
	Init()
	return mach
}

// Two tasks printing and yielding: over the eight handoffs between
// them the transcript alternates and the switch counter moves by
// exactly eight.
func TestRoundRobinTranscript(t *testing.T) {
	bootProc(t)

	var transcript strings.Builder
	var switchesAtLastPrint uint64

	body := func(tag string) func() {
		return func() {
			for i := 0; i < 4; i++ {
				transcript.WriteString(tag)
				switchesAtLastPrint = ContextSwitches()
				Yield()
			}
			if tag == "B" {
				Unblock(Get(0)) // Bring the kernel task back.
			}
			Block(StateBlocked)
		}
	}

	if _, err := Create("A", body("A")); err != nil {
		t.Fatal(err)
	}
	if _, err := Create("B", body("B")); err != nil {
		t.Fatal(err)
	}

	baseline := ContextSwitches()

	// Park the kernel task outside the rotation and let the pair run.
	table[0].State = StateBlocked
	Schedule()

	if got := transcript.String(); got != "ABABABAB" {
		t.Errorf("transcript wrong: %q", got)
	}
	// The eighth print lands right after the eighth switch.
	if got := switchesAtLastPrint - baseline; got != 8 {
		t.Errorf("context switches during the rotation: want 8, got %d", got)
	}
	if Current().ID != 0 || Current().State != StateRunning {
		t.Error("kernel task should be running again")
	}
}

func TestBlockUnblockQueueMembership(t *testing.T) {
	bootProc(t)

	worker, err := Create("worker", func() {
		for {
			Block(StateBlocked)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !InReadyQueue(worker) {
		t.Fatal("fresh task should be queued")
	}

	// Let it run; it blocks immediately and control returns here.
	Yield()

	if worker.State != StateBlocked {
		t.Fatalf("worker should be blocked, is %s", worker.State)
	}
	if InReadyQueue(worker) {
		t.Fatal("blocked task must not sit in the ready queue")
	}

	Unblock(worker)
	if worker.State != StateReady || !InReadyQueue(worker) {
		t.Fatal("unblocked task should be ready and queued")
	}
	// A second unblock must not double-queue it.
	Unblock(worker)
	count := 0
	for cur := readyHead; cur != noProc; cur = table[cur].next {
		if &table[cur] == worker {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("task queued %d times", count)
	}
}

// With N tasks of equal slice length, M*N rotations give each task
// exactly M runs.
func TestFairness(t *testing.T) {
	bootProc(t)

	const n = 3
	const m = 5
	runs := [n]int{}

	for i := 0; i < n; i++ {
		i := i
		_, err := Create("worker", func() {
			for j := 0; j < m; j++ {
				runs[i]++
				Yield()
			}
			Block(StateBlocked)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	// Rotate until all workers have parked.
	for spin := 0; spin < n*(m+2); spin++ {
		Yield()
	}
	for i, got := range runs {
		if got != m {
			t.Errorf("task %d ran %d times, want %d", i, got, m)
		}
	}
}

func TestExitFreesStack(t *testing.T) {
	bootProc(t)

	before := pmm.UsedPages()
	_, err := Create("short", func() {})
	if err != nil {
		t.Fatal(err)
	}
	if pmm.UsedPages() <= before {
		t.Fatal("create should take stack frames")
	}
	// Run it: the entry returns, the trampoline exits the task.
	Yield()
	if got := pmm.UsedPages(); got != before {
		t.Errorf("exit should return the stack: %d vs %d", got, before)
	}
	if Get(1) != nil {
		t.Error("exited task should leave the table")
	}
}

func TestSliceBurnRequestsReschedule(t *testing.T) {
	bootProc(t)

	ran := make(chan struct{})
	_, err := Create("busy", func() {
		close(ran)
		for {
			Block(StateBlocked)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	Yield()
	<-ran

	// Back in the kernel task; make the worker current by hand and
	// burn its slice tick by tick.
	proc := Current()
	if proc.ID != 0 {
		t.Fatalf("kernel task should be current, PID %d", proc.ID)
	}

	busy := Get(1)
	if busy == nil {
		t.Fatal("worker vanished")
	}

	// Tick against a non-kernel current task.
	current.Store(1)
	table[1].State = StateRunning
	table[1].TimeSlice.Store(2)
	SchedulerTick()
	if table[1].TimeSlice.Load() != 1 {
		t.Error("tick should burn the slice")
	}
	SchedulerTick()
	if table[1].TimeSlice.Load() != 0 {
		t.Error("slice should reach zero")
	}
	if !pit.CheckReschedule() {
		t.Error("slice at zero should request a reschedule")
	}
	// Restore the world before asserting.
	table[1].State = StateBlocked
	current.Store(0)
	table[0].State = StateRunning
}

func TestOutOfSlots(t *testing.T) {
	bootProc(t)

	created := 0
	for {
		_, err := Create("filler", func() {
			for {
				Block(StateBlocked)
			}
		})
		if err != nil {
			break
		}
		created++
	}
	if created != MaxProcesses-1 {
		t.Errorf("should fit %d tasks, got %d", MaxProcesses-1, created)
	}
}

func TestRemoveFromQueue(t *testing.T) {
	bootProc(t)

	first, err := Create("one", func() { Block(StateBlocked) })
	if err != nil {
		t.Fatal(err)
	}
	second, err := Create("two", func() { Block(StateBlocked) })
	if err != nil {
		t.Fatal(err)
	}

	for i := range table {
		if &table[i] == first {
			schedulerRemove(int16(i))
		}
	}
	if InReadyQueue(first) {
		t.Error("removed task still queued")
	}
	if !InReadyQueue(second) {
		t.Error("other task should stay queued")
	}
}
