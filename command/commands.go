/*
 * Astra64 - Monitor commands.
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

package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rcornwell/astra64/kernel/acpi"
	"github.com/rcornwell/astra64/kernel/ata"
	"github.com/rcornwell/astra64/kernel/fat"
	"github.com/rcornwell/astra64/kernel/heap"
	"github.com/rcornwell/astra64/kernel/pit"
	"github.com/rcornwell/astra64/kernel/pmm"
	"github.com/rcornwell/astra64/kernel/proc"
	"github.com/rcornwell/astra64/kernel/vfs"
)

type commandFn func(args []string) (bool, error)

type commandDef struct {
	fn   commandFn
	help string
}

var commands map[string]commandDef

func init() {
	commands = map[string]commandDef{
		"help":     {cmdHelp, "List commands"},
		"ls":       {cmdLs, "List a directory"},
		"cat":      {cmdCat, "Print a file"},
		"info":     {cmdInfo, "Describe a path"},
		"ps":       {cmdPs, "List tasks"},
		"mem":      {cmdMem, "Memory statistics"},
		"uptime":   {cmdUptime, "Ticks since boot"},
		"drives":   {cmdDrives, "Probed disk drives"},
		"poweroff": {cmdPoweroff, "Power the machine off"},
		"quit":     {cmdQuit, "Leave the monitor"},
	}
}

// Run one command line. Returns true when the monitor should exit.
func Process(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	def, ok := commands[strings.ToLower(fields[0])]
	if !ok {
		return false, errors.New("unknown command: " + fields[0])
	}
	return def.fn(fields[1:])
}

// Completion candidates for a partial line.
func Complete(line string) []string {
	var out []string
	for name := range commands {
		if strings.HasPrefix(name, strings.ToLower(line)) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func cmdHelp([]string) (bool, error) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-10s %s\n", name, commands[name].help)
	}
	return false, nil
}

func pathArg(args []string) string {
	if len(args) == 0 {
		return "/"
	}
	return args[0]
}

func cmdLs(args []string) (bool, error) {
	node, err := vfs.ResolvePath(pathArg(args))
	if err != nil {
		return false, err
	}
	for index := 0; ; index++ {
		ent, err := vfs.Readdir(node, index)
		if err != nil {
			if errors.Is(err, vfs.ErrNoEntry) {
				break
			}
			return false, err
		}
		child, err := vfs.Finddir(node, ent.Name)
		if err != nil {
			return false, err
		}
		kind := "file"
		if vfs.IsDir(child) {
			kind = "dir"
		}
		fmt.Printf("  %-5s %8d  %s\n", kind, vfs.Size(child), ent.Name)
	}
	return false, nil
}

func cmdCat(args []string) (bool, error) {
	if len(args) == 0 {
		return false, errors.New("cat: path required")
	}
	node, err := vfs.Open(args[0])
	if err != nil {
		return false, err
	}
	defer vfs.Close(node)
	if !vfs.IsFile(node) {
		return false, errors.New("cat: not a file")
	}
	buf := make([]byte, vfs.Size(node))
	n, err := vfs.Read(node, 0, vfs.Size(node), buf)
	if err != nil {
		return false, err
	}
	fmt.Print(string(buf[:n]))
	if n > 0 && buf[n-1] != '\n' {
		fmt.Println()
	}
	return false, nil
}

func cmdInfo(args []string) (bool, error) {
	node, err := vfs.ResolvePath(pathArg(args))
	if err != nil {
		return false, err
	}
	kind := "file"
	if vfs.IsDir(node) {
		kind = "directory"
	}
	fmt.Printf("  name: %s  kind: %s  size: %d  inode: %d\n",
		node.Name, kind, node.Size, node.Inode)
	return false, nil
}

func cmdPs([]string) (bool, error) {
	fmt.Printf("  %-5s %-12s %-8s %s\n", "PID", "NAME", "STATE", "SLICE")
	for _, info := range proc.List() {
		fmt.Printf("  %-5d %-12s %-8s %d\n", info.ID, info.Name, info.State, info.Slice)
	}
	fmt.Printf("  context switches: %d\n", proc.ContextSwitches())
	return false, nil
}

func cmdMem([]string) (bool, error) {
	fmt.Printf("  physical: %d KB total, %d pages used, %d KB free\n",
		pmm.TotalMemory()/1024, pmm.UsedPages(), pmm.FreeMemory()/1024)
	low, high := heap.Extent()
	fmt.Printf("  heap: %d bytes used, %d free in %d block(s), extent %d KB\n",
		heap.Used(), heap.FreeBytes(), heap.FreeBlocks(), (high-low)/1024)
	return false, nil
}

func cmdUptime([]string) (bool, error) {
	ticks := pit.Ticks()
	fmt.Printf("  %d ticks (%d.%03d s at %d Hz)\n",
		ticks, ticks/1000, ticks%1000, pit.Frequency())
	return false, nil
}

func cmdDrives([]string) (bool, error) {
	for i := 0; i < 4; i++ {
		drive := ata.GetDrive(i)
		if drive == nil || !drive.Present {
			continue
		}
		fmt.Printf("  drive %d: %s (%d MB)\n", i, drive.Model,
			drive.Sectors*ata.SectorSize/(1024*1024))
	}
	if clusters, bytes, ok := fat.Describe(); ok {
		fmt.Printf("  root: FAT16, %d clusters, %d bytes/cluster\n", clusters, bytes)
	}
	return false, nil
}

func cmdPoweroff([]string) (bool, error) {
	acpi.Poweroff()
	return true, nil
}

func cmdQuit([]string) (bool, error) {
	return true, nil
}
