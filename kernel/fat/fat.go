/*
 * Astra64 - FAT16 filesystem, read only.
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

package fat

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/rcornwell/astra64/kernel/ata"
	"github.com/rcornwell/astra64/kernel/cpu"
	"github.com/rcornwell/astra64/kernel/heap"
	"github.com/rcornwell/astra64/kernel/vfs"
	"github.com/rcornwell/astra64/util/debug"
)

// Debug options.
const (
	debugMount = 1 << iota // Mount layout.
	debugRead              // Per read cluster walks.
)

func init() {
	debug.RegisterOptions("FAT", map[string]int{
		"MOUNT": debugMount,
		"READ":  debugRead,
	})
}

// Directory entry attribute bits.
const (
	attrReadOnly  = 0x01
	attrHidden    = 0x02
	attrSystem    = 0x04
	attrVolumeID  = 0x08
	attrDirectory = 0x10
	attrArchive   = 0x20
	attrLFN       = 0x0f
)

// Cluster sentinels.
const (
	clusterFree   = 0x0000
	clusterBad    = 0xfff7
	clusterEndMin = 0xfff8
	clusterEndMax = 0xffff
	dirEntrySize  = 32
	entryEndOfDir = 0x00
	entryDeleted  = 0xe5
)

var (
	ErrBadMedia = errors.New("fat: unrecognized boot sector")
	ErrNoMount  = errors.New("fat: not mounted")
	ErrIsDir    = errors.New("fat: read on a directory")
)

// Mounted filesystem state. The primary FAT is resident in the
// kernel heap.
type fat16 struct {
	drive        int
	partitionLBA uint32

	bytesPerSector    uint32
	sectorsPerCluster uint32
	reservedSectors   uint32
	numFATs           uint32
	rootEntries       uint32
	totalSectors      uint32
	sectorsPerFAT     uint32

	fatStart      uint32
	rootStart     uint32
	rootSectors   uint32
	dataStart     uint32
	totalClusters uint32

	fatCache uint64 // Heap address of the resident FAT copy.
}

var mounted *fat16

// Node cache, slot 0 pinned to the mount root. Wraps around when it
// fills; nodes are transient handles in this read-only tree.
const maxNodes = 64

var (
	nodeCache [maxNodes]vfs.Node
	nextNode  int
)

func allocNode() *vfs.Node {
	if nextNode >= maxNodes {
		nextNode = 1
	}
	node := &nodeCache[nextNode]
	nextNode++
	*node = vfs.Node{}
	return node
}

func readSectors(lba uint32, count uint32, buf []byte) error {
	if mounted == nil {
		return ErrNoMount
	}
	return ata.Read(mounted.drive, uint64(mounted.partitionLBA+lba), count, buf)
}

// Follow the resident FAT to the next cluster. Values below 2 or
// beyond the cluster count are treated as end of chain.
func nextCluster(cluster uint16) uint16 {
	if mounted == nil || mounted.fatCache == 0 {
		return clusterEndMax
	}
	if cluster < 2 || uint32(cluster) >= mounted.totalClusters+2 {
		return clusterEndMax
	}
	value, _ := cpu.Mach().ReadVirt16(mounted.fatCache + uint64(cluster)*2)
	return value
}

func isEndCluster(cluster uint16) bool {
	return cluster >= clusterEndMin
}

func clusterToLBA(cluster uint16) uint32 {
	if mounted == nil || cluster < 2 {
		return 0
	}
	return mounted.dataStart + uint32(cluster-2)*mounted.sectorsPerCluster
}

// Decode an 8.3 name: strip the space padding, dot in the extension
// when present, lower case.
func nameToString(entry []byte) string {
	var out strings.Builder
	for i := 0; i < 8 && entry[i] != ' '; i++ {
		out.WriteByte(entry[i])
	}
	if entry[8] != ' ' {
		out.WriteByte('.')
		for i := 8; i < 11 && entry[i] != ' '; i++ {
			out.WriteByte(entry[i])
		}
	}
	return strings.ToLower(out.String())
}

// ASCII casefold compare against a directory entry.
func nameMatch(entry []byte, name string) bool {
	return nameToString(entry) == strings.ToLower(name)
}

// Entries whose first byte or attribute says skip.
func skipEntry(entry []byte) bool {
	if entry[0] == entryDeleted {
		return true
	}
	attr := entry[11]
	if attr == attrLFN || attr&attrVolumeID != 0 {
		return true
	}
	return false
}

// Build a node from a raw directory entry.
func newNode(entry []byte) *vfs.Node {
	node := allocNode()
	node.Name = nameToString(entry)
	if entry[11]&attrDirectory != 0 {
		node.Flags = vfs.Directory
	} else {
		node.Flags = vfs.File
	}
	node.Size = uint64(binary.LittleEndian.Uint32(entry[28:]))
	cluster := uint64(binary.LittleEndian.Uint16(entry[26:]))
	node.Inode = cluster
	node.Impl = cluster
	node.Read = fatRead
	node.Readdir = fatReaddir
	node.Finddir = fatFinddir
	return node
}

// Walk a directory, root area or cluster chain, calling visit per
// live entry. visit returns true to stop.
func walkDir(node *vfs.Node, visit func(entry []byte) bool) error {
	if mounted == nil {
		return ErrNoMount
	}

	if node.Impl == 0 {
		// Fixed root directory area.
		buf := make([]byte, mounted.bytesPerSector)
		perSector := mounted.bytesPerSector / dirEntrySize
		for i := uint32(0); i < mounted.rootSectors; i++ {
			if err := readSectors(mounted.rootStart+i, 1, buf); err != nil {
				return err
			}
			for j := uint32(0); j < perSector; j++ {
				entry := buf[j*dirEntrySize : (j+1)*dirEntrySize]
				if entry[0] == entryEndOfDir {
					return nil
				}
				if skipEntry(entry) {
					continue
				}
				if visit(entry) {
					return nil
				}
			}
		}
		return nil
	}

	// Subdirectory cluster chain.
	clusterBytes := mounted.sectorsPerCluster * mounted.bytesPerSector
	buf := make([]byte, clusterBytes)
	perCluster := clusterBytes / dirEntrySize
	cluster := uint16(node.Impl)
	for !isEndCluster(cluster) {
		if err := readSectors(clusterToLBA(cluster), mounted.sectorsPerCluster, buf); err != nil {
			return err
		}
		for j := uint32(0); j < perCluster; j++ {
			entry := buf[j*dirEntrySize : (j+1)*dirEntrySize]
			if entry[0] == entryEndOfDir {
				return nil
			}
			if skipEntry(entry) {
				continue
			}
			if visit(entry) {
				return nil
			}
		}
		cluster = nextCluster(cluster)
	}
	return nil
}

// Read file bytes: skip whole clusters while the offset allows, then
// copy out until satisfied or the chain ends. Past-end reads come
// back truncated.
func fatRead(node *vfs.Node, offset uint64, size uint64, buffer []byte) (int, error) {
	if mounted == nil {
		return 0, ErrNoMount
	}
	if node.Flags&vfs.Directory != 0 {
		return 0, ErrIsDir
	}
	if offset >= node.Size {
		return 0, nil
	}
	if offset+size > node.Size {
		size = node.Size - offset
	}

	clusterBytes := uint64(mounted.sectorsPerCluster * mounted.bytesPerSector)
	cluster := uint16(node.Impl)
	buf := make([]byte, clusterBytes)
	read := uint64(0)

	for offset >= clusterBytes && !isEndCluster(cluster) {
		offset -= clusterBytes
		cluster = nextCluster(cluster)
	}
	debug.Debugf("FAT", debugRead, "read %s: %d bytes from cluster %d", node.Name, size, cluster)

	for read < size && !isEndCluster(cluster) {
		if err := readSectors(clusterToLBA(cluster), mounted.sectorsPerCluster, buf); err != nil {
			return int(read), err
		}
		chunk := clusterBytes - offset
		if chunk > size-read {
			chunk = size - read
		}
		copy(buffer[read:], buf[offset:offset+chunk])
		read += chunk
		offset = 0
		cluster = nextCluster(cluster)
	}
	return int(read), nil
}

// Directory entry by index.
func fatReaddir(node *vfs.Node, index int) (*vfs.DirEnt, error) {
	var found *vfs.DirEnt
	count := 0
	err := walkDir(node, func(entry []byte) bool {
		if count == index {
			found = &vfs.DirEnt{
				Name:  nameToString(entry),
				Inode: uint64(binary.LittleEndian.Uint16(entry[26:])),
			}
			return true
		}
		count++
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, vfs.ErrNoEntry
	}
	return found, nil
}

// Case-insensitive name lookup in a directory.
func fatFinddir(node *vfs.Node, name string) (*vfs.Node, error) {
	var found *vfs.Node
	err := walkDir(node, func(entry []byte) bool {
		if nameMatch(entry, name) {
			found = newNode(entry)
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, vfs.ErrNoEntry
	}
	return found, nil
}

// Boot sector sanity: 0x55AA signature and believable BPB values.
func Detect(drive int, partitionLBA uint32) bool {
	if !ata.DrivePresent(drive) {
		return false
	}
	var sector [512]byte
	if err := ata.Read(drive, uint64(partitionLBA), 1, sector[:]); err != nil {
		return false
	}
	if sector[510] != 0x55 || sector[511] != 0xaa {
		return false
	}
	if binary.LittleEndian.Uint16(sector[11:]) != 512 {
		return false
	}
	numFATs := sector[16]
	if numFATs == 0 || numFATs > 2 {
		return false
	}
	if binary.LittleEndian.Uint16(sector[17:]) == 0 {
		return false
	}
	return true
}

// Mount a detected filesystem: decode the BPB, derive the layout,
// cache the primary FAT in the heap, hand back the root node.
func Mount(drive int, partitionLBA uint32) (*vfs.Node, error) {
	if !Detect(drive, partitionLBA) {
		return nil, ErrBadMedia
	}

	var sector [512]byte
	if err := ata.Read(drive, uint64(partitionLBA), 1, sector[:]); err != nil {
		return nil, err
	}

	fs := &fat16{
		drive:             drive,
		partitionLBA:      partitionLBA,
		bytesPerSector:    uint32(binary.LittleEndian.Uint16(sector[11:])),
		sectorsPerCluster: uint32(sector[13]),
		reservedSectors:   uint32(binary.LittleEndian.Uint16(sector[14:])),
		numFATs:           uint32(sector[16]),
		rootEntries:       uint32(binary.LittleEndian.Uint16(sector[17:])),
		sectorsPerFAT:     uint32(binary.LittleEndian.Uint16(sector[22:])),
	}
	fs.totalSectors = uint32(binary.LittleEndian.Uint16(sector[19:]))
	if fs.totalSectors == 0 {
		fs.totalSectors = binary.LittleEndian.Uint32(sector[32:])
	}

	fs.fatStart = fs.reservedSectors
	fs.rootStart = fs.fatStart + fs.numFATs*fs.sectorsPerFAT
	fs.rootSectors = (fs.rootEntries*dirEntrySize + fs.bytesPerSector - 1) / fs.bytesPerSector
	fs.dataStart = fs.rootStart + fs.rootSectors
	fs.totalClusters = (fs.totalSectors - fs.dataStart) / fs.sectorsPerCluster

	// Cache the primary FAT.
	fatBytes := uint64(fs.sectorsPerFAT * fs.bytesPerSector)
	cache, err := heap.Alloc(fatBytes)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, fatBytes)
	mounted = fs
	if err := readSectors(fs.fatStart, fs.sectorsPerFAT, raw); err != nil {
		mounted = nil
		heap.Free(cache)
		return nil, err
	}
	cpu.Mach().WriteVirt(cache, raw)
	fs.fatCache = cache
	debug.Debugf("FAT", debugMount, "mounted drive %d: %d clusters, data at %d",
		drive, fs.totalClusters, fs.dataStart)

	// Root node in the pinned slot.
	root := &nodeCache[0]
	*root = vfs.Node{
		Name:    "/",
		Flags:   vfs.Directory,
		Impl:    0,
		Read:    fatRead,
		Readdir: fatReaddir,
		Finddir: fatFinddir,
	}
	nextNode = 1
	return root, nil
}

// Layout summary for the monitor.
func Describe() (clusters uint32, clusterBytes uint32, ok bool) {
	if mounted == nil {
		return 0, 0, false
	}
	return mounted.totalClusters, mounted.sectorsPerCluster * mounted.bytesPerSector, true
}
