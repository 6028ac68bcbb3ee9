/*
 * Astra64 - Virtual file system, read-only capability interface.
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

package vfs

import (
	"errors"
	"strings"
)

// Node kind flags.
const (
	File        uint32 = 0x01
	Directory   uint32 = 0x02
	CharDevice  uint32 = 0x03
	BlockDevice uint32 = 0x04
	Pipe        uint32 = 0x05
	Symlink     uint32 = 0x06
	Mountpoint  uint32 = 0x08
)

var (
	ErrNotSupported = errors.New("vfs: operation not supported")
	ErrNotDirectory = errors.New("vfs: not a directory")
	ErrNoEntry      = errors.New("vfs: no such entry")
	ErrNoRoot       = errors.New("vfs: no root mounted")
)

// Directory listing entry.
type DirEnt struct {
	Name  string
	Inode uint64
}

// Capability set implemented by a filesystem.
type (
	ReadFn    func(node *Node, offset uint64, size uint64, buffer []byte) (int, error)
	ReaddirFn func(node *Node, index int) (*DirEnt, error)
	FinddirFn func(node *Node, name string) (*Node, error)
	OpenFn    func(node *Node) error
	CloseFn   func(node *Node) error
)

// Filesystem object handle. Immutable once created.
type Node struct {
	Name  string
	Flags uint32
	Size  uint64
	Inode uint64
	Impl  uint64 // Implementation private.

	Read    ReadFn
	Readdir ReaddirFn
	Finddir FinddirFn
	Open    OpenFn
	Close   CloseFn
}

var root *Node

// Forget any mounted root.
func Init() {
	root = nil
}

// Install the root filesystem.
func MountRoot(node *Node) error {
	if node == nil {
		return ErrNoRoot
	}
	root = node
	return nil
}

func Root() *Node {
	return root
}

// Read size bytes at offset. Reads past end of file come back
// truncated.
func Read(node *Node, offset uint64, size uint64, buffer []byte) (int, error) {
	if node == nil || node.Read == nil {
		return 0, ErrNotSupported
	}
	return node.Read(node, offset, size, buffer)
}

// Any write attempt on this read-only tree.
func Write(*Node, uint64, []byte) (int, error) {
	return 0, ErrNotSupported
}

// Directory entry by position.
func Readdir(node *Node, index int) (*DirEnt, error) {
	if node == nil {
		return nil, ErrNoEntry
	}
	if node.Flags&Directory == 0 {
		return nil, ErrNotDirectory
	}
	if node.Readdir == nil {
		return nil, ErrNotSupported
	}
	return node.Readdir(node, index)
}

// Look a name up in a directory.
func Finddir(node *Node, name string) (*Node, error) {
	if node == nil {
		return nil, ErrNoEntry
	}
	if node.Flags&Directory == 0 {
		return nil, ErrNotDirectory
	}
	if node.Finddir == nil {
		return nil, ErrNotSupported
	}
	return node.Finddir(node, name)
}

// Resolve a path from the mount root: split on '/', '.' is identity,
// one finddir per component.
func ResolvePath(path string) (*Node, error) {
	if root == nil {
		return nil, ErrNoRoot
	}
	current := root
	for _, part := range strings.Split(path, "/") {
		if part == "" || part == "." {
			continue
		}
		next, err := Finddir(current, part)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// Open a node by path, running its open hook when present.
func Open(path string) (*Node, error) {
	node, err := ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if node.Open != nil {
		if err := node.Open(node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

// Close a node, running its close hook when present.
func Close(node *Node) {
	if node != nil && node.Close != nil {
		node.Close(node)
	}
}

func Size(node *Node) uint64 {
	if node == nil {
		return 0
	}
	return node.Size
}

func IsDir(node *Node) bool {
	return node != nil && node.Flags&Directory != 0
}

func IsFile(node *Node) bool {
	return node != nil && node.Flags&File != 0
}
