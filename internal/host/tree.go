// Copyright 2024 DriveFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package host is a reference embedding host for the drive driver. It plays
// the part of a virtual machine's file-system layer: it owns the node tree
// and its name cache, joins paths, turns faults into errors, and drives
// the driver's two callback tables from a path and handle based API.
package host

import (
	"path"
	"sync"

	"drivefs/internal/vfs"
)

// Paths joins drive paths with forward slashes.
type Paths struct{}

func (Paths) Join(parts ...string) string {
	return path.Join(parts...)
}

func (Paths) Join2(a, b string) string {
	return path.Join(a, b)
}

type childKey struct {
	parent uint64
	name   string
}

// Tree allocates nodes and caches children by (parent, name), like the
// name hash of a VM file system.
type Tree struct {
	mu       sync.Mutex
	nextIno  uint64
	children map[childKey]*vfs.Node
}

// NewTree creates an empty tree. Inode 1 goes to the first node created,
// which is normally the mount root.
func NewTree() *Tree {
	return &Tree{
		nextIno:  1,
		children: make(map[childKey]*vfs.Node),
	}
}

// CreateNode allocates a node and registers it under its parent. A nil
// parent makes the node its own parent.
func (t *Tree) CreateNode(parent *vfs.Node, name string, mode uint32, rdev uint64) *vfs.Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	node := &vfs.Node{
		ID:     t.nextIno,
		Name:   name,
		Mode:   mode,
		Rdev:   rdev,
		Parent: parent,
	}
	t.nextIno++
	if parent == nil {
		node.Parent = node
		return node
	}
	t.children[childKey{parent.ID, name}] = node
	return node
}

func (t *Tree) IsDir(mode uint32) bool {
	return vfs.IsDirMode(mode)
}

func (t *Tree) IsFile(mode uint32) bool {
	return vfs.IsFileMode(mode)
}

// Cached returns the cached child of parent named name.
func (t *Tree) Cached(parent *vfs.Node, name string) (*vfs.Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.children[childKey{parent.ID, name}]
	return n, ok
}

// Forget drops the cached child of parent named name.
func (t *Tree) Forget(parent *vfs.Node, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.children, childKey{parent.ID, name})
}

// Rehash moves a renamed node from its old slot to its current one.
func (t *Tree) Rehash(node, oldParent *vfs.Node, oldName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.children, childKey{oldParent.ID, oldName})
	t.children[childKey{node.Parent.ID, node.Name}] = node
}

// Prune drops cached children of parent whose names are not in keep.
func (t *Tree) Prune(parent *vfs.Node, keep []string) int {
	names := make(map[string]struct{}, len(keep))
	for _, n := range keep {
		names[n] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	dropped := 0
	for k := range t.children {
		if k.parent != parent.ID {
			continue
		}
		if _, ok := names[k.name]; !ok {
			delete(t.children, k)
			dropped++
		}
	}
	return dropped
}

// Reset drops every cached child.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children = make(map[childKey]*vfs.Node)
}

// Len returns the number of cached children.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.children)
}
