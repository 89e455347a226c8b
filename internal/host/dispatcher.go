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

package host

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"drivefs/internal/common"
	"drivefs/internal/vfs"
)

// DefaultMountpoint is the root node name used when none is configured.
const DefaultMountpoint = "/drive"

// Config configures a Dispatcher.
type Config struct {
	Remote     vfs.Remote
	Mountpoint string
	Errnos     common.ErrnoFactory
}

// DirEntry is one child returned by ReadDirAttrs.
type DirEntry struct {
	Name  string
	Attrs *vfs.Attributes
}

// Dispatcher exposes a mounted drive through path and handle based calls.
// Paths are relative to the drive root ("/" is the root). Calls are
// serialized: the driver sees one operation at a time.
type Dispatcher struct {
	mu      sync.Mutex
	fs      *vfs.DriveFS
	tree    *Tree
	root    *vfs.Node
	handles *vfs.HandleManager
	errnos  common.ErrnoFactory
}

// New mounts a drive and returns a dispatcher for it.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Mountpoint == "" {
		cfg.Mountpoint = DefaultMountpoint
	}
	if cfg.Errnos == nil {
		cfg.Errnos = common.SyscallErrnos{}
	}

	tree := NewTree()
	fs, err := vfs.New(vfs.Options{
		Remote: cfg.Remote,
		Tree:   tree,
		Paths:  Paths{},
		Errnos: cfg.Errnos,
	})
	if err != nil {
		return nil, err
	}
	root, err := fs.Mount(&vfs.Mount{Mountpoint: cfg.Mountpoint})
	if err != nil {
		return nil, fmt.Errorf("mount %s: %w", cfg.Mountpoint, err)
	}

	d := &Dispatcher{
		fs:      fs,
		tree:    tree,
		root:    root,
		handles: vfs.NewHandleManager(),
		errnos:  cfg.Errnos,
	}
	return d, nil
}

// recoverPanic turns a panic inside a driver call into EIO so one bad
// request cannot take down the export.
func recoverPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[Host] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = syscall.EIO
		}
	}
}

func traceOp(op, p string, start time.Time, err error) {
	log.Tracef("[Host] %s %q -> %v (%v)", op, p, err, time.Since(start))
}

// Root returns the mount root node.
func (d *Dispatcher) Root() *vfs.Node {
	return d.root
}

// Mountpoint returns the root node name, the prefix of every remote path.
func (d *Dispatcher) Mountpoint() string {
	return d.root.Name
}

// FS returns the underlying driver.
func (d *Dispatcher) FS() *vfs.DriveFS {
	return d.fs
}

// RemotePath maps a drive path onto the remote path the driver uses.
func (d *Dispatcher) RemotePath(p string) string {
	return Paths{}.Join(d.root.Name, common.AbsPath(p))
}

func (d *Dispatcher) errno(code syscall.Errno) error {
	return d.errnos.Errno(code)
}

// child resolves name under parent, trying the name cache before the driver.
func (d *Dispatcher) child(parent *vfs.Node, name string) (*vfs.Node, error) {
	if !vfs.IsDirMode(parent.Mode) {
		return nil, d.errno(syscall.ENOTDIR)
	}
	if n, ok := d.tree.Cached(parent, name); ok {
		return n, nil
	}
	return parent.NodeOps.Lookup(parent, name)
}

func (d *Dispatcher) resolve(p string) (*vfs.Node, error) {
	node := d.root
	for _, name := range common.SplitPath(p) {
		next, err := d.child(node, name)
		if err != nil {
			return nil, err
		}
		node = next
	}
	return node, nil
}

// resolveParent returns the directory holding p and p's last component.
func (d *Dispatcher) resolveParent(p string) (*vfs.Node, string, error) {
	name := common.BaseName(p)
	if name == "" {
		return nil, "", d.errno(syscall.EINVAL)
	}
	parent, err := d.resolve(common.ParentPath(p))
	if err != nil {
		return nil, "", err
	}
	if !vfs.IsDirMode(parent.Mode) {
		return nil, "", d.errno(syscall.ENOTDIR)
	}
	return parent, name, nil
}

// Resolve walks p from the root and returns its node.
func (d *Dispatcher) Resolve(p string) (node *vfs.Node, err error) {
	defer recoverPanic("Resolve", &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolve(p)
}

// Open opens p with flags in the driver's numbering (vfs.O*). O_CREAT
// creates a regular file, O_EXCL fails on an existing one, O_TRUNC empties
// the buffer after the fetch and O_APPEND starts at the end.
func (d *Dispatcher) Open(p string, flags int) (h vfs.HandleID, err error) {
	defer recoverPanic("Open", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { traceOp("Open", p, start, err) }()
	}
	log.Debugf("[Host] Open: path=%q flags=%d", p, flags)
	d.mu.Lock()
	defer d.mu.Unlock()

	of := vfs.Flags(flags)
	var node *vfs.Node
	if common.NormalizePath(p) == "" {
		node = d.root
	} else {
		parent, name, err := d.resolveParent(p)
		if err != nil {
			return 0, err
		}
		node, err = d.child(parent, name)
		switch {
		case errors.Is(err, syscall.ENOENT) && of.Has(vfs.OCreat):
			node, err = parent.NodeOps.Mknod(parent, name, vfs.FileMode, 0)
			if err != nil {
				return 0, err
			}
		case err != nil:
			return 0, err
		case of.Has(vfs.OCreat | vfs.OExcl):
			return 0, d.errno(syscall.EEXIST)
		}
	}

	if vfs.IsDirMode(node.Mode) && of.Writable() {
		return 0, d.errno(syscall.EISDIR)
	}

	stream := &vfs.Stream{Node: node, Flags: of}
	if err := node.StreamOps.Open(stream); err != nil {
		return 0, err
	}
	if stream.File != nil {
		if of.Has(vfs.OTrunc) && of.Writable() {
			if err := d.fs.TruncateStream(stream, 0); err != nil {
				return 0, err
			}
		}
		if of.Has(vfs.OAppend) {
			stream.Position = int64(len(stream.File.Data))
		}
	}
	return d.handles.Allocate(stream), nil
}

// Create opens p for writing, creating or truncating it.
func (d *Dispatcher) Create(p string) (vfs.HandleID, error) {
	return d.Open(p, vfs.ORdWr|vfs.OCreat|vfs.OTrunc)
}

func (d *Dispatcher) stream(h vfs.HandleID) (*vfs.Stream, error) {
	s, ok := d.handles.Get(h)
	if !ok {
		return nil, d.errno(syscall.EBADF)
	}
	return s, nil
}

// Read reads at the handle's position and advances it.
func (d *Dispatcher) Read(h vfs.HandleID, buf []byte) (n int, err error) {
	defer recoverPanic("Read", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return 0, err
	}
	n, err = d.readAt(s, buf, s.Position)
	s.Position += int64(n)
	return n, err
}

// ReadAt reads at off without moving the handle.
func (d *Dispatcher) ReadAt(h vfs.HandleID, buf []byte, off int64) (n int, err error) {
	defer recoverPanic("ReadAt", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return 0, err
	}
	return d.readAt(s, buf, off)
}

func (d *Dispatcher) readAt(s *vfs.Stream, buf []byte, off int64) (int, error) {
	if vfs.IsDirMode(s.Node.Mode) {
		return 0, d.errno(syscall.EISDIR)
	}
	return s.Node.StreamOps.Read(s, buf, 0, len(buf), off)
}

// Write writes at the handle's position, or at the end for O_APPEND, and
// advances it.
func (d *Dispatcher) Write(h vfs.HandleID, buf []byte) (n int, err error) {
	defer recoverPanic("Write", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[Host] Write handle=%d len=%d -> %v (%v)", h, len(buf), err, time.Since(start)) }()
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return 0, err
	}
	if s.Flags.Has(vfs.OAppend) && s.File != nil {
		s.Position = int64(len(s.File.Data))
	}
	n, err = d.writeAt(s, buf, s.Position)
	s.Position += int64(n)
	return n, err
}

// WriteAt writes at off without moving the handle.
func (d *Dispatcher) WriteAt(h vfs.HandleID, buf []byte, off int64) (n int, err error) {
	defer recoverPanic("WriteAt", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return 0, err
	}
	return d.writeAt(s, buf, off)
}

func (d *Dispatcher) writeAt(s *vfs.Stream, buf []byte, off int64) (int, error) {
	if vfs.IsDirMode(s.Node.Mode) {
		return 0, d.errno(syscall.EISDIR)
	}
	if !s.Flags.Writable() {
		return 0, d.errno(syscall.EBADF)
	}
	return s.Node.StreamOps.Write(s, buf, 0, len(buf), off)
}

// Seek moves the handle through the driver's llseek.
func (d *Dispatcher) Seek(h vfs.HandleID, offset int64, whence int) (pos int64, err error) {
	defer recoverPanic("Seek", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return 0, err
	}
	pos, err = s.Node.StreamOps.Llseek(s, offset, whence)
	if err != nil {
		return 0, err
	}
	s.Position = pos
	return pos, nil
}

// Truncate resizes the open file; the new size is pushed on close.
func (d *Dispatcher) Truncate(h vfs.HandleID, size int64) (err error) {
	defer recoverPanic("Truncate", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return err
	}
	if !s.Flags.Writable() {
		return d.errno(syscall.EBADF)
	}
	return d.fs.TruncateStream(s, size)
}

// Size returns the current buffer length of an open file.
func (d *Dispatcher) Size(h vfs.HandleID) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return 0, err
	}
	if s.File == nil {
		return 0, nil
	}
	return int64(len(s.File.Data)), nil
}

// Close releases the handle after the driver's close, which may write back.
// The handle is released even when the write-back fails.
func (d *Dispatcher) Close(h vfs.HandleID) (err error) {
	defer recoverPanic("Close", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.stream(h)
	if err != nil {
		return err
	}
	defer d.handles.Release(h)
	return s.Node.StreamOps.Close(s)
}

// CloseAll closes every open handle and returns the first error.
func (d *Dispatcher) CloseAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var first error
	for h, s := range d.handles.Clear() {
		if err := s.Node.StreamOps.Close(s); err != nil {
			log.Warnf("[Host] CloseAll: handle %d (%s): %v", h, s.Node.Name, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// OpenHandles returns the number of open handles.
func (d *Dispatcher) OpenHandles() int {
	return d.handles.Len()
}

// Stat returns the remote attributes of p.
func (d *Dispatcher) Stat(p string) (attrs *vfs.Attributes, err error) {
	defer recoverPanic("Stat", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	return node.NodeOps.Getattr(node)
}

// Mkdir creates the directory p. Its parent must exist.
func (d *Dispatcher) Mkdir(p string) (err error) {
	defer recoverPanic("Mkdir", &err)
	log.Debugf("[Host] Mkdir: path=%q", p)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mkdir(p)
}

func (d *Dispatcher) mkdir(p string) error {
	parent, name, err := d.resolveParent(p)
	if err != nil {
		return err
	}
	if _, err := d.child(parent, name); err == nil {
		return d.errno(syscall.EEXIST)
	} else if !errors.Is(err, syscall.ENOENT) {
		return err
	}
	_, err = parent.NodeOps.Mknod(parent, name, vfs.DirMode, 0)
	return err
}

// MkdirAll creates p and any missing parents.
func (d *Dispatcher) MkdirAll(p string) (err error) {
	defer recoverPanic("MkdirAll", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	node := d.root
	for _, name := range common.SplitPath(p) {
		next, err := d.child(node, name)
		if errors.Is(err, syscall.ENOENT) {
			next, err = node.NodeOps.Mknod(node, name, vfs.DirMode, 0)
		}
		if err != nil {
			return err
		}
		if !vfs.IsDirMode(next.Mode) {
			return d.errno(syscall.ENOTDIR)
		}
		node = next
	}
	return nil
}

// Remove deletes p through unlink or rmdir depending on its type. Handles
// still open on it are dropped without write-back and report EBADF.
func (d *Dispatcher) Remove(p string) (err error) {
	defer recoverPanic("Remove", &err)
	log.Debugf("[Host] Remove: path=%q", p)
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(p)
	if err != nil {
		return err
	}
	node, err := d.child(parent, name)
	if err != nil {
		return err
	}
	if vfs.IsDirMode(node.Mode) {
		err = node.NodeOps.Rmdir(parent, name)
	} else {
		err = node.NodeOps.Unlink(parent, name)
	}
	if err != nil {
		return err
	}
	d.tree.Forget(parent, name)

	// Handles left on the node go stale: a write-back would recreate it.
	for _, h := range d.handles.OpenOn(node) {
		log.Debugf("[Host] Remove: dropping stale handle %d on %q", h, p)
		d.handles.Release(h)
	}
	return nil
}

// Rename moves oldPath to newPath. The node keeps its identity, so open
// handles follow it.
func (d *Dispatcher) Rename(oldPath, newPath string) (err error) {
	defer recoverPanic("Rename", &err)
	log.Debugf("[Host] Rename: %q -> %q", oldPath, newPath)
	d.mu.Lock()
	defer d.mu.Unlock()

	if common.AbsPath(oldPath) == common.AbsPath(newPath) {
		return nil
	}
	if common.IsWithin(newPath, oldPath) {
		return d.errno(syscall.EINVAL)
	}
	oldDir, oldName, err := d.resolveParent(oldPath)
	if err != nil {
		return err
	}
	node, err := d.child(oldDir, oldName)
	if err != nil {
		return err
	}
	newDir, newName, err := d.resolveParent(newPath)
	if err != nil {
		return err
	}
	if err := node.NodeOps.Rename(node, newDir, newName); err != nil {
		return err
	}
	d.tree.Rehash(node, oldDir, oldName)
	return nil
}

// ReadDir lists p, including "." and "..". Cached children missing from
// the listing are forgotten.
func (d *Dispatcher) ReadDir(p string) (names []string, err error) {
	defer recoverPanic("ReadDir", &err)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readDir(p)
}

func (d *Dispatcher) readDir(p string) ([]string, error) {
	node, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	if !vfs.IsDirMode(node.Mode) {
		return nil, d.errno(syscall.ENOTDIR)
	}
	names, err := node.NodeOps.Readdir(node)
	if err != nil {
		return nil, err
	}
	d.tree.Prune(node, names)
	return names, nil
}

// ReadDirAttrs lists p without "." and ".." and stats every child.
func (d *Dispatcher) ReadDirAttrs(p string) (entries []DirEntry, err error) {
	defer recoverPanic("ReadDirAttrs", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	names, err := d.readDir(p)
	if err != nil {
		return nil, err
	}
	dir, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		child, err := d.child(dir, name)
		if err != nil {
			log.Debugf("[Host] ReadDirAttrs: %q vanished: %v", name, err)
			continue
		}
		attrs, err := child.NodeOps.Getattr(child)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: name, Attrs: attrs})
	}
	return entries, nil
}

// Setattr hands attributes to the driver, which does not propagate them.
func (d *Dispatcher) Setattr(p string, attrs *vfs.Attributes) (err error) {
	defer recoverPanic("Setattr", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.resolve(p)
	if err != nil {
		return err
	}
	return node.NodeOps.Setattr(node, attrs)
}

// Symlink always fails: the drive has no links.
func (d *Dispatcher) Symlink(target, link string) (err error) {
	defer recoverPanic("Symlink", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, name, err := d.resolveParent(link)
	if err != nil {
		return err
	}
	return parent.NodeOps.Symlink(parent, name, target)
}

// Readlink always fails for existing paths.
func (d *Dispatcher) Readlink(p string) (target string, err error) {
	defer recoverPanic("Readlink", &err)
	d.mu.Lock()
	defer d.mu.Unlock()

	node, err := d.resolve(p)
	if err != nil {
		return "", err
	}
	return node.NodeOps.Readlink(node)
}

// Invalidate drops the name cache so the next resolve asks the remote again.
func (d *Dispatcher) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tree.Reset()
}

// ReadFile returns the whole content of p.
func (d *Dispatcher) ReadFile(p string) ([]byte, error) {
	h, err := d.Open(p, vfs.ORdOnly)
	if err != nil {
		return nil, err
	}
	defer d.Close(h)

	size, err := d.Size(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := d.ReadAt(h, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteFile replaces the content of p, creating it when missing.
func (d *Dispatcher) WriteFile(p string, data []byte) error {
	h, err := d.Open(p, vfs.OWrOnly|vfs.OCreat|vfs.OTrunc)
	if err != nil {
		return err
	}
	if _, err := d.Write(h, data); err != nil {
		d.Close(h)
		return err
	}
	return d.Close(h)
}
