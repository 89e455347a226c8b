package vfs

import (
	"time"

	"drivefs/internal/contents"
)

// Mount describes where the drive is attached in the host tree.
type Mount struct {
	// Mountpoint is the host path the drive is attached at, e.g. "/drive".
	// It becomes the root node's name and the first component of every
	// remote path.
	Mountpoint string
}

// Node is one path of the drive as seen by the host tree. It is a cache of a
// remote path's identity: name and parent are all the driver needs to
// recompute the remote path.
type Node struct {
	// ID is assigned by the host tree (inode number).
	ID uint64

	Name string
	Mode uint32
	Rdev uint64

	// Parent is the containing directory. The root is its own parent.
	Parent *Node

	// Timestamp is the last local modification time.
	Timestamp time.Time

	Mount *Mount

	NodeOps   NodeOps
	StreamOps StreamOps
}

// IsRoot reports whether n is the self-parented mount root.
func (n *Node) IsRoot() bool {
	return n.Parent == n
}

// Stream is an open handle on a node.
type Stream struct {
	Node  *Node
	Flags OpenFlags

	// Position is the cursor maintained by the host; Read and Write are
	// always given an explicit position.
	Position int64

	// File holds the whole content of a regular file between open and close.
	File *contents.File
}

// NodeOps is the tree callback table attached to every node.
type NodeOps interface {
	Getattr(node *Node) (*Attributes, error)
	Setattr(node *Node, attr *Attributes) error
	Lookup(parent *Node, name string) (*Node, error)
	Mknod(parent *Node, name string, mode uint32, rdev uint64) (*Node, error)
	Rename(oldNode, newDir *Node, newName string) error
	Unlink(parent *Node, name string) error
	Rmdir(parent *Node, name string) error
	Readdir(node *Node) ([]string, error)
	Symlink(parent *Node, newName, oldPath string) error
	Readlink(node *Node) (string, error)
}

// StreamOps is the open-handle callback table attached to every node.
type StreamOps interface {
	Open(stream *Stream) error
	Close(stream *Stream) error
	Read(stream *Stream, dst []byte, offset, length int, position int64) (int, error)
	Write(stream *Stream, src []byte, offset, length int, position int64) (int, error)
	Llseek(stream *Stream, offset int64, whence int) (int64, error)
}
