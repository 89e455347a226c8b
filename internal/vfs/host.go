package vfs

import (
	"drivefs/internal/common"
	"drivefs/internal/contents"
)

// Tree is the host's node factory and type query. CreateNode allocates and
// registers a node; a nil parent makes the node its own parent.
type Tree interface {
	CreateNode(parent *Node, name string, mode uint32, rdev uint64) *Node
	IsDir(mode uint32) bool
	IsFile(mode uint32) bool
}

// Paths is the host's path-join convention.
type Paths interface {
	Join(parts ...string) string
	Join2(a, b string) string
}

// Remote is the blocking contents API the driver talks to.
// *contents.Client implements it.
type Remote interface {
	Lookup(path string) (contents.LookupResult, error)
	GetMode(path string) (uint32, error)
	Mknod(path string, mode uint32) error
	Rename(oldPath, newPath string) error
	Readdir(path string) ([]string, error)
	Rmdir(path string) error
	Get(path string) (*contents.File, error)
	Put(path string, file *contents.File) error
	Getattr(path string) (*contents.Attributes, error)
}

var _ Remote = (*contents.Client)(nil)

// Options are the capabilities the embedding host hands to the driver.
type Options struct {
	Remote Remote
	Tree   Tree
	Paths  Paths
	Errnos common.ErrnoFactory
}
