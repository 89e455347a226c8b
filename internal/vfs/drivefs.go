package vfs

import (
	"errors"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"drivefs/internal/common"
)

// DriveFS is a synchronous driver exposing a remote contents API as a file
// tree. Every node it creates carries the same two callback tables, and
// every operation recomputes the node's remote path from its parent chain.
//
// DriveFS is not safe for concurrent use; the host must issue calls one at
// a time.
type DriveFS struct {
	remote Remote
	tree   Tree
	paths  Paths
	errnos common.ErrnoFactory

	nodeOps   *nodeOps
	streamOps *streamOps

	now func() time.Time
}

// New creates a driver from the host capabilities.
func New(opts Options) (*DriveFS, error) {
	if opts.Remote == nil {
		return nil, errors.New("drivefs: remote is required")
	}
	if opts.Tree == nil {
		return nil, errors.New("drivefs: tree is required")
	}
	if opts.Paths == nil {
		return nil, errors.New("drivefs: paths is required")
	}

	fs := &DriveFS{
		remote: opts.Remote,
		tree:   opts.Tree,
		paths:  opts.Paths,
		errnos: opts.Errnos,
		now:    time.Now,
	}
	if fs.errnos == nil {
		fs.errnos = common.SyscallErrnos{}
	}
	fs.nodeOps = &nodeOps{fs: fs}
	fs.streamOps = &streamOps{fs: fs}
	return fs, nil
}

// NodeOps returns the tree callback table shared by all nodes.
func (fs *DriveFS) NodeOps() NodeOps {
	return fs.nodeOps
}

// StreamOps returns the stream callback table shared by all nodes.
func (fs *DriveFS) StreamOps() StreamOps {
	return fs.streamOps
}

func (fs *DriveFS) errno(code syscall.Errno) error {
	return fs.errnos.Errno(code)
}

// Mount returns the root node for m: a self-parented directory named after
// the mount point.
func (fs *DriveFS) Mount(m *Mount) (*Node, error) {
	if m == nil {
		return nil, fs.errno(syscall.EINVAL)
	}
	root, err := fs.CreateNode(nil, m.Mountpoint, DirMode, 0)
	if err != nil {
		return nil, err
	}
	root.Mount = m
	log.Debugf("[DriveFS] Mount: %q", m.Mountpoint)
	return root, nil
}

// CreateNode asks the host tree for a node and attaches the driver's
// callback tables. Only directory and regular-file modes are accepted.
func (fs *DriveFS) CreateNode(parent *Node, name string, mode uint32, rdev uint64) (*Node, error) {
	if !fs.tree.IsDir(mode) && !fs.tree.IsFile(mode) {
		return nil, fs.errno(syscall.EINVAL)
	}
	node := fs.tree.CreateNode(parent, name, mode, rdev)
	if node.Parent == nil {
		node.Parent = node
	}
	if node.Mount == nil && parent != nil {
		node.Mount = parent.Mount
	}
	if node.Timestamp.IsZero() {
		node.Timestamp = fs.now()
	}
	node.NodeOps = fs.nodeOps
	node.StreamOps = fs.streamOps
	return node, nil
}

// GetMode returns the remote mode bits of path.
func (fs *DriveFS) GetMode(path string) (uint32, error) {
	return fs.remote.GetMode(path)
}

// RealPath joins the names from the root down to node. It is recomputed on
// every call so it follows renames.
func (fs *DriveFS) RealPath(node *Node) string {
	parts := []string{node.Name}
	for cur := node; cur.Parent != nil && cur.Parent != cur; {
		cur = cur.Parent
		parts = append(parts, cur.Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return fs.paths.Join(parts...)
}

// TruncateStream resizes the buffer of an open regular file. Growth is
// zero-filled. The change reaches the remote store on close, subject to
// the stream's write-back policy.
func (fs *DriveFS) TruncateStream(stream *Stream, size int64) error {
	if size < 0 || size > maxFileSize {
		return fs.errno(syscall.EINVAL)
	}
	if !fs.tree.IsFile(stream.Node.Mode) {
		return fs.errno(syscall.EISDIR)
	}
	if stream.File == nil {
		return fs.errno(syscall.EBADF)
	}

	data := stream.File.Data
	switch {
	case size < int64(len(data)):
		stream.File.Data = data[:size:size]
	case size > int64(len(data)):
		grown := make([]byte, size)
		copy(grown, data)
		stream.File.Data = grown
	}
	stream.Node.Timestamp = fs.now()
	return nil
}
