package vfs

import (
	"syscall"

	log "github.com/sirupsen/logrus"
)

// nodeOps implements NodeOps against the remote contents API.
type nodeOps struct {
	fs *DriveFS
}

func (o *nodeOps) Getattr(node *Node) (*Attributes, error) {
	return o.fs.remote.Getattr(o.fs.RealPath(node))
}

// Setattr is not propagated to the remote store. Attribute changes from the
// host (mode, times, size) are accepted and dropped.
func (o *nodeOps) Setattr(node *Node, attr *Attributes) error {
	log.Debugf("[DriveFS] Setattr: %q ignored", node.Name)
	return nil
}

func (o *nodeOps) Lookup(parent *Node, name string) (*Node, error) {
	path := o.fs.paths.Join2(o.fs.RealPath(parent), name)
	log.Debugf("[DriveFS] Lookup: trying %q", path)

	res, err := o.fs.remote.Lookup(path)
	if err != nil {
		return nil, err
	}
	log.Debugf("[DriveFS] Lookup: %q ok=%v mode=%o", path, res.OK, res.Mode)
	if !res.OK {
		return nil, o.fs.errno(syscall.ENOENT)
	}
	return o.fs.CreateNode(parent, name, res.Mode, 0)
}

// Mknod creates the entity remotely first and only then mirrors it locally,
// without looking it up again.
func (o *nodeOps) Mknod(parent *Node, name string, mode uint32, rdev uint64) (*Node, error) {
	if !o.fs.tree.IsDir(mode) && !o.fs.tree.IsFile(mode) {
		return nil, o.fs.errno(syscall.EINVAL)
	}
	path := o.fs.paths.Join2(o.fs.RealPath(parent), name)
	log.Debugf("[DriveFS] Mknod: %q mode=%o", path, mode)

	if err := o.fs.remote.Mknod(path, mode); err != nil {
		return nil, err
	}
	return o.fs.CreateNode(parent, name, mode, rdev)
}

// Rename moves the node remotely, then updates its name and parent. A failed
// remote call leaves the node untouched.
func (o *nodeOps) Rename(oldNode, newDir *Node, newName string) error {
	oldPath := oldNode.Name
	if oldNode.Parent != nil {
		oldPath = o.fs.paths.Join2(o.fs.RealPath(oldNode.Parent), oldNode.Name)
	}
	newPath := o.fs.paths.Join2(o.fs.RealPath(newDir), newName)
	log.Debugf("[DriveFS] Rename: %q -> %q", oldPath, newPath)

	if err := o.fs.remote.Rename(oldPath, newPath); err != nil {
		return err
	}
	oldNode.Name = newName
	oldNode.Parent = newDir
	return nil
}

// Unlink and Rmdir issue the same remote removal; the service decides
// whether removing the entity is allowed.
func (o *nodeOps) Unlink(parent *Node, name string) error {
	return o.fs.remote.Rmdir(o.fs.paths.Join2(o.fs.RealPath(parent), name))
}

func (o *nodeOps) Rmdir(parent *Node, name string) error {
	return o.fs.remote.Rmdir(o.fs.paths.Join2(o.fs.RealPath(parent), name))
}

func (o *nodeOps) Readdir(node *Node) ([]string, error) {
	return o.fs.remote.Readdir(o.fs.RealPath(node))
}

func (o *nodeOps) Symlink(parent *Node, newName, oldPath string) error {
	return o.fs.errno(syscall.EPERM)
}

func (o *nodeOps) Readlink(node *Node) (string, error) {
	return "", o.fs.errno(syscall.EPERM)
}
