package vfs

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_Missing(t *testing.T) {
	t.Parallel()

	_, root, remote, tree := newTestDrive(t)
	before := tree.count()

	for _, name := range []string{"nope", "a.txt", "deep"} {
		_, err := root.NodeOps.Lookup(root, name)
		assert.True(t, errors.Is(err, syscall.ENOENT), name)
	}
	assert.Equal(t, before, tree.count())
	assert.Equal(t, "/drive/nope", remote.callsOf("lookup")[0].Path)
}

func TestLookup_Found(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)
	remote.addDir("/drive/sub")
	remote.addFile("/drive/sub/f.py", "x = 1", "text")

	sub, err := root.NodeOps.Lookup(root, "sub")
	require.NoError(t, err)
	assert.Equal(t, DirMode, sub.Mode)
	assert.Same(t, root, sub.Parent)

	f, err := sub.NodeOps.Lookup(sub, "f.py")
	require.NoError(t, err)
	assert.Equal(t, FileMode, f.Mode)
	assert.Equal(t, "f.py", f.Name)
	assert.Equal(t, "/drive/sub/f.py", remote.callsOf("lookup")[1].Path)
}

func TestLookup_RemoteFailure(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)
	remote.fail["lookup"] = true

	_, err := root.NodeOps.Lookup(root, "x")
	assert.True(t, errors.Is(err, syscall.EINVAL))
}

func TestMknod(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)

	dir, err := root.NodeOps.Mknod(root, "d", DirMode, 0)
	require.NoError(t, err)
	file, err := dir.NodeOps.Mknod(dir, "f.txt", FileMode, 0)
	require.NoError(t, err)

	assert.Equal(t, DirMode, dir.Mode)
	assert.Equal(t, FileMode, file.Mode)
	assert.Same(t, dir, file.Parent)

	calls := remote.callsOf("mknod")
	require.Len(t, calls, 2)
	assert.Equal(t, "/drive/d", calls[0].Path)
	assert.Equal(t, "/drive/d/f.txt", calls[1].Path)
	// No verification lookup after create.
	assert.Empty(t, remote.callsOf("lookup"))
}

func TestMknod_RemoteFailureCreatesNothing(t *testing.T) {
	t.Parallel()

	_, root, remote, tree := newTestDrive(t)
	remote.fail["mknod"] = true
	before := tree.count()

	_, err := root.NodeOps.Mknod(root, "f.txt", FileMode, 0)
	assert.True(t, errors.Is(err, syscall.EINVAL))
	assert.Equal(t, before, tree.count())
}

func TestMknod_BadModeNeverReachesRemote(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)

	_, err := root.NodeOps.Mknod(root, "fifo", 0o010644, 0)
	assert.True(t, errors.Is(err, syscall.EINVAL))
	assert.Empty(t, remote.callsOf("mknod"))
}

func TestRename(t *testing.T) {
	t.Parallel()

	fs, root, remote, _ := newTestDrive(t)
	remote.addDir("/drive/src")
	remote.addDir("/drive/dst")
	remote.addFile("/drive/src/a.txt", "A", "text")

	src, err := root.NodeOps.Lookup(root, "src")
	require.NoError(t, err)
	dst, err := root.NodeOps.Lookup(root, "dst")
	require.NoError(t, err)
	a, err := src.NodeOps.Lookup(src, "a.txt")
	require.NoError(t, err)

	require.NoError(t, a.NodeOps.Rename(a, dst, "b.txt"))

	assert.Equal(t, "b.txt", a.Name)
	assert.Same(t, dst, a.Parent)
	assert.Equal(t, "/drive/dst/b.txt", fs.RealPath(a))

	calls := remote.callsOf("rename")
	require.Len(t, calls, 1)
	assert.Equal(t, "/drive/src/a.txt", calls[0].Path)
	assert.Equal(t, "/drive/dst/b.txt", calls[0].Arg)
	assert.Equal(t, "A", remote.content("/drive/dst/b.txt"))
}

func TestRename_FailureLeavesNodeUnchanged(t *testing.T) {
	t.Parallel()

	fs, root, remote, _ := newTestDrive(t)
	remote.addDir("/drive/src")
	remote.addDir("/drive/dst")
	remote.addFile("/drive/src/a.txt", "A", "text")

	src, err := root.NodeOps.Lookup(root, "src")
	require.NoError(t, err)
	dst, err := root.NodeOps.Lookup(root, "dst")
	require.NoError(t, err)
	a, err := src.NodeOps.Lookup(src, "a.txt")
	require.NoError(t, err)

	remote.fail["rename"] = true
	err = a.NodeOps.Rename(a, dst, "b.txt")
	assert.True(t, errors.Is(err, syscall.EINVAL))

	assert.Equal(t, "a.txt", a.Name)
	assert.Same(t, src, a.Parent)
	assert.Equal(t, "/drive/src/a.txt", fs.RealPath(a))
}

func TestUnlinkAndRmdirIssueSameRemoteCall(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)
	remote.addFile("/drive/f.txt", "x", "text")
	remote.addDir("/drive/d")

	require.NoError(t, root.NodeOps.Unlink(root, "f.txt"))
	require.NoError(t, root.NodeOps.Rmdir(root, "d"))

	calls := remote.callsOf("rmdir")
	require.Len(t, calls, 2)
	assert.Equal(t, "/drive/f.txt", calls[0].Path)
	assert.Equal(t, "/drive/d", calls[1].Path)
	assert.Empty(t, remote.callsOf("unlink"))

	remote.fail["rmdir"] = true
	assert.True(t, errors.Is(root.NodeOps.Unlink(root, "x"), syscall.EINVAL))
	assert.True(t, errors.Is(root.NodeOps.Rmdir(root, "x"), syscall.EINVAL))
}

func TestReaddir(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)
	remote.addFile("/drive/a.txt", "", "text")
	remote.addDir("/drive/sub")

	names, err := root.NodeOps.Readdir(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub", ".", ".."}, names)
}

func TestGetattr(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)
	remote.addFile("/drive/a.txt", "12345", "text")
	a, err := root.NodeOps.Lookup(root, "a.txt")
	require.NoError(t, err)

	attr, err := a.NodeOps.Getattr(a)
	require.NoError(t, err)
	assert.Equal(t, int64(5), attr.Size)
	assert.Equal(t, FileMode, attr.Mode)
	assert.Equal(t, "/drive/a.txt", remote.callsOf("getattr")[0].Path)
}

func TestSetattrIsNoop(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)
	before := len(remote.calls)

	require.NoError(t, root.NodeOps.Setattr(root, &Attributes{Mode: 0o700, Size: 3}))
	assert.Equal(t, DirMode, root.Mode)
	assert.Len(t, remote.calls, before)
}

func TestSymlinksRejected(t *testing.T) {
	t.Parallel()

	_, root, remote, _ := newTestDrive(t)

	err := root.NodeOps.Symlink(root, "link", "/drive/target")
	assert.True(t, errors.Is(err, syscall.EPERM))

	_, err = root.NodeOps.Readlink(root)
	assert.True(t, errors.Is(err, syscall.EPERM))
	assert.Empty(t, remote.calls)
}
