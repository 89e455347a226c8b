package daemon

import (
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	nfsfile "github.com/willscott/go-nfs/file"

	"drivefs/internal/cache"
	"drivefs/internal/vfs"
)

func newTestAdapter(t *testing.T) (*BillyAdapter, *testService, *cache.AttrCache) {
	t.Helper()
	d, svc := newTestDispatcher(t)
	attrs := cache.NewAttrCache(time.Minute, 0)
	return NewBillyAdapter(d, attrs), svc, attrs
}

func TestBillyFileInfoMode(t *testing.T) {
	tests := []struct {
		name string
		mode uint32
		want os.FileMode
	}{
		{"default file", vfs.FileMode, 0666},
		{"executable file", vfs.ModeTypeReg | 0755, 0755},
		{"read-only file", vfs.ModeTypeReg | 0444, 0444},
		{"default directory", vfs.DirMode, os.ModeDir | 0777},
		{"restricted directory", vfs.ModeTypeDir | 0700, os.ModeDir | 0700},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fi := &BillyFileInfo{name: "test", attrs: &vfs.Attributes{Mode: tt.mode}}
			if got := fi.Mode(); got != tt.want {
				t.Errorf("BillyFileInfo.Mode() = %o, want %o", got, tt.want)
			}
		})
	}
}

func TestBillyFileInfoSys(t *testing.T) {
	mtime := time.UnixMilli(1700000000000)
	fi := &BillyFileInfo{
		name:  "a.txt",
		attrs: &vfs.Attributes{Ino: 42, Mode: vfs.FileMode, Size: 7, Mtime: mtime},
		uid:   501,
		gid:   20,
	}
	assert.Equal(t, int64(7), fi.Size())
	assert.Equal(t, mtime, fi.ModTime())
	assert.False(t, fi.IsDir())

	sys, ok := fi.Sys().(*nfsfile.FileInfo)
	require.True(t, ok, "go-nfs only understands its own FileInfo")
	assert.Equal(t, uint64(42), sys.Fileid)
	assert.Equal(t, uint32(1), sys.Nlink)
	assert.Equal(t, uint32(501), sys.UID)
	assert.Equal(t, uint32(20), sys.GID)
}

func TestBillyCreateWriteRead(t *testing.T) {
	b, svc, _ := newTestAdapter(t)

	f, err := b.Create("notes.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = f.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, "hello world", svc.content(t, "/notes.txt"))

	f, err = b.Open("notes.txt")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	buf := make([]byte, 8)
	n, err := f.ReadAt(buf, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "world", string(buf[:n]))

	pos, err := f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)
}

// The NFS write path: open O_RDWR, seek, write, close.
func TestBillyWriteAtOffset(t *testing.T) {
	b, svc, _ := newTestAdapter(t)
	f, err := b.Create("a.bin")
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = b.OpenFile("a.bin", os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.Seek(4, io.SeekStart)
	require.NoError(t, err)
	_, err = f.Write([]byte("xx"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(8))
	require.NoError(t, f.Close())

	g, err := b.Open("a.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(g)
	require.NoError(t, err)
	require.NoError(t, g.Close())
	assert.Equal(t, "0123xx67", string(data))
	assert.NotEmpty(t, svc.content(t, "/a.bin"))
}

func TestBillyStatUsesCache(t *testing.T) {
	b, svc, attrs := newTestAdapter(t)
	f, err := b.Create("a.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fi, err := b.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), fi.Size())
	assert.Equal(t, "a.txt", fi.Name())
	assert.NotNil(t, attrs.Get("/a.txt"))

	// A change behind the adapter is hidden until the entry is invalidated.
	require.NoError(t, svc.Store.Put(t.Context(), "/a.txt", "abcdef", "text"))
	fi, err = b.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), fi.Size())

	attrs.InvalidatePath("/a.txt")
	fi, err = b.Lstat("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(6), fi.Size())

	// Writing through the adapter invalidates.
	f, err = b.OpenFile("a.txt", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("g"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	fi, err = b.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(7), fi.Size())

	_, err = b.Stat("missing")
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.True(t, os.IsNotExist(err))
}

func TestBillyDirectories(t *testing.T) {
	b, _, attrs := newTestAdapter(t)

	require.NoError(t, b.MkdirAll("a/b", 0755))
	f, err := b.Create(b.Join("a", "b", "c.txt"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	f, err = b.Create("a/d.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	infos, err := b.ReadDir("a")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "b", infos[0].Name())
	assert.True(t, infos[0].IsDir())
	assert.Equal(t, "d.txt", infos[1].Name())
	assert.NotNil(t, attrs.Get("/a/d.txt"), "listing fills the cache")

	require.NoError(t, b.Rename("a/b", "a/e"))
	assert.Nil(t, attrs.Get("/a/b"))
	_, err = b.Stat("a/e/c.txt")
	require.NoError(t, err)
	_, err = b.Stat("a/b")
	assert.ErrorIs(t, err, syscall.ENOENT)

	require.NoError(t, b.Remove("a/d.txt"))
	_, err = b.Stat("a/d.txt")
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestBillyTempFileAndChroot(t *testing.T) {
	b, _, _ := newTestAdapter(t)
	require.NoError(t, b.MkdirAll("tmp", 0755))

	f, err := b.TempFile("tmp", "up-")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	infos, err := b.ReadDir("tmp")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Name(), "up-")

	sub, err := b.Chroot("tmp")
	require.NoError(t, err)
	fi, err := sub.Stat(infos[0].Name())
	require.NoError(t, err)
	assert.False(t, fi.IsDir())
	assert.Equal(t, "/", b.Root())
}

func TestBillyLinksAndChange(t *testing.T) {
	b, _, _ := newTestAdapter(t)
	f, err := b.Create("a.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.ErrorIs(t, b.Symlink("a.txt", "link"), syscall.EPERM)
	_, err = b.Readlink("a.txt")
	assert.ErrorIs(t, err, syscall.EPERM)

	require.NoError(t, b.Chmod("a.txt", 0600))
	require.NoError(t, b.Chtimes("a.txt", time.Now(), time.Now()))
	require.NoError(t, b.Chown("a.txt", 1, 1))
	fi, err := b.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0666), fi.Mode(), "mode changes are not propagated")
}
