package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfsfile "github.com/willscott/go-nfs/file"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"drivefs/internal/cache"
	"drivefs/internal/common"
	"drivefs/internal/host"
	"drivefs/internal/vfs"
)

// handleCacheSize bounds the go-nfs file handle cache.
const handleCacheSize = 65536

// NFSServer serves a mounted drive over NFSv3.
type NFSServer struct {
	listener net.Listener
	server   *nfs.Server
	handler  nfs.Handler
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ NetFSServer = (*NFSServer)(nil)

// NewNFSServer creates an NFS server for the drive behind d. attrs may be
// nil to disable attribute caching.
func NewNFSServer(d *host.Dispatcher, attrs *cache.AttrCache) *NFSServer {
	// go-nfs log level follows ours
	if log.IsLevelEnabled(log.TraceLevel) {
		nfs.Log.SetLevel(nfs.TraceLevel)
	} else if log.IsLevelEnabled(log.DebugLevel) {
		nfs.Log.SetLevel(nfs.DebugLevel)
	}
	billyFS := NewBillyAdapter(d, attrs)
	handler := nfshelper.NewNullAuthHandler(billyFS)
	cacheHelper := nfshelper.NewCachingHandler(handler, handleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &NFSServer{
		server: &nfs.Server{
			Handler: cacheHelper,
			Context: ctx,
		},
		handler: cacheHelper,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Listen binds addr and returns the bound address (useful with port 0).
func (s *NFSServer) Listen(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	return listener.Addr(), nil
}

// Serve answers NFS requests until Shutdown. Listen must be called first.
func (s *NFSServer) Serve() error {
	if s.listener == nil {
		return errors.New("nfs server is not listening")
	}
	defer close(s.done)
	err := s.server.Serve(s.listener)
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown closes the listener and cancels in-flight handlers.
func (s *NFSServer) Shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	// Settle time for in-flight operations after the listener closes.
	time.Sleep(100 * time.Millisecond)
	if s.cancel != nil {
		s.cancel()
	}
}

// Done is closed when Serve returns.
func (s *NFSServer) Done() <-chan struct{} {
	return s.done
}

// BillyAdapter exposes a mounted drive as a billy filesystem.
type BillyAdapter struct {
	d     *host.Dispatcher
	attrs *cache.AttrCache
	uid   uint32 // cached os.Getuid()
	gid   uint32 // cached os.Getgid()
}

// NewBillyAdapter creates a billy adapter for the drive behind d.
func NewBillyAdapter(d *host.Dispatcher, attrs *cache.AttrCache) *BillyAdapter {
	return &BillyAdapter{
		d:     d,
		attrs: attrs,
		uid:   uint32(os.Getuid()),
		gid:   uint32(os.Getgid()),
	}
}

func cacheKey(p string) string {
	return common.AbsPath(p)
}

func (b *BillyAdapter) invalidate(p string) {
	if b.attrs != nil {
		b.attrs.InvalidatePathAndParent(cacheKey(p), common.ParentPath(cacheKey(p)))
	}
}

func (b *BillyAdapter) invalidateTree(p string) {
	if b.attrs != nil {
		b.attrs.InvalidateTree(cacheKey(p))
		b.attrs.InvalidatePath(common.ParentPath(cacheKey(p)))
	}
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0666)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	h, err := b.d.Open(filename, vfs.TranslateOSFlags(flag))
	if err != nil {
		return nil, vfs.PathError("open", filename, err)
	}
	if flag&(os.O_CREATE|os.O_TRUNC) != 0 {
		b.invalidate(filename)
	}
	return &BillyFile{
		adapter: b,
		handle:  h,
		name:    filename,
		flags:   flag,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	key := cacheKey(filename)
	if b.attrs != nil {
		if attrs := b.attrs.Get(key); attrs != nil {
			return b.fileInfo(path.Base(key), attrs), nil
		}
	}
	attrs, err := b.d.Stat(filename)
	if err != nil {
		return nil, vfs.PathError("stat", filename, err)
	}
	if b.attrs != nil {
		b.attrs.Set(key, attrs)
	}
	return b.fileInfo(path.Base(key), attrs), nil
}

// Lstat is Stat: the drive has no links.
func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	return b.Stat(filename)
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	if err := b.d.Rename(oldpath, newpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: vfs.ErrnoOf(err)}
	}
	b.invalidateTree(oldpath)
	b.invalidateTree(newpath)
	return nil
}

func (b *BillyAdapter) Remove(filename string) error {
	if err := b.d.Remove(filename); err != nil {
		return vfs.PathError("remove", filename, err)
	}
	b.invalidate(filename)
	return nil
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile creates a uniquely named empty file in dir.
func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	name := b.Join(dir, prefix+uuid.NewString())
	return b.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0666)
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := b.d.ReadDirAttrs(dirname)
	if err != nil {
		return nil, vfs.PathError("readdir", dirname, err)
	}
	dir := cacheKey(dirname)
	result := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		if b.attrs != nil {
			b.attrs.Set(b.Join(dir, e.Name), e.Attrs)
		}
		result = append(result, b.fileInfo(e.Name, e.Attrs))
	}
	return result, nil
}

func (b *BillyAdapter) MkdirAll(filename string, perm os.FileMode) error {
	if err := b.d.MkdirAll(filename); err != nil {
		return vfs.PathError("mkdir", filename, err)
	}
	b.invalidate(filename)
	return nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return b.d.Symlink(target, link)
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	return b.d.Readlink(link)
}

func (b *BillyAdapter) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(b, b.Join(b.Root(), p)), nil
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change: the driver accepts and drops attribute changes.
func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error {
	return b.d.Setattr(name, &vfs.Attributes{Mode: uint32(mode.Perm())})
}

func (b *BillyAdapter) Lchown(name string, uid, gid int) error { return nil }
func (b *BillyAdapter) Chown(name string, uid, gid int) error  { return nil }

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error {
	return b.d.Setattr(name, &vfs.Attributes{Atime: atime, Mtime: mtime})
}

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability | billy.TruncateCapability
}

func (b *BillyAdapter) fileInfo(name string, attrs *vfs.Attributes) *BillyFileInfo {
	return &BillyFileInfo{name: name, attrs: attrs, uid: b.uid, gid: b.gid}
}

// BillyFile is an open drive handle. The dispatcher keeps the position.
type BillyFile struct {
	adapter *BillyAdapter
	handle  vfs.HandleID
	name    string
	flags   int
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Write(p []byte) (int, error) {
	return f.adapter.d.Write(f.handle, p)
}

func (f *BillyFile) WriteAt(p []byte, off int64) (int, error) {
	return f.adapter.d.WriteAt(f.handle, p, off)
}

func (f *BillyFile) Read(p []byte) (int, error) {
	n, err := f.adapter.d.Read(f.handle, p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// ReadAt reports io.EOF on a short read, as io.ReaderAt requires.
func (f *BillyFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.adapter.d.ReadAt(f.handle, p, off)
	if err == nil && n < len(p) {
		return n, io.EOF
	}
	return n, err
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	return f.adapter.d.Seek(f.handle, offset, whence)
}

// Close writes the buffer back when the open flags call for it.
func (f *BillyFile) Close() error {
	err := f.adapter.d.Close(f.handle)
	if f.flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		f.adapter.invalidate(f.name)
	}
	return err
}

func (f *BillyFile) Lock() error {
	return nil
}

func (f *BillyFile) Unlock() error {
	return nil
}

func (f *BillyFile) Truncate(size int64) error {
	return f.adapter.d.Truncate(f.handle, size)
}

// BillyFileInfo describes a drive entry from its remote attributes.
type BillyFileInfo struct {
	name  string
	attrs *vfs.Attributes
	uid   uint32
	gid   uint32
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return fi.attrs.Size
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	perm := os.FileMode(fi.attrs.Mode & vfs.ModePermMask)
	if fi.IsDir() {
		return os.ModeDir | perm
	}
	return perm
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return fi.attrs.Mtime
}

func (fi *BillyFileInfo) IsDir() bool {
	return vfs.IsDirMode(fi.attrs.Mode)
}

// Sys returns the go-nfs file info; go-nfs only recognizes that type.
func (fi *BillyFileInfo) Sys() interface{} {
	nlink := fi.attrs.Nlink
	if nlink == 0 {
		nlink = 1
	}
	return &nfsfile.FileInfo{
		Nlink:  nlink,
		UID:    fi.uid,
		GID:    fi.gid,
		Fileid: fi.attrs.Ino,
	}
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.Capable    = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
)
