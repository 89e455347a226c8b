//go:build smb

package daemon

import (
	"errors"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"sync"
	"syscall"

	smb2 "github.com/macos-fuse-t/go-smb2/server"
	smbvfs "github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"

	"drivefs/internal/common"
	"drivefs/internal/host"
	"drivefs/internal/vfs"
)

// smbShareName is the single share an SMB export offers.
const smbShareName = "drivefs"

// renameReplaceIfExists is the SMB2 rename flag allowing an existing target.
const renameReplaceIfExists = 0x01

// SMBServer serves a mounted drive over SMB2.
type SMBServer struct {
	server *smb2.Server
	addr   net.Addr
}

var _ NetFSServer = (*SMBServer)(nil)

// NewSMBServer creates a guest-only SMB server sharing fs as shareName.
func NewSMBServer(fs smbvfs.VFSFileSystem, shareName string) *SMBServer {
	smbCfg := &smb2.ServerConfig{
		AllowGuest:  true,
		MaxIOReads:  4,
		MaxIOWrites: 4,
	}

	shares := map[string]smbvfs.VFSFileSystem{
		shareName: fs,
	}

	auth := &smb2.NTLMAuthenticator{
		NbDomain:   "WORKGROUP",
		NbName:     "DRIVEFS",
		DnsName:    "drivefs.local",
		DnsDomain:  ".local",
		AllowGuest: true,
	}

	return &SMBServer{
		server: smb2.NewServer(smbCfg, auth, shares),
	}
}

// Listen resolves addr to a concrete address. go-smb2 binds by itself in
// Serve, so a free port is picked here and released again.
func (s *SMBServer) Listen(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	defer listener.Close()
	s.addr = listener.Addr()
	return s.addr, nil
}

func (s *SMBServer) Serve() error {
	if s.addr == nil {
		return errors.New("smb server is not listening")
	}
	return s.server.Serve(s.addr.String())
}

func (s *SMBServer) Shutdown() {
	s.server.Shutdown()
}

// smbHandle is one SMB open. Files carry a dispatcher handle; directories
// only their path and enumeration state.
type smbHandle struct {
	path    string
	dir     bool
	file    vfs.HandleID
	listed  bool
	removed bool
}

// SMBAdapter exposes a mounted drive as a go-smb2 file system. Handle 0 is
// the share root.
type SMBAdapter struct {
	d   *host.Dispatcher
	uid uint32
	gid uint32

	mu      sync.Mutex
	next    smbvfs.VfsHandle
	handles map[smbvfs.VfsHandle]*smbHandle
}

var _ smbvfs.VFSFileSystem = (*SMBAdapter)(nil)

// NewSMBAdapter creates an SMB adapter for the drive behind d.
func NewSMBAdapter(d *host.Dispatcher) *SMBAdapter {
	return &SMBAdapter{
		d:       d,
		uid:     uint32(os.Getuid()),
		gid:     uint32(os.Getgid()),
		next:    1,
		handles: make(map[smbvfs.VfsHandle]*smbHandle),
	}
}

func (a *SMBAdapter) allocate(h *smbHandle) smbvfs.VfsHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	a.handles[id] = h
	return id
}

func (a *SMBAdapter) get(handle smbvfs.VfsHandle) (*smbHandle, error) {
	if handle == 0 {
		return &smbHandle{path: "/", dir: true}, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.handles[handle]
	if !ok {
		return nil, syscall.EBADF
	}
	return h, nil
}

func (a *SMBAdapter) fileHandle(handle smbvfs.VfsHandle) (*smbHandle, error) {
	h, err := a.get(handle)
	if err != nil {
		return nil, err
	}
	if h.dir {
		return nil, syscall.EISDIR
	}
	return h, nil
}

func (a *SMBAdapter) attributes(attrs *vfs.Attributes) *smbvfs.Attributes {
	out := &smbvfs.Attributes{}
	nlink := attrs.Nlink
	if nlink == 0 {
		nlink = 1
	}
	out.SetFileHandle(smbvfs.VfsNode(attrs.Ino))
	out.SetInodeNumber(attrs.Ino)
	out.SetSizeBytes(uint64(attrs.Size))
	out.SetLinkCount(nlink)
	out.SetUID(a.uid)
	out.SetGID(a.gid)
	out.SetPermissions(smbvfs.NewPermissionsFromMode(attrs.Mode))
	out.SetUnixMode(attrs.Mode & vfs.ModePermMask)
	out.SetLastDataModificationTime(attrs.Mtime)
	out.SetLastStatusChangeTime(attrs.Ctime)
	out.SetAccessTime(attrs.Atime)
	out.SetBirthTime(attrs.Ctime)
	out.SetChangeID(uint64(attrs.Mtime.UnixNano()))
	if vfs.IsDirMode(attrs.Mode) {
		out.SetFileType(smbvfs.FileTypeDirectory)
	} else {
		out.SetFileType(smbvfs.FileTypeRegularFile)
	}
	return out
}

func (a *SMBAdapter) stat(p string) (*smbvfs.Attributes, error) {
	attrs, err := a.d.Stat(p)
	if err != nil {
		return nil, vfs.ErrnoOf(err)
	}
	return a.attributes(attrs), nil
}

func (a *SMBAdapter) GetAttr(handle smbvfs.VfsHandle) (*smbvfs.Attributes, error) {
	h, err := a.get(handle)
	if err != nil {
		return nil, err
	}
	return a.stat(h.path)
}

// SetAttr applies size changes to open files. Other attributes go to the
// driver, which drops them.
func (a *SMBAdapter) SetAttr(handle smbvfs.VfsHandle, in *smbvfs.Attributes) (*smbvfs.Attributes, error) {
	h, err := a.get(handle)
	if err != nil {
		return nil, err
	}
	if size, ok := in.GetSizeBytes(); ok && !h.dir {
		if err := a.d.Truncate(h.file, int64(size)); err != nil {
			return nil, vfs.ErrnoOf(err)
		}
	}
	var attrs vfs.Attributes
	if mode, ok := in.GetUnixMode(); ok {
		attrs.Mode = mode
	}
	if mtime, ok := in.GetLastDataModificationTime(); ok {
		attrs.Mtime = mtime
	}
	if err := a.d.Setattr(h.path, &attrs); err != nil {
		return nil, vfs.ErrnoOf(err)
	}
	return a.stat(h.path)
}

func (a *SMBAdapter) StatFS(handle smbvfs.VfsHandle) (*smbvfs.FSAttributes, error) {
	attrs := &smbvfs.FSAttributes{}
	attrs.SetBlockSize(4096)
	attrs.SetIOSize(4096)
	attrs.SetBlocks(1000000)
	attrs.SetFreeBlocks(500000)
	attrs.SetAvailableBlocks(500000)
	attrs.SetFiles(100000)
	attrs.SetFreeFiles(50000)
	return attrs, nil
}

// FSync is a no-op: buffers are written back on Close.
func (a *SMBAdapter) FSync(handle smbvfs.VfsHandle) error {
	return nil
}

func (a *SMBAdapter) Flush(handle smbvfs.VfsHandle) error {
	return nil
}

// Open opens a regular file. Directories go through OpenDir.
func (a *SMBAdapter) Open(p string, flags int, mode int) (smbvfs.VfsHandle, error) {
	p = common.AbsPath(p)
	log.Debugf("[SMB] Open: path=%q flags=%d", p, flags)
	if attrs, err := a.d.Stat(p); err == nil && vfs.IsDirMode(attrs.Mode) {
		return 0, syscall.EISDIR
	}
	fh, err := a.d.Open(p, vfs.TranslateOSFlags(flags))
	if err != nil {
		return 0, vfs.ErrnoOf(err)
	}
	return a.allocate(&smbHandle{path: p, file: fh}), nil
}

// Close writes a file back. Files removed while open have nothing left to
// write.
func (a *SMBAdapter) Close(handle smbvfs.VfsHandle) error {
	a.mu.Lock()
	h, ok := a.handles[handle]
	delete(a.handles, handle)
	a.mu.Unlock()
	if !ok {
		return syscall.EBADF
	}
	if h.dir || h.removed {
		return nil
	}
	if err := a.d.Close(h.file); err != nil {
		return vfs.ErrnoOf(err)
	}
	return nil
}

// Lookup resolves name, which may hold several components, under the
// directory behind dirHandle.
func (a *SMBAdapter) Lookup(dirHandle smbvfs.VfsHandle, name string) (*smbvfs.Attributes, error) {
	dir, err := a.get(dirHandle)
	if err != nil {
		return nil, err
	}
	if !dir.dir {
		return nil, syscall.ENOTDIR
	}
	return a.stat(path.Join(dir.path, strings.TrimPrefix(name, "/")))
}

func (a *SMBAdapter) Mkdir(p string, mode int) (*smbvfs.Attributes, error) {
	p = common.AbsPath(p)
	if err := a.d.Mkdir(p); err != nil {
		return nil, vfs.ErrnoOf(err)
	}
	return a.stat(p)
}

func (a *SMBAdapter) Read(handle smbvfs.VfsHandle, buf []byte, offset uint64, flags int) (int, error) {
	h, err := a.fileHandle(handle)
	if err != nil {
		return 0, err
	}
	n, err := a.d.ReadAt(h.file, buf, int64(offset))
	if err != nil {
		return n, vfs.ErrnoOf(err)
	}
	if n == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (a *SMBAdapter) Write(handle smbvfs.VfsHandle, buf []byte, offset uint64, flags int) (int, error) {
	h, err := a.fileHandle(handle)
	if err != nil {
		return 0, err
	}
	n, err := a.d.WriteAt(h.file, buf, int64(offset))
	if err != nil {
		return n, vfs.ErrnoOf(err)
	}
	return n, nil
}

func (a *SMBAdapter) OpenDir(p string) (smbvfs.VfsHandle, error) {
	p = common.AbsPath(p)
	attrs, err := a.d.Stat(p)
	if err != nil {
		return 0, vfs.ErrnoOf(err)
	}
	if !vfs.IsDirMode(attrs.Mode) {
		return 0, syscall.ENOTDIR
	}
	return a.allocate(&smbHandle{path: p, dir: true}), nil
}

// ReadDir returns the whole listing once, then io.EOF. A positive pos
// restarts the enumeration.
func (a *SMBAdapter) ReadDir(handle smbvfs.VfsHandle, pos int, count int) ([]smbvfs.DirInfo, error) {
	h, err := a.get(handle)
	if err != nil {
		return nil, err
	}
	if !h.dir {
		return nil, syscall.ENOTDIR
	}
	a.mu.Lock()
	if pos > 0 {
		h.listed = false
	}
	listed := h.listed
	h.listed = true
	a.mu.Unlock()
	if listed {
		return nil, io.EOF
	}

	self, err := a.d.Stat(h.path)
	if err != nil {
		return nil, vfs.ErrnoOf(err)
	}
	entries, err := a.d.ReadDirAttrs(h.path)
	if err != nil {
		return nil, vfs.ErrnoOf(err)
	}
	dot := *a.attributes(self)
	result := []smbvfs.DirInfo{
		{Name: ".", Attributes: dot},
		{Name: "..", Attributes: dot},
	}
	for _, e := range entries {
		result = append(result, smbvfs.DirInfo{Name: e.Name, Attributes: *a.attributes(e.Attrs)})
	}
	if count > 0 && count < len(result) {
		result = result[:count]
	}
	return result, nil
}

func (a *SMBAdapter) Readlink(handle smbvfs.VfsHandle) (string, error) {
	h, err := a.get(handle)
	if err != nil {
		return "", err
	}
	target, err := a.d.Readlink(h.path)
	if err != nil {
		return "", vfs.ErrnoOf(err)
	}
	return target, nil
}

// Unlink removes the file or empty directory behind handle. The handle
// stays valid until Close.
func (a *SMBAdapter) Unlink(handle smbvfs.VfsHandle) error {
	h, err := a.get(handle)
	if err != nil {
		return err
	}
	if err := a.d.Remove(h.path); err != nil {
		return vfs.ErrnoOf(err)
	}
	a.mu.Lock()
	h.removed = true
	a.mu.Unlock()
	return nil
}

func (a *SMBAdapter) Truncate(handle smbvfs.VfsHandle, size uint64) error {
	h, err := a.fileHandle(handle)
	if err != nil {
		return err
	}
	if err := a.d.Truncate(h.file, int64(size)); err != nil {
		return vfs.ErrnoOf(err)
	}
	return nil
}

// Rename moves the entry behind handle. A bare newName stays in the same
// directory; a name with slashes is taken from the share root.
func (a *SMBAdapter) Rename(handle smbvfs.VfsHandle, newName string, flags int) error {
	h, err := a.get(handle)
	if err != nil {
		return err
	}
	newName = strings.ReplaceAll(newName, `\`, "/")
	newPath := path.Join(common.ParentPath(h.path), newName)
	if strings.Contains(newName, "/") {
		newPath = common.AbsPath(newName)
	}
	if flags&renameReplaceIfExists == 0 && newPath != h.path {
		if _, err := a.d.Stat(newPath); err == nil {
			return syscall.EEXIST
		}
	}
	if err := a.d.Rename(h.path, newPath); err != nil {
		return vfs.ErrnoOf(err)
	}
	a.mu.Lock()
	h.path = newPath
	a.mu.Unlock()
	return nil
}

func (a *SMBAdapter) Symlink(handle smbvfs.VfsHandle, target string, mode int) (*smbvfs.Attributes, error) {
	h, err := a.get(handle)
	if err != nil {
		return nil, err
	}
	if err := a.d.Symlink(target, h.path); err != nil {
		return nil, vfs.ErrnoOf(err)
	}
	return a.stat(h.path)
}

func (a *SMBAdapter) Link(srcNode smbvfs.VfsNode, dstNode smbvfs.VfsNode, name string) (*smbvfs.Attributes, error) {
	return nil, syscall.ENOTSUP
}

// The drive has no extended attributes.

func (a *SMBAdapter) Listxattr(handle smbvfs.VfsHandle) ([]string, error) {
	return nil, syscall.ENOTSUP
}

func (a *SMBAdapter) Getxattr(handle smbvfs.VfsHandle, name string, buf []byte) (int, error) {
	return 0, syscall.ENOTSUP
}

func (a *SMBAdapter) Setxattr(handle smbvfs.VfsHandle, name string, value []byte) error {
	return syscall.ENOTSUP
}

func (a *SMBAdapter) Removexattr(handle smbvfs.VfsHandle, name string) error {
	return syscall.ENOTSUP
}
