package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drivefs/internal/common"
	"drivefs/internal/contents"
)

// testTree is a minimal host tree: it numbers nodes and self-parents roots.
type testTree struct {
	mu     sync.Mutex
	nextID uint64
	nodes  []*Node
}

func (t *testTree) CreateNode(parent *Node, name string, mode uint32, rdev uint64) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	n := &Node{ID: t.nextID, Name: name, Mode: mode, Rdev: rdev, Parent: parent}
	if parent == nil {
		n.Parent = n
	}
	t.nodes = append(t.nodes, n)
	return n
}

func (t *testTree) IsDir(mode uint32) bool  { return IsDirMode(mode) }
func (t *testTree) IsFile(mode uint32) bool { return IsFileMode(mode) }

func (t *testTree) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

type testPaths struct{}

func (testPaths) Join(parts ...string) string { return path.Join(parts...) }
func (testPaths) Join2(a, b string) string    { return path.Join(a, b) }

// remoteCall records one call into memRemote.
type remoteCall struct {
	Op   string
	Path string
	Arg  string
}

type memEntry struct {
	mode uint32
	file *contents.File
}

// memRemote is an in-memory Remote that records every call. Setting
// fail[op] makes that operation return EINVAL without touching state.
type memRemote struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	calls   []remoteCall
	fail    map[string]bool
}

func newMemRemote() *memRemote {
	return &memRemote{
		entries: map[string]*memEntry{"/drive": {mode: DirMode}},
		fail:    map[string]bool{},
	}
}

func (m *memRemote) record(op, p, arg string) error {
	m.calls = append(m.calls, remoteCall{Op: op, Path: p, Arg: arg})
	if m.fail[op] {
		return syscall.EINVAL
	}
	return nil
}

func (m *memRemote) addFile(p string, data string, format contents.Format) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p] = &memEntry{mode: FileMode, file: &contents.File{Data: []byte(data), Format: format}}
}

func (m *memRemote) addDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[p] = &memEntry{mode: DirMode}
}

func (m *memRemote) content(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[p]
	if !ok || e.file == nil {
		return ""
	}
	return string(e.file.Data)
}

func (m *memRemote) callsOf(op string) []remoteCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []remoteCall
	for _, c := range m.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *memRemote) Lookup(p string) (contents.LookupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("lookup", p, ""); err != nil {
		return contents.LookupResult{}, err
	}
	e, ok := m.entries[p]
	if !ok {
		return contents.LookupResult{}, nil
	}
	return contents.LookupResult{OK: true, Mode: e.mode}, nil
}

func (m *memRemote) GetMode(p string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("getmode", p, ""); err != nil {
		return 0, err
	}
	e, ok := m.entries[p]
	if !ok {
		return 0, syscall.EINVAL
	}
	return e.mode, nil
}

func (m *memRemote) Mknod(p string, mode uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("mknod", p, ""); err != nil {
		return err
	}
	e := &memEntry{mode: mode}
	if IsFileMode(mode) {
		e.file = &contents.File{Data: []byte{}, Format: contents.FormatText}
	}
	m.entries[p] = e
	return nil
}

func (m *memRemote) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("rename", oldPath, newPath); err != nil {
		return err
	}
	e, ok := m.entries[oldPath]
	if !ok {
		return syscall.EINVAL
	}
	delete(m.entries, oldPath)
	m.entries[newPath] = e
	return nil
}

func (m *memRemote) Readdir(p string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("readdir", p, ""); err != nil {
		return nil, err
	}
	var names []string
	for k := range m.entries {
		if k != p && path.Dir(k) == p {
			names = append(names, strings.TrimPrefix(k, p+"/"))
		}
	}
	sort.Strings(names)
	return append(names, ".", ".."), nil
}

func (m *memRemote) Rmdir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("rmdir", p, ""); err != nil {
		return err
	}
	delete(m.entries, p)
	return nil
}

func (m *memRemote) Get(p string) (*contents.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("get", p, ""); err != nil {
		return nil, err
	}
	e, ok := m.entries[p]
	if !ok || e.file == nil {
		return nil, syscall.ENOENT
	}
	data := append([]byte(nil), e.file.Data...)
	return &contents.File{Data: data, Format: e.file.Format}, nil
}

func (m *memRemote) Put(p string, file *contents.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("put", p, string(file.Format)); err != nil {
		return err
	}
	data := append([]byte(nil), file.Data...)
	m.entries[p] = &memEntry{mode: FileMode, file: &contents.File{Data: data, Format: file.Format}}
	return nil
}

func (m *memRemote) Getattr(p string) (*contents.Attributes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("getattr", p, ""); err != nil {
		return nil, err
	}
	e, ok := m.entries[p]
	if !ok {
		return nil, syscall.EINVAL
	}
	a := &contents.Attributes{Mode: e.mode, Nlink: 1, Mtime: time.UnixMilli(1700000000000)}
	if e.file != nil {
		a.Size = int64(len(e.file.Data))
	}
	return a, nil
}

// newTestDrive mounts a driver at /drive over a fresh memRemote.
func newTestDrive(t *testing.T) (*DriveFS, *Node, *memRemote, *testTree) {
	t.Helper()
	remote := newMemRemote()
	tree := &testTree{}
	fs, err := New(Options{Remote: remote, Tree: tree, Paths: testPaths{}, Errnos: common.SyscallErrnos{}})
	require.NoError(t, err)
	root, err := fs.Mount(&Mount{Mountpoint: "/drive"})
	require.NoError(t, err)
	return fs, root, remote, tree
}

// openStream opens node through its stream table.
func openStream(t *testing.T, node *Node, flags int) *Stream {
	t.Helper()
	s := &Stream{Node: node, Flags: Flags(flags)}
	require.NoError(t, node.StreamOps.Open(s))
	return s
}
