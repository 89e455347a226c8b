package vfs

import "sync"

// HandleID is the type for VFS handles
type HandleID uint64

// HandleManager maps handle ids to open streams
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*Stream
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*Stream),
		nextHandle: 1,
	}
}

// Allocate registers an open stream and returns its handle
func (hm *HandleManager) Allocate(stream *Stream) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++
	hm.handles[handle] = stream
	return handle
}

// Get retrieves the stream behind a handle
func (hm *HandleManager) Get(h HandleID) (*Stream, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	s, ok := hm.handles[h]
	return s, ok
}

// Release frees a handle
func (hm *HandleManager) Release(h HandleID) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	delete(hm.handles, h)
}

// Len returns the number of open handles
func (hm *HandleManager) Len() int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return len(hm.handles)
}

// OpenOn returns the handles whose stream is on node, in no particular order
func (hm *HandleManager) OpenOn(node *Node) []HandleID {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	var ids []HandleID
	for id, s := range hm.handles {
		if s.Node == node {
			ids = append(ids, id)
		}
	}
	return ids
}

// Clear removes all handles, returning them so the caller can close them.
// Handle ids are never reused.
func (hm *HandleManager) Clear() map[HandleID]*Stream {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	old := hm.handles
	hm.handles = make(map[HandleID]*Stream)
	return old
}
