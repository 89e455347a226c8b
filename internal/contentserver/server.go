// Copyright 2024 DriveFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package contentserver is a reference implementation of the contents API
// the drive driver talks to: GET|PUT <prefix>api<path>?m=<op>&args=<arg>,
// backed by a storage.Store.
package contentserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"drivefs/internal/common"
	"drivefs/internal/contents"
	"drivefs/internal/storage"
)

// DefaultRoot is the drive mount point whose paths map onto the store root.
const DefaultRoot = "/drive"

// maxPutBytes bounds a single put body.
const maxPutBytes = 256 << 20

// Store is the storage the server needs. *storage.Store implements it.
type Store interface {
	Lookup(ctx context.Context, p string) (*storage.EntryModel, error)
	Mknod(ctx context.Context, p string, mode uint32) (*storage.EntryModel, error)
	ReadDir(ctx context.Context, p string) ([]string, error)
	Remove(ctx context.Context, p string) error
	Rename(ctx context.Context, oldPath, newPath string) error
	Get(ctx context.Context, p string) (content, format string, err error)
	Put(ctx context.Context, p, content, format string) error
}

var _ Store = (*storage.Store)(nil)

// Config configures a Server.
type Config struct {
	Store Store

	// Root is the drive path that maps to the store root; requests for
	// paths outside it fail.
	Root string

	// Token, when set, must be presented as a bearer token.
	Token string
}

// Server serves the contents API.
type Server struct {
	store Store
	root  string
	token string
}

// New creates a server.
func New(cfg Config) *Server {
	root := cfg.Root
	if root == "" {
		root = DefaultRoot
	}
	return &Server{
		store: cfg.Store,
		root:  common.AbsPath(root),
		token: cfg.Token,
	}
}

// httpError carries a status for the error response.
type httpError struct {
	status int
	err    error
}

func (e *httpError) Error() string { return e.err.Error() }
func (e *httpError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &httpError{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

// storePath maps a drive path onto a store path.
func (s *Server) storePath(p string) (string, error) {
	p = common.AbsPath(p)
	if !common.IsWithin(p, s.root) {
		return "", badRequest("path %q is outside %s", p, s.root)
	}
	if s.root == "/" {
		return p, nil
	}
	return common.AbsPath(strings.TrimPrefix(p, s.root)), nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(contents.RequestIDHeader)
	op := r.URL.Query().Get("m")

	p, ok := strings.CutPrefix(r.URL.Path, "/api")
	if !ok || (p != "" && !strings.HasPrefix(p, "/")) {
		http.NotFound(w, r)
		return
	}

	if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
		writeError(w, reqID, &httpError{status: http.StatusUnauthorized, err: errors.New("unauthorized")})
		return
	}

	wantMethod := http.MethodGet
	if op == contents.OpPut {
		wantMethod = http.MethodPut
	}
	if r.Method != wantMethod {
		writeError(w, reqID, &httpError{status: http.StatusMethodNotAllowed, err: fmt.Errorf("%s not allowed for %q", r.Method, op)})
		return
	}

	result, err := s.dispatch(r, op, p)
	log.Debugf("[ContentServer] %s %s m=%s [%s] -> %v", r.Method, p, op, reqID, err)
	if err != nil {
		writeError(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) dispatch(r *http.Request, op, drivePath string) (any, error) {
	ctx := r.Context()
	q := r.URL.Query()
	p, err := s.storePath(drivePath)
	if err != nil {
		return nil, err
	}

	switch op {
	case contents.OpLookup:
		e, err := s.store.Lookup(ctx, p)
		if errors.Is(err, common.ErrNotFound) {
			return contents.LookupResult{OK: false}, nil
		}
		if err != nil {
			return nil, err
		}
		return contents.LookupResult{OK: true, Mode: e.Mode}, nil

	case contents.OpGetMode:
		e, err := s.store.Lookup(ctx, p)
		if err != nil {
			return nil, err
		}
		return e.Mode, nil

	case contents.OpMknod:
		mode, err := strconv.ParseUint(q.Get("args"), 10, 32)
		if err != nil {
			return nil, badRequest("bad mode %q", q.Get("args"))
		}
		_, err = s.store.Mknod(ctx, p, uint32(mode))
		return nil, err

	case contents.OpRename:
		newPath, err := s.storePath(q.Get("args"))
		if err != nil {
			return nil, err
		}
		return nil, s.store.Rename(ctx, p, newPath)

	case contents.OpReaddir:
		names, err := s.store.ReadDir(ctx, p)
		if err != nil {
			return nil, err
		}
		return names, nil

	case contents.OpRmdir:
		return nil, s.store.Remove(ctx, p)

	case contents.OpGet:
		content, format, err := s.store.Get(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]string{"content": content, "format": format}, nil

	case contents.OpPut:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxPutBytes+1))
		if err != nil {
			return nil, err
		}
		if len(body) > maxPutBytes {
			return nil, &httpError{status: http.StatusRequestEntityTooLarge, err: errors.New("content too large")}
		}
		return nil, s.store.Put(ctx, p, string(body), q.Get("args"))

	case contents.OpGetattr:
		e, err := s.store.Lookup(ctx, p)
		if err != nil {
			return nil, err
		}
		return attributesOf(e), nil

	default:
		return nil, badRequest("unknown operation %q", op)
	}
}

// wireAttributes is the getattr response; times are epoch milliseconds.
type wireAttributes struct {
	Dev     uint64 `json:"dev"`
	Ino     uint64 `json:"ino"`
	Mode    uint32 `json:"mode"`
	Nlink   uint32 `json:"nlink"`
	UID     uint32 `json:"uid"`
	GID     uint32 `json:"gid"`
	Rdev    uint64 `json:"rdev"`
	Size    int64  `json:"size"`
	Blksize int64  `json:"blksize"`
	Blocks  int64  `json:"blocks"`
	Atime   int64  `json:"atime"`
	Mtime   int64  `json:"mtime"`
	Ctime   int64  `json:"ctime"`
}

const blksize = 4096

func attributesOf(e *storage.EntryModel) wireAttributes {
	size := e.Size
	if e.IsDir() {
		size = blksize
	}
	return wireAttributes{
		Dev:     1,
		Ino:     hashPathToInode(e.Path),
		Mode:    e.Mode,
		Nlink:   1,
		Size:    size,
		Blksize: blksize,
		Blocks:  (size + 511) / 512,
		Atime:   e.Atime,
		Mtime:   e.Mtime,
		Ctime:   e.Ctime,
	}
}

// hashPathToInode derives a stable inode number from a path (FNV-1a).
func hashPathToInode(path string) uint64 {
	const fnvPrime = 1099511628211
	const fnvOffset = 14695981039346656037
	hash := uint64(fnvOffset)
	for i := 0; i < len(path); i++ {
		hash ^= uint64(path[i])
		hash *= fnvPrime
	}
	return hash
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("[ContentServer] encode response: %v", err)
	}
}

// writeError answers with a JSON {"error": ...} body. Store errors are 400.
func writeError(w http.ResponseWriter, reqID string, err error) {
	status := http.StatusBadRequest
	var he *httpError
	if errors.As(err, &he) {
		status = he.status
	}
	log.Debugf("[ContentServer] [%s] %d: %v", reqID, status, err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
