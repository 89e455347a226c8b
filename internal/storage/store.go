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

// Package storage is the SQLite store behind the reference contents
// service: one row per path holding mode, content in wire form, and times.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	_ "github.com/tursodatabase/go-libsql"
	"github.com/uptrace/bun"

	"drivefs/internal/common"
)

// Store holds the entries of one contents service.
type Store struct {
	path  string
	db    *sql.DB
	bunDB *BunDB
	now   func() time.Time
}

// Open opens the store at path, creating it and its root entry if needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("libsql", BuildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Must be explicit: libsql ignores DSN-based _pragma=value parameters.
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	// Create schema (execute statements individually for libsql compatibility)
	if err := execStatements(db, contentsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	now := time.Now().UnixMilli()
	if err := execStatements(db, initContents, SchemaVersion, DefaultDirMode, now, now, now); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	bunDB := NewBunDB(db)
	fileType, err := bunDB.GetSchemaInfo(context.Background(), "type")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema info: %w", err)
	}
	if fileType != "contents" {
		db.Close()
		return nil, fmt.Errorf("not a contents store (type=%s)", fileType)
	}

	log.Debugf("[Storage] opened %s", path)
	return &Store{
		path:  path,
		db:    db,
		bunDB: bunDB,
		now:   time.Now,
	}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// BunDB returns the query layer
func (s *Store) BunDB() *BunDB {
	return s.bunDB
}

func (s *Store) nowMilli() int64 {
	return s.now().UnixMilli()
}

// Lookup returns the entry at p.
func (s *Store) Lookup(ctx context.Context, p string) (*EntryModel, error) {
	return s.bunDB.GetEntry(ctx, common.AbsPath(p))
}

// parentDir returns the entry of p's parent, which must be a directory.
func (s *Store) parentDir(ctx context.Context, idb bun.IDB, p string) (*EntryModel, error) {
	parent, err := s.bunDB.GetEntryWith(idb, ctx, common.ParentPath(p))
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, common.ErrNotDir
	}
	return parent, nil
}

// Mknod creates an empty file or a directory at p. The parent must be an
// existing directory and p must be free.
func (s *Store) Mknod(ctx context.Context, p string, mode uint32) (*EntryModel, error) {
	p = common.AbsPath(p)
	if p == RootPath {
		return nil, common.ErrExists
	}
	switch mode & ModeMask {
	case ModeDir, ModeFile:
	default:
		return nil, common.ErrInvalidMode
	}
	if _, err := s.parentDir(ctx, s.bunDB.DB, p); err != nil {
		return nil, err
	}
	if _, err := s.bunDB.GetEntry(ctx, p); err == nil {
		return nil, common.ErrExists
	}

	now := s.nowMilli()
	entry := &EntryModel{
		Path:   p,
		Parent: common.ParentPath(p),
		Mode:   mode,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	if entry.IsFile() {
		entry.Format = FormatForPath(p)
	}
	if err := s.bunDB.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// ReadDir lists the child names of the directory p.
func (s *Store) ReadDir(ctx context.Context, p string) ([]string, error) {
	p = common.AbsPath(p)
	entry, err := s.bunDB.GetEntry(ctx, p)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir() {
		return nil, common.ErrNotDir
	}
	return s.bunDB.ListChildNames(ctx, p)
}

// Remove deletes the file or empty directory at p.
func (s *Store) Remove(ctx context.Context, p string) error {
	p = common.AbsPath(p)
	if p == RootPath {
		return common.ErrInvalidPath
	}
	return s.bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entry, err := s.bunDB.GetEntryWith(tx, ctx, p)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			n, err := s.bunDB.CountChildrenWith(tx, ctx, p)
			if err != nil {
				return err
			}
			if n > 0 {
				return common.ErrNotEmpty
			}
		}
		return s.bunDB.DeleteEntryWith(tx, ctx, p)
	})
}

// Rename moves oldPath and everything under it to newPath. An existing
// file at newPath is replaced by a file; an existing empty directory is
// replaced by a directory.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	oldPath, newPath = common.AbsPath(oldPath), common.AbsPath(newPath)
	if oldPath == RootPath || newPath == RootPath {
		return common.ErrInvalidPath
	}
	if oldPath == newPath {
		return nil
	}
	if common.IsWithin(newPath, oldPath) {
		return common.ErrInvalidPath
	}

	return s.bunDB.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		src, err := s.bunDB.GetEntryWith(tx, ctx, oldPath)
		if err != nil {
			return err
		}
		if _, err := s.parentDir(ctx, tx, newPath); err != nil {
			return err
		}

		dst, err := s.bunDB.GetEntryWith(tx, ctx, newPath)
		switch {
		case err == common.ErrNotFound:
		case err != nil:
			return err
		case src.IsDir() != dst.IsDir():
			if dst.IsDir() {
				return common.ErrIsDir
			}
			return common.ErrNotDir
		case dst.IsDir():
			n, err := s.bunDB.CountChildrenWith(tx, ctx, newPath)
			if err != nil {
				return err
			}
			if n > 0 {
				return common.ErrNotEmpty
			}
			fallthrough
		default:
			if err := s.bunDB.DeleteEntryWith(tx, ctx, newPath); err != nil {
				return err
			}
		}

		return s.bunDB.MoveTreeWith(tx, ctx, oldPath, newPath, common.ParentPath(newPath), s.nowMilli())
	})
}

// Get returns the wire-form content and format of the file p.
func (s *Store) Get(ctx context.Context, p string) (content, format string, err error) {
	entry, err := s.bunDB.GetEntry(ctx, common.AbsPath(p))
	if err != nil {
		return "", "", err
	}
	if entry.IsDir() {
		return "", "", common.ErrIsDir
	}
	return entry.Content, entry.Format, nil
}

// Put replaces the content of the file p, creating it when missing.
func (s *Store) Put(ctx context.Context, p, content, format string) error {
	p = common.AbsPath(p)
	size, err := decodedSize(content, format)
	if err != nil {
		return err
	}

	entry, err := s.bunDB.GetEntry(ctx, p)
	switch {
	case err == common.ErrNotFound:
		if _, err := s.parentDir(ctx, s.bunDB.DB, p); err != nil {
			return err
		}
		now := s.nowMilli()
		return s.bunDB.InsertEntry(ctx, &EntryModel{
			Path:    p,
			Parent:  common.ParentPath(p),
			Mode:    DefaultFileMode,
			Format:  format,
			Content: content,
			Size:    size,
			Atime:   now,
			Mtime:   now,
			Ctime:   now,
		})
	case err != nil:
		return err
	case entry.IsDir():
		return common.ErrIsDir
	}
	return s.bunDB.UpdateContent(ctx, p, content, format, size, s.nowMilli())
}
