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

package storage

import (
	"time"

	"github.com/uptrace/bun"
)

// SchemaInfoModel represents the schema_info table
type SchemaInfoModel struct {
	bun.BaseModel `bun:"table:schema_info"`

	Key   string `bun:"key,pk"`
	Value string `bun:"value,notnull"`
}

// EntryModel represents one path in the entries table.
// Times are stored as Unix milliseconds.
type EntryModel struct {
	bun.BaseModel `bun:"table:entries"`

	Path    string `bun:"path,pk"`
	Parent  string `bun:"parent,notnull"`
	Mode    uint32 `bun:"mode,notnull"`
	Format  string `bun:"format,notnull"`
	Content string `bun:"content,notnull"` // wire form: raw text or base64
	Size    int64  `bun:"size,notnull"`    // decoded byte length
	Atime   int64  `bun:"atime,notnull"`
	Mtime   int64  `bun:"mtime,notnull"`
	Ctime   int64  `bun:"ctime,notnull"`
}

// IsDir returns true if the entry is a directory
func (e *EntryModel) IsDir() bool {
	return e.Mode&ModeMask == ModeDir
}

// IsFile returns true if the entry is a regular file
func (e *EntryModel) IsFile() bool {
	return e.Mode&ModeMask == ModeFile
}

// Name returns the last path component
func (e *EntryModel) Name() string {
	if e.Path == RootPath {
		return ""
	}
	i := len(e.Path) - 1
	for i >= 0 && e.Path[i] != '/' {
		i--
	}
	return e.Path[i+1:]
}

// ModTime returns mtime as a time.Time
func (e *EntryModel) ModTime() time.Time {
	return time.UnixMilli(e.Mtime)
}
