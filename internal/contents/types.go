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

package contents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// LookupResult is the answer to a lookup: OK is false when nothing exists
// at the path. Mode is only meaningful when OK is true.
type LookupResult struct {
	OK   bool   `json:"ok"`
	Mode uint32 `json:"mode"`
}

// Attributes is the stat record of one remote path.
type Attributes struct {
	Dev     uint64    `json:"dev"`
	Ino     uint64    `json:"ino"`
	Mode    uint32    `json:"mode"`
	Nlink   uint32    `json:"nlink"`
	UID     uint32    `json:"uid"`
	GID     uint32    `json:"gid"`
	Rdev    uint64    `json:"rdev"`
	Size    int64     `json:"size"`
	Blksize int64     `json:"blksize"`
	Blocks  int64     `json:"blocks"`
	Atime   time.Time `json:"atime"`
	Mtime   time.Time `json:"mtime"`
	Ctime   time.Time `json:"ctime"`
}

const (
	defaultBlksize = 4096
	blockUnit      = 512
)

// applyDefaults fills fields the remote side may leave out.
func (a *Attributes) applyDefaults() {
	if a.Nlink == 0 {
		a.Nlink = 1
	}
	if a.Blksize == 0 {
		a.Blksize = defaultBlksize
	}
	if a.Blocks == 0 && a.Size > 0 {
		a.Blocks = (a.Size + blockUnit - 1) / blockUnit
	}
}

// wireAttributes mirrors Attributes with timestamps still in wire form.
type wireAttributes struct {
	Dev     uint64   `json:"dev"`
	Ino     uint64   `json:"ino"`
	Mode    uint32   `json:"mode"`
	Nlink   uint32   `json:"nlink"`
	UID     uint32   `json:"uid"`
	GID     uint32   `json:"gid"`
	Rdev    uint64   `json:"rdev"`
	Size    int64    `json:"size"`
	Blksize int64    `json:"blksize"`
	Blocks  int64    `json:"blocks"`
	Atime   wireTime `json:"atime"`
	Mtime   wireTime `json:"mtime"`
	Ctime   wireTime `json:"ctime"`
}

func (w *wireAttributes) normalize() *Attributes {
	a := &Attributes{
		Dev:     w.Dev,
		Ino:     w.Ino,
		Mode:    w.Mode,
		Nlink:   w.Nlink,
		UID:     w.UID,
		GID:     w.GID,
		Rdev:    w.Rdev,
		Size:    w.Size,
		Blksize: w.Blksize,
		Blocks:  w.Blocks,
		Atime:   time.Time(w.Atime),
		Mtime:   time.Time(w.Mtime),
		Ctime:   time.Time(w.Ctime),
	}
	a.applyDefaults()
	return a
}

// wireTime accepts epoch milliseconds (a JSON number) or an RFC 3339 string.
type wireTime time.Time

func (t *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = wireTime{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			*t = wireTime(time.UnixMilli(ms))
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		*t = wireTime(parsed)
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*t = wireTime(time.UnixMilli(int64(ms)))
	return nil
}

// contentResponse is the body of a get.
type contentResponse struct {
	Content string `json:"content"`
	Format  Format `json:"format"`
}

// parseMode reads the body of a getmode: either a JSON number or a numeric string.
func parseMode(body []byte) (uint32, error) {
	var n json.Number
	if err := json.Unmarshal(bytes.TrimSpace(body), &n); err != nil {
		return 0, fmt.Errorf("parse mode: %w", err)
	}
	v, err := strconv.ParseUint(n.String(), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse mode %q: %w", n.String(), err)
	}
	return uint32(v), nil
}
