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
	"encoding/base64"
	"fmt"
	"strings"

	"drivefs/internal/common"
)

// Format is the payload format tag a document travels with on the wire.
type Format string

const (
	// FormatJSON is structured text: UTF-8 text carrying a JSON document.
	FormatJSON Format = "json"
	// FormatText is plain UTF-8 text.
	FormatText Format = "text"
	// FormatBase64 is arbitrary bytes transported as base64 text.
	FormatBase64 Format = "base64"
)

// Valid reports whether f is one of the three known tags.
func (f Format) Valid() bool {
	switch f {
	case FormatJSON, FormatText, FormatBase64:
		return true
	}
	return false
}

// File is the in-memory content buffer of one remote document.
// len(Data) is the authoritative file size. Format is fixed for the life of
// the buffer and is echoed back unchanged on write-back.
type File struct {
	Data   []byte
	Format Format
}

// Size returns the buffer length.
func (f *File) Size() int64 {
	return int64(len(f.Data))
}

// DecodeFile maps a wire payload to raw bytes.
// Unknown or empty formats fail with common.ErrBadFormat.
func DecodeFile(content string, format Format) (*File, error) {
	switch format {
	case FormatJSON, FormatText:
		return &File{Data: []byte(content), Format: format}, nil
	case FormatBase64:
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
		return &File{Data: data, Format: format}, nil
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrBadFormat, format)
	}
}

// Encode is the inverse of DecodeFile. Text formats are decoded as UTF-8,
// with invalid sequences replaced by U+FFFD.
func (f *File) Encode() (string, error) {
	switch f.Format {
	case FormatJSON, FormatText:
		return strings.ToValidUTF8(string(f.Data), "\uFFFD"), nil
	case FormatBase64:
		return base64.StdEncoding.EncodeToString(f.Data), nil
	default:
		return "", fmt.Errorf("%w: %q", common.ErrBadFormat, f.Format)
	}
}
