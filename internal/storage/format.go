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
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"drivefs/internal/common"
)

// Content formats, matching the contents wire protocol
const (
	FormatJSON   = "json"
	FormatText   = "text"
	FormatBase64 = "base64"
)

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".py": true, ".js": true, ".ts": true,
	".csv": true, ".tsv": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".css": true, ".xml": true, ".svg": true, ".sh": true,
	".r": true, ".jl": true, ".go": true, ".c": true, ".h": true,
	".ini": true, ".cfg": true, ".log": true, ".tex": true, ".rst": true,
}

// FormatForPath picks the format a new file at p is stored in.
func FormatForPath(p string) string {
	ext := strings.ToLower(path.Ext(p))
	switch {
	case ext == ".json" || ext == ".ipynb":
		return FormatJSON
	case textExtensions[ext]:
		return FormatText
	default:
		return FormatBase64
	}
}

// decodedSize validates content against its format and returns the byte
// length the client will see.
func decodedSize(content, format string) (int64, error) {
	switch format {
	case FormatJSON, FormatText:
		if !utf8.ValidString(content) {
			return 0, fmt.Errorf("%w: %s content is not utf-8", common.ErrBadFormat, format)
		}
		return int64(len(content)), nil
	case FormatBase64:
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", common.ErrBadFormat, err)
		}
		return int64(len(data)), nil
	default:
		return 0, fmt.Errorf("%w: %q", common.ErrBadFormat, format)
	}
}
