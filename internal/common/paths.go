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

package common

import (
	"path"
	"strings"
)

// Drive paths are always slash separated, independent of the local OS.

// NormalizePath cleans a drive path and strips leading/trailing slashes.
// The root normalizes to the empty string.
func NormalizePath(p string) string {
	p = path.Clean("/" + p)
	p = strings.Trim(p, "/")
	return p
}

// AbsPath returns the canonical absolute form of a drive path ("/" for root).
func AbsPath(p string) string {
	return "/" + NormalizePath(p)
}

// SplitPath splits a drive path into its components
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ParentPath returns the absolute parent of a drive path. The root is its own parent.
func ParentPath(p string) string {
	return path.Dir(AbsPath(p))
}

// BaseName returns the last component of a drive path, or "" for the root
func BaseName(p string) string {
	p = NormalizePath(p)
	if p == "" {
		return ""
	}
	return path.Base(p)
}

// IsWithin reports whether p equals dir or lies underneath it.
func IsWithin(p, dir string) bool {
	p, dir = AbsPath(p), AbsPath(dir)
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}
