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

package vfs

import (
	"errors"
	"io/fs"
	"syscall"
)

// Errnos the driver and its hosts signal. Hosts may wrap them through their
// own common.ErrnoFactory; ErrnoOf recovers the code.
var (
	ENOENT    = syscall.ENOENT
	EEXIST    = syscall.EEXIST
	ENOTDIR   = syscall.ENOTDIR
	EISDIR    = syscall.EISDIR
	EBADF     = syscall.EBADF
	EINVAL    = syscall.EINVAL
	ENOTSUP   = syscall.ENOTSUP
	EIO       = syscall.EIO
	EPERM     = syscall.EPERM
	ENOTEMPTY = syscall.ENOTEMPTY
)

// ErrnoOf returns the errno in err's chain. Errors without one report EIO;
// nil reports 0.
func ErrnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return EIO
}

// PathError reports a failed driver call on p the way package os does, so
// os.IsNotExist and friends work on it.
func PathError(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return err
	}
	return &fs.PathError{Op: op, Path: p, Err: ErrnoOf(err)}
}
