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

import "syscall"

// ErrnoFactory turns an errno into the error value the embedding host
// expects to see. It is the error-signaling capability handed to the driver
// and to the contents client.
type ErrnoFactory interface {
	Errno(code syscall.Errno) error
}

// SyscallErrnos returns the errno itself, so callers can match faults with
// errors.Is(err, syscall.ENOENT).
type SyscallErrnos struct{}

func (SyscallErrnos) Errno(code syscall.Errno) error {
	return code
}

// ErrnoFunc adapts a function to ErrnoFactory.
type ErrnoFunc func(code syscall.Errno) error

func (f ErrnoFunc) Errno(code syscall.Errno) error {
	return f(code)
}
