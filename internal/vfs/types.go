package vfs

import "drivefs/internal/contents"

// Mode type bits, as in <sys/stat.h>.
const (
	ModeTypeMask uint32 = 0o170000
	ModeTypeDir  uint32 = 0o040000
	ModeTypeReg  uint32 = 0o100000
	ModeTypeLink uint32 = 0o120000
	ModePermMask uint32 = 0o7777
)

// The only two modes the driver ever creates nodes with.
const (
	DirMode  uint32 = ModeTypeDir | 0o777 // 16895
	FileMode uint32 = ModeTypeReg | 0o666 // 33206
)

// Seek origins for Llseek. Any other value is treated as SeekSet.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Attributes is the stat record reported by Getattr.
type Attributes = contents.Attributes

// IsDirMode reports whether mode has the directory type bits.
func IsDirMode(mode uint32) bool {
	return mode&ModeTypeMask == ModeTypeDir
}

// IsFileMode reports whether mode has the regular-file type bits.
func IsFileMode(mode uint32) bool {
	return mode&ModeTypeMask == ModeTypeReg
}
