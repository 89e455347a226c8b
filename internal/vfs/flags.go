package vfs

import (
	"os"
	"strconv"
	"strings"
)

// Open flag bits in the numbering the write-back table is keyed by
// (Linux generic ABI).
const (
	ORdOnly   = 0
	OWrOnly   = 1
	ORdWr     = 2
	OCreat    = 64
	OExcl     = 128
	ONoCtty   = 256
	OTrunc    = 512
	OAppend   = 1024
	ONonblock = 2048
	ODsync    = 4096
	OAccMode  = 3
	flagsMask = 0x1fff
)

// writeBack is the close-time write-back policy: masked open flags to
// whether the buffer must be pushed to the remote store. Read-only is the
// only combination that skips it; keys missing from the table write back.
var writeBack = map[int]bool{
	0:    false, // O_RDONLY
	1:    true,  // O_WRONLY
	2:    true,  // O_RDWR
	64:   true,  // O_CREAT
	65:   true,  // O_WRONLY|O_CREAT
	66:   true,  // O_RDWR|O_CREAT
	129:  true,  // O_WRONLY|O_EXCL
	193:  true,  // O_WRONLY|O_CREAT|O_EXCL
	514:  true,  // O_RDWR|O_TRUNC
	577:  true,  // O_WRONLY|O_CREAT|O_TRUNC
	578:  true,  // O_RDWR|O_CREAT|O_TRUNC
	705:  true,  // O_WRONLY|O_CREAT|O_EXCL|O_TRUNC
	706:  true,  // O_RDWR|O_CREAT|O_EXCL|O_TRUNC
	1024: true,  // O_APPEND
	1025: true,  // O_WRONLY|O_APPEND
	1026: true,  // O_RDWR|O_APPEND
	1089: true,  // O_WRONLY|O_CREAT|O_APPEND
	1090: true,  // O_RDWR|O_CREAT|O_APPEND
	1153: true,  // O_WRONLY|O_EXCL|O_APPEND
	1154: true,  // O_RDWR|O_EXCL|O_APPEND
	1217: true,  // O_WRONLY|O_CREAT|O_EXCL|O_APPEND
	1218: true,  // O_RDWR|O_CREAT|O_EXCL|O_APPEND
	4096: true,  // O_RDONLY|O_DSYNC
	4098: true,  // O_RDWR|O_DSYNC
}

// OpenFlags are the flags a stream was opened with, in numeric or decimal
// string form.
type OpenFlags struct {
	n     int
	s     string
	isStr bool
}

// Flags wraps a numeric flag value.
func Flags(n int) OpenFlags {
	return OpenFlags{n: n}
}

// FlagString wraps a flag value given as a decimal string.
func FlagString(s string) OpenFlags {
	return OpenFlags{s: s, isStr: true}
}

// Int returns the numeric value. ok is false for a string that does not
// parse as a decimal integer.
func (f OpenFlags) Int() (n int, ok bool) {
	if !f.isStr {
		return f.n, true
	}
	n, err := strconv.Atoi(strings.TrimSpace(f.s))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (f OpenFlags) String() string {
	if f.isStr {
		return f.s
	}
	return strconv.Itoa(f.n)
}

// Has reports whether every bit of flag is set. Unparsable flags have none.
func (f OpenFlags) Has(flag int) bool {
	n, ok := f.Int()
	return ok && n&flag == flag
}

// Writable reports whether the access mode allows writing.
func (f OpenFlags) Writable() bool {
	n, ok := f.Int()
	if !ok {
		return false
	}
	acc := n & OAccMode
	return acc == OWrOnly || acc == ORdWr
}

// NeedsWriteBack reports whether closing a handle opened with f must push
// its buffer back to the remote store.
func NeedsWriteBack(f OpenFlags) bool {
	n, ok := f.Int()
	if !ok {
		return true
	}
	needs, listed := writeBack[n&flagsMask]
	if !listed {
		return true
	}
	return needs
}

// TranslateOSFlags maps the platform's os.O_* bits onto the numbering used
// by OpenFlags.
func TranslateOSFlags(flag int) int {
	var n int
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_WRONLY:
		n = OWrOnly
	case os.O_RDWR:
		n = ORdWr
	}
	for _, m := range []struct{ os, drive int }{
		{os.O_CREATE, OCreat},
		{os.O_EXCL, OExcl},
		{os.O_TRUNC, OTrunc},
		{os.O_APPEND, OAppend},
		{os.O_SYNC, ODsync},
	} {
		if flag&m.os != 0 {
			n |= m.drive
		}
	}
	return n
}
