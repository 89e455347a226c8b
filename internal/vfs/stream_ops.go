package vfs

import (
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxFileSize bounds buffer growth from a single write or truncate.
const maxFileSize = 1 << 32

// streamOps implements StreamOps over an in-memory copy of the file.
type streamOps struct {
	fs *DriveFS
}

// Open fetches the whole content of a regular file. Directories get no
// buffer.
func (o *streamOps) Open(stream *Stream) error {
	if !o.fs.tree.IsFile(stream.Node.Mode) {
		return nil
	}
	path := o.fs.RealPath(stream.Node)
	file, err := o.fs.remote.Get(path)
	if err != nil {
		return err
	}
	log.Debugf("[DriveFS] Open: %q flags=%s size=%d format=%s", path, stream.Flags, len(file.Data), file.Format)
	stream.File = file
	return nil
}

// Close pushes the buffer back when the open flags call for it, then drops
// the buffer whether or not the push succeeded.
func (o *streamOps) Close(stream *Stream) (err error) {
	if !o.fs.tree.IsFile(stream.Node.Mode) || stream.File == nil {
		return nil
	}
	path := o.fs.RealPath(stream.Node)
	needsWrite := NeedsWriteBack(stream.Flags)

	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[DriveFS] Close %q writeBack=%v -> %v (%v)", path, needsWrite, err, time.Since(start))
		}()
	}
	log.Debugf("[DriveFS] Close: %q flags=%s writeBack=%v", path, stream.Flags, needsWrite)

	if needsWrite {
		err = o.fs.remote.Put(path, stream.File)
	}
	stream.File = nil
	return err
}

// Read copies up to length bytes from the buffer at position into
// dst[offset:]. Reading at or past the end returns 0.
func (o *streamOps) Read(stream *Stream, dst []byte, offset, length int, position int64) (int, error) {
	if length <= 0 || stream.File == nil {
		return 0, nil
	}
	if position < 0 || offset < 0 {
		return 0, o.fs.errno(syscall.EPERM)
	}

	data := stream.File.Data
	if position >= int64(len(data)) {
		return 0, nil
	}
	size := int64(len(data)) - position
	if size > int64(length) {
		size = int64(length)
	}
	if int64(offset) > int64(len(dst))-size {
		return 0, o.fs.errno(syscall.EPERM)
	}
	copy(dst[offset:], data[position:position+size])
	return int(size), nil
}

// Write copies length bytes from src[offset:] into the buffer at position,
// growing it to exactly position+length with zero fill when needed.
func (o *streamOps) Write(stream *Stream, src []byte, offset, length int, position int64) (int, error) {
	if length <= 0 || stream.File == nil {
		return 0, nil
	}
	stream.Node.Timestamp = o.fs.now()

	// compare before adding so huge offsets cannot wrap past the checks
	if position < 0 || offset < 0 || offset > len(src)-length {
		return 0, o.fs.errno(syscall.EPERM)
	}
	if int64(length) > maxFileSize || position > maxFileSize-int64(length) {
		return 0, o.fs.errno(syscall.EPERM)
	}
	end := position + int64(length)

	data := stream.File.Data
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
		stream.File.Data = data
	}
	copy(data[position:end], src[offset:offset+length])
	return length, nil
}

// Llseek computes an absolute position. It does not move the stream; the
// host stores the result.
func (o *streamOps) Llseek(stream *Stream, offset int64, whence int) (int64, error) {
	position := offset
	switch whence {
	case SeekCur:
		position += stream.Position
	case SeekEnd:
		if o.fs.tree.IsFile(stream.Node.Mode) {
			if stream.File == nil {
				return 0, o.fs.errno(syscall.EPERM)
			}
			position += int64(len(stream.File.Data))
		}
	}

	if position < 0 {
		return 0, o.fs.errno(syscall.EINVAL)
	}
	return position, nil
}
