// Package seed uploads a local directory tree into a drive through the
// driver, so every file takes the normal open, write and close path.
package seed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"drivefs/internal/common"
	"drivefs/internal/vfs"
)

// chunkSize is the size of each write handed to the driver.
const chunkSize = 64 * 1024

// Target is the part of host.Dispatcher a seed needs.
type Target interface {
	MkdirAll(p string) error
	Open(p string, flags int) (vfs.HandleID, error)
	Write(h vfs.HandleID, buf []byte) (int, error)
	Close(h vfs.HandleID) error
}

// Options configures Run.
type Options struct {
	// Dest is the drive directory the tree lands in ("/" by default).
	Dest string

	// Gitignore applies .gitignore files found in the tree.
	Gitignore bool

	Includes []string
	Excludes []string

	// Progress, when set, is called after each uploaded file.
	Progress func(rel string, size int64)
}

// Result counts what Run uploaded.
type Result struct {
	Files   int
	Dirs    int
	Bytes   int64
	Skipped int
}

// Run walks localDir and recreates it under opts.Dest on t. Symlinks and
// special files are skipped.
func Run(ctx context.Context, t Target, localDir string, opts Options) (*Result, error) {
	info, err := os.Stat(localDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", localDir)
	}
	dest := common.AbsPath(opts.Dest)
	if err := t.MkdirAll(dest); err != nil {
		return nil, fmt.Errorf("create %s: %w", dest, err)
	}

	start := time.Now()
	filter := BuildFilter(localDir, opts.Gitignore, opts.Includes, opts.Excludes)
	res := &Result{}

	err = filepath.WalkDir(localDir, func(p string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !filter(rel, de.IsDir()) {
			log.Debugf("[Seed] skip %s", rel)
			res.Skipped++
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		remote := path.Join(dest, rel)
		switch {
		case de.IsDir():
			if err := t.MkdirAll(remote); err != nil {
				return fmt.Errorf("mkdir %s: %w", remote, err)
			}
			res.Dirs++
		case de.Type().IsRegular():
			n, err := uploadFile(t, p, remote)
			if err != nil {
				return fmt.Errorf("upload %s: %w", rel, err)
			}
			res.Files++
			res.Bytes += n
			if opts.Progress != nil {
				opts.Progress(rel, n)
			}
		default:
			log.Debugf("[Seed] skip %s: not a regular file", rel)
			res.Skipped++
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	log.Infof("[Seed] %s -> %s: %d files, %d dirs, %d bytes in %v", localDir, dest, res.Files, res.Dirs, res.Bytes, time.Since(start))
	return res, nil
}

// handleWriter adapts an open drive handle to io.Writer.
type handleWriter struct {
	t Target
	h vfs.HandleID
}

func (w handleWriter) Write(p []byte) (int, error) {
	return w.t.Write(w.h, p)
}

func uploadFile(t Target, localPath, remote string) (n int64, err error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	h, err := t.Open(remote, vfs.OWrOnly|vfs.OCreat|vfs.OTrunc)
	if err != nil {
		return 0, err
	}
	n, err = io.CopyBuffer(handleWriter{t, h}, src, make([]byte, chunkSize))
	if cerr := t.Close(h); err == nil {
		err = cerr
	}
	return n, err
}
