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

// Package daemon exports a remote drive over NFS, or SMB with the smb build
// tag, and mounts it with the operating system's client.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"drivefs/internal/cache"
	"drivefs/internal/contents"
	"drivefs/internal/host"
	"drivefs/internal/util"
)

// Options configures an export.
type Options struct {
	Settings *Settings

	// MountPath is the local directory the export is mounted on. With
	// NoOSMount it only names the run lock and may be empty.
	MountPath string
	NoOSMount bool

	// RemoteAttempts bounds the wait for the contents service (0: default).
	RemoteAttempts uint

	// HTTPClient overrides the contents transport.
	HTTPClient contents.Doer

	// Ready is called with the NFS address once it accepts connections.
	Ready func(addr net.Addr)
}

// Daemon runs one export: contents client, driver, NFS server and mount.
type Daemon struct {
	opts Options

	mu     sync.Mutex
	disp   *host.Dispatcher
	server NetFSServer
	addr   net.Addr
	caches []cache.Invalidator
}

// New validates opts and returns an export ready to Run.
func New(opts Options) (*Daemon, error) {
	if opts.Settings == nil {
		return nil, errors.New("settings are required")
	}
	if opts.MountPath == "" && !opts.NoOSMount {
		return nil, errors.New("a mount path is required")
	}
	return &Daemon{opts: opts}, nil
}

// lockKey names the per-export lock and PID files.
func (d *Daemon) lockKey() string {
	if d.opts.MountPath != "" {
		return d.opts.MountPath
	}
	return "nfs://" + d.opts.Settings.Listen
}

// Addr returns the NFS listen address, or nil before the server is up.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Dispatcher returns the drive dispatcher, or nil before Run sets it up.
func (d *Daemon) Dispatcher() *host.Dispatcher {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disp
}

// Refresh drops the cached drive tree and attributes so the next lookups
// see changes made on the contents service. It is a no-op before Run.
func (d *Daemon) Refresh() {
	d.mu.Lock()
	caches := d.caches
	d.mu.Unlock()

	for _, c := range caches {
		c.Invalidate()
	}
	log.Infof("[Daemon] refreshed %d caches", len(caches))
}

// WaitForRemote retries a lookup of the mount point until the contents
// service answers. A service that answers without the mount point fails at
// once.
func WaitForRemote(ctx context.Context, client *contents.Client, mountpoint string, attempts uint) error {
	res, err := util.RetryWithResult(ctx, func() (contents.LookupResult, error) {
		res, err := client.Lookup(mountpoint)
		if err != nil {
			log.Debugf("[Daemon] waiting for %s: %v", client.BaseURL(), err)
		}
		return res, err
	}, util.ServiceRetryOptions(ctx, attempts)...)
	if err != nil {
		return fmt.Errorf("contents service at %s is not reachable: %w", client.BaseURL(), err)
	}
	if !res.OK {
		return fmt.Errorf("%s does not exist on %s", mountpoint, client.BaseURL())
	}
	return nil
}

// Run exports the drive and blocks until ctx is done or the server fails.
// On the way out it unmounts, stops the server and writes back open handles.
func (d *Daemon) Run(ctx context.Context) error {
	s := d.opts.Settings

	client, err := contents.New(contents.Config{
		BaseURL:    s.BaseURL,
		Token:      s.Token,
		HTTPClient: d.opts.HTTPClient,
	})
	if err != nil {
		return err
	}
	if err := WaitForRemote(ctx, client, s.Mountpoint, d.opts.RemoteAttempts); err != nil {
		return err
	}

	lock, err := AcquireRunLock(d.lockKey())
	if err != nil {
		return err
	}
	defer lock.Release()

	disp, err := host.New(host.Config{Remote: client, Mountpoint: s.Mountpoint})
	if err != nil {
		return err
	}
	caches := []cache.Invalidator{disp}
	var attrs *cache.AttrCache
	if ttl := s.AttrCacheTTL(); ttl > 0 {
		attrs = cache.NewAttrCache(ttl, s.AttrCacheSize)
		caches = append(caches, attrs)
	}

	srv := newNetFSServer(disp, attrs)
	addr, err := srv.Listen(s.Listen)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.disp, d.server, d.addr = disp, srv, addr
	d.caches = caches
	d.mu.Unlock()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	if err := util.WaitForPort(ctx, addr.String(), util.DefaultPollConfig()); err != nil {
		srv.Shutdown()
		return fmt.Errorf("%s server failed to start: %w", NetFSType(), err)
	}
	log.Infof("[Daemon] serving %s%s over %s at %s", client.BaseURL(), s.Mountpoint, NetFSType(), addr)

	mounted := false
	if !d.opts.NoOSMount {
		tcp := addr.(*net.TCPAddr)
		// mount_nfs can fail transiently right after the server comes up
		err := util.Retry(ctx, func() error {
			return mountNetFS(tcp.IP.String(), tcp.Port, d.opts.MountPath)
		}, retry.Attempts(2), retry.Delay(200*time.Millisecond), retry.LastErrorOnly(true), retry.Context(ctx))
		if err != nil {
			srv.Shutdown()
			return fmt.Errorf("failed to mount %s: %w", d.opts.MountPath, err)
		}
		mounted = true
	}

	if d.opts.Ready != nil {
		d.opts.Ready(addr)
	}

	select {
	case <-ctx.Done():
		log.Infof("[Daemon] stopping: %v", context.Cause(ctx))
	case err := <-serveErr:
		log.Errorf("[Daemon] %s server stopped: %v", NetFSType(), err)
	}

	// Unmount while the server is still alive so the kernel client can
	// talk to it.
	if mounted {
		if err := Unmount(d.opts.MountPath); err != nil {
			log.Warnf("[Daemon] unmount %s: %v", d.opts.MountPath, err)
		}
	}
	srv.Shutdown()

	if err := disp.CloseAll(); err != nil {
		return fmt.Errorf("write back open files: %w", err)
	}
	return nil
}

// RunLock is held by the process exporting one mount point. It pairs the
// flock with a PID file so StopExport can find the owner.
type RunLock struct {
	flock   *flock.Flock
	pidPath string
}

// AcquireRunLock takes the run lock for key without blocking.
func AcquireRunLock(key string) (*RunLock, error) {
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}
	fl := flock.New(LockPath(key))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s is already exported by another drivefs process", key)
	}

	l := &RunLock{flock: fl, pidPath: PidPath(key)}
	if err := util.WritePIDFile(l.pidPath); err != nil {
		fl.Unlock()
		return nil, err
	}
	return l, nil
}

// Release removes the PID file and drops the lock.
func (l *RunLock) Release() {
	os.Remove(l.pidPath)
	l.flock.Unlock()
}

// IsExportRunning reports whether some process holds the run lock of the
// export for mountPath.
func IsExportRunning(mountPath string) bool {
	fl := flock.New(LockPath(mountPath))
	locked, err := fl.TryLock()
	if err != nil {
		return false
	}
	if locked {
		fl.Unlock()
		return false
	}
	return true
}

// StopExport stops the process exporting mountPath and makes sure the
// mount is gone.
func StopExport(ctx context.Context, mountPath string) error {
	pid, err := util.ReadPIDFile(PidPath(mountPath))
	switch {
	case err == nil:
		if err := util.StopProcess(ctx, pid, util.ProcessConfig{}); err != nil {
			return err
		}
	case errors.Is(err, os.ErrNotExist):
		log.Debugf("[Daemon] no export process for %s", mountPath)
	default:
		return err
	}
	return Unmount(mountPath)
}
