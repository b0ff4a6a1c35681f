// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfs

import (
	"context"
	"fmt"
	"os"
	"syscall"
)

// Open resolves path against the mount table, opens it against the
// owning driver, and binds the result to a fresh global fd. If fd
// allocation fails the driver's handle is closed before returning, so a
// full fd table never leaks a driver-side open.
func (r *Registry) Open(ctx context.Context, path string, flags int, mode os.FileMode) (int, error) {
	e := r.resolveForPath(path)
	if e == nil {
		return -1, fmt.Errorf("vfs: open %q: %w", path, syscall.ENOENT)
	}

	local, err := e.ops.Open(ctx, translatePath(e, path), flags, mode)
	if err != nil {
		return -1, err
	}

	r.mu.Lock()
	fd, err := r.fds.allocateLocked(e.index, local)
	r.mu.Unlock()

	if err != nil {
		_ = e.ops.Close(ctx, local)

		return -1, err
	}

	return fd, nil
}

// Close releases fd's driver-side handle and, only if the driver
// reports success, frees the global slot (unless it is a permanent,
// fd-range-reserved binding). A failing driver Close leaves the slot
// bound, since the underlying resource was never actually released.
func (r *Registry) Close(ctx context.Context, fd int) error {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return fmt.Errorf("vfs: close: %w", err)
	}

	if err := ops.Close(ctx, local); err != nil {
		return err
	}

	r.mu.Lock()
	r.fds.freeLocked(fd)
	r.mu.Unlock()

	return nil
}

// lookupFD resolves a global fd to its owning driver and local handle.
// EBADF covers both an out-of-range/unused slot and a slot whose mount
// has since been unregistered out from under it.
func (r *Registry) lookupFD(fd int) (Ops, LocalFD, error) {
	r.mu.Lock()
	e, ok := r.fds.lookup(fd)
	r.mu.Unlock()

	if !ok {
		return nil, 0, syscall.EBADF
	}

	ops, ok := r.GetOpsForIndex(e.vfsIndex)
	if !ok {
		return nil, 0, syscall.EBADF
	}

	return ops, e.localFD, nil
}

func (r *Registry) Read(ctx context.Context, fd int, buf []byte) (int, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: read: %w", err)
	}

	return ops.Read(ctx, local, buf)
}

func (r *Registry) Write(ctx context.Context, fd int, buf []byte) (int, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: write: %w", err)
	}

	return ops.Write(ctx, local, buf)
}

func (r *Registry) Pread(ctx context.Context, fd int, buf []byte, offset int64) (int, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: pread: %w", err)
	}

	return ops.Pread(ctx, local, buf, offset)
}

func (r *Registry) Pwrite(ctx context.Context, fd int, buf []byte, offset int64) (int, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: pwrite: %w", err)
	}

	return ops.Pwrite(ctx, local, buf, offset)
}

func (r *Registry) Lseek(ctx context.Context, fd int, offset int64, whence int) (int64, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: lseek: %w", err)
	}

	return ops.Lseek(ctx, local, offset, whence)
}

func (r *Registry) Fcntl(ctx context.Context, fd int, cmd int, arg int) (int, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: fcntl: %w", err)
	}

	return ops.Fcntl(ctx, local, cmd, arg)
}

func (r *Registry) Fstat(ctx context.Context, fd int) (*Stat, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return nil, fmt.Errorf("vfs: fstat: %w", err)
	}

	return ops.Fstat(ctx, local)
}

func (r *Registry) Fsync(ctx context.Context, fd int) error {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return fmt.Errorf("vfs: fsync: %w", err)
	}

	return ops.Fsync(ctx, local)
}

func (r *Registry) Ioctl(ctx context.Context, fd int, cmd int, args ...any) (int, error) {
	ops, local, err := r.lookupFD(fd)
	if err != nil {
		return 0, fmt.Errorf("vfs: ioctl: %w", err)
	}

	return ops.Ioctl(ctx, local, cmd, args...)
}

// Stat resolves path against the mount table without opening anything.
func (r *Registry) Stat(ctx context.Context, path string) (*Stat, error) {
	e := r.resolveForPath(path)
	if e == nil {
		return nil, fmt.Errorf("vfs: stat %q: %w", path, syscall.ENOENT)
	}

	return e.ops.Stat(ctx, translatePath(e, path))
}

// Dir is an open directory handle: the owning driver's operation table
// paired with that driver's own opaque handle. Unlike file descriptors,
// directory handles are not multiplexed through the shared fd table.
type Dir struct {
	ops Ops
	h   DirHandle
}

func (r *Registry) OpenDir(ctx context.Context, path string) (*Dir, error) {
	e := r.resolveForPath(path)
	if e == nil {
		return nil, fmt.Errorf("vfs: opendir %q: %w", path, syscall.ENOENT)
	}

	h, err := e.ops.OpenDir(ctx, translatePath(e, path))
	if err != nil {
		return nil, err
	}

	return &Dir{ops: e.ops, h: h}, nil
}

func (r *Registry) CloseDir(ctx context.Context, d *Dir) error {
	return d.ops.CloseDir(ctx, d.h)
}

func (r *Registry) ReadDir(ctx context.Context, d *Dir) (*DirEntry, error) {
	return d.ops.ReadDir(ctx, d.h)
}

func (r *Registry) TellDir(ctx context.Context, d *Dir) (int64, error) {
	return d.ops.TellDir(ctx, d.h)
}

func (r *Registry) SeekDir(ctx context.Context, d *Dir, pos int64) error {
	return d.ops.SeekDir(ctx, d.h, pos)
}
