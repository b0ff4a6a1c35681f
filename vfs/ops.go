// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfs

import (
	"context"
	"os"
	"syscall"
)

// LocalFD is a driver-scoped file handle, opaque to the dispatcher and
// meaningful only to the driver that returned it.
type LocalFD uint32

// DirHandle is a driver-scoped directory handle, opaque to the
// dispatcher.
type DirHandle any

// Stat mirrors the subset of struct stat this layer cares about.
type Stat struct {
	Size  int64
	Mode  os.FileMode
	IsDir bool
}

// DirEntry is a single directory entry, as returned by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Ops is the operation table a concrete filesystem driver (FAT, littlefs,
// or the synthetic root directory) implements, one per mount. Every
// method is scoped to the driver's own sub-path / local fd space; the
// dispatcher has already stripped the mount's path prefix and translated
// the caller's global fd to the driver's LocalFD before calling in.
//
// A driver that only cares about a handful of operations embeds
// UnimplementedOps and overrides the rest: the embedded methods return
// syscall.ENOSYS, which is exactly how the original table represented "no
// function pointer set" for that operation.
type Ops interface {
	Open(ctx context.Context, path string, flags int, mode os.FileMode) (LocalFD, error)
	Close(ctx context.Context, fd LocalFD) error
	Read(ctx context.Context, fd LocalFD, buf []byte) (int, error)
	Write(ctx context.Context, fd LocalFD, buf []byte) (int, error)
	Pread(ctx context.Context, fd LocalFD, buf []byte, offset int64) (int, error)
	Pwrite(ctx context.Context, fd LocalFD, buf []byte, offset int64) (int, error)
	Lseek(ctx context.Context, fd LocalFD, offset int64, whence int) (int64, error)
	Fcntl(ctx context.Context, fd LocalFD, cmd int, arg int) (int, error)
	Fstat(ctx context.Context, fd LocalFD) (*Stat, error)
	Stat(ctx context.Context, path string) (*Stat, error)
	Fsync(ctx context.Context, fd LocalFD) error
	Ioctl(ctx context.Context, fd LocalFD, cmd int, args ...any) (int, error)
	OpenDir(ctx context.Context, path string) (DirHandle, error)
	CloseDir(ctx context.Context, dir DirHandle) error
	ReadDir(ctx context.Context, dir DirHandle) (*DirEntry, error)
	TellDir(ctx context.Context, dir DirHandle) (int64, error)
	SeekDir(ctx context.Context, dir DirHandle, pos int64) error
}

// UnimplementedOps provides ENOSYS-returning defaults for every Ops
// method. Drivers embed it by value and override only the operations
// they actually support.
type UnimplementedOps struct{}

func (UnimplementedOps) Open(context.Context, string, int, os.FileMode) (LocalFD, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Close(context.Context, LocalFD) error {
	return syscall.ENOSYS
}

func (UnimplementedOps) Read(context.Context, LocalFD, []byte) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Write(context.Context, LocalFD, []byte) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Pread(context.Context, LocalFD, []byte, int64) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Pwrite(context.Context, LocalFD, []byte, int64) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Lseek(context.Context, LocalFD, int64, int) (int64, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Fcntl(context.Context, LocalFD, int, int) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) Fstat(context.Context, LocalFD) (*Stat, error) {
	return nil, syscall.ENOSYS
}

func (UnimplementedOps) Stat(context.Context, string) (*Stat, error) {
	return nil, syscall.ENOSYS
}

func (UnimplementedOps) Fsync(context.Context, LocalFD) error {
	return syscall.ENOSYS
}

func (UnimplementedOps) Ioctl(context.Context, LocalFD, int, ...any) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) OpenDir(context.Context, string) (DirHandle, error) {
	return nil, syscall.ENOSYS
}

func (UnimplementedOps) CloseDir(context.Context, DirHandle) error {
	return syscall.ENOSYS
}

func (UnimplementedOps) ReadDir(context.Context, DirHandle) (*DirEntry, error) {
	return nil, syscall.ENOSYS
}

func (UnimplementedOps) TellDir(context.Context, DirHandle) (int64, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedOps) SeekDir(context.Context, DirHandle, int64) error {
	return syscall.ENOSYS
}
