// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

// Package hostdisk implements block.Ops against a real Linux block
// special file, the reference driver for the block-device tree: every
// other driver (SD card, flash, a FAT/littlefs backing store) implements
// the same small operation table, but hostdisk is the one this module
// ships, used to exercise the tree against real hardware/loop devices in
// integration tests.
package hostdisk

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/siderolabs/go-pico-vfs/block"
	"github.com/siderolabs/go-pico-vfs/internal/ioutil"
)

// Device wraps an *os.File opened on a block special file.
type Device struct {
	mu sync.Mutex
	f  *os.File
}

// Open opens path (e.g. "/dev/sda", "/dev/loop0") for reading and
// writing.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("hostdisk: open %s: %w", path, err)
	}

	return &Device{f: f}, nil
}

func (d *Device) Init() error { return nil }

func (d *Device) ReadSector(buf []byte, startSector uint32, count uint) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	span := buf[:int(count)*block.SectorSizeBytes]

	if err := ioutil.ReadFullAt(d.f, span, int64(startSector)*block.SectorSizeBytes); err != nil {
		return 0, err
	}

	return int(count), nil
}

func (d *Device) WriteSector(buf []byte, startSector uint32, count uint) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.f.WriteAt(buf[:int(count)*block.SectorSizeBytes], int64(startSector)*block.SectorSizeBytes)
	if err != nil {
		return n / block.SectorSizeBytes, err
	}

	return n / block.SectorSizeBytes, nil
}

// Ioctl services the block-layer ioctl codes using real Linux ioctls,
// matching block/device_linux.go's calling convention in the teacher
// module: raw unix.Syscall(SYS_IOCTL, ...) plus runtime.KeepAlive to
// pin the Device across the syscall.
func (d *Device) Ioctl(cmd block.IoctlCmd, arg any) error {
	defer runtime.KeepAlive(d)

	switch cmd {
	case block.BLKGETSIZE:
		out, ok := arg.(*uint32)
		if !ok {
			return syscall.EINVAL
		}

		var sizeBytes uint64
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&sizeBytes))); errno != 0 {
			return errno
		}

		*out = uint32(sizeBytes / block.SectorSizeBytes)

		return nil

	case block.BLKSSZGET:
		out, ok := arg.(*uint32)
		if !ok {
			return syscall.EINVAL
		}

		var size uint32
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKSSZGET, uintptr(unsafe.Pointer(&size))); errno != 0 {
			return errno
		}

		*out = size

		return nil

	case block.BLKROGET:
		out, ok := arg.(*bool)
		if !ok {
			return syscall.EINVAL
		}

		var flag int32
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKROGET, uintptr(unsafe.Pointer(&flag))); errno != 0 {
			return errno
		}

		*out = flag != 0

		return nil

	case block.BLKFLSBUF:
		if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKFLSBUF, 0); errno != 0 {
			return errno
		}

		return nil

	default:
		return syscall.ENOSYS
	}
}

func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	_ = d.f.Close()
}
