// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfs

import (
	"context"
	"fmt"
	"syscall"
)

// rootDir is the synthetic mount registered at the empty prefix by
// Registry.Init. It implements only the directory operations; every
// other Ops method is inherited, unimplemented, from UnimplementedOps.
type rootDir struct {
	UnimplementedOps

	registry *Registry
}

// rootDirHandle tracks the iteration position across the mount table,
// the d_off of the original.
type rootDirHandle struct {
	offset int
}

// OpenDir accepts only "/"; anything else is ENOENT, matching the rule
// that the root mount has nothing below it but the mounts themselves.
func (d *rootDir) OpenDir(_ context.Context, path string) (DirHandle, error) {
	if path != "/" {
		return nil, fmt.Errorf("vfs: opendir %q: %w", path, syscall.ENOENT)
	}

	return &rootDirHandle{}, nil
}

func (d *rootDir) CloseDir(_ context.Context, _ DirHandle) error {
	return nil
}

// ReadDir walks the registry from the handle's offset upward, skipping
// nil slots and the empty-prefix mounts (the root mount itself, and any
// fd-range-only mount), and returns the next named mount with its
// leading '/' stripped. It returns (nil, nil) once every slot has been
// visited, the NULL-dirent convention of the original readdir.
func (d *rootDir) ReadDir(_ context.Context, dir DirHandle) (*DirEntry, error) {
	h, ok := dir.(*rootDirHandle)
	if !ok {
		return nil, fmt.Errorf("vfs: readdir: %w", syscall.EBADF)
	}

	for h.offset < MaxMounts {
		e := d.registry.entries[h.offset].Load()
		h.offset++

		if e == nil || len(e.prefix) == 0 {
			continue
		}

		name := e.prefix
		if name[0] == '/' {
			name = name[1:]
		}

		return &DirEntry{Name: name, IsDir: true}, nil
	}

	return nil, nil
}

func (d *rootDir) TellDir(_ context.Context, dir DirHandle) (int64, error) {
	h, ok := dir.(*rootDirHandle)
	if !ok {
		return 0, fmt.Errorf("vfs: telldir: %w", syscall.EBADF)
	}

	return int64(h.offset), nil
}

// SeekDir clamps pos to the valid [0, MaxMounts] range, per §4.8.
func (d *rootDir) SeekDir(_ context.Context, dir DirHandle, pos int64) error {
	h, ok := dir.(*rootDirHandle)
	if !ok {
		return fmt.Errorf("vfs: seekdir: %w", syscall.EBADF)
	}

	switch {
	case pos < 0:
		pos = 0
	case pos > MaxMounts:
		pos = MaxMounts
	}

	h.offset = int(pos)

	return nil
}
