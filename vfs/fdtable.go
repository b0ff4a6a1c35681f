// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package vfs

import (
	"fmt"
	"syscall"
)

// MaxFDs is the fixed number of global file descriptors this module
// hands out.
const MaxFDs = 16

// noVFSIndex marks an unused fd-table slot.
const noVFSIndex = Index(-1)

type fdEntry struct {
	vfsIndex  Index
	localFD   LocalFD
	permanent bool
}

// fdTable is the global fd table. All mutations happen under Registry.mu;
// single-field reads (vfsIndex then localFD) are safe without a lock
// because every write publishes a whole entry atomically from the
// writer's perspective and only the registry's mutex ever writes it
// (§4.6).
type fdTable struct {
	entries [MaxFDs]fdEntry
}

func (t *fdTable) reset() {
	for i := range t.entries {
		t.entries[i] = fdEntry{vfsIndex: noVFSIndex}
	}
}

// allocateLocked finds the first unused slot and binds it to (index,
// local). Returns ENFILE if the table is full.
func (t *fdTable) allocateLocked(index Index, local LocalFD) (int, error) {
	for i := range t.entries {
		if t.entries[i].vfsIndex == noVFSIndex {
			t.entries[i] = fdEntry{vfsIndex: index, localFD: local, permanent: false}

			return i, nil
		}
	}

	return -1, fmt.Errorf("vfs: open: %w", syscall.ENFILE)
}

// freeLocked releases fd unless it is permanent.
func (t *fdTable) freeLocked(fd int) {
	if t.entries[fd].permanent {
		return
	}

	t.entries[fd] = fdEntry{vfsIndex: noVFSIndex}
}

// lookup validates fd and returns its binding; ok is false for an
// out-of-range or unused fd (EBADF at the call site).
func (t *fdTable) lookup(fd int) (entry fdEntry, ok bool) {
	if fd < 0 || fd >= MaxFDs {
		return fdEntry{}, false
	}

	e := t.entries[fd]

	return e, e.vfsIndex != noVFSIndex
}

// reserveRangeLocked binds every slot in [min, max] to index as a
// permanent entry. If any slot in the range is already bound, it rolls
// back every slot this call bound earlier in the same range and returns
// EINVAL, per §4.6.
func (t *fdTable) reserveRangeLocked(index Index, minFD, maxFD int) error {
	if minFD < 0 || maxFD < 0 || minFD >= MaxFDs || maxFD >= MaxFDs || minFD > maxFD {
		return fmt.Errorf("vfs: register fd range [%d,%d]: %w", minFD, maxFD, syscall.EINVAL)
	}

	for i := minFD; i <= maxFD; i++ {
		if t.entries[i].vfsIndex != noVFSIndex {
			for j := minFD; j < i; j++ {
				if t.entries[j].vfsIndex == index {
					t.entries[j] = fdEntry{vfsIndex: noVFSIndex}
				}
			}

			return fmt.Errorf("vfs: register fd range [%d,%d]: %w", minFD, maxFD, syscall.EINVAL)
		}

		t.entries[i] = fdEntry{vfsIndex: index, localFD: LocalFD(i), permanent: true}
	}

	return nil
}
