// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package mbr_test

import (
	"encoding/binary"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pico-vfs/block"
	_ "github.com/siderolabs/go-pico-vfs/block/mbr"
)

const sectorSize = 512

// diskOps is a fixed in-memory sector store with an optional MBR baked
// into sector 0, used to exercise the scanner end to end.
type diskOps struct {
	mu   sync.Mutex
	data []byte
}

func newDisk(sectors int) *diskOps {
	return &diskOps{data: make([]byte, sectors*sectorSize)}
}

func (d *diskOps) writeMBREntry(index int, sysInd byte, start, size uint32) {
	off := 0x1be + index*16
	d.data[off+4] = sysInd
	binary.LittleEndian.PutUint32(d.data[off+8:], start)
	binary.LittleEndian.PutUint32(d.data[off+12:], size)
	d.data[510] = 0x55
	d.data[511] = 0xAA
}

func (d *diskOps) Init() error { return nil }

func (d *diskOps) ReadSector(buf []byte, start uint32, count uint) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := int(start) * sectorSize
	n := int(count) * sectorSize

	if off+n > len(d.data) {
		return 0, syscall.EINVAL
	}

	copy(buf, d.data[off:off+n])

	return int(count), nil
}

func (d *diskOps) WriteSector(buf []byte, start uint32, count uint) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := int(start) * sectorSize
	n := int(count) * sectorSize
	copy(d.data[off:off+n], buf)

	return int(count), nil
}

func (d *diskOps) Ioctl(cmd block.IoctlCmd, arg any) error {
	if cmd == block.BLKGETSIZE {
		*arg.(*uint32) = uint32(len(d.data) / sectorSize)

		return nil
	}

	return syscall.ENOSYS
}

func (d *diskOps) Destroy() {}

func TestScanFindsOnePartition(t *testing.T) {
	disk := newDisk(10000)
	disk.writeMBREntry(0, 0x83, 2048, 8000)

	dev := block.NewDevice(disk)
	dev.Register()

	children := dev.Children()
	require.Len(t, children, 1)

	var size uint32

	require.NoError(t, children[0].Ioctl(block.BLKGETSIZE, &size))
	assert.EqualValues(t, 8000, size)

	buf := make([]byte, sectorSize)
	n, err := children[0].ReadSector(buf, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestScanSkipsEmptyEntries(t *testing.T) {
	disk := newDisk(10000)
	disk.writeMBREntry(0, 0x83, 2048, 4000)
	disk.writeMBREntry(2, 0x83, 6048, 2000)

	dev := block.NewDevice(disk)
	dev.Register()

	assert.Len(t, dev.Children(), 2)
}

func TestScanNoSignatureIsNoop(t *testing.T) {
	disk := newDisk(100)

	dev := block.NewDevice(disk)
	dev.Register()

	assert.False(t, dev.HasChildren())
}

func TestScanTreatsExtendedPartitionAsOrdinary(t *testing.T) {
	disk := newDisk(10000)
	disk.writeMBREntry(0, 0x05, 2048, 4000) // extended, no EBR walk performed

	dev := block.NewDevice(disk)
	dev.Register()

	require.Len(t, dev.Children(), 1)

	var size uint32
	require.NoError(t, dev.Children()[0].Ioctl(block.BLKGETSIZE, &size))
	assert.EqualValues(t, 4000, size)
}

func TestPartitionReadOffsetsIntoParent(t *testing.T) {
	disk := newDisk(100)
	disk.writeMBREntry(0, 0x83, 10, 5)

	// stamp a marker at the partition's first sector on the parent disk.
	marker := make([]byte, sectorSize)
	marker[0] = 0xAB
	_, err := disk.WriteSector(marker, 10, 1)
	require.NoError(t, err)

	dev := block.NewDevice(disk)
	dev.Register()

	require.Len(t, dev.Children(), 1)

	buf := make([]byte, sectorSize)
	_, err = dev.Children()[0].ReadSector(buf, 0, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0xAB, buf[0])
}
