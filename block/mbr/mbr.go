// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mbr implements the MBR partition scanner: block.Device.Register
// calls into this package for every root device, discovering up to four
// primary partitions and registering them as child devices.
package mbr

import (
	"encoding/binary"
	"syscall"

	"go.uber.org/zap"

	"github.com/siderolabs/go-pico-vfs/block"
	"github.com/siderolabs/go-pico-vfs/partitioning"
)

const (
	signatureOffset    = 510
	partitionTableOff  = 0x1be
	partitionEntrySize = 16
	partitionCount     = 4

	sysIndOffset    = 4
	startSectOffset = 8
	nrSectsOffset   = 12
)

// Options configure the scanner.
type Options struct {
	Logger *zap.Logger
}

// Option sets an Options field.
type Option func(*Options)

// WithLogger sets the logger used to report a malformed or absent
// partition table. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func applyOptions(opts ...Option) Options {
	o := Options{Logger: zap.NewNop()}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func init() {
	block.SetPartitionScanner(func(dev *block.Device) {
		Scan(dev)
	})
}

// Scan reads sector 0 of dev and, if it carries a valid MBR signature,
// registers a partition child device for every primary entry whose
// sys_ind is non-zero. A missing or malformed signature is a silent
// no-op: registration never fails because of it, per the block layer's
// contract. Extended-partition entries (sys_ind 0x05 / 0x0F) are treated
// as ordinary partitions; no EBR walk is performed, matching the known
// limitation of the reference implementation.
func Scan(dev *block.Device, opts ...Option) {
	o := applyOptions(opts...)

	sector := make([]byte, block.SectorSizeBytes)

	n, err := dev.ReadSector(sector, 0, 1)
	if err != nil || n != 1 {
		o.Logger.Debug("cannot read sector 0, skipping partition scan",
			zap.String("device", dev.ID().String()), zap.Error(err))

		return
	}

	if sector[signatureOffset] != 0x55 || sector[signatureOffset+1] != 0xAA {
		o.Logger.Debug("no MBR signature, skipping partition scan",
			zap.String("device", dev.ID().String()))

		return
	}

	for i := 0; i < partitionCount; i++ {
		entry := sector[partitionTableOff+i*partitionEntrySize:]

		sysInd := entry[sysIndOffset]
		if sysInd == 0x00 {
			continue
		}

		start := binary.LittleEndian.Uint32(entry[startSectOffset:])
		size := binary.LittleEndian.Uint32(entry[nrSectsOffset:])

		partName := partitioning.DevName(dev.ID().String(), uint(i+1))

		part := block.NewDevice(newPartitionOps(start, size))

		if err := dev.AddChild(part); err != nil {
			o.Logger.Error("cannot add partition",
				zap.String("partition", partName),
				zap.Uint8("sys_ind", sysInd),
				zap.Error(err))

			continue
		}

		o.Logger.Debug("new partition found",
			zap.String("partition", partName),
			zap.Uint32("start_sector", start),
			zap.Uint32("sector_count", size))

		part.Register()
	}
}

// partitionOps implements block.Ops for a primary MBR partition: I/O is
// offset by StartSector and delegated to the parent device.
type partitionOps struct {
	dev *block.Device

	StartSector uint32
	NumSectors  uint32
}

func newPartitionOps(start, size uint32) *partitionOps {
	return &partitionOps{StartSector: start, NumSectors: size}
}

// SetDevice associates the owning *block.Device back onto the ops so I/O
// can reach the device's Parent(). block.NewDevice calls this
// immediately after construction, before AddChild publishes the device
// to anyone else.
func (p *partitionOps) SetDevice(dev *block.Device) { p.dev = dev }

func (p *partitionOps) Init() error { return nil }

func (p *partitionOps) ReadSector(buf []byte, startSector uint32, count uint) (int, error) {
	parent := p.dev.Parent()
	if parent == nil {
		return 0, syscall.ENOSYS
	}

	return parent.ReadSector(buf, startSector+p.StartSector, count)
}

func (p *partitionOps) WriteSector(buf []byte, startSector uint32, count uint) (int, error) {
	parent := p.dev.Parent()
	if parent == nil {
		return 0, syscall.ENOSYS
	}

	return parent.WriteSector(buf, startSector+p.StartSector, count)
}

func (p *partitionOps) Ioctl(cmd block.IoctlCmd, arg any) error {
	switch cmd {
	case block.BLKGETSIZE:
		out, ok := arg.(*uint32)
		if !ok {
			return syscall.EINVAL
		}

		*out = p.NumSectors

		return nil
	default:
		parent := p.dev.Parent()
		if parent == nil {
			return syscall.ENOSYS
		}

		return parent.Ioctl(cmd, arg)
	}
}

func (p *partitionOps) Destroy() {}
