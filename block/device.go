// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package block implements a polymorphic, reference-counted sector device
// tree: a BlockDevice abstraction that supports dynamic discovery of
// partitioned children, shared by every concrete driver (SD card, flash,
// loop device, ...) through the Ops operation table.
package block

import (
	"fmt"
	"syscall"

	"github.com/google/uuid"
	"github.com/siderolabs/go-pointer"

	"github.com/siderolabs/go-pico-vfs/object"
)

// Ops is the operation table a concrete block-device driver implements.
// A driver that does not support an operation returns syscall.ENOSYS for
// it, playing the role of a nil function pointer in the original table.
type Ops interface {
	// Init is called once, before the device is registered.
	Init() error
	// ReadSector reads count sectors starting at startSector into buf,
	// returning the number of sectors actually transferred.
	ReadSector(buf []byte, startSector uint32, count uint) (int, error)
	// WriteSector writes count sectors starting at startSector from buf,
	// returning the number of sectors actually transferred.
	WriteSector(buf []byte, startSector uint32, count uint) (int, error)
	// Ioctl services one of the IoctlCmd codes below, or any
	// driver-private command. The block core never interprets cmd
	// itself; it only routes the call.
	Ioctl(cmd IoctlCmd, arg any) error
	// Destroy releases driver-private resources. Called exactly once,
	// after the last reference to the device has been dropped.
	Destroy()
}

// SectorSizeBytes is the fixed sector size this module works in. Per
// scope, no multi-byte sector size abstraction is supported.
const SectorSizeBytes = 512

// IoctlCmd identifies a block-device ioctl.
type IoctlCmd uint8

// Ioctl commands recognized by convention at the block layer. The block
// core does not interpret them; drivers do.
const (
	BLKGETSIZE IoctlCmd = iota // total sectors, uint32
	BLKSSZGET                  // bytes per sector, uint32
	BLKROGET                   // read-only flag, bool
	BLKFLSBUF                  // flush, no payload
	HDIOGETGEO                 // *Geometry
)

// Geometry is the payload for the HDIOGETGEO ioctl.
type Geometry struct {
	Cylinders       uint32
	Heads           uint32
	SectorsPerTrack uint32
}

// scanHook is installed by block/mbr's init function. It mirrors the weak
// pico_blockdev_scan_partitions symbol of the original source: Register
// calls it for root devices if, and only if, a scanner package has been
// imported. A program that never imports block/mbr gets no scanning at
// all, exactly like a build that never links partition.c.
var scanHook func(*Device)

// SetPartitionScanner installs the root-device partition scanner. Calling
// it twice replaces the previous scanner; block/mbr calls it from its
// init function, so importing that package for its side effect is enough.
func SetPartitionScanner(fn func(*Device)) {
	scanHook = fn
}

// RegisterEventHook and UnregisterEventHook mirror the weak
// pico_blockdev_register_event / pico_blockdev_unregister_event symbols:
// optional observers, nil (no-op) by default.
var (
	RegisterEventHook   func(*Device)
	UnregisterEventHook func(*Device)
)

// Device is a node in the block-device tree. It embeds object.Object so
// that Ref/Unref/Lock/Unlock are directly available, and the same
// critical section that guards the refcount also guards the parent/child
// topology (§5 of the design: "mutations hold the parent's critical
// section").
type Device struct {
	object.Object

	id  uuid.UUID
	ops Ops

	// parent is a weak (non-owning) back-reference: the strong reference
	// in the other direction is taken explicitly by AddChild and
	// released in destroy, so the apparent parent<->child cycle is
	// broken externally by Unregister rather than by a GC collecting a
	// cycle.
	parent   *Device
	children []*Device
}

// SelfAware may optionally be implemented by an Ops. If it is, NewDevice
// calls SetDevice once, right after construction, so the driver can reach
// back through the owning Device's Parent() method. block/mbr's partition
// ops need this to delegate I/O into the parent device.
type SelfAware interface {
	SetDevice(*Device)
}

// NewDevice wraps ops in a new, unregistered Device with an initial
// reference count of one (the caller's own reference).
func NewDevice(ops Ops) *Device {
	d := &Device{
		id:  uuid.New(),
		ops: ops,
	}
	d.Object.Init(d.destroy)

	if sa, ok := ops.(SelfAware); ok {
		sa.SetDevice(d)
	}

	return d
}

func (d *Device) destroy() {
	d.ops.Destroy()

	if d.parent != nil {
		d.parent.Unref()
	}
}

// ID returns a diagnostic identity assigned at construction, for logging
// and tests; it has no on-disk meaning.
func (d *Device) ID() uuid.UUID {
	return d.id
}

// Ops returns the driver operation table the device was constructed with.
func (d *Device) Ops() Ops {
	return d.ops
}

// Parent returns the device's parent, or nil for a root device.
func (d *Device) Parent() *Device {
	return d.parent
}

// Init calls the driver's Init.
func (d *Device) Init() error {
	return d.ops.Init()
}

// ReadSector reads count sectors starting at startSector.
func (d *Device) ReadSector(buf []byte, startSector uint32, count uint) (int, error) {
	return d.ops.ReadSector(buf, startSector, count)
}

// WriteSector writes count sectors starting at startSector.
func (d *Device) WriteSector(buf []byte, startSector uint32, count uint) (int, error) {
	return d.ops.WriteSector(buf, startSector, count)
}

// Ioctl services cmd against the driver.
func (d *Device) Ioctl(cmd IoctlCmd, arg any) error {
	return d.ops.Ioctl(cmd, arg)
}

// Geometry probes HDIOGETGEO and returns the result, or nil if the
// driver doesn't support it (or reports an error), so callers that only
// care about "do we know the geometry" never need to inspect an error
// value.
func (d *Device) Geometry() *Geometry {
	var g Geometry

	if err := d.Ioctl(HDIOGETGEO, &g); err != nil {
		return nil
	}

	return pointer.To(g)
}

// HasChildren reports whether the device currently has registered
// children.
func (d *Device) HasChildren() bool {
	d.Lock()
	defer d.Unlock()

	return len(d.children) > 0
}

// Children returns a snapshot of the device's children, in reverse
// discovery order (most-recently-discovered first, since AddChild inserts at the
// head, matching the original linked-list behavior).
func (d *Device) Children() []*Device {
	d.Lock()
	defer d.Unlock()

	out := make([]*Device, len(d.children))
	copy(out, d.children)

	return out
}

// AddChild attaches child to d. It fails with EALREADY if child already
// has a parent. On success it takes one reference to child (for d's
// children list) and one reference to d itself (redeemed later by
// child's destructor via the parent back-reference), both under d's
// critical section.
func (d *Device) AddChild(child *Device) error {
	if child.parent != nil {
		return fmt.Errorf("block: add child: %w", syscall.EALREADY)
	}

	d.Lock()
	defer d.Unlock()

	child.parent = d
	d.children = append([]*Device{child}, d.children...)

	child.Ref()
	d.RefLocked()

	return nil
}

// Register registers d. If d has no parent, the installed partition
// scanner (if any) is invoked against it first. The registration event
// fires next, and finally d's own construction reference is dropped: the
// scanner's child list (or, for a childless leaf, nothing) now owns the
// device's lifetime. Registration itself never fails; driver failures
// discovered while scanning are logged by the scanner, not propagated.
func (d *Device) Register() {
	if d.parent == nil && scanHook != nil {
		scanHook(d)
	}

	if RegisterEventHook != nil {
		RegisterEventHook(d)
	}

	d.Unref()
}

// Unregister recursively unregisters every child, draining the list
// before touching d itself so that a destructor reached mid-drain can
// never observe a half-torn-down children slice (the source's
// documented use-after-free, fixed here by snapshotting the slice and
// nilling it out before recursing). The deregister event fires only
// after the whole subtree has been torn down.
func (d *Device) Unregister() {
	d.Lock()
	children := d.children
	d.children = nil
	d.Unlock()

	for _, c := range children {
		c.Unregister()
		c.Unref()
	}

	if UnregisterEventHook != nil {
		UnregisterEventHook(d)
	}
}
