// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package object provides a minimal reference-counted base type shared by
// the block-device tree.
package object

import "sync"

// maxRefCount mirrors the 8-bit saturating counter of the original source:
// Ref panics rather than silently wrapping past this value.
const maxRefCount = 254

// Object is a reference-counted base. The zero value is not usable; call
// Init or InitNoRef first.
//
// Object is embedded by value, never by pointer, so that the owning type's
// address is also Object's address: Ref/Unref operate on whichever struct
// embeds this one.
type Object struct {
	mu      sync.Mutex
	count   uint8
	dealloc func()
}

// Init sets up the object with an initial reference count of one, the
// "construct owns one reference" policy.
func (o *Object) Init(dealloc func()) {
	o.InitNoRef(dealloc)
	o.count = 1
}

// InitNoRef sets up the object with an initial reference count of zero, for
// embedded sub-objects that will be referenced immediately by their owner.
func (o *Object) InitNoRef(dealloc func()) {
	o.dealloc = dealloc
	o.count = 0
}

// Lock acquires the object's critical section, for callers that need to
// pair a Ref/Unref with another mutation (block.Device.AddChild does this).
func (o *Object) Lock() {
	o.mu.Lock()
}

// Unlock releases the object's critical section.
func (o *Object) Unlock() {
	o.mu.Unlock()
}

// Ref increments the reference count and returns the new count.
func (o *Object) Ref() uint8 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.refLocked()
}

// RefLocked increments the reference count; the caller must already hold
// the lock (via Lock). Used to take two references atomically, as
// block.Device.AddChild does for the parent and the child.
func (o *Object) RefLocked() uint8 {
	return o.refLocked()
}

func (o *Object) refLocked() uint8 {
	if o.count == maxRefCount {
		panic("object: refcount overflow")
	}

	o.count++

	return o.count
}

// Unref decrements the reference count. It returns true if the object is
// still alive afterwards, false if this call dropped the last reference
// and invoked the destructor. The destructor runs exactly once, after the
// lock has been released, so it may itself touch other objects.
func (o *Object) Unref() bool {
	o.mu.Lock()

	if o.count == 0 {
		o.mu.Unlock()
		panic("object: unref of a dead object")
	}

	o.count--
	dead := o.count == 0
	dealloc := o.dealloc

	o.mu.Unlock()

	if dead && dealloc != nil {
		dealloc()
	}

	return !dead
}

// RefCount returns the current reference count, for tests and diagnostics.
func (o *Object) RefCount() uint8 {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.count
}
