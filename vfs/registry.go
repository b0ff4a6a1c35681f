// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package vfs implements the virtual file-system multiplexer: a registry
// that binds path prefixes and fd ranges to back-end driver operation
// tables, a shared fd table, longest-prefix path routing, and a
// synthetic root directory enumerating the mounted drivers.
package vfs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/siderolabs/gen/xslices"
)

// MaxMounts is the fixed number of simultaneous mounts this registry
// supports (VFS_MAX_COUNT in the original).
const MaxMounts = 4

// BasePathMax is the longest path prefix a mount may register, excluding
// the terminator.
const BasePathMax = 32

// Index identifies a mount slot.
type Index int

// NoIndex is returned alongside an error from Register/Init.
const NoIndex Index = -1

type entry struct {
	ops     Ops
	prefix  string // "" is the default/root mount
	ignored bool   // fd-range-only mount, never matched by path
	index   Index
}

// RegisterEventFunc and DeregisterEventFunc are optional observers fired
// after a mount becomes visible / after it has been removed, mirroring
// the weak pico_vfs_register_event / pico_vfs_deregister_event symbols.
type (
	RegisterEventFunc   func(prefix string)
	DeregisterEventFunc func(prefix string)
)

// Options configure a Registry.
type Options struct {
	Logger       *zap.Logger
	OnRegister   RegisterEventFunc
	OnDeregister DeregisterEventFunc
}

// Option sets an Options field.
type Option func(*Options)

// WithLogger sets the logger used for register/deregister events.
// Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithRegisterEvent installs an observer fired after a mount becomes
// visible to new lookups, mirroring the weak pico_vfs_register_event
// symbol. Nil (the default) means no observer.
func WithRegisterEvent(fn RegisterEventFunc) Option {
	return func(o *Options) {
		o.OnRegister = fn
	}
}

// WithDeregisterEvent installs an observer fired after a mount has been
// removed, mirroring the weak pico_vfs_deregister_event symbol. Nil (the
// default) means no observer.
func WithDeregisterEvent(fn DeregisterEventFunc) Option {
	return func(o *Options) {
		o.OnDeregister = fn
	}
}

func applyOptions(opts ...Option) Options {
	o := Options{Logger: zap.NewNop()}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Registry is the VFS mount table plus its fd table. The zero value is
// not ready for use; construct with NewRegistry and call Init once.
//
// Reads of the mount table during path resolution are lock-free
// (atomic.Pointer loads): mounts are established once at startup and
// rarely change afterwards, so readers tolerate a momentarily stale
// snapshot, per the concurrency model this module ports. Mutations
// (Register, Unregister, fd-range reservation) take mu, which doubles as
// the fd table's mutex and so acts as a process-wide barrier exactly as
// the original's single s_fd_table_mutex did.
type Registry struct {
	mu           sync.Mutex
	entries      [MaxMounts]atomic.Pointer[entry]
	fds          fdTable
	initialised  bool
	logger       *zap.Logger
	onRegister   RegisterEventFunc
	onDeregister DeregisterEventFunc
}

// NewRegistry constructs an uninitialised Registry.
func NewRegistry(opts ...Option) *Registry {
	o := applyOptions(opts...)

	return &Registry{logger: o.Logger, onRegister: o.OnRegister, onDeregister: o.OnDeregister}
}

// Init performs the one-shot setup: resets the fd table and registers
// the synthetic root mount used for directory enumeration (§4.8).
// Calling Init a second time on the same Registry returns EBUSY.
func (r *Registry) Init() (Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.initialised {
		return NoIndex, fmt.Errorf("vfs: init: %w", syscall.EBUSY)
	}

	r.initialised = true
	r.fds.reset()

	return r.registerLocked("", &rootDir{registry: r}, false)
}

func validatePrefix(prefix string) error {
	n := len(prefix)
	if n == 0 {
		return nil
	}

	if n < 2 || n > BasePathMax {
		return fmt.Errorf("vfs: path prefix %q: %w", prefix, syscall.EINVAL)
	}

	if prefix[0] != '/' || prefix[n-1] == '/' {
		return fmt.Errorf("vfs: path prefix %q: %w", prefix, syscall.EINVAL)
	}

	return nil
}

// Register binds prefix to ops. prefix must be empty (the default
// mount), or start with '/', not end with '/', and be between 2 and
// BasePathMax bytes long; violations return EINVAL.
func (r *Registry) Register(prefix string, ops Ops) (Index, error) {
	if err := validatePrefix(prefix); err != nil {
		return NoIndex, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.registerLocked(prefix, ops, false)
}

// RegisterFDRange registers ops as an ignored mount (never matched by
// path) and immediately reserves [min, max] in the fd table for it.
// If the reservation fails, the mount is rolled back so a failed call
// never consumes one of the MaxMounts slots.
func (r *Registry) RegisterFDRange(ops Ops, minFD, maxFD int) (Index, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, err := r.registerLocked("", ops, true)
	if err != nil {
		return NoIndex, err
	}

	if err := r.fds.reserveRangeLocked(idx, minFD, maxFD); err != nil {
		r.entries[idx].Store(nil)

		return NoIndex, err
	}

	return idx, nil
}

// RegisterFDRangeForIndex reserves [min, max] in the fd table for an
// already-registered mount.
func (r *Registry) RegisterFDRangeForIndex(index Index, minFD, maxFD int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.fds.reserveRangeLocked(index, minFD, maxFD)
}

func (r *Registry) registerLocked(prefix string, ops Ops, ignored bool) (Index, error) {
	slot := -1

	for i := 0; i < MaxMounts; i++ {
		if r.entries[i].Load() == nil {
			slot = i

			break
		}
	}

	if slot == -1 {
		return NoIndex, fmt.Errorf("vfs: register %q: %w", prefix, syscall.ENOMEM)
	}

	e := &entry{ops: ops, prefix: prefix, ignored: ignored, index: Index(slot)}
	r.entries[slot].Store(e)

	if !ignored {
		if r.logger != nil {
			r.logger.Debug("vfs mount registered", zap.String("prefix", prefix), zap.Int("index", slot))
		}

		if r.onRegister != nil {
			r.onRegister(prefix)
		}
	}

	return Index(slot), nil
}

// Unregister removes the mount at index. The deregister event fires only
// after the entry is no longer visible to new lookups.
func (r *Registry) Unregister(index Index) error {
	r.mu.Lock()

	if index < 0 || int(index) >= MaxMounts {
		r.mu.Unlock()

		return fmt.Errorf("vfs: unregister: %w", syscall.EINVAL)
	}

	e := r.entries[index].Load()
	if e == nil {
		r.mu.Unlock()

		return fmt.Errorf("vfs: unregister: %w", syscall.EINVAL)
	}

	r.entries[index].Store(nil)
	r.mu.Unlock()

	r.logger.Debug("vfs mount unregistered", zap.String("prefix", e.prefix), zap.Int("index", int(index)))

	if r.onDeregister != nil {
		r.onDeregister(e.prefix)
	}

	return nil
}

// GetOpsForIndex returns the operation table registered at index.
func (r *Registry) GetOpsForIndex(index Index) (Ops, bool) {
	if index < 0 || int(index) >= MaxMounts {
		return nil, false
	}

	e := r.entries[index].Load()
	if e == nil {
		return nil, false
	}

	return e.ops, true
}

// activeEntries returns every currently-registered mount, used by path
// resolution and by the root directory's enumeration.
func (r *Registry) activeEntries() []*entry {
	all := make([]*entry, 0, MaxMounts)

	for i := 0; i < MaxMounts; i++ {
		if e := r.entries[i].Load(); e != nil {
			all = append(all, e)
		}
	}

	return all
}

// resolveForPath implements the longest-prefix match of §4.5: among all
// non-ignored entries whose prefix matches path (either the default
// mount, or path begins with the prefix and either matches exactly or is
// followed by '/'), the one with the longest prefix wins.
func (r *Registry) resolveForPath(path string) *entry {
	candidates := xslices.FilterInPlace(r.activeEntries(), func(e *entry) bool {
		if e.ignored {
			return false
		}

		if len(e.prefix) == 0 {
			return true
		}

		if len(path) < len(e.prefix) || path[:len(e.prefix)] != e.prefix {
			return false
		}

		return len(path) == len(e.prefix) || path[len(e.prefix)] == '/'
	})

	var best *entry

	for _, e := range candidates {
		if best == nil || len(e.prefix) > len(best.prefix) {
			best = e
		}
	}

	return best
}

// translatePath strips e's prefix from path, special-casing an exact
// match to "/" per §4.5.
func translatePath(e *entry, path string) string {
	if len(e.prefix) == 0 {
		return path
	}

	if len(path) == len(e.prefix) {
		return "/"
	}

	return path[len(e.prefix):]
}
