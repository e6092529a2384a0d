// Package registry binds the 64-bit handles given to NFS clients to remote
// object paths.
package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Handle is the 64-bit inode number handed to NFS clients.
type Handle uint64

// RootHandle is reserved for the mount point and bound at construction.
const RootHandle Handle = 1

// ErrNotBound is returned when a handle or path has no binding. Callers
// surface it as a stale handle.
var ErrNotBound = errors.New("not bound")

// InodeRegistry maintains the bijection between handles and remote paths.
//
// Both directions are kept in one structure under one lock, so a reader
// never sees a handle mapped to a path that maps back to another handle.
// Lookups take the read lock and run in parallel; binds take the write lock
// for a couple of map operations only.
//
// Handles are allocated from a monotonic counter and never reused, even
// after the path they named is removed.
//
// Example usage:
//
//	reg := registry.New("/tempZone/home")
//	h := reg.Allocate()
//	reg.Bind(h, "/tempZone/home/alice")
//	path, _ := reg.PathOf(h)
type InodeRegistry struct {
	next atomic.Uint64

	mu     sync.RWMutex
	paths  map[Handle]string
	inodes map[string]Handle
}

// New creates a registry with RootHandle bound to rootPath.
func New(rootPath string) *InodeRegistry {
	r := &InodeRegistry{
		paths:  make(map[Handle]string),
		inodes: make(map[string]Handle),
	}
	r.next.Store(uint64(RootHandle))
	r.Bind(RootHandle, rootPath)
	return r
}

// Allocate returns a handle that has never been issued before.
func (r *InodeRegistry) Allocate() Handle {
	return Handle(r.next.Add(1))
}

// Bind associates h with path. Any previous binding of h, or of path to a
// different handle, is dropped so the mapping stays one-to-one.
func (r *InodeRegistry) Bind(h Handle, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindLocked(h, path)
}

func (r *InodeRegistry) bindLocked(h Handle, path string) {
	if old, ok := r.paths[h]; ok && old != path {
		delete(r.inodes, old)
	}
	if other, ok := r.inodes[path]; ok && other != h {
		delete(r.paths, other)
	}
	r.paths[h] = path
	r.inodes[path] = h
}

// HandleOrBind returns the handle bound to path, allocating and binding a
// new one if there is none.
func (r *InodeRegistry) HandleOrBind(path string) Handle {
	r.mu.RLock()
	h, ok := r.inodes[path]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have bound path between the two locks.
	if h, ok := r.inodes[path]; ok {
		return h
	}
	h = r.Allocate()
	r.bindLocked(h, path)
	return h
}

// Rebind moves h from oldPath to newPath. It is a no-op when h is no longer
// bound to oldPath. A handle previously bound to newPath loses its binding.
func (r *InodeRegistry) Rebind(h Handle, oldPath, newPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.paths[h]; !ok || cur != oldPath {
		return
	}
	r.bindLocked(h, newPath)
}

// RebindSubtree rewrites every binding strictly below oldPrefix so that it
// sits below newPrefix instead. Used after a collection is renamed, so the
// handles of its descendants stay valid.
func (r *InodeRegistry) RebindSubtree(oldPrefix, newPrefix string) int {
	oldPrefix = strings.TrimSuffix(oldPrefix, "/") + "/"
	newPrefix = strings.TrimSuffix(newPrefix, "/") + "/"

	r.mu.Lock()
	defer r.mu.Unlock()

	moved := make(map[Handle]string)
	for h, p := range r.paths {
		if strings.HasPrefix(p, oldPrefix) {
			moved[h] = newPrefix + strings.TrimPrefix(p, oldPrefix)
		}
	}
	for h, p := range moved {
		r.bindLocked(h, p)
	}
	return len(moved)
}

// UnbindSubtree removes every binding strictly below prefix. Used after a
// collection is removed, so the handles of its descendants go stale.
func (r *InodeRegistry) UnbindSubtree(prefix string) int {
	prefix = strings.TrimSuffix(prefix, "/") + "/"

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for h, p := range r.paths {
		if h != RootHandle && strings.HasPrefix(p, prefix) {
			delete(r.paths, h)
			delete(r.inodes, p)
			n++
		}
	}
	return n
}

// Unbind removes the binding between h and path. It is a no-op when the pair
// is not currently bound together. The root binding is never removed.
func (r *InodeRegistry) Unbind(h Handle, path string) {
	if h == RootHandle {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.paths[h]; !ok || cur != path {
		return
	}
	delete(r.paths, h)
	delete(r.inodes, path)
}

// UnbindPath removes whatever handle is bound to path. It returns the handle
// and true if a binding existed.
func (r *InodeRegistry) UnbindPath(path string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.inodes[path]
	if !ok || h == RootHandle {
		return 0, false
	}
	delete(r.paths, h)
	delete(r.inodes, path)
	return h, true
}

// PathOf returns the path bound to h.
func (r *InodeRegistry) PathOf(h Handle) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.paths[h]
	if !ok {
		return "", fmt.Errorf("handle %d: %w", h, ErrNotBound)
	}
	return p, nil
}

// HandleOf returns the handle bound to path.
func (r *InodeRegistry) HandleOf(path string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.inodes[path]
	if !ok {
		return 0, fmt.Errorf("path %q: %w", path, ErrNotBound)
	}
	return h, nil
}

// Len returns the number of bound handles, root included.
func (r *InodeRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.paths)
}
