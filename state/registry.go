package state

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// per id state machine:
// absent
//
//	-> registryStateLoading
//	  -> absent (load failure)
//	  -> registryStateReady
//	    -> registryStateUnloading
//	      -> registryStateReady (re-acquired before the delay elapses)
//	      -> absent (unloaded)
type registryState string

const (
	registryStateLoading   registryState = "Loading"
	registryStateReady     registryState = "Ready"
	registryStateUnloading registryState = "Unloading"
)

type AcquireFunction[T any] func(instance T, err error)

// Loader is the pluggable load/unload operation behind a Registry.
// Load is the only suspension point: it may block on external i/o.
// Unload must tear down any subscriptions or timers the instance owns.
type Loader[T any] interface {
	Load(ctx context.Context, id string) (T, error)
	Unload(id string, instance T)
}

func DefaultRegistrySettings() *RegistrySettings {
	return &RegistrySettings{
		// tolerate rapid re-subscription without thrashing loads
		UnloadDelay: 15 * time.Second,
	}
}

type RegistrySettings struct {
	UnloadDelay time.Duration
}

// Registry is a reference-counted, delayed-unload cache of heavyweight
// backing objects keyed by id. The first acquire for an id triggers an
// asynchronous load; acquires during the load queue behind it; at most one
// load is in flight per id. When the refcount reaches zero an unload delay
// timer starts, cancelled cleanly by a re-acquire. References are counted
// per owner so that a lost connection can drop all of its holds at once.
//
// The internal maps are exclusively owned by the registry. Callers only go
// through Acquire/Release.
type Registry[T any] struct {
	ctx      context.Context
	loader   Loader[T]
	settings *RegistrySettings

	stateLock sync.Mutex
	entries   map[string]*registryEntry[T]
}

type registryEntry[T any] struct {
	state    registryState
	instance T

	// owner -> reference count. never negative
	refCounts map[string]int
	waiters   []registryWaiter[T]

	evicted     bool
	unloadEpoch int
	unloadTimer *time.Timer
}

type registryWaiter[T any] struct {
	owner    string
	callback AcquireFunction[T]
}

func NewRegistryWithDefaults[T any](ctx context.Context, loader Loader[T]) *Registry[T] {
	return NewRegistry[T](ctx, loader, DefaultRegistrySettings())
}

func NewRegistry[T any](ctx context.Context, loader Loader[T], settings *RegistrySettings) *Registry[T] {
	return &Registry[T]{
		ctx:      ctx,
		loader:   loader,
		settings: settings,
		entries:  map[string]*registryEntry[T]{},
	}
}

// Acquire asynchronously delivers the instance for `id` to `callback`,
// incrementing the owner's reference count once per call. A load failure is
// propagated to every queued acquirer and the id returns to absent, safe to
// retry.
func (self *Registry[T]) Acquire(id string, owner string, callback AcquireFunction[T]) {
	self.stateLock.Lock()
	entry, ok := self.entries[id]
	if !ok {
		entry = &registryEntry[T]{
			state:     registryStateLoading,
			refCounts: map[string]int{},
			waiters: []registryWaiter[T]{{
				owner:    owner,
				callback: callback,
			}},
		}
		self.entries[id] = entry
		self.stateLock.Unlock()

		glog.V(1).Infof("[reg]load start id=%s\n", id)
		go self.load(id, entry)
		return
	}

	switch entry.state {
	case registryStateLoading:
		// queue behind the in-flight load instead of starting a second one
		entry.waiters = append(entry.waiters, registryWaiter[T]{
			owner:    owner,
			callback: callback,
		})
		self.stateLock.Unlock()
	case registryStateUnloading:
		// cancel the pending unload with no side effect
		if entry.unloadTimer != nil {
			entry.unloadTimer.Stop()
			entry.unloadTimer = nil
		}
		entry.unloadEpoch += 1
		entry.state = registryStateReady
		glog.V(1).Infof("[reg]unload cancelled id=%s\n", id)
		fallthrough
	case registryStateReady:
		entry.refCounts[owner] += 1
		instance := entry.instance
		self.stateLock.Unlock()

		callback(instance, nil)
	default:
		self.stateLock.Unlock()
	}
}

func (self *Registry[T]) load(id string, entry *registryEntry[T]) {
	instance, err := self.loader.Load(self.ctx, id)

	self.stateLock.Lock()
	waiters := entry.waiters
	entry.waiters = nil
	evicted := entry.evicted
	if err != nil || evicted {
		delete(self.entries, id)
	} else {
		entry.state = registryStateReady
		entry.instance = instance
		for _, waiter := range waiters {
			entry.refCounts[waiter.owner] += 1
		}
		if len(entry.refCounts) == 0 {
			// every queued acquirer released while the load was in flight
			self.scheduleUnloadLocked(id, entry)
		}
	}
	self.stateLock.Unlock()

	if err != nil {
		glog.V(1).Infof("[reg]load failed id=%s err=%s\n", id, err)
		var zero T
		for _, waiter := range waiters {
			waiter.callback(zero, err)
		}
		return
	}
	if evicted {
		// force released while the load was in flight.
		// the load cannot be cancelled, so unload the completed instance now
		glog.V(1).Infof("[reg]load evicted id=%s\n", id)
		self.loader.Unload(id, instance)
		var zero T
		for _, waiter := range waiters {
			waiter.callback(zero, NewMutationError(ErrNotAcquired, "", id))
		}
		return
	}
	glog.V(1).Infof("[reg]load ready id=%s refs=%d\n", id, len(waiters))
	for _, waiter := range waiters {
		waiter.callback(instance, nil)
	}
}

// Release decrements the owner's reference count. Releasing an id the owner
// does not hold fails with ErrNotAcquired. When the total count reaches
// zero the unload delay timer starts. A release during an in-flight load
// cancels one of the owner's queued acquires instead, failing its callback
// with ErrNotAcquired.
func (self *Registry[T]) Release(id string, owner string) error {
	self.stateLock.Lock()

	entry, ok := self.entries[id]
	if !ok {
		self.stateLock.Unlock()
		return NewMutationError(ErrNotAcquired, "", id)
	}
	if entry.state == registryStateLoading {
		cancelled := cancelWaitersLocked(entry, owner, 1)
		self.stateLock.Unlock()
		if len(cancelled) == 0 {
			return NewMutationError(ErrNotAcquired, "", id)
		}
		var zero T
		cancelled[0].callback(zero, NewMutationError(ErrNotAcquired, "", id))
		return nil
	}
	if entry.refCounts[owner] == 0 {
		self.stateLock.Unlock()
		return NewMutationError(ErrNotAcquired, "", id)
	}
	entry.refCounts[owner] -= 1
	if entry.refCounts[owner] == 0 {
		delete(entry.refCounts, owner)
	}
	self.scheduleUnloadLocked(id, entry)
	self.stateLock.Unlock()
	return nil
}

// ReleaseOwner drops every hold of `owner`, for connection loss cleanup.
// Acquires by the owner still queued behind an in-flight load are cancelled.
func (self *Registry[T]) ReleaseOwner(owner string) {
	self.stateLock.Lock()

	cancelled := []registryWaiter[T]{}
	cancelledIds := []string{}
	for id, entry := range self.entries {
		if entry.state == registryStateLoading {
			waiters := cancelWaitersLocked(entry, owner, -1)
			cancelled = append(cancelled, waiters...)
			for range waiters {
				cancelledIds = append(cancelledIds, id)
			}
			continue
		}
		if entry.refCounts[owner] == 0 {
			continue
		}
		delete(entry.refCounts, owner)
		self.scheduleUnloadLocked(id, entry)
	}
	self.stateLock.Unlock()

	var zero T
	for i, waiter := range cancelled {
		waiter.callback(zero, NewMutationError(ErrNotAcquired, "", cancelledIds[i]))
	}
}

// cancelWaitersLocked removes up to `limit` queued waiters held by `owner`
// (all of them when limit is negative) and returns the removed waiters.
func cancelWaitersLocked[T any](entry *registryEntry[T], owner string, limit int) []registryWaiter[T] {
	removed := []registryWaiter[T]{}
	kept := entry.waiters[:0]
	for _, waiter := range entry.waiters {
		if waiter.owner == owner && limit != 0 {
			removed = append(removed, waiter)
			limit -= 1
			continue
		}
		kept = append(kept, waiter)
	}
	entry.waiters = kept
	return removed
}

// ReleaseAll force-releases `id` regardless of refcount, for administrative
// eviction. The unload delay is bypassed.
func (self *Registry[T]) ReleaseAll(id string) {
	self.stateLock.Lock()
	entry, ok := self.entries[id]
	if !ok {
		self.stateLock.Unlock()
		return
	}
	if entry.state == registryStateLoading {
		// a load in flight cannot be cancelled. mark the entry so the
		// completed instance is unloaded and queued acquirers are failed
		entry.evicted = true
		self.stateLock.Unlock()
		return
	}
	if entry.unloadTimer != nil {
		entry.unloadTimer.Stop()
		entry.unloadTimer = nil
	}
	instance := entry.instance
	delete(self.entries, id)
	self.stateLock.Unlock()

	glog.V(1).Infof("[reg]evict id=%s\n", id)
	self.loader.Unload(id, instance)
}

// RefCount returns the total reference count across owners.
func (self *Registry[T]) RefCount(id string) int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[id]
	if !ok {
		return 0
	}
	total := 0
	for _, count := range entry.refCounts {
		total += count
	}
	return total
}

// Loaded returns the ready instance without affecting the refcount.
func (self *Registry[T]) Loaded(id string) (T, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entry, ok := self.entries[id]
	if !ok || entry.state == registryStateLoading {
		var zero T
		return zero, false
	}
	return entry.instance, true
}

// LoadedIds returns the ids currently loaded or loading.
func (self *Registry[T]) LoadedIds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return maps.Keys(self.entries)
}

func (self *Registry[T]) scheduleUnloadLocked(id string, entry *registryEntry[T]) {
	if entry.state != registryStateReady || 0 < len(entry.refCounts) {
		return
	}
	entry.state = registryStateUnloading
	entry.unloadEpoch += 1
	epoch := entry.unloadEpoch
	glog.V(1).Infof("[reg]unload scheduled id=%s delay=%s\n", id, self.settings.UnloadDelay)
	entry.unloadTimer = time.AfterFunc(self.settings.UnloadDelay, func() {
		self.unload(id, epoch)
	})
}

func (self *Registry[T]) unload(id string, epoch int) {
	self.stateLock.Lock()
	entry, ok := self.entries[id]
	if !ok || entry.state != registryStateUnloading || entry.unloadEpoch != epoch {
		// re-acquired or already evicted
		self.stateLock.Unlock()
		return
	}
	instance := entry.instance
	delete(self.entries, id)
	self.stateLock.Unlock()

	glog.V(1).Infof("[reg]unload id=%s\n", id)
	self.loader.Unload(id, instance)
}
