package state

import (
	"slices"
	"sync"
)

// makes a copy of the list on update, so that `Get` is safe to iterate
// without holding the lock. callbacks are identified by handle because
// function values are not comparable.
type CallbackList[T any] struct {
	stateLock sync.Mutex

	nextHandle int
	entries    []callbackEntry[T]
	snapshot   []T
}

type callbackEntry[T any] struct {
	handle   int
	callback T
}

func NewCallbackList[T any]() *CallbackList[T] {
	return &CallbackList[T]{}
}

func (self *CallbackList[T]) Get() []T {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.snapshot
}

// returns a function to remove the callback
func (self *CallbackList[T]) Add(callback T) func() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	handle := self.nextHandle
	self.nextHandle += 1
	self.entries = append(slices.Clone(self.entries), callbackEntry[T]{
		handle:   handle,
		callback: callback,
	})
	self.updateSnapshot()

	return func() {
		self.remove(handle)
	}
}

func (self *CallbackList[T]) remove(handle int) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	i := slices.IndexFunc(self.entries, func(entry callbackEntry[T]) bool {
		return entry.handle == handle
	})
	if i < 0 {
		// not present
		return
	}
	nextEntries := slices.Clone(self.entries)
	nextEntries = slices.Delete(nextEntries, i, i+1)
	self.entries = nextEntries
	self.updateSnapshot()
}

func (self *CallbackList[T]) updateSnapshot() {
	snapshot := make([]T, len(self.entries))
	for i, entry := range self.entries {
		snapshot[i] = entry.callback
	}
	self.snapshot = snapshot
}
