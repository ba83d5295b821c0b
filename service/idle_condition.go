package service

import (
	"sync"
)

// IdleCondition coordinates a sequence goroutine that wants to shut down
// on idle with producers that may be about to enqueue. A producer brackets
// its enqueue with UpdateOpen/UpdateClose; the sequence takes a Checkpoint
// before its idle wait and may Close only if no update happened since and
// no update is in progress.
type IdleCondition struct {
	mutex sync.Mutex

	modId           int
	updateOpenCount int
	closed          bool
}

func NewIdleCondition() *IdleCondition {
	return &IdleCondition{}
}

func (self *IdleCondition) UpdateOpen() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.closed {
		return false
	}
	self.modId += 1
	self.updateOpenCount += 1
	return true
}

func (self *IdleCondition) UpdateClose() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.updateOpenCount -= 1
}

func (self *IdleCondition) Checkpoint() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.modId
}

func (self *IdleCondition) Close(checkpointId int) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	if self.updateOpenCount != 0 {
		return false
	}
	if self.modId != checkpointId {
		return false
	}
	self.closed = true
	return true
}
