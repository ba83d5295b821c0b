package service

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

type mutationFunc = func()

func DefaultMutationBufferSettings() *MutationBufferSettings {
	return &MutationBufferSettings{
		SequenceBufferSize: 32,
		IdleTimeout:        60 * time.Second,
	}
}

type MutationBufferSettings struct {
	SequenceBufferSize int
	IdleTimeout        time.Duration
}

// MutationBuffer gives every entity id its own mutual-exclusion section:
// mutations dispatched to the same id run one at a time in receipt order
// on that id's sequence goroutine, while mutations to different ids
// proceed concurrently. Sequences shut down on idle and are recreated on
// the next dispatch.
type MutationBuffer struct {
	ctx context.Context

	settings *MutationBufferSettings

	mutex     sync.Mutex
	sequences map[string]*mutationSequence
}

func NewMutationBufferWithDefaults(ctx context.Context) *MutationBuffer {
	return NewMutationBuffer(ctx, DefaultMutationBufferSettings())
}

func NewMutationBuffer(ctx context.Context, settings *MutationBufferSettings) *MutationBuffer {
	return &MutationBuffer{
		ctx:       ctx,
		settings:  settings,
		sequences: map[string]*mutationSequence{},
	}
}

// Dispatch queues `mutation` on the sequence for `entityId`. Returns false
// only when the buffer's context is done.
func (self *MutationBuffer) Dispatch(entityId string, mutation mutationFunc) bool {
	initSequence := func(skip *mutationSequence) *mutationSequence {
		self.mutex.Lock()
		defer self.mutex.Unlock()

		sequence, ok := self.sequences[entityId]
		if ok {
			if skip == nil || skip != sequence {
				return sequence
			}
			sequence.Cancel()
			delete(self.sequences, entityId)
		}

		sequence = newMutationSequence(self.ctx, entityId, self.settings)
		self.sequences[entityId] = sequence
		go func() {
			sequence.Run()

			self.mutex.Lock()
			defer self.mutex.Unlock()
			sequence.Cancel()
			// clean up
			if sequence == self.sequences[entityId] {
				delete(self.sequences, entityId)
			}
		}()
		return sequence
	}

	var sequence *mutationSequence
	for i := 0; i < 2; i += 1 {
		select {
		case <-self.ctx.Done():
			return false
		default:
		}
		sequence = initSequence(sequence)
		if sequence.apply(mutation) {
			return true
		}
		// sequence closed
	}
	return false
}

func (self *MutationBuffer) Close() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, sequence := range self.sequences {
		sequence.Cancel()
	}
}

type mutationSequence struct {
	ctx    context.Context
	cancel context.CancelFunc

	entityId string
	settings *MutationBufferSettings

	mutations chan mutationFunc

	idleCondition *IdleCondition
}

func newMutationSequence(ctx context.Context, entityId string, settings *MutationBufferSettings) *mutationSequence {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &mutationSequence{
		ctx:           cancelCtx,
		cancel:        cancel,
		entityId:      entityId,
		settings:      settings,
		mutations:     make(chan mutationFunc, settings.SequenceBufferSize),
		idleCondition: NewIdleCondition(),
	}
}

func (self *mutationSequence) apply(mutation mutationFunc) bool {
	if !self.idleCondition.UpdateOpen() {
		return false
	}
	defer self.idleCondition.UpdateClose()

	select {
	case <-self.ctx.Done():
		return false
	case self.mutations <- mutation:
		return true
	}
}

func (self *mutationSequence) Run() {
	defer self.cancel()

	for {
		checkpointId := self.idleCondition.Checkpoint()
		select {
		case <-self.ctx.Done():
			return
		case mutation := <-self.mutations:
			mutation()
		case <-time.After(self.settings.IdleTimeout):
			if self.idleCondition.Close(checkpointId) {
				glog.V(2).Infof("[mb]idle close %s\n", self.entityId)
				return
			}
			// else an apply raced in, keep going
		}
	}
}

func (self *mutationSequence) Cancel() {
	self.cancel()
}
