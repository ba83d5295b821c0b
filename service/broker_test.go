package service

import (
	"slices"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"tessera.dev/sync/protocol"
	"tessera.dev/sync/state"
)

type testSubscriber struct {
	stateLock sync.Mutex
	frames    []*protocol.Frame
	// when true, Send reports it cannot keep up
	full bool
}

func (self *testSubscriber) Send(frame *protocol.Frame) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.full {
		return false
	}
	self.frames = append(self.frames, frame)
	return true
}

func (self *testSubscriber) received() []*protocol.Frame {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	out := make([]*protocol.Frame, len(self.frames))
	copy(out, self.frames)
	return out
}

func TestBroker(t *testing.T) {
	broker := NewBroker()

	subscriberA := &testSubscriber{}
	subscriberB := &testSubscriber{}
	broker.Subscribe("connA", "entries", subscriberA)
	broker.Subscribe("connB", "entries", subscriberB)
	// double subscribe is idempotent
	broker.Subscribe("connA", "entries", subscriberA)
	assert.Equal(t, 2, broker.SubscriberCount("entries"))

	broker.Publish("entries", &protocol.MirrorRemove{EntityId: "entries", ItemId: "e1"})
	broker.Publish("entries", &protocol.MirrorRemove{EntityId: "entries", ItemId: "e2"})
	// a different entity does not reach these subscribers
	broker.Publish("room/r1", &protocol.MirrorRoomLeave{RoomId: "r1", ClientId: "c1"})

	for _, subscriber := range []*testSubscriber{subscriberA, subscriberB} {
		frames := subscriber.received()
		assert.Equal(t, 2, len(frames))
		assert.Equal(t, protocol.MessageTypeMirrorRemove, frames[0].MessageType)
		// per-subscription seq starts at 1 and increments per frame
		assert.Equal(t, uint64(1), frames[0].Seq)
		assert.Equal(t, uint64(2), frames[1].Seq)

		message, err := protocol.FromFrame(frames[0])
		assert.Equal(t, nil, err)
		assert.Equal(t, "e1", message.(*protocol.MirrorRemove).ItemId)
	}

	broker.Unsubscribe("connB", "entries")
	broker.Publish("entries", &protocol.MirrorRemove{EntityId: "entries", ItemId: "e3"})
	assert.Equal(t, 3, len(subscriberA.received()))
	assert.Equal(t, 2, len(subscriberB.received()))
}

func TestBrokerSlowSubscriber(t *testing.T) {
	broker := NewBroker()

	subscriber := &testSubscriber{full: true}
	broker.Subscribe("connA", "entries", subscriber)
	assert.Equal(t, 1, broker.SubscriberCount("entries"))

	// a subscriber that cannot keep up is dropped rather than allowed to
	// observe a gap
	broker.Publish("entries", &protocol.MirrorRemove{EntityId: "entries", ItemId: "e1"})
	assert.Equal(t, 0, broker.SubscriberCount("entries"))
}

func TestBrokerSeqReplayGuard(t *testing.T) {
	broker := NewBroker()

	subscriber := &testSubscriber{}
	broker.Subscribe("connA", EntityEntries, subscriber)

	broker.Publish(EntityEntries, &protocol.MirrorAdd{
		EntityId: EntityEntries,
		ItemId:   "e1",
		Index:    0,
		Values:   map[string]any{"name": "a"},
	})
	broker.Publish(EntityEntries, &protocol.MirrorSetProperty{
		EntityId: EntityEntries,
		ItemId:   "e1",
		Path:     "name",
		Value:    "b",
	})
	frames := subscriber.received()
	assert.Equal(t, 2, len(frames))

	// a reconnecting client replays from its last acked frame, so the
	// mirror can see the same frame twice. property mirrors converge on
	// their own, structural mirrors do not, so the per-subscription seq
	// is what keeps a replayed add from duplicating the entry
	mirror := state.NewEntryTree()
	lastSeq := uint64(0)
	apply := func(frame *protocol.Frame) {
		if frame.Seq <= lastSeq {
			return
		}
		lastSeq = frame.Seq
		message, err := protocol.FromFrame(frame)
		assert.Equal(t, nil, err)
		switch v := message.(type) {
		case *protocol.MirrorAdd:
			mirror.Tree.ApplyAdd(v.ItemId, v.Values, v.ParentId, v.Index)
		case *protocol.MirrorSetProperty:
			mirror.Tree.ApplyProperty(v.ItemId, v.Path, v.Value)
		}
	}

	apply(frames[0])
	apply(frames[0])
	assert.Equal(t, 1, mirror.Tree.Len())

	apply(frames[1])
	apply(frames[1])
	node, ok := mirror.Tree.Node("e1")
	assert.Equal(t, true, ok)
	name, _ := node.Record().Property("name")
	assert.Equal(t, "b", name)
	assert.Equal(t, 1, mirror.Tree.Len())
}

func TestBrokerRemoveConnection(t *testing.T) {
	broker := NewBroker()

	subscriber := &testSubscriber{}
	broker.Subscribe("connA", "entries", subscriber)
	broker.Subscribe("connA", "room/r1", subscriber)
	broker.Subscribe("connB", "entries", subscriber)

	entityIds := broker.RemoveConnection("connA")
	slices.Sort(entityIds)
	assert.Equal(t, []string{"entries", "room/r1"}, entityIds)

	assert.Equal(t, 1, broker.SubscriberCount("entries"))
	assert.Equal(t, 0, broker.SubscriberCount("room/r1"))
	assert.Equal(t, []string{}, broker.RemoveConnection("connA"))
}
