package service

import (
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"

	"tessera.dev/sync/protocol"
)

// Subscriber is a connection's ordered sink of broadcast frames. Send must
// enqueue without blocking; returning false marks the subscriber as
// unable to keep up, and the transport is expected to drop the connection
// rather than let it observe a gap.
type Subscriber interface {
	Send(frame *protocol.Frame) bool
}

// Broker fans each entity event out to every subscriber of that entity.
// Publish is called from inside the entity's mutation sequence, and all
// subscriber queues are appended under one lock, so every subscriber
// observes the events of one entity in the exact order the authoritative
// process applied them.
type Broker struct {
	mutex sync.Mutex
	// entity id -> connection id -> subscription
	subscriptionsByEntity map[string]map[string]*brokerSubscription
	// connection id -> entity ids
	entitiesByConn map[string]map[string]bool
}

type brokerSubscription struct {
	subscriber Subscriber
	seq        uint64
}

func NewBroker() *Broker {
	return &Broker{
		subscriptionsByEntity: map[string]map[string]*brokerSubscription{},
		entitiesByConn:        map[string]map[string]bool{},
	}
}

func (self *Broker) Subscribe(connId string, entityId string, subscriber Subscriber) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	subscriptions, ok := self.subscriptionsByEntity[entityId]
	if !ok {
		subscriptions = map[string]*brokerSubscription{}
		self.subscriptionsByEntity[entityId] = subscriptions
	}
	if _, ok := subscriptions[connId]; ok {
		// already subscribed, keep the existing seq
		return
	}
	subscriptions[connId] = &brokerSubscription{
		subscriber: subscriber,
	}

	entities, ok := self.entitiesByConn[connId]
	if !ok {
		entities = map[string]bool{}
		self.entitiesByConn[connId] = entities
	}
	entities[entityId] = true
}

func (self *Broker) Unsubscribe(connId string, entityId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.unsubscribeLocked(connId, entityId)
}

// RemoveConnection drops every subscription of `connId` and returns the
// entity ids it was subscribed to, for hold cleanup.
func (self *Broker) RemoveConnection(connId string) []string {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	entities, ok := self.entitiesByConn[connId]
	if !ok {
		return []string{}
	}
	entityIds := maps.Keys(entities)
	for _, entityId := range entityIds {
		self.unsubscribeLocked(connId, entityId)
	}
	return entityIds
}

// Publish encodes `message` once and appends it to every subscriber queue
// for `entityId`, stamping each with that subscription's next sequence
// number so mirrors can drop replays.
func (self *Broker) Publish(entityId string, message any) {
	frame, err := protocol.ToFrame(message)
	if err != nil {
		glog.Errorf("[broker]encode failed for %s: %s\n", entityId, err)
		return
	}

	self.mutex.Lock()
	defer self.mutex.Unlock()

	for connId, subscription := range self.subscriptionsByEntity[entityId] {
		subscription.seq += 1
		subscriberFrame := &protocol.Frame{
			MessageType:  frame.MessageType,
			MessageBytes: frame.MessageBytes,
			Seq:          subscription.seq,
		}
		if !subscription.subscriber.Send(subscriberFrame) {
			glog.Warningf("[broker]slow subscriber %s on %s, dropping subscription\n", connId, entityId)
			self.unsubscribeLocked(connId, entityId)
		}
	}
}

func (self *Broker) SubscriberCount(entityId string) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.subscriptionsByEntity[entityId])
}

func (self *Broker) unsubscribeLocked(connId string, entityId string) {
	if subscriptions, ok := self.subscriptionsByEntity[entityId]; ok {
		delete(subscriptions, connId)
		if len(subscriptions) == 0 {
			delete(self.subscriptionsByEntity, entityId)
		}
	}
	if entities, ok := self.entitiesByConn[connId]; ok {
		delete(entities, entityId)
		if len(entities) == 0 {
			delete(self.entitiesByConn, connId)
		}
	}
}
