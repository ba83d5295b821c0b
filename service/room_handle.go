package service

import (
	"context"

	"github.com/golang/glog"

	"tessera.dev/sync/protocol"
	"tessera.dev/sync/state"
)

// roomHandle owns a loaded room together with its broker wiring. Unloading
// the handle detaches the callbacks so an evicted room stops publishing.
type roomHandle struct {
	room   *state.Room
	unsubs []func()
}

type roomLoader struct {
	service *Service
}

// state.Loader[*roomHandle]
func (self *roomLoader) Load(ctx context.Context, id string) (*roomHandle, error) {
	service := self.service
	room := state.NewRoom(id, service.settings.RoomSettings)
	entityId := RoomEntityId(id)

	handle := &roomHandle{
		room: room,
	}
	handle.unsubs = append(handle.unsubs, room.Users().AddItemAddedCallback(func(itemId string, index int, values map[string]any) {
		name, _ := values["name"].(string)
		service.broker.Publish(entityId, &protocol.MirrorRoomJoin{
			RoomId:   id,
			ClientId: itemId,
			Name:     name,
			Index:    index,
		})
	}))
	handle.unsubs = append(handle.unsubs, room.Users().AddItemRemovedCallback(func(itemId string) {
		service.broker.Publish(entityId, &protocol.MirrorRoomLeave{
			RoomId:   id,
			ClientId: itemId,
		})
	}))
	handle.unsubs = append(handle.unsubs, room.AddMessageAppendedCallback(func(message state.RoomMessage) {
		service.broker.Publish(entityId, &protocol.MirrorRoomMessage{
			RoomId: id,
			Message: protocol.RoomMessage{
				MessageId: message.MessageId,
				AuthorId:  message.AuthorId,
				Text:      message.Text,
				Timestamp: message.Timestamp,
			},
		})
	}))
	glog.V(1).Infof("[svc]room loaded %s\n", id)
	return handle, nil
}

func (self *roomLoader) Unload(id string, handle *roomHandle) {
	for _, unsub := range handle.unsubs {
		unsub()
	}
	handle.unsubs = nil
	glog.V(1).Infof("[svc]room unloaded %s\n", id)
}
