package protocol

import (
	"encoding/json"
	"fmt"
)

func ToFrame(message any) (*Frame, error) {
	var messageType MessageType
	switch v := message.(type) {
	case *EntryAdd:
		messageType = MessageTypeEntryAdd
	case *EntryMove:
		messageType = MessageTypeEntryMove
	case *EntryRemove:
		messageType = MessageTypeEntryRemove
	case *EntrySetProperty:
		messageType = MessageTypeEntrySetProperty
	case *RoomJoin:
		messageType = MessageTypeRoomJoin
	case *RoomLeave:
		messageType = MessageTypeRoomLeave
	case *RoomSend:
		messageType = MessageTypeRoomSend
	case *Subscribe:
		messageType = MessageTypeSubscribe
	case *Unsubscribe:
		messageType = MessageTypeUnsubscribe
	case *MutationResult:
		messageType = MessageTypeMutationResult
	case *MutationErrorResult:
		messageType = MessageTypeMutationErrorResult
	case *MirrorAdd:
		messageType = MessageTypeMirrorAdd
	case *MirrorMove:
		messageType = MessageTypeMirrorMove
	case *MirrorRemove:
		messageType = MessageTypeMirrorRemove
	case *MirrorSetProperty:
		messageType = MessageTypeMirrorSetProperty
	case *MirrorRoomJoin:
		messageType = MessageTypeMirrorRoomJoin
	case *MirrorRoomLeave:
		messageType = MessageTypeMirrorRoomLeave
	case *MirrorRoomMessage:
		messageType = MessageTypeMirrorRoomMessage
	case *MirrorDiagnostics:
		messageType = MessageTypeMirrorDiagnostics
	case *MirrorDependencies:
		messageType = MessageTypeMirrorDependencies
	default:
		return nil, fmt.Errorf("Unknown message type: %T", v)
	}
	b, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return &Frame{
		MessageType:  messageType,
		MessageBytes: b,
	}, nil
}

func RequireToFrame(message any) *Frame {
	frame, err := ToFrame(message)
	if err != nil {
		panic(err)
	}
	return frame
}

func FromFrame(frame *Frame) (any, error) {
	var message any
	switch frame.MessageType {
	case MessageTypeEntryAdd:
		message = &EntryAdd{}
	case MessageTypeEntryMove:
		message = &EntryMove{}
	case MessageTypeEntryRemove:
		message = &EntryRemove{}
	case MessageTypeEntrySetProperty:
		message = &EntrySetProperty{}
	case MessageTypeRoomJoin:
		message = &RoomJoin{}
	case MessageTypeRoomLeave:
		message = &RoomLeave{}
	case MessageTypeRoomSend:
		message = &RoomSend{}
	case MessageTypeSubscribe:
		message = &Subscribe{}
	case MessageTypeUnsubscribe:
		message = &Unsubscribe{}
	case MessageTypeMutationResult:
		message = &MutationResult{}
	case MessageTypeMutationErrorResult:
		message = &MutationErrorResult{}
	case MessageTypeMirrorAdd:
		message = &MirrorAdd{}
	case MessageTypeMirrorMove:
		message = &MirrorMove{}
	case MessageTypeMirrorRemove:
		message = &MirrorRemove{}
	case MessageTypeMirrorSetProperty:
		message = &MirrorSetProperty{}
	case MessageTypeMirrorRoomJoin:
		message = &MirrorRoomJoin{}
	case MessageTypeMirrorRoomLeave:
		message = &MirrorRoomLeave{}
	case MessageTypeMirrorRoomMessage:
		message = &MirrorRoomMessage{}
	case MessageTypeMirrorDiagnostics:
		message = &MirrorDiagnostics{}
	case MessageTypeMirrorDependencies:
		message = &MirrorDependencies{}
	default:
		return nil, fmt.Errorf("Unknown message type: %s", frame.MessageType)
	}
	if err := json.Unmarshal(frame.MessageBytes, message); err != nil {
		return nil, err
	}
	return message, nil
}
