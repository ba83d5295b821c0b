package protocol

import (
	"encoding/json"
	"time"
)

// the mutation protocol surface: a closed set of message variants per
// entity kind. requests are answered with either a MutationResult or a
// MutationErrorResult to the originating requester only; each successful
// mutation is additionally broadcast to subscribers as a mirror
// instruction carrying the same normalized parameters, replayed verbatim
// on the client copy without re-validation.

type MessageType string

const (
	// requests
	MessageTypeEntryAdd         MessageType = "EntryAdd"
	MessageTypeEntryMove        MessageType = "EntryMove"
	MessageTypeEntryRemove      MessageType = "EntryRemove"
	MessageTypeEntrySetProperty MessageType = "EntrySetProperty"
	MessageTypeRoomJoin         MessageType = "RoomJoin"
	MessageTypeRoomLeave        MessageType = "RoomLeave"
	MessageTypeRoomSend         MessageType = "RoomSend"
	MessageTypeSubscribe        MessageType = "Subscribe"
	MessageTypeUnsubscribe      MessageType = "Unsubscribe"

	// results
	MessageTypeMutationResult      MessageType = "MutationResult"
	MessageTypeMutationErrorResult MessageType = "MutationErrorResult"

	// mirrors
	MessageTypeMirrorAdd          MessageType = "MirrorAdd"
	MessageTypeMirrorMove         MessageType = "MirrorMove"
	MessageTypeMirrorRemove       MessageType = "MirrorRemove"
	MessageTypeMirrorSetProperty  MessageType = "MirrorSetProperty"
	MessageTypeMirrorRoomJoin     MessageType = "MirrorRoomJoin"
	MessageTypeMirrorRoomLeave    MessageType = "MirrorRoomLeave"
	MessageTypeMirrorRoomMessage  MessageType = "MirrorRoomMessage"
	MessageTypeMirrorDiagnostics  MessageType = "MirrorDiagnostics"
	MessageTypeMirrorDependencies MessageType = "MirrorDependencies"
)

// Frame wraps an encoded message with its variant tag. Seq is assigned per
// connection on broadcast frames so a mirror can drop replayed
// instructions: MirrorSetProperty is last-write-wins and safe to re-apply,
// MirrorAdd/MirrorRemove are not.
type Frame struct {
	MessageType  MessageType     `json:"message_type"`
	MessageBytes json.RawMessage `json:"message_bytes"`
	Seq          uint64          `json:"seq,omitempty"`
}

type EntryAdd struct {
	RequestId string         `json:"request_id"`
	EntityId  string         `json:"entity_id"`
	EntryId   string         `json:"entry_id,omitempty"`
	ParentId  string         `json:"parent_id,omitempty"`
	Index     int            `json:"index"`
	Values    map[string]any `json:"values"`
}

type EntryMove struct {
	RequestId string `json:"request_id"`
	EntityId  string `json:"entity_id"`
	EntryId   string `json:"entry_id"`
	ParentId  string `json:"parent_id,omitempty"`
	Index     int    `json:"index"`
}

type EntryRemove struct {
	RequestId string `json:"request_id"`
	EntityId  string `json:"entity_id"`
	EntryId   string `json:"entry_id"`
}

type EntrySetProperty struct {
	RequestId string `json:"request_id"`
	EntityId  string `json:"entity_id"`
	EntryId   string `json:"entry_id"`
	Path      string `json:"path"`
	Value     any    `json:"value"`
}

type RoomJoin struct {
	RequestId string `json:"request_id"`
	RoomId    string `json:"room_id"`
	Name      string `json:"name"`
}

type RoomLeave struct {
	RequestId string `json:"request_id"`
	RoomId    string `json:"room_id"`
}

type RoomSend struct {
	RequestId string `json:"request_id"`
	RoomId    string `json:"room_id"`
	Text      string `json:"text"`
}

type Subscribe struct {
	RequestId string `json:"request_id"`
	EntityId  string `json:"entity_id"`
}

type Unsubscribe struct {
	RequestId string `json:"request_id"`
	EntityId  string `json:"entity_id"`
}

type MutationResult struct {
	RequestId string `json:"request_id"`
	EntityId  string `json:"entity_id"`
	ItemId    string `json:"item_id,omitempty"`
	Index     int    `json:"index,omitempty"`
	Value     any    `json:"value,omitempty"`
}

type MutationErrorResult struct {
	RequestId string `json:"request_id"`
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	Id        string `json:"id,omitempty"`
}

type MirrorAdd struct {
	EntityId string         `json:"entity_id"`
	ItemId   string         `json:"item_id"`
	ParentId string         `json:"parent_id,omitempty"`
	Index    int            `json:"index"`
	Values   map[string]any `json:"values"`
}

type MirrorMove struct {
	EntityId string `json:"entity_id"`
	ItemId   string `json:"item_id"`
	ParentId string `json:"parent_id,omitempty"`
	Index    int    `json:"index"`
}

type MirrorRemove struct {
	EntityId string `json:"entity_id"`
	ItemId   string `json:"item_id"`
}

type MirrorSetProperty struct {
	EntityId string `json:"entity_id"`
	ItemId   string `json:"item_id,omitempty"`
	Path     string `json:"path"`
	Value    any    `json:"value"`
}

type MirrorRoomJoin struct {
	RoomId   string `json:"room_id"`
	ClientId string `json:"client_id"`
	Name     string `json:"name"`
	Index    int    `json:"index"`
}

type MirrorRoomLeave struct {
	RoomId   string `json:"room_id"`
	ClientId string `json:"client_id"`
}

type RoomMessage struct {
	MessageId string    `json:"message_id"`
	AuthorId  string    `json:"author_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type MirrorRoomMessage struct {
	RoomId  string      `json:"room_id"`
	Message RoomMessage `json:"message"`
}

type Diagnostic struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type MirrorDiagnostics struct {
	EntityId    string       `json:"entity_id"`
	EntryId     string       `json:"entry_id"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

type MirrorDependencies struct {
	EntityId string   `json:"entity_id"`
	AssetId  string   `json:"asset_id"`
	EntryIds []string `json:"entry_ids"`
}
