package state

import (
	"sync"
	"time"
)

type RoomMessage struct {
	MessageId string    `json:"message_id"`
	AuthorId  string    `json:"author_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageAppendedFunction = func(message RoomMessage)

func UserSchema() *Schema {
	return &Schema{
		Fields: map[string]*FieldRule{
			"name": {
				Type:    FieldTypeString,
				Min:     Limit(1),
				Max:     Limit(128),
				Mutable: true,
			},
		},
	}
}

func DefaultRoomSettings() *RoomSettings {
	return &RoomSettings{
		// 0 means no capacity policy
		Capacity:         0,
		MessageMaxLength: 4096,
	}
}

type RoomSettings struct {
	Capacity         int
	MessageMaxLength int
}

// Room is an ephemeral collaboration session: an ordered collection of
// joined users plus an append-only message log. The log grows without
// bound removal; any trim policy is a deployment concern.
type Room struct {
	roomId   string
	settings *RoomSettings

	users *OrderedCollection

	idGenerator *IdGenerator

	stateLock sync.Mutex
	messages  []RoomMessage

	messageAppendedCallbacks *CallbackList[MessageAppendedFunction]
}

func NewRoomWithDefaults(roomId string) *Room {
	return NewRoom(roomId, DefaultRoomSettings())
}

func NewRoom(roomId string, settings *RoomSettings) *Room {
	return &Room{
		roomId:                   roomId,
		settings:                 settings,
		users:                    NewOrderedCollection(UserSchema()),
		idGenerator:              NewIdGenerator("msg"),
		messageAppendedCallbacks: NewCallbackList[MessageAppendedFunction](),
	}
}

func (self *Room) RoomId() string {
	return self.roomId
}

func (self *Room) Users() *OrderedCollection {
	return self.users
}

// Join appends the client to the user list. Fails with ErrRoomFull only
// when a capacity policy is configured, and with ErrDuplicateId when the
// client is already joined.
func (self *Room) Join(clientId string, name string) (int, error) {
	if 0 < self.settings.Capacity && self.settings.Capacity <= self.users.Len() {
		return 0, NewMutationError(ErrRoomFull, "", self.roomId)
	}
	_, index, err := self.users.Add(clientId, map[string]any{
		"name": name,
	}, -1)
	return index, err
}

func (self *Room) Leave(clientId string) error {
	return self.users.Remove(clientId)
}

// AppendMessage validates `text` and appends a log entry, broadcast to all
// joined users. The author must be joined.
func (self *Room) AppendMessage(clientId string, text string) (RoomMessage, error) {
	if _, ok := self.users.Item(clientId); !ok {
		return RoomMessage{}, NewMutationError(ErrNotFound, "", clientId)
	}
	if len(text) == 0 || self.settings.MessageMaxLength < len(text) {
		return RoomMessage{}, NewMutationError(ErrValidation, "text", clientId)
	}

	message := RoomMessage{
		MessageId: self.idGenerator.NextId(),
		AuthorId:  clientId,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	self.stateLock.Lock()
	self.messages = append(self.messages, message)
	self.stateLock.Unlock()

	for _, messageAppended := range self.messageAppendedCallbacks.Get() {
		messageAppended(message)
	}
	return message, nil
}

func (self *Room) Messages() []RoomMessage {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	out := make([]RoomMessage, len(self.messages))
	copy(out, self.messages)
	return out
}

func (self *Room) MessageCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.messages)
}

// mirror application, no validation

func (self *Room) ApplyJoin(clientId string, name string, index int) {
	self.users.ApplyAdd(clientId, map[string]any{
		"name": name,
	}, index)
}

func (self *Room) ApplyLeave(clientId string) {
	self.users.ApplyRemove(clientId)
}

func (self *Room) ApplyMessage(message RoomMessage) {
	self.stateLock.Lock()
	self.messages = append(self.messages, message)
	self.stateLock.Unlock()
}

func (self *Room) AddMessageAppendedCallback(messageAppended MessageAppendedFunction) func() {
	return self.messageAppendedCallbacks.Add(messageAppended)
}
