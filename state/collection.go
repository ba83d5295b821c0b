package state

import (
	"sync"
)

type ItemAddedFunction = func(itemId string, index int, values map[string]any)
type ItemMovedFunction = func(itemId string, index int)
type ItemRemovedFunction = func(itemId string)
type ItemPropertyFunction = func(itemId string, path string, value any)

// OrderedCollection is a sequence of Records keyed by a unique string id,
// with a dense index map from id to position. When the caller passes an
// empty id to `Add`, the collection owns id assignment through a monotonic
// ulid-backed generator, so assigned ids are never reused while loaded.
type OrderedCollection struct {
	schema      *Schema
	idGenerator *IdGenerator

	stateLock   sync.Mutex
	order       []string
	itemIndexes map[string]int
	items       map[string]*Record

	itemAddedCallbacks    *CallbackList[ItemAddedFunction]
	itemMovedCallbacks    *CallbackList[ItemMovedFunction]
	itemRemovedCallbacks  *CallbackList[ItemRemovedFunction]
	itemPropertyCallbacks *CallbackList[ItemPropertyFunction]
}

func NewOrderedCollection(schema *Schema) *OrderedCollection {
	return &OrderedCollection{
		schema:                schema,
		idGenerator:           NewIdGenerator(""),
		itemIndexes:           map[string]int{},
		items:                 map[string]*Record{},
		itemAddedCallbacks:    NewCallbackList[ItemAddedFunction](),
		itemMovedCallbacks:    NewCallbackList[ItemMovedFunction](),
		itemRemovedCallbacks:  NewCallbackList[ItemRemovedFunction](),
		itemPropertyCallbacks: NewCallbackList[ItemPropertyFunction](),
	}
}

// Add validates `values`, assigns an id when `id` is empty, and inserts at
// `index`. A negative or past-the-end index appends. Returns the assigned
// id and the final index actually used.
func (self *OrderedCollection) Add(id string, values map[string]any, index int) (string, int, error) {
	record, err := NewRecord(self.schema, values)
	if err != nil {
		return "", 0, err
	}

	self.stateLock.Lock()
	if id == "" {
		id = self.idGenerator.NextId()
	}
	if _, ok := self.items[id]; ok {
		self.stateLock.Unlock()
		return "", 0, NewMutationError(ErrDuplicateId, "", id)
	}
	index = self.insertLocked(id, record, index)
	normalized := record.Values()
	self.stateLock.Unlock()

	for _, itemAdded := range self.itemAddedCallbacks.Get() {
		itemAdded(id, index, normalized)
	}
	return id, index, nil
}

// Move repositions an existing item. The returned index is the index
// actually used, clamped to the valid range.
func (self *OrderedCollection) Move(id string, newIndex int) (int, error) {
	self.stateLock.Lock()
	if _, ok := self.items[id]; !ok {
		self.stateLock.Unlock()
		return 0, NewMutationError(ErrNotFound, "", id)
	}
	newIndex = self.relocateLocked(id, newIndex)
	self.stateLock.Unlock()

	for _, itemMoved := range self.itemMovedCallbacks.Get() {
		itemMoved(id, newIndex)
	}
	return newIndex, nil
}

func (self *OrderedCollection) Remove(id string) error {
	self.stateLock.Lock()
	if _, ok := self.items[id]; !ok {
		self.stateLock.Unlock()
		return NewMutationError(ErrNotFound, "", id)
	}
	self.removeLocked(id)
	self.stateLock.Unlock()

	for _, itemRemoved := range self.itemRemovedCallbacks.Get() {
		itemRemoved(id)
	}
	return nil
}

// SetProperty delegates to the named item's record validation.
func (self *OrderedCollection) SetProperty(id string, path string, value any) (any, error) {
	self.stateLock.Lock()
	record, ok := self.items[id]
	self.stateLock.Unlock()
	if !ok {
		return nil, NewMutationError(ErrNotFound, path, id)
	}

	normalized, err := record.SetProperty(path, value)
	if err != nil {
		if mutationErr, ok := err.(*MutationError); ok {
			return nil, NewMutationError(mutationErr.Kind, mutationErr.Path, id)
		}
		return nil, err
	}

	for _, itemProperty := range self.itemPropertyCallbacks.Get() {
		itemProperty(id, path, normalized)
	}
	return normalized, nil
}

// mirror application. the server already validated, so these never fail.

func (self *OrderedCollection) ApplyAdd(id string, values map[string]any, index int) {
	record := &Record{
		schema:                   self.schema,
		values:                   values,
		propertyChangedCallbacks: NewCallbackList[PropertyChangedFunction](),
	}
	self.stateLock.Lock()
	self.insertLocked(id, record, index)
	self.stateLock.Unlock()
}

func (self *OrderedCollection) ApplyMove(id string, index int) {
	self.stateLock.Lock()
	if _, ok := self.items[id]; ok {
		self.relocateLocked(id, index)
	}
	self.stateLock.Unlock()
}

func (self *OrderedCollection) ApplyRemove(id string) {
	self.stateLock.Lock()
	if _, ok := self.items[id]; ok {
		self.removeLocked(id)
	}
	self.stateLock.Unlock()
}

func (self *OrderedCollection) ApplyProperty(id string, path string, value any) {
	self.stateLock.Lock()
	record, ok := self.items[id]
	self.stateLock.Unlock()
	if ok {
		record.ApplyProperty(path, value)
	}
}

func (self *OrderedCollection) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.order)
}

// Ids returns the item ids in positional order.
func (self *OrderedCollection) Ids() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	out := make([]string, len(self.order))
	copy(out, self.order)
	return out
}

func (self *OrderedCollection) IndexOf(id string) (int, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	index, ok := self.itemIndexes[id]
	return index, ok
}

func (self *OrderedCollection) Item(id string) (*Record, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	record, ok := self.items[id]
	return record, ok
}

func (self *OrderedCollection) AddItemAddedCallback(itemAdded ItemAddedFunction) func() {
	return self.itemAddedCallbacks.Add(itemAdded)
}

func (self *OrderedCollection) AddItemMovedCallback(itemMoved ItemMovedFunction) func() {
	return self.itemMovedCallbacks.Add(itemMoved)
}

func (self *OrderedCollection) AddItemRemovedCallback(itemRemoved ItemRemovedFunction) func() {
	return self.itemRemovedCallbacks.Add(itemRemoved)
}

func (self *OrderedCollection) AddItemPropertyCallback(itemProperty ItemPropertyFunction) func() {
	return self.itemPropertyCallbacks.Add(itemProperty)
}

// insertLocked inserts and renumbers. index is clamped permissively:
// out of range on either side appends to the end.
func (self *OrderedCollection) insertLocked(id string, record *Record, index int) int {
	if index < 0 || len(self.order) < index {
		index = len(self.order)
	}
	self.order = append(self.order, "")
	copy(self.order[index+1:], self.order[index:])
	self.order[index] = id
	self.items[id] = record
	self.renumberLocked(index)
	return index
}

func (self *OrderedCollection) relocateLocked(id string, newIndex int) int {
	oldIndex := self.itemIndexes[id]
	self.order = append(self.order[:oldIndex], self.order[oldIndex+1:]...)
	if newIndex < 0 {
		newIndex = 0
	}
	if len(self.order) < newIndex {
		newIndex = len(self.order)
	}
	self.order = append(self.order, "")
	copy(self.order[newIndex+1:], self.order[newIndex:])
	self.order[newIndex] = id
	if oldIndex < newIndex {
		self.renumberLocked(oldIndex)
	} else {
		self.renumberLocked(newIndex)
	}
	return newIndex
}

func (self *OrderedCollection) removeLocked(id string) {
	index := self.itemIndexes[id]
	self.order = append(self.order[:index], self.order[index+1:]...)
	delete(self.items, id)
	delete(self.itemIndexes, id)
	self.renumberLocked(index)
}

func (self *OrderedCollection) renumberLocked(fromIndex int) {
	for i := fromIndex; i < len(self.order); i += 1 {
		self.itemIndexes[self.order[i]] = i
	}
}
