package state

import (
	"strings"
	"sync"
)

type PropertyChangedFunction = func(path string, value any)

// Record is a flat schema-validated key/value entity, the atomic unit of
// synchronized state. The authoritative side mutates through `SetProperty`,
// mirrors replay the already-validated result through `ApplyProperty`.
//
// Mutations addressed to one record are expected to be serialized by the
// caller (see service mutation sequences). The record lock protects reads
// that race with the single writer.
type Record struct {
	schema *Schema

	stateLock sync.Mutex
	values    map[string]any

	propertyChangedCallbacks *CallbackList[PropertyChangedFunction]
}

func NewRecord(schema *Schema, initial map[string]any) (*Record, error) {
	values, err := schema.ValidateInitial(initial)
	if err != nil {
		return nil, err
	}
	return &Record{
		schema:                   schema,
		values:                   values,
		propertyChangedCallbacks: NewCallbackList[PropertyChangedFunction](),
	}, nil
}

func (self *Record) Schema() *Schema {
	return self.schema
}

// SetProperty validates `value` against the schema rule at `path` and
// mutates in place, returning the normalized value. A failed set leaves the
// stored value unchanged.
func (self *Record) SetProperty(path string, value any) (any, error) {
	normalized, err := self.schema.ValidateSet(path, value, false)
	if err != nil {
		return nil, err
	}

	self.stateLock.Lock()
	setAt(self.values, path, normalized)
	self.stateLock.Unlock()

	for _, propertyChanged := range self.propertyChangedCallbacks.Get() {
		propertyChanged(path, normalized)
	}
	return normalized, nil
}

// ApplyProperty is the client mirror application. The server has already
// validated, so this never fails. A mirror that diverges is a protocol bug,
// not a condition to recover from here.
func (self *Record) ApplyProperty(path string, value any) {
	self.stateLock.Lock()
	setAt(self.values, path, value)
	self.stateLock.Unlock()
}

func (self *Record) Property(path string) (any, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return getAt(self.values, path)
}

// Values returns a deep copy of the current values.
func (self *Record) Values() map[string]any {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return copyValues(self.values)
}

// returns a function to remove the callback
func (self *Record) AddPropertyChangedCallback(propertyChanged PropertyChangedFunction) func() {
	return self.propertyChangedCallbacks.Add(propertyChanged)
}

func setAt(values map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	m := values
	for _, part := range parts[:len(parts)-1] {
		nested, ok := m[part].(map[string]any)
		if !ok {
			nested = map[string]any{}
			m[part] = nested
		}
		m = nested
	}
	m[parts[len(parts)-1]] = value
}

func getAt(values map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	m := values
	for _, part := range parts[:len(parts)-1] {
		nested, ok := m[part].(map[string]any)
		if !ok {
			return nil, false
		}
		m = nested
	}
	value, ok := m[parts[len(parts)-1]]
	return value, ok
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for key, value := range values {
		if nested, ok := value.(map[string]any); ok {
			out[key] = copyValues(nested)
		} else {
			out[key] = value
		}
	}
	return out
}
