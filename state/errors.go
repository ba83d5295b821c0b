package state

import (
	"errors"
	"fmt"
)

// errors.go provides all custom error types for the state package
//
// error type checking:
//   an error can be checked if it is any of these using errors.Is(err, ErrType)

// used for schema validation
var (
	ErrValidation     = errors.New("value violates schema rule")
	ErrUnknownField   = errors.New("field not declared in schema")
	ErrImmutableField = errors.New("field is immutable after creation")
)

// used for collections and trees
var (
	ErrNotFound      = errors.New("id not found")
	ErrDuplicateId   = errors.New("id already exists")
	ErrDuplicateName = errors.New("name already exists among siblings")
	ErrCyclicMove    = errors.New("cannot move a node under its own subtree")
)

// used for the lazy registry
var (
	ErrNotAcquired = errors.New("owner holds no reference")
)

// used for rooms
var (
	ErrRoomFull = errors.New("room is at capacity")
)

// MutationError carries the structured detail a rejected request needs to
// render a meaningful message: the error kind plus the offending path or id.
type MutationError struct {
	Kind error
	Path string
	Id   string
}

func NewMutationError(kind error, path string, id string) *MutationError {
	return &MutationError{
		Kind: kind,
		Path: path,
		Id:   id,
	}
}

func (self *MutationError) Error() string {
	switch {
	case self.Path != "" && self.Id != "":
		return fmt.Sprintf("%s: id=%s path=%s", self.Kind.Error(), self.Id, self.Path)
	case self.Path != "":
		return fmt.Sprintf("%s: path=%s", self.Kind.Error(), self.Path)
	case self.Id != "":
		return fmt.Sprintf("%s: id=%s", self.Kind.Error(), self.Id)
	default:
		return self.Kind.Error()
	}
}

func (self *MutationError) Unwrap() error {
	return self.Kind
}
