package state

import (
	"strings"
	"sync"
)

type NodeAddedFunction = func(nodeId string, parentId string, index int, values map[string]any)
type NodeMovedFunction = func(nodeId string, parentId string, index int)
type NodeRemovedFunction = func(nodeId string)
type NodePropertyFunction = func(nodeId string, path string, value any)
type WalkFunction = func(node *Node, parent *Node)

type Node struct {
	id       string
	record   *Record
	children []*Node
}

func (self *Node) Id() string {
	return self.id
}

func (self *Node) Record() *Record {
	return self.record
}

func (self *Node) Children() []*Node {
	out := make([]*Node, len(self.children))
	copy(out, self.children)
	return out
}

// Tree is a hierarchical set of Records with parent/child semantics.
// The children slices are the owning structure; `parents` is a non-owning
// id-to-id lookup maintained transactionally with every structural
// mutation. Ids are unique across the whole tree. There is exactly one
// root context, represented by the empty parent id.
//
// Sibling name policy: a node whose record carries a `name` must be unique
// among its siblings. Collisions are rejected with ErrDuplicateName, never
// silently disambiguated.
type Tree struct {
	schema      *Schema
	idGenerator *IdGenerator

	stateLock sync.Mutex
	root      *Node
	nodes     map[string]*Node
	// node id -> parent id. "" means top level
	parents map[string]string

	nodeAddedCallbacks    *CallbackList[NodeAddedFunction]
	nodeMovedCallbacks    *CallbackList[NodeMovedFunction]
	nodeRemovedCallbacks  *CallbackList[NodeRemovedFunction]
	nodePropertyCallbacks *CallbackList[NodePropertyFunction]
}

func NewTree(schema *Schema) *Tree {
	return &Tree{
		schema:                schema,
		idGenerator:           NewIdGenerator(""),
		root:                  &Node{},
		nodes:                 map[string]*Node{},
		parents:               map[string]string{},
		nodeAddedCallbacks:    NewCallbackList[NodeAddedFunction](),
		nodeMovedCallbacks:    NewCallbackList[NodeMovedFunction](),
		nodeRemovedCallbacks:  NewCallbackList[NodeRemovedFunction](),
		nodePropertyCallbacks: NewCallbackList[NodePropertyFunction](),
	}
}

func (self *Tree) Schema() *Schema {
	return self.schema
}

// Add inserts a node under `parentId` ("" for the root context) at `index`.
// An empty id is assigned by the tree. Returns the assigned id and the
// final index actually used.
func (self *Tree) Add(id string, values map[string]any, parentId string, index int) (string, int, error) {
	record, err := NewRecord(self.schema, values)
	if err != nil {
		return "", 0, err
	}

	self.stateLock.Lock()
	parent, ok := self.resolveLocked(parentId)
	if !ok {
		self.stateLock.Unlock()
		return "", 0, NewMutationError(ErrNotFound, "", parentId)
	}
	if id == "" {
		id = self.idGenerator.NextId()
	}
	if _, ok := self.nodes[id]; ok {
		self.stateLock.Unlock()
		return "", 0, NewMutationError(ErrDuplicateId, "", id)
	}
	if name, ok := record.Property("name"); ok {
		if !self.nameFreeLocked(parent, name, "") {
			self.stateLock.Unlock()
			return "", 0, NewMutationError(ErrDuplicateName, "name", id)
		}
	}
	node := &Node{
		id:     id,
		record: record,
	}
	index = self.attachLocked(node, parent, parentId, index)
	normalized := record.Values()
	self.stateLock.Unlock()

	for _, nodeAdded := range self.nodeAddedCallbacks.Get() {
		nodeAdded(id, parentId, index, normalized)
	}
	return id, index, nil
}

// Move detaches the subtree rooted at `id` and reattaches it under
// `parentId` at `index`, preserving subtree structure. Moving a node under
// its own subtree fails with ErrCyclicMove.
func (self *Tree) Move(id string, parentId string, index int) (int, error) {
	self.stateLock.Lock()
	node, ok := self.nodes[id]
	if !ok {
		self.stateLock.Unlock()
		return 0, NewMutationError(ErrNotFound, "", id)
	}
	parent, ok := self.resolveLocked(parentId)
	if !ok {
		self.stateLock.Unlock()
		return 0, NewMutationError(ErrNotFound, "", parentId)
	}
	if self.inSubtreeLocked(id, parentId) {
		self.stateLock.Unlock()
		return 0, NewMutationError(ErrCyclicMove, "", id)
	}
	if name, ok := node.record.Property("name"); ok {
		if !self.nameFreeLocked(parent, name, id) {
			self.stateLock.Unlock()
			return 0, NewMutationError(ErrDuplicateName, "name", id)
		}
	}
	self.detachLocked(node)
	index = self.attachLocked(node, parent, parentId, index)
	self.stateLock.Unlock()

	for _, nodeMoved := range self.nodeMovedCallbacks.Get() {
		nodeMoved(id, parentId, index)
	}
	return index, nil
}

// Remove removes the entire subtree rooted at `id`, emitting one removal
// event per descendant, deepest first, so dependent external state can be
// cleaned up incrementally.
func (self *Tree) Remove(id string) error {
	self.stateLock.Lock()
	node, ok := self.nodes[id]
	if !ok {
		self.stateLock.Unlock()
		return NewMutationError(ErrNotFound, "", id)
	}
	removedIds := self.removeSubtreeLocked(node)
	self.stateLock.Unlock()

	for _, removedId := range removedIds {
		for _, nodeRemoved := range self.nodeRemovedCallbacks.Get() {
			nodeRemoved(removedId)
		}
	}
	return nil
}

func (self *Tree) SetProperty(id string, path string, value any) (any, error) {
	return self.setProperty(id, path, value, nil)
}

// setProperty validates, runs the optional pre-write check, and writes all
// while holding the state lock, so a structural mutation cannot interleave
// between the check and the write.
func (self *Tree) setProperty(id string, path string, value any, check func(node *Node, parent *Node) error) (any, error) {
	self.stateLock.Lock()
	node, ok := self.nodes[id]
	if !ok {
		self.stateLock.Unlock()
		return nil, NewMutationError(ErrNotFound, path, id)
	}

	normalized, err := node.record.schema.ValidateSet(path, value, false)
	if err != nil {
		self.stateLock.Unlock()
		if mutationErr, ok := err.(*MutationError); ok {
			return nil, NewMutationError(mutationErr.Kind, mutationErr.Path, id)
		}
		return nil, err
	}
	if check != nil {
		parent, _ := self.resolveLocked(self.parents[id])
		if err := check(node, parent); err != nil {
			self.stateLock.Unlock()
			return nil, err
		}
	}
	node.record.stateLock.Lock()
	setAt(node.record.values, path, normalized)
	node.record.stateLock.Unlock()
	self.stateLock.Unlock()

	for _, propertyChanged := range node.record.propertyChangedCallbacks.Get() {
		propertyChanged(path, normalized)
	}
	for _, nodeProperty := range self.nodePropertyCallbacks.Get() {
		nodeProperty(id, path, normalized)
	}
	return normalized, nil
}

// Walk produces a depth-first pre-order traversal. The parent passed for
// top level nodes is nil. A fresh call re-walks from the root. The walk is
// not a live view: mutating the tree during a walk has undefined effect on
// the remaining iterations of that walk.
func (self *Tree) Walk(walk WalkFunction) {
	self.stateLock.Lock()
	topLevel := make([]*Node, len(self.root.children))
	copy(topLevel, self.root.children)
	self.stateLock.Unlock()

	for _, node := range topLevel {
		self.walkNode(node, nil, walk)
	}
}

func (self *Tree) walkNode(node *Node, parent *Node, walk WalkFunction) {
	walk(node, parent)
	for _, child := range node.children {
		self.walkNode(child, node, walk)
	}
}

// PathFromId derives the `/`-joined chain of ancestor names from the root
// context to the node, walking the parent map. Paths are never stored.
func (self *Tree) PathFromId(id string) (string, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if _, ok := self.nodes[id]; !ok {
		return "", NewMutationError(ErrNotFound, "", id)
	}
	parts := []string{}
	for currentId := id; currentId != ""; currentId = self.parents[currentId] {
		node := self.nodes[currentId]
		name := node.id
		if v, ok := node.record.Property("name"); ok {
			if s, ok := v.(string); ok {
				name = s
			}
		}
		parts = append(parts, name)
	}
	// reverse into root-first order
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), nil
}

func (self *Tree) Node(id string) (*Node, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	node, ok := self.nodes[id]
	return node, ok
}

func (self *Tree) ParentId(id string) (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if _, ok := self.nodes[id]; !ok {
		return "", false
	}
	return self.parents[id], true
}

func (self *Tree) Len() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return len(self.nodes)
}

// mirror application. the server already validated, so these never fail.

func (self *Tree) ApplyAdd(id string, values map[string]any, parentId string, index int) {
	record := &Record{
		schema:                   self.schema,
		values:                   values,
		propertyChangedCallbacks: NewCallbackList[PropertyChangedFunction](),
	}
	self.stateLock.Lock()
	if parent, ok := self.resolveLocked(parentId); ok {
		node := &Node{
			id:     id,
			record: record,
		}
		self.attachLocked(node, parent, parentId, index)
	}
	self.stateLock.Unlock()
}

func (self *Tree) ApplyMove(id string, parentId string, index int) {
	self.stateLock.Lock()
	node, ok := self.nodes[id]
	if ok {
		if parent, ok := self.resolveLocked(parentId); ok {
			self.detachLocked(node)
			self.attachLocked(node, parent, parentId, index)
		}
	}
	self.stateLock.Unlock()
}

func (self *Tree) ApplyRemove(id string) {
	self.stateLock.Lock()
	if node, ok := self.nodes[id]; ok {
		self.removeSubtreeLocked(node)
	}
	self.stateLock.Unlock()
}

func (self *Tree) ApplyProperty(id string, path string, value any) {
	self.stateLock.Lock()
	node, ok := self.nodes[id]
	self.stateLock.Unlock()
	if ok {
		node.record.ApplyProperty(path, value)
	}
}

func (self *Tree) AddNodeAddedCallback(nodeAdded NodeAddedFunction) func() {
	return self.nodeAddedCallbacks.Add(nodeAdded)
}

func (self *Tree) AddNodeMovedCallback(nodeMoved NodeMovedFunction) func() {
	return self.nodeMovedCallbacks.Add(nodeMoved)
}

func (self *Tree) AddNodeRemovedCallback(nodeRemoved NodeRemovedFunction) func() {
	return self.nodeRemovedCallbacks.Add(nodeRemoved)
}

func (self *Tree) AddNodePropertyCallback(nodeProperty NodePropertyFunction) func() {
	return self.nodePropertyCallbacks.Add(nodeProperty)
}

func (self *Tree) resolveLocked(parentId string) (*Node, bool) {
	if parentId == "" {
		return self.root, true
	}
	node, ok := self.nodes[parentId]
	return node, ok
}

// inSubtreeLocked reports whether `descendantId` is `id` or below it,
// walking the parent map upward.
func (self *Tree) inSubtreeLocked(id string, descendantId string) bool {
	for currentId := descendantId; currentId != ""; currentId = self.parents[currentId] {
		if currentId == id {
			return true
		}
	}
	return false
}

func (self *Tree) nameFreeLocked(parent *Node, name any, excludeId string) bool {
	for _, sibling := range parent.children {
		if sibling.id == excludeId {
			continue
		}
		if siblingName, ok := sibling.record.Property("name"); ok && siblingName == name {
			return false
		}
	}
	return true
}

func (self *Tree) attachLocked(node *Node, parent *Node, parentId string, index int) int {
	if index < 0 || len(parent.children) < index {
		index = len(parent.children)
	}
	parent.children = append(parent.children, nil)
	copy(parent.children[index+1:], parent.children[index:])
	parent.children[index] = node
	self.nodes[node.id] = node
	self.parents[node.id] = parentId
	return index
}

func (self *Tree) detachLocked(node *Node) {
	parent, _ := self.resolveLocked(self.parents[node.id])
	for i, child := range parent.children {
		if child == node {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	delete(self.parents, node.id)
}

// removeSubtreeLocked detaches the subtree and returns the removed ids,
// deepest first.
func (self *Tree) removeSubtreeLocked(node *Node) []string {
	self.detachLocked(node)
	removedIds := []string{}
	var collect func(n *Node)
	collect = func(n *Node) {
		for _, child := range n.children {
			collect(child)
		}
		removedIds = append(removedIds, n.id)
		delete(self.nodes, n.id)
		delete(self.parents, n.id)
	}
	collect(node)
	return removedIds
}
