package state

import (
	"sync"

	"golang.org/x/exp/maps"
)

// Diagnostic is a problem attached to an entry, raised while its asset was
// restored.
type Diagnostic struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type DependencyInvalidatedFunction = func(assetId string, removedEntryId string)
type DiagnosticsChangedFunction = func(entryId string, diagnostics []Diagnostic)
type DependenciesChangedFunction = func(assetId string, entryIds []string)

// EntrySchema declares the fields every entry carries: a `name` unique
// among siblings and an asset `type` tag, empty for folders. The type tag
// is fixed at creation.
func EntrySchema() *Schema {
	return &Schema{
		Fields: map[string]*FieldRule{
			"name": {
				Type:    FieldTypeString,
				Min:     Limit(1),
				Max:     Limit(128),
				Mutable: true,
			},
			"type": {
				Type:    FieldTypeString,
				Max:     Limit(64),
				Mutable: false,
			},
		},
	}
}

// EntryTree is the project's folder/asset hierarchy. Beyond Tree semantics
// it owns two side maps written only through the asset restore contract,
// never by clients directly:
//
//   - diagnosticsByEntryId: problems raised during asset restore
//   - dependenciesByAssetId: entry ids an asset's correctness depends on
//
// Removing an entry clears its diagnostics and notifies every asset that
// recorded it as a dependency, so the asset can re-validate.
type EntryTree struct {
	*Tree

	sideLock             sync.Mutex
	diagnosticsByEntryId map[string][]Diagnostic
	// asset id -> set of entry ids it depends on
	dependenciesByAssetId map[string]map[string]bool

	dependencyInvalidatedCallbacks *CallbackList[DependencyInvalidatedFunction]
	diagnosticsChangedCallbacks    *CallbackList[DiagnosticsChangedFunction]
	dependenciesChangedCallbacks   *CallbackList[DependenciesChangedFunction]
}

func NewEntryTree() *EntryTree {
	entryTree := &EntryTree{
		Tree:                           NewTree(EntrySchema()),
		diagnosticsByEntryId:           map[string][]Diagnostic{},
		dependenciesByAssetId:          map[string]map[string]bool{},
		dependencyInvalidatedCallbacks: NewCallbackList[DependencyInvalidatedFunction](),
		diagnosticsChangedCallbacks:    NewCallbackList[DiagnosticsChangedFunction](),
		dependenciesChangedCallbacks:   NewCallbackList[DependenciesChangedFunction](),
	}
	entryTree.Tree.AddNodeRemovedCallback(entryTree.entryRemoved)
	return entryTree
}

// SetProperty additionally re-validates sibling name uniqueness when the
// `name` field changes. The check holds the tree state lock through the
// write so a concurrent add or move cannot slip a sibling in between.
func (self *EntryTree) SetProperty(id string, path string, value any) (any, error) {
	if path != "name" {
		return self.Tree.SetProperty(id, path, value)
	}
	return self.Tree.setProperty(id, path, value, func(node *Node, parent *Node) error {
		if !self.Tree.nameFreeLocked(parent, value, node.id) {
			return NewMutationError(ErrDuplicateName, path, id)
		}
		return nil
	})
}

func (self *EntryTree) HasEntry(entryId string) bool {
	_, ok := self.Tree.Node(entryId)
	return ok
}

// SetDiagnostics replaces the diagnostics recorded for an entry. Called by
// asset objects during restore.
func (self *EntryTree) SetDiagnostics(entryId string, diagnostics []Diagnostic) {
	self.sideLock.Lock()
	if len(diagnostics) == 0 {
		delete(self.diagnosticsByEntryId, entryId)
	} else {
		out := make([]Diagnostic, len(diagnostics))
		copy(out, diagnostics)
		self.diagnosticsByEntryId[entryId] = out
	}
	self.sideLock.Unlock()

	for _, diagnosticsChanged := range self.diagnosticsChangedCallbacks.Get() {
		diagnosticsChanged(entryId, diagnostics)
	}
}

func (self *EntryTree) Diagnostics(entryId string) []Diagnostic {
	self.sideLock.Lock()
	defer self.sideLock.Unlock()

	diagnostics := self.diagnosticsByEntryId[entryId]
	out := make([]Diagnostic, len(diagnostics))
	copy(out, diagnostics)
	return out
}

// SetDependencies replaces the dependency edges recorded for an asset.
// Called by asset objects during restore and on dependency change.
func (self *EntryTree) SetDependencies(assetId string, entryIds []string) {
	self.sideLock.Lock()
	if len(entryIds) == 0 {
		delete(self.dependenciesByAssetId, assetId)
	} else {
		set := map[string]bool{}
		for _, entryId := range entryIds {
			set[entryId] = true
		}
		self.dependenciesByAssetId[assetId] = set
	}
	self.sideLock.Unlock()

	for _, dependenciesChanged := range self.dependenciesChangedCallbacks.Get() {
		dependenciesChanged(assetId, entryIds)
	}
}

func (self *EntryTree) Dependencies(assetId string) []string {
	self.sideLock.Lock()
	defer self.sideLock.Unlock()

	set, ok := self.dependenciesByAssetId[assetId]
	if !ok {
		return []string{}
	}
	return maps.Keys(set)
}

// DependentsOn returns the asset ids that recorded `entryId` as a
// dependency.
func (self *EntryTree) DependentsOn(entryId string) []string {
	self.sideLock.Lock()
	defer self.sideLock.Unlock()

	dependents := []string{}
	for assetId, set := range self.dependenciesByAssetId {
		if set[entryId] {
			dependents = append(dependents, assetId)
		}
	}
	return dependents
}

func (self *EntryTree) AddDependencyInvalidatedCallback(dependencyInvalidated DependencyInvalidatedFunction) func() {
	return self.dependencyInvalidatedCallbacks.Add(dependencyInvalidated)
}

func (self *EntryTree) AddDiagnosticsChangedCallback(diagnosticsChanged DiagnosticsChangedFunction) func() {
	return self.diagnosticsChangedCallbacks.Add(diagnosticsChanged)
}

func (self *EntryTree) AddDependenciesChangedCallback(dependenciesChanged DependenciesChangedFunction) func() {
	return self.dependenciesChangedCallbacks.Add(dependenciesChanged)
}

// NodeRemovedFunction
func (self *EntryTree) entryRemoved(entryId string) {
	self.sideLock.Lock()
	delete(self.diagnosticsByEntryId, entryId)
	delete(self.dependenciesByAssetId, entryId)
	invalidated := []string{}
	for assetId, set := range self.dependenciesByAssetId {
		if set[entryId] {
			delete(set, entryId)
			invalidated = append(invalidated, assetId)
		}
	}
	self.sideLock.Unlock()

	for _, assetId := range invalidated {
		for _, dependencyInvalidated := range self.dependencyInvalidatedCallbacks.Get() {
			dependencyInvalidated(assetId, entryId)
		}
	}
}
