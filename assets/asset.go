package assets

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"tessera.dev/sync/state"
	"tessera.dev/sync/store"
)

const SnapshotKind = "asset"

// Reporter is the tree-owned sink for restore results. Asset objects are
// the only writers of the entry tree side maps, and only through this
// contract.
type Reporter interface {
	HasEntry(entryId string) bool
	SetDiagnostics(entryId string, diagnostics []state.Diagnostic)
	SetDependencies(assetId string, entryIds []string)
}

type Options struct {
	EntryId string
	// serialized snapshot, nil when the entry has never been saved
	Content  []byte
	Reporter Reporter
}

// Asset is the plugin contract for heavyweight backing objects. The lazy
// registry calls the hooks at lifecycle points: Init then Setup on load,
// Restore after setup and again when a dependency is invalidated, Destroy
// on unload. Restore reports diagnostics and dependency edges through the
// Reporter.
type Asset interface {
	Init(options *Options)
	Setup() error
	Restore(ctx context.Context) error
	Destroy()
	Schema() *state.Schema
	Record() *state.Record
}

type Factory func() Asset

// KindSet maps entry type tags to asset factories.
type KindSet struct {
	stateLock sync.Mutex
	factories map[string]Factory
}

func NewKindSet() *KindSet {
	return &KindSet{
		factories: map[string]Factory{},
	}
}

func (self *KindSet) Register(kind string, factory Factory) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.factories[kind] = factory
}

func (self *KindSet) New(kind string) (Asset, error) {
	self.stateLock.Lock()
	factory, ok := self.factories[kind]
	self.stateLock.Unlock()
	if !ok {
		return nil, fmt.Errorf("no asset kind registered for type %q", kind)
	}
	return factory(), nil
}

// DefaultKindSet registers the built in kinds.
func DefaultKindSet() *KindSet {
	kinds := NewKindSet()
	kinds.Register(SceneKind, NewSceneAsset)
	kinds.Register(ScriptKind, NewScriptAsset)
	return kinds
}

// Loader loads assets for the lazy registry: resolve the entry's type tag,
// construct the kind, feed it the persisted snapshot, then run the
// lifecycle hooks. Implements state.Loader[Asset].
type Loader struct {
	entryTree *state.EntryTree
	snapshots *store.Store
	kinds     *KindSet
}

func NewLoader(entryTree *state.EntryTree, snapshots *store.Store, kinds *KindSet) *Loader {
	return &Loader{
		entryTree: entryTree,
		snapshots: snapshots,
		kinds:     kinds,
	}
}

func (self *Loader) Load(ctx context.Context, id string) (Asset, error) {
	node, ok := self.entryTree.Node(id)
	if !ok {
		return nil, state.NewMutationError(state.ErrNotFound, "", id)
	}
	kind := ""
	if v, ok := node.Record().Property("type"); ok {
		kind, _ = v.(string)
	}
	asset, err := self.kinds.New(kind)
	if err != nil {
		return nil, err
	}

	// a nil store runs the service in memory only
	var content []byte
	if self.snapshots != nil {
		if has, err := self.snapshots.HasSnapshot(ctx, SnapshotKind, id); err != nil {
			return nil, err
		} else if has {
			content, err = self.snapshots.Load(ctx, SnapshotKind, id)
			if err != nil {
				return nil, err
			}
		}
	}

	asset.Init(&Options{
		EntryId:  id,
		Content:  content,
		Reporter: self.entryTree,
	})
	if err := asset.Setup(); err != nil {
		return nil, err
	}
	if err := asset.Restore(ctx); err != nil {
		return nil, err
	}
	glog.V(1).Infof("[asset]loaded %s type=%s\n", id, kind)
	return asset, nil
}

func (self *Loader) Unload(id string, asset Asset) {
	// dependency edges are re-recorded on the next restore.
	// diagnostics stay visible while the entry exists
	self.entryTree.SetDependencies(id, nil)
	asset.Destroy()
	glog.V(1).Infof("[asset]unloaded %s\n", id)
}
