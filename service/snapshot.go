package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"

	"tessera.dev/sync/assets"
	"tessera.dev/sync/state"
	"tessera.dev/sync/store"
)

const TreeSnapshotKind = "tree"
const TreeSnapshotId = "entries"

type entrySnapshot struct {
	EntryId  string         `json:"entry_id"`
	ParentId string         `json:"parent_id,omitempty"`
	Index    int            `json:"index"`
	Values   map[string]any `json:"values"`
}

type treeSnapshot struct {
	// pre-order so each parent precedes its children
	Entries []entrySnapshot `json:"entries"`
}

// SaveSnapshot persists the entry tree and every loaded snapshottable asset.
func (self *Service) SaveSnapshot(ctx context.Context) error {
	if self.snapshots == nil {
		return nil
	}

	snapshot := &treeSnapshot{}
	indexes := map[string]int{}
	self.entryTree.Walk(func(node *state.Node, parent *state.Node) {
		parentId := ""
		if parent != nil {
			parentId = parent.Id()
		}
		index := indexes[parentId]
		indexes[parentId] = index + 1
		snapshot.Entries = append(snapshot.Entries, entrySnapshot{
			EntryId:  node.Id(),
			ParentId: parentId,
			Index:    index,
			Values:   node.Record().Values(),
		})
	})
	content, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %s", store.ErrSave, err)
	}
	if err := self.snapshots.Save(ctx, TreeSnapshotKind, TreeSnapshotId, content); err != nil {
		return err
	}

	for _, entryId := range self.assetRegistry.LoadedIds() {
		asset, ok := self.assetRegistry.Loaded(entryId)
		if !ok {
			continue
		}
		snapshotter, ok := asset.(interface{ Snapshot() ([]byte, error) })
		if !ok {
			continue
		}
		content, err := snapshotter.Snapshot()
		if err != nil {
			glog.Warningf("[svc]asset snapshot failed for %s: %s\n", entryId, err)
			continue
		}
		if err := self.snapshots.Save(ctx, assets.SnapshotKind, entryId, content); err != nil {
			return err
		}
	}

	glog.V(1).Infof("[svc]snapshot saved (%d entries)\n", len(snapshot.Entries))
	return nil
}

// RestoreSnapshot rebuilds the entry tree from the last saved snapshot.
// Snapshot contents are last-known-good, so they are applied without
// re-validation. Call before serving requests.
func (self *Service) RestoreSnapshot(ctx context.Context) error {
	if self.snapshots == nil {
		return nil
	}
	has, err := self.snapshots.HasSnapshot(ctx, TreeSnapshotKind, TreeSnapshotId)
	if err != nil {
		return err
	}
	if !has {
		return nil
	}
	content, err := self.snapshots.Load(ctx, TreeSnapshotKind, TreeSnapshotId)
	if err != nil {
		return err
	}
	snapshot := &treeSnapshot{}
	if err := json.Unmarshal(content, snapshot); err != nil {
		return fmt.Errorf("%w: %s", store.ErrLoad, err)
	}
	for _, entry := range snapshot.Entries {
		self.entryTree.ApplyAdd(entry.EntryId, entry.Values, entry.ParentId, entry.Index)
	}
	glog.Infof("[svc]snapshot restored (%d entries)\n", len(snapshot.Entries))
	return nil
}
