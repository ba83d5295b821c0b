package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"

	"tessera.dev/sync/assets"
	"tessera.dev/sync/store"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "sync.db")

	snapshots, err := store.NewStore(dbPath)
	assert.Equal(t, nil, err)

	svc := NewServiceWithDefaults(ctx, snapshots, assets.DefaultKindSet())

	folderId, _, err := svc.EntryTree().Add("", map[string]any{"name": "assets"}, "", -1)
	assert.Equal(t, nil, err)
	sceneId, _, err := svc.EntryTree().Add("", map[string]any{"name": "main", "type": "scene"}, folderId, -1)
	assert.Equal(t, nil, err)
	otherId, _, err := svc.EntryTree().Add("", map[string]any{"name": "other"}, "", 0)
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, svc.SaveSnapshot(ctx))
	assert.Equal(t, nil, snapshots.Close())

	// a fresh service over the same store restores the tree
	snapshots, err = store.NewStore(dbPath)
	assert.Equal(t, nil, err)
	defer snapshots.Close()

	restored := NewServiceWithDefaults(ctx, snapshots, assets.DefaultKindSet())
	assert.Equal(t, nil, restored.RestoreSnapshot(ctx))

	assert.Equal(t, 3, restored.EntryTree().Len())
	path, err := restored.EntryTree().PathFromId(sceneId)
	assert.Equal(t, nil, err)
	assert.Equal(t, "assets/main", path)

	// sibling order survives
	parentId, _ := restored.EntryTree().ParentId(otherId)
	assert.Equal(t, "", parentId)
	node, ok := restored.EntryTree().Node(sceneId)
	assert.Equal(t, true, ok)
	kind, _ := node.Record().Property("type")
	assert.Equal(t, "scene", kind)

	// restoring with no snapshot present is a no-op
	empty, err := store.NewStore(filepath.Join(t.TempDir(), "empty.db"))
	assert.Equal(t, nil, err)
	defer empty.Close()
	fresh := NewServiceWithDefaults(ctx, empty, assets.DefaultKindSet())
	assert.Equal(t, nil, fresh.RestoreSnapshot(ctx))
	assert.Equal(t, 0, fresh.EntryTree().Len())
}
