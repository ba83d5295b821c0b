package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	store, err := NewStore(filepath.Join(t.TempDir(), "sync.db"))
	assert.Equal(t, nil, err)
	defer store.Close()

	has, err := store.HasSnapshot(ctx, "asset", "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, has)

	// loading an absent snapshot is a load failure
	_, err = store.Load(ctx, "asset", "a")
	assert.Equal(t, true, errors.Is(err, ErrLoad))

	assert.Equal(t, nil, store.Save(ctx, "asset", "a", []byte("v1")))
	has, err = store.HasSnapshot(ctx, "asset", "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, has)

	content, err := store.Load(ctx, "asset", "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("v1"), content)

	// save replaces
	assert.Equal(t, nil, store.Save(ctx, "asset", "a", []byte("v2")))
	content, err = store.Load(ctx, "asset", "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("v2"), content)

	// kinds are separate keyspaces
	assert.Equal(t, nil, store.Save(ctx, "tree", "a", []byte("t1")))
	content, err = store.Load(ctx, "asset", "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("v2"), content)

	assert.Equal(t, nil, store.Delete(ctx, "asset", "a"))
	has, err = store.HasSnapshot(ctx, "asset", "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, has)

	// deleting an absent snapshot is not an error
	assert.Equal(t, nil, store.Delete(ctx, "asset", "a"))
}
