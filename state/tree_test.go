package state

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTree(t *testing.T) {
	tree := NewTree(EntrySchema())

	foldersId, index, err := tree.Add("", map[string]any{"name": "Folders"}, "", -1)
	assert.Equal(t, nil, err)
	assert.NotEqual(t, "", foldersId)
	assert.Equal(t, 0, index)

	sceneId, _, err := tree.Add("", map[string]any{"name": "Scene", "type": "scene"}, foldersId, -1)
	assert.Equal(t, nil, err)

	playerId, _, err := tree.Add("", map[string]any{"name": "Player", "type": "script"}, sceneId, -1)
	assert.Equal(t, nil, err)

	assert.Equal(t, 3, tree.Len())

	path, err := tree.PathFromId(playerId)
	assert.Equal(t, nil, err)
	assert.Equal(t, "Folders/Scene/Player", path)

	_, err = tree.PathFromId("missing")
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	parentId, ok := tree.ParentId(sceneId)
	assert.Equal(t, true, ok)
	assert.Equal(t, foldersId, parentId)

	// unknown parent
	_, _, err = tree.Add("", map[string]any{"name": "x"}, "missing", -1)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))

	// sibling name collision is rejected, never disambiguated
	_, _, err = tree.Add("", map[string]any{"name": "Scene"}, foldersId, -1)
	assert.Equal(t, true, errors.Is(err, ErrDuplicateName))

	// same name under a different parent is fine
	_, _, err = tree.Add("", map[string]any{"name": "Scene"}, sceneId, -1)
	assert.Equal(t, nil, err)
}

func TestTreeMove(t *testing.T) {
	tree := NewTree(EntrySchema())

	aId, _, _ := tree.Add("a", map[string]any{"name": "a"}, "", -1)
	bId, _, _ := tree.Add("b", map[string]any{"name": "b"}, aId, -1)
	cId, _, _ := tree.Add("c", map[string]any{"name": "c"}, bId, -1)

	// move preserves the subtree
	index, err := tree.Move(bId, "", 0)
	assert.Equal(t, nil, err)
	assert.Equal(t, 0, index)
	parentId, _ := tree.ParentId(cId)
	assert.Equal(t, bId, parentId)
	path, _ := tree.PathFromId(cId)
	assert.Equal(t, "b/c", path)

	// a node cannot move under its own subtree
	_, err = tree.Move(bId, cId, -1)
	assert.Equal(t, true, errors.Is(err, ErrCyclicMove))
	_, err = tree.Move(bId, bId, -1)
	assert.Equal(t, true, errors.Is(err, ErrCyclicMove))

	// name collision at the destination
	tree.Add("a2", map[string]any{"name": "b"}, aId, -1)
	_, err = tree.Move(bId, aId, -1)
	assert.Equal(t, true, errors.Is(err, ErrDuplicateName))

	_, err = tree.Move("missing", "", -1)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
	_, err = tree.Move(bId, "missing", -1)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestTreeRemoveSubtree(t *testing.T) {
	tree := NewTree(EntrySchema())

	aId, _, _ := tree.Add("a", map[string]any{"name": "a"}, "", -1)
	bId, _, _ := tree.Add("b", map[string]any{"name": "b"}, aId, -1)
	cId, _, _ := tree.Add("c", map[string]any{"name": "c"}, bId, -1)
	dId, _, _ := tree.Add("d", map[string]any{"name": "d"}, "", -1)

	removedIds := []string{}
	tree.AddNodeRemovedCallback(func(nodeId string) {
		removedIds = append(removedIds, nodeId)
	})

	err := tree.Remove(aId)
	assert.Equal(t, nil, err)

	// one event per descendant, deepest first
	assert.Equal(t, []string{cId, bId, aId}, removedIds)
	assert.Equal(t, 1, tree.Len())
	_, ok := tree.Node(dId)
	assert.Equal(t, true, ok)

	err = tree.Remove(aId)
	assert.Equal(t, true, errors.Is(err, ErrNotFound))
}

func TestTreeWalk(t *testing.T) {
	tree := NewTree(EntrySchema())

	aId, _, _ := tree.Add("a", map[string]any{"name": "a"}, "", -1)
	bId, _, _ := tree.Add("b", map[string]any{"name": "b"}, aId, -1)
	cId, _, _ := tree.Add("c", map[string]any{"name": "c"}, "", -1)

	visited := []string{}
	parentIds := map[string]string{}
	tree.Walk(func(node *Node, parent *Node) {
		visited = append(visited, node.Id())
		if parent == nil {
			parentIds[node.Id()] = ""
		} else {
			parentIds[node.Id()] = parent.Id()
		}
	})

	// depth-first pre-order
	assert.Equal(t, []string{aId, bId, cId}, visited)
	assert.Equal(t, "", parentIds[aId])
	assert.Equal(t, aId, parentIds[bId])
	assert.Equal(t, "", parentIds[cId])
}

func TestTreeApply(t *testing.T) {
	tree := NewTree(EntrySchema())

	// mirror application bypasses validation and id assignment
	tree.ApplyAdd("a", map[string]any{"name": "a"}, "", 0)
	tree.ApplyAdd("b", map[string]any{"name": "b"}, "a", 0)
	assert.Equal(t, 2, tree.Len())

	tree.ApplyMove("b", "", 0)
	parentId, _ := tree.ParentId("b")
	assert.Equal(t, "", parentId)

	tree.ApplyProperty("a", "name", "renamed")
	node, _ := tree.Node("a")
	name, _ := node.Record().Property("name")
	assert.Equal(t, "renamed", name)

	tree.ApplyRemove("a")
	assert.Equal(t, 1, tree.Len())
}

func TestTreeApplyPropertyReplay(t *testing.T) {
	tree := NewTree(EntrySchema())

	tree.ApplyAdd("a", map[string]any{"name": "a"}, "", 0)

	// a redelivered property mirror converges to the same state
	tree.ApplyProperty("a", "name", "renamed")
	tree.ApplyProperty("a", "name", "renamed")

	node, _ := tree.Node("a")
	name, _ := node.Record().Property("name")
	assert.Equal(t, "renamed", name)
	assert.Equal(t, 1, tree.Len())
	children := 0
	tree.Walk(func(node *Node, parent *Node) {
		children += 1
	})
	assert.Equal(t, 1, children)
}
