package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"idgov-engine/internal/domain"
)

func TestTreeNodeService_CreateRejectsParentTreeTypeMismatch(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.tree.Create(ctx, domain.TreeNode{ID: "root", TreeTypeID: "org", Name: "root"})
	require.NoError(t, err)

	_, err = f.tree.Create(ctx, domain.TreeNode{ID: "child", ParentID: "root", TreeTypeID: "project", Name: "child"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.tree.Create(ctx, domain.TreeNode{ID: "child", ParentID: "root", TreeTypeID: "org", Name: "child"})
	assert.NoError(t, err)
}

func TestTreeNodeService_CreateRejectsMissingParent(t *testing.T) {
	f := newFixture()
	_, err := f.tree.Create(context.Background(), domain.TreeNode{ID: "n", ParentID: "ghost", TreeTypeID: "org", Name: "n"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTreeNodeService_UpdateRejectsMoveIntoOwnSubtree(t *testing.T) {
	f := newFixture()
	f.seedNode(t, "a", "")
	f.seedNode(t, "b", "a")
	f.seedNode(t, "c", "b")

	err := f.tree.Update(context.Background(), domain.TreeNode{ID: "a", ParentID: "c", TreeTypeID: "org", Name: "a"})
	assert.ErrorIs(t, err, domain.ErrTreeCorrupted)

	err = f.tree.Update(context.Background(), domain.TreeNode{ID: "a", ParentID: "a", TreeTypeID: "org", Name: "a"})
	assert.ErrorIs(t, err, domain.ErrTreeCorrupted)
}

func TestTreeNodeService_AncestorsNearestFirst(t *testing.T) {
	f := newFixture()
	f.seedNode(t, "a", "")
	f.seedNode(t, "b", "a")
	f.seedNode(t, "c", "b")

	chain, err := f.tree.Ancestors(context.Background(), "c")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, chain)
}

func TestTreeNodeService_AncestorsToleratesDanglingParent(t *testing.T) {
	f := newFixture()
	f.seedNode(t, "orphan", "ghost")

	chain, err := f.tree.Ancestors(context.Background(), "orphan")
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, chain)
}

func TestTreeNodeService_AncestorsDetectsCycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	// corrupt parent pointers planted directly at the repository
	require.NoError(t, f.nodes.Create(ctx, domain.TreeNode{ID: "a", ParentID: "b", TreeTypeID: "org", Name: "a"}))
	require.NoError(t, f.nodes.Create(ctx, domain.TreeNode{ID: "b", ParentID: "a", TreeTypeID: "org", Name: "b"}))

	_, err := f.tree.Ancestors(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrTreeCorrupted)
}

func TestTreeNodeService_DescendantsBreadthFirst(t *testing.T) {
	f := newFixture()
	f.seedNode(t, "a", "")
	f.seedNode(t, "b", "a")
	f.seedNode(t, "c", "a")
	f.seedNode(t, "d", "b")

	below, err := f.tree.Descendants(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, below)
}
