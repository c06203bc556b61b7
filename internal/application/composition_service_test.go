package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"idgov-engine/internal/domain"
)

func TestCompositionService_CreateRejectsSelfEdge(t *testing.T) {
	f := newFixture()
	f.seedRole(t, "a", true)

	_, err := f.composition.Create(context.Background(), domain.RoleComposition{SuperiorRoleID: "a", SubRoleID: "a"})
	assert.ErrorIs(t, err, domain.ErrCompositionCycle)
}

func TestCompositionService_CreateRejectsCycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		f.seedRole(t, id, true)
	}
	_, err := f.composition.Create(ctx, domain.RoleComposition{SuperiorRoleID: "a", SubRoleID: "b"})
	require.NoError(t, err)
	_, err = f.composition.Create(ctx, domain.RoleComposition{SuperiorRoleID: "b", SubRoleID: "c"})
	require.NoError(t, err)

	_, err = f.composition.Create(ctx, domain.RoleComposition{SuperiorRoleID: "c", SubRoleID: "a"})
	assert.ErrorIs(t, err, domain.ErrCompositionCycle)
}

func TestCompositionService_SubRoleClosure(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"a", "b", "c", "d"} {
		f.seedRole(t, id, true)
	}
	f.seedEdge(t, "e1", "a", "b")
	f.seedEdge(t, "e2", "b", "c")
	f.seedEdge(t, "e3", "a", "d")

	closure, err := f.composition.SubRoleClosure(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"b": {}, "c": {}, "d": {}}, closure)
}

func TestExpandGrant_MaterializesClosure(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"a", "b", "c"} {
		f.seedRole(t, id, true)
	}
	f.seedEdge(t, "e1", "a", "b")
	f.seedEdge(t, "e2", "b", "c")

	grant := domain.IdentityRole{ID: "row-a", ContractID: "ct", RoleID: "a"}
	byRole := map[string]domain.IdentityRole{"a": grant}
	changes := domain.ChangeSet{}
	require.NoError(t, f.composition.ExpandGrant(context.Background(), grant, byRole, &changes))

	require.Len(t, changes.Create, 2)
	rowB := changes.Create[0]
	rowC := changes.Create[1]
	assert.Equal(t, "b", rowB.RoleID)
	assert.Equal(t, "row-a", rowB.DirectRoleID)
	assert.Equal(t, "c", rowC.RoleID)
	assert.Equal(t, rowB.ID, rowC.DirectRoleID)
}

func TestExpandGrant_FirstWriterWins(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"a", "b", "c"} {
		f.seedRole(t, id, true)
	}
	f.seedEdge(t, "e1", "a", "b")
	f.seedEdge(t, "e2", "b", "c")

	held := domain.IdentityRole{ID: "row-b", ContractID: "ct", RoleID: "b"}
	grant := domain.IdentityRole{ID: "row-a", ContractID: "ct", RoleID: "a"}
	byRole := map[string]domain.IdentityRole{"a": grant, "b": held}
	changes := domain.ChangeSet{}
	require.NoError(t, f.composition.ExpandGrant(context.Background(), grant, byRole, &changes))

	// b stays with its existing provenance; only c is created, derived
	// from the pre-existing b assignment
	require.Len(t, changes.Create, 1)
	assert.Equal(t, "c", changes.Create[0].RoleID)
	assert.Equal(t, "row-b", changes.Create[0].DirectRoleID)
}

func TestRetireGrant_DeletesCascade(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"a", "b", "c"} {
		f.seedRole(t, id, true)
	}
	f.seedEdge(t, "e1", "a", "b")
	f.seedEdge(t, "e2", "b", "c")

	rowA := domain.IdentityRole{ID: "row-a", ContractID: "ct", RoleID: "a"}
	rowB := domain.IdentityRole{ID: "row-b", ContractID: "ct", RoleID: "b", DirectRoleID: "row-a"}
	rowC := domain.IdentityRole{ID: "row-c", ContractID: "ct", RoleID: "c", DirectRoleID: "row-b"}
	rows := []domain.IdentityRole{rowA, rowB, rowC}
	byRole := map[string]domain.IdentityRole{"a": rowA, "b": rowB, "c": rowC}

	changes := domain.ChangeSet{}
	require.NoError(t, f.composition.RetireGrant(context.Background(), rowA, rows, byRole, &changes))

	assert.Equal(t, []string{"row-a", "row-b", "row-c"}, changes.Delete)
	assert.Empty(t, changes.Update)
	assert.Empty(t, byRole)
}

func TestRetireGrant_RetargetsJustifiedRows(t *testing.T) {
	f := newFixture()
	for _, id := range []string{"a", "b", "m"} {
		f.seedRole(t, id, true)
	}
	f.seedEdge(t, "e1", "a", "b")
	f.seedEdge(t, "e2", "m", "b")

	rowA := domain.IdentityRole{ID: "row-a", ContractID: "ct", RoleID: "a"}
	rowB := domain.IdentityRole{ID: "row-b", ContractID: "ct", RoleID: "b", DirectRoleID: "row-a"}
	rowM := domain.IdentityRole{ID: "row-m", ContractID: "ct", RoleID: "m"}
	rows := []domain.IdentityRole{rowA, rowB, rowM}
	byRole := map[string]domain.IdentityRole{"a": rowA, "b": rowB, "m": rowM}

	changes := domain.ChangeSet{}
	require.NoError(t, f.composition.RetireGrant(context.Background(), rowA, rows, byRole, &changes))

	// b is still implied by m, so it survives with retargeted provenance
	assert.Equal(t, []string{"row-a"}, changes.Delete)
	require.Len(t, changes.Update, 1)
	assert.Equal(t, "row-b", changes.Update[0].ID)
	assert.Equal(t, "row-m", changes.Update[0].DirectRoleID)
	assert.Contains(t, byRole, "b")
}
