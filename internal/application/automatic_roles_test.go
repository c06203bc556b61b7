package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"idgov-engine/internal/domain"
)

func TestAutomaticRoleService_CreateRuleGrantsExistingContracts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedRole(t, "emp", false)
	f.seedNode(t, "root", "")
	f.seedNode(t, "leaf", "root")
	f.seedContract(t, "ct-root", "alice", "root")
	f.seedContract(t, "ct-leaf", "bob", "leaf")

	rule, err := f.automatic.CreateRule(ctx, domain.AutomaticRoleRule{RoleID: "emp", TreeNodeID: "root", Recursion: domain.RecursionDown})
	require.NoError(t, err)
	require.NotEmpty(t, rule.ID)

	for _, contractID := range []string{"ct-root", "ct-leaf"} {
		row, found := f.rowByRole(t, contractID, "emp")
		require.True(t, found, contractID)
		assert.Equal(t, rule.ID, row.AutomaticRuleID)
	}
}

func TestAutomaticRoleService_CreateRuleRejectsUnknownRecursion(t *testing.T) {
	f := newFixture()
	f.seedRole(t, "emp", false)
	f.seedNode(t, "n1", "")

	_, err := f.automatic.CreateRule(context.Background(), domain.AutomaticRoleRule{RoleID: "emp", TreeNodeID: "n1", Recursion: "SIDEWAYS"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAutomaticRoleService_DeleteRuleRevokesGrants(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedRole(t, "emp", false)
	f.seedNode(t, "n1", "")
	f.seedContract(t, "ct", "alice", "n1")

	rule, err := f.automatic.CreateRule(ctx, domain.AutomaticRoleRule{RoleID: "emp", TreeNodeID: "n1", Recursion: domain.RecursionNone})
	require.NoError(t, err)
	require.Len(t, f.contractRows(t, "ct"), 1)

	require.NoError(t, f.automatic.DeleteRule(ctx, rule.ID))
	assert.Empty(t, f.contractRows(t, "ct"))
}

func TestContractService_SaveTriggersPropagation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedIdentity(t, "alice")
	f.seedRole(t, "emp", false)
	f.seedNode(t, "n1", "")
	require.NoError(t, f.rules.Create(ctx, domain.AutomaticRoleRule{ID: "r1", RoleID: "emp", TreeNodeID: "n1", Recursion: domain.RecursionNone}))

	contract, err := f.contractSvc.Save(ctx, domain.IdentityContract{IdentityID: "alice", TreeNodeID: "n1"})
	require.NoError(t, err)
	require.NotEmpty(t, contract.ID)

	row, found := f.rowByRole(t, contract.ID, "emp")
	require.True(t, found)
	assert.Equal(t, "r1", row.AutomaticRuleID)
}

func TestContractService_SaveRequiresKnownIdentity(t *testing.T) {
	f := newFixture()
	_, err := f.contractSvc.Save(context.Background(), domain.IdentityContract{IdentityID: "ghost"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
