package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"idgov-engine/internal/domain"
)

func TestIdentityRoleRepository_ApplyChangeSetIsAtomic(t *testing.T) {
	store := NewStore()
	repo := NewIdentityRoleRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.ApplyChangeSet(ctx, domain.ChangeSet{
		Create: []domain.IdentityRole{{ID: "row-1", ContractID: "ct", RoleID: "a"}},
	}))

	// valid create bundled with a delete of a missing row: nothing lands
	err := repo.ApplyChangeSet(ctx, domain.ChangeSet{
		Create: []domain.IdentityRole{{ID: "row-2", ContractID: "ct", RoleID: "b"}},
		Delete: []string{"ghost"},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	rows, err := repo.ListByContract(ctx, "ct")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "row-1", rows[0].ID)
}

func TestIdentityRoleRepository_ApplyChangeSetRejectsDuplicateCreate(t *testing.T) {
	store := NewStore()
	repo := NewIdentityRoleRepository(store)
	ctx := context.Background()

	require.NoError(t, repo.ApplyChangeSet(ctx, domain.ChangeSet{
		Create: []domain.IdentityRole{{ID: "row-1", ContractID: "ct", RoleID: "a"}},
	}))

	err := repo.ApplyChangeSet(ctx, domain.ChangeSet{
		Create: []domain.IdentityRole{{ID: "row-1", ContractID: "ct", RoleID: "a"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRoleRequestRepository_ClaimExecution(t *testing.T) {
	store := NewStore()
	repo := NewRoleRequestRepository(store)
	ctx := context.Background()

	holder, err := repo.ClaimExecution(ctx, "alice", "hash-1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", holder)

	// re-claiming by the same request is idempotent
	holder, err = repo.ClaimExecution(ctx, "alice", "hash-1", "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", holder)

	holder, err = repo.ClaimExecution(ctx, "alice", "hash-1", "req-2")
	require.ErrorIs(t, err, domain.ErrExecutionClaimed)
	assert.Equal(t, "req-1", holder)

	// a different applicant or content is an independent claim
	_, err = repo.ClaimExecution(ctx, "bob", "hash-1", "req-3")
	require.NoError(t, err)
	_, err = repo.ClaimExecution(ctx, "alice", "hash-2", "req-4")
	require.NoError(t, err)

	require.NoError(t, repo.ReleaseExecution(ctx, "alice", "hash-1"))
	holder, err = repo.ClaimExecution(ctx, "alice", "hash-1", "req-2")
	require.NoError(t, err)
	assert.Equal(t, "req-2", holder)
}

func TestRoleRequestRepository_SaveReplacesConcepts(t *testing.T) {
	store := NewStore()
	repo := NewRoleRequestRepository(store)
	ctx := context.Background()

	request := domain.RoleRequest{ID: "req", ApplicantID: "alice", State: domain.StateConcept}
	require.NoError(t, repo.Save(ctx, request, []domain.ConceptRoleRequest{
		{ID: "c1", RoleRequestID: "req", Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
		{ID: "c2", RoleRequestID: "req", Operation: domain.OperationAdd, RoleID: "b", ContractID: "ct"},
	}))
	require.NoError(t, repo.Save(ctx, request, []domain.ConceptRoleRequest{
		{ID: "c3", RoleRequestID: "req", Operation: domain.OperationAdd, RoleID: "c", ContractID: "ct"},
	}))

	concepts, err := repo.ListConcepts(ctx, "req")
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "c3", concepts[0].ID)
}
