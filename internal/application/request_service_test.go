package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"idgov-engine/internal/domain"
)

type workflowMock struct{ mock.Mock }

func (m *workflowMock) RequestApproval(ctx context.Context, requestID string) (bool, error) {
	args := m.Called(ctx, requestID)
	return args.Bool(0), args.Error(1)
}

type permissionMock struct{ mock.Mock }

func (m *permissionMock) HasImmediateExecuteRight(ctx context.Context, callerID string) (bool, error) {
	args := m.Called(ctx, callerID)
	return args.Bool(0), args.Error(1)
}

func newRequestService(f *fixture, workflow *workflowMock, permissions *permissionMock) *RoleRequestService {
	return NewRoleRequestService(f.requests, f.contracts, f.roles, f.identityRoles, f.composition, workflow, permissions, testLogger())
}

func directExecutionWorkflow() *workflowMock {
	workflow := new(workflowMock)
	workflow.On("RequestApproval", mock.Anything, mock.Anything).Return(false, nil)
	return workflow
}

func parkingWorkflow() *workflowMock {
	workflow := new(workflowMock)
	workflow.On("RequestApproval", mock.Anything, mock.Anything).Return(true, nil)
	return workflow
}

func TestRoleRequestService_SaveAssignsIdentifiers(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "r", ContractID: "ct"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, domain.StateConcept, request.State)
	assert.False(t, request.Created.IsZero())

	concepts, err := f.requests.ListConcepts(ctx, request.ID)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.NotEmpty(t, concepts[0].ID)
	assert.Equal(t, request.ID, concepts[0].RoleRequestID)
}

func TestRoleRequestService_SaveRejectsMissingApplicant(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))

	_, err := svc.Save(context.Background(), domain.RoleRequest{}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRoleRequestService_SaveRejectsExecutedRequest(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()

	require.NoError(t, f.requests.Save(ctx, domain.RoleRequest{ID: "req", ApplicantID: "alice", State: domain.StateExecuted}, nil))

	_, err := svc.Save(ctx, domain.RoleRequest{ID: "req", ApplicantID: "alice"}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRoleRequestService_StartExecutesAddWithComposition(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedRole(t, "b", false)
	f.seedEdge(t, "e1", "a", "b")
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
	})
	require.NoError(t, err)

	done, err := svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuted, done.State)
	assert.Equal(t, domain.ResultExecuted, done.ResultCode)

	granted, found := f.rowByRole(t, "ct", "a")
	require.True(t, found)
	assert.True(t, granted.Manual())
	composed, found := f.rowByRole(t, "ct", "b")
	require.True(t, found)
	assert.Equal(t, granted.ID, composed.DirectRoleID)
}

func TestRoleRequestService_StartRequiresConceptState(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
	})
	require.NoError(t, err)
	_, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)

	_, err = svc.Start(ctx, request.ID, "alice")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRoleRequestService_DuplicateRequestIsMarked(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, parkingWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	concept := domain.ConceptRoleRequest{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"}
	first, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	first, err = svc.Start(ctx, first.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateInProgress, first.State)
	require.Equal(t, domain.ResultApprovalInProgress, first.ResultCode)

	second, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	second, err = svc.Start(ctx, second.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDuplicated, second.State)
	assert.Equal(t, first.ID, second.DuplicatedToRequestID)
	assert.Equal(t, domain.ResultDuplicatedRequest, second.ResultCode)
}

func TestRoleRequestService_EditedDescriptionClearsDuplicate(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, parkingWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	concept := domain.ConceptRoleRequest{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"}
	first, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	_, err = svc.Start(ctx, first.ID, "alice")
	require.NoError(t, err)

	second, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	second, err = svc.Start(ctx, second.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateDuplicated, second.State)

	// re-saving with a new description returns the request to CONCEPT and
	// changes its content fingerprint
	second.Description = "urgent, needed for onboarding"
	second, err = svc.Save(ctx, second, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	require.Equal(t, domain.StateConcept, second.State)
	assert.Empty(t, second.DuplicatedToRequestID)

	second, err = svc.Start(ctx, second.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, second.State)
}

func TestRoleRequestService_ApplicantMismatchEndsInException(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct-bob", "bob", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct-bob"},
	})
	require.NoError(t, err)

	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateException, request.State)
	assert.Equal(t, domain.ResultApplicantsNotSame, request.ResultCode)
	assert.Empty(t, f.contractRows(t, "ct-bob"))
}

func TestRoleRequestService_ImmediateExecuteRequiresRight(t *testing.T) {
	f := newFixture()
	permissions := new(permissionMock)
	permissions.On("HasImmediateExecuteRight", mock.Anything, "alice").Return(false, nil)
	svc := newRequestService(f, parkingWorkflow(), permissions)
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice", ExecuteImmediately: true}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
	})
	require.NoError(t, err)

	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateException, request.State)
	assert.Equal(t, domain.ResultNoExecuteRight, request.ResultCode)
	permissions.AssertExpectations(t)
}

func TestRoleRequestService_ImmediateExecuteSkipsApproval(t *testing.T) {
	f := newFixture()
	permissions := new(permissionMock)
	permissions.On("HasImmediateExecuteRight", mock.Anything, "admin").Return(true, nil)
	workflow := new(workflowMock)
	svc := newRequestService(f, workflow, permissions)
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice", ExecuteImmediately: true}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
	})
	require.NoError(t, err)

	request, err = svc.Start(ctx, request.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuted, request.State)
	workflow.AssertNotCalled(t, "RequestApproval", mock.Anything, mock.Anything)
}

func TestRoleRequestService_FailingConceptAppliesNothing(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedRole(t, "locked", false)
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
		{Operation: domain.OperationAdd, RoleID: "locked", ContractID: "ct"},
	})
	require.NoError(t, err)

	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateException, request.State)
	assert.Equal(t, domain.ResultConceptFailed, request.ResultCode)
	assert.NotEmpty(t, request.ResultMessage)
	assert.Empty(t, f.contractRows(t, "ct"))
}

func TestRoleRequestService_RemoveCascadesComposedRows(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedRole(t, "b", false)
	f.seedEdge(t, "e1", "a", "b")
	f.seedContract(t, "ct", "alice", "n1")
	f.seedRow(t, domain.IdentityRole{ID: "row-a", ContractID: "ct", RoleID: "a"})
	f.seedRow(t, domain.IdentityRole{ID: "row-b", ContractID: "ct", RoleID: "b", DirectRoleID: "row-a"})

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationRemove, IdentityRoleID: "row-a"},
	})
	require.NoError(t, err)

	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuted, request.State)
	assert.Empty(t, f.contractRows(t, "ct"))
}

func TestRoleRequestService_UpdateChangesValidityOnly(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, directExecutionWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")
	f.seedRow(t, domain.IdentityRole{ID: "row-a", ContractID: "ct", RoleID: "a"})

	till := timeMustParse(t, "2027-01-01T00:00:00Z")
	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationUpdate, IdentityRoleID: "row-a", ValidTill: &till},
	})
	require.NoError(t, err)

	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateExecuted, request.State)

	row, found := f.rowByRole(t, "ct", "a")
	require.True(t, found)
	require.NotNil(t, row.ValidTill)
	assert.True(t, row.ValidTill.Equal(till))
	assert.Equal(t, "row-a", row.ID)
}

func TestRoleRequestService_OnApprovalResultDeniedEndsInException(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, parkingWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
	})
	require.NoError(t, err)
	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateInProgress, request.State)

	request, err = svc.OnApprovalResult(ctx, request.ID, false, "not justified")
	require.NoError(t, err)
	assert.Equal(t, domain.StateException, request.State)
	assert.Equal(t, domain.ResultApprovalDenied, request.ResultCode)
	assert.Equal(t, "not justified", request.ResultMessage)
	assert.Empty(t, f.contractRows(t, "ct"))
}

func TestRoleRequestService_OnApprovalResultApprovedExecutes(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, parkingWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	request, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{
		{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"},
	})
	require.NoError(t, err)
	request, err = svc.Start(ctx, request.ID, "alice")
	require.NoError(t, err)
	require.Equal(t, domain.StateInProgress, request.State)

	request, err = svc.OnApprovalResult(ctx, request.ID, true, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StateExecuted, request.State)
	_, found := f.rowByRole(t, "ct", "a")
	assert.True(t, found)
}

func TestRoleRequestService_CancelReleasesDuplicateClaim(t *testing.T) {
	f := newFixture()
	svc := newRequestService(f, parkingWorkflow(), new(permissionMock))
	ctx := context.Background()
	f.seedRole(t, "a", true)
	f.seedContract(t, "ct", "alice", "n1")

	concept := domain.ConceptRoleRequest{Operation: domain.OperationAdd, RoleID: "a", ContractID: "ct"}
	first, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	first, err = svc.Start(ctx, first.ID, "alice")
	require.NoError(t, err)

	first, err = svc.Cancel(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateCanceled, first.State)

	second, err := svc.Save(ctx, domain.RoleRequest{ApplicantID: "alice"}, []domain.ConceptRoleRequest{concept})
	require.NoError(t, err)
	second, err = svc.Start(ctx, second.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, second.State)
}
