package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"idgov-engine/internal/domain"
)

type roleRepoMock struct{ mock.Mock }

func (m *roleRepoMock) Create(ctx context.Context, role domain.Role) error {
	args := m.Called(ctx, role)
	return args.Error(0)
}

func (m *roleRepoMock) Update(ctx context.Context, role domain.Role) error {
	args := m.Called(ctx, role)
	return args.Error(0)
}

func (m *roleRepoMock) GetByID(ctx context.Context, roleID string) (domain.Role, error) {
	args := m.Called(ctx, roleID)
	return args.Get(0).(domain.Role), args.Error(1)
}

func (m *roleRepoMock) List(ctx context.Context) ([]domain.Role, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Role), args.Error(1)
}

type identityRepoMock struct{ mock.Mock }

func (m *identityRepoMock) Save(ctx context.Context, identity domain.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *identityRepoMock) GetByID(ctx context.Context, identityID string) (domain.Identity, error) {
	args := m.Called(ctx, identityID)
	return args.Get(0).(domain.Identity), args.Error(1)
}

func TestRoleService_Create(t *testing.T) {
	repo := new(roleRepoMock)
	svc := NewRoleService(repo, testLogger())

	repo.On("Create", mock.Anything, mock.MatchedBy(func(role domain.Role) bool {
		return role.ID != "" && role.Code == "approver" && !role.CreatedAt.IsZero()
	})).Return(nil)

	role, err := svc.Create(context.Background(), domain.Role{Code: "approver", Name: "Approver"})
	require.NoError(t, err)
	assert.NotEmpty(t, role.ID)
	repo.AssertExpectations(t)
}

func TestRoleService_CreateInvalidInput(t *testing.T) {
	repo := new(roleRepoMock)
	svc := NewRoleService(repo, testLogger())

	_, err := svc.Create(context.Background(), domain.Role{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRoleService_GetByID(t *testing.T) {
	repo := new(roleRepoMock)
	svc := NewRoleService(repo, testLogger())
	expected := domain.Role{ID: "role-1", Code: "approver"}
	repo.On("GetByID", mock.Anything, "role-1").Return(expected, nil)

	got, err := svc.GetByID(context.Background(), "role-1")
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestRoleService_List(t *testing.T) {
	repo := new(roleRepoMock)
	svc := NewRoleService(repo, testLogger())
	expected := []domain.Role{{ID: "role-1"}, {ID: "role-2"}}
	repo.On("List", mock.Anything).Return(expected, nil)

	got, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, got)
}

func TestIdentityService_Save(t *testing.T) {
	repo := new(identityRepoMock)
	svc := NewIdentityService(repo, testLogger())

	repo.On("Save", mock.Anything, mock.MatchedBy(func(identity domain.Identity) bool {
		return identity.ID != "" && identity.Username == "alice"
	})).Return(nil)

	identity, err := svc.Save(context.Background(), domain.Identity{Username: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, identity.ID)
	repo.AssertExpectations(t)
}

func TestIdentityService_SaveInvalidInput(t *testing.T) {
	repo := new(identityRepoMock)
	svc := NewIdentityService(repo, testLogger())

	_, err := svc.Save(context.Background(), domain.Identity{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
