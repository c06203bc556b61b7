package application

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	adapterlogger "idgov-engine/internal/adapters/logger"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/infrastructure/memory"
	"idgov-engine/internal/ports"
)

// fixture wires the full service graph onto the in-memory store so the
// tree, composition and propagation algorithms run against real
// repository semantics.
type fixture struct {
	store         *memory.Store
	identities    *memory.IdentityRepository
	roles         *memory.RoleRepository
	compositions  *memory.RoleCompositionRepository
	incompatibles *memory.IncompatibleRoleRepository
	nodes         *memory.TreeNodeRepository
	rules         *memory.AutomaticRoleRuleRepository
	contracts     *memory.ContractRepository
	identityRoles *memory.IdentityRoleRepository
	requests      *memory.RoleRequestRepository

	tree         *TreeNodeService
	composition  *CompositionService
	propagator   *RolePropagator
	automatic    *AutomaticRoleService
	contractSvc  *ContractService
	incompatible *IncompatibleRoleService
}

func newFixture() *fixture {
	logger := testLogger()
	store := memory.NewStore()
	f := &fixture{
		store:         store,
		identities:    memory.NewIdentityRepository(store),
		roles:         memory.NewRoleRepository(store),
		compositions:  memory.NewRoleCompositionRepository(store),
		incompatibles: memory.NewIncompatibleRoleRepository(store),
		nodes:         memory.NewTreeNodeRepository(store),
		rules:         memory.NewAutomaticRoleRuleRepository(store),
		contracts:     memory.NewContractRepository(store),
		identityRoles: memory.NewIdentityRoleRepository(store),
		requests:      memory.NewRoleRequestRepository(store),
	}
	f.tree = NewTreeNodeService(f.nodes, logger)
	f.composition = NewCompositionService(f.compositions, f.roles, logger)
	f.propagator = NewRolePropagator(f.rules, f.identityRoles, f.tree, f.composition, logger)
	f.automatic = NewAutomaticRoleService(f.rules, f.roles, f.contracts, f.identityRoles, f.tree, f.propagator, logger)
	f.contractSvc = NewContractService(f.contracts, f.identities, f.propagator, logger)
	f.incompatible = NewIncompatibleRoleService(f.incompatibles, f.roles, f.contracts, f.identityRoles, f.requests, f.composition, logger)
	return f
}

func testLogger() ports.Logger {
	return adapterlogger.NewWithWriter(io.Discard, slog.LevelError)
}

func (f *fixture) seedRole(t *testing.T, id string, requestable bool) {
	t.Helper()
	err := f.roles.Create(context.Background(), domain.Role{ID: id, Code: id, Name: id, CanBeRequested: requestable})
	require.NoError(t, err)
}

func (f *fixture) seedEdge(t *testing.T, id, superior, sub string) {
	t.Helper()
	err := f.compositions.Create(context.Background(), domain.RoleComposition{ID: id, SuperiorRoleID: superior, SubRoleID: sub})
	require.NoError(t, err)
}

func (f *fixture) seedNode(t *testing.T, id, parent string) {
	t.Helper()
	err := f.nodes.Create(context.Background(), domain.TreeNode{ID: id, ParentID: parent, TreeTypeID: "org", Name: id})
	require.NoError(t, err)
}

func (f *fixture) seedIdentity(t *testing.T, id string) {
	t.Helper()
	err := f.identities.Save(context.Background(), domain.Identity{ID: id, Username: id})
	require.NoError(t, err)
}

func (f *fixture) seedContract(t *testing.T, id, identityID, nodeID string) domain.IdentityContract {
	t.Helper()
	contract := domain.IdentityContract{ID: id, IdentityID: identityID, TreeNodeID: nodeID}
	err := f.contracts.Save(context.Background(), contract)
	require.NoError(t, err)
	return contract
}

func (f *fixture) seedRow(t *testing.T, row domain.IdentityRole) {
	t.Helper()
	err := f.identityRoles.ApplyChangeSet(context.Background(), domain.ChangeSet{Create: []domain.IdentityRole{row}})
	require.NoError(t, err)
}

func (f *fixture) contractRows(t *testing.T, contractID string) []domain.IdentityRole {
	t.Helper()
	rows, err := f.identityRoles.ListByContract(context.Background(), contractID)
	require.NoError(t, err)
	return rows
}

func timeMustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func (f *fixture) rowByRole(t *testing.T, contractID, roleID string) (domain.IdentityRole, bool) {
	t.Helper()
	for _, row := range f.contractRows(t, contractID) {
		if row.RoleID == roleID {
			return row, true
		}
	}
	return domain.IdentityRole{}, false
}
