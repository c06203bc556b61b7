// Package memory provides an in-process implementation of every
// repository port. It backs STORAGE_MODE=memory for local development
// and the algorithm-level tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"idgov-engine/internal/domain"
)

type Store struct {
	mu            sync.Mutex
	identities    map[string]domain.Identity
	roles         map[string]domain.Role
	compositions  map[string]domain.RoleComposition
	incompatibles map[string]domain.IncompatibleRole
	nodes         map[string]domain.TreeNode
	rules         map[string]domain.AutomaticRoleRule
	contracts     map[string]domain.IdentityContract
	identityRoles map[string]domain.IdentityRole
	requests      map[string]domain.RoleRequest
	concepts      map[string][]domain.ConceptRoleRequest
	claims        map[string]string
}

func NewStore() *Store {
	return &Store{
		identities:    map[string]domain.Identity{},
		roles:         map[string]domain.Role{},
		compositions:  map[string]domain.RoleComposition{},
		incompatibles: map[string]domain.IncompatibleRole{},
		nodes:         map[string]domain.TreeNode{},
		rules:         map[string]domain.AutomaticRoleRule{},
		contracts:     map[string]domain.IdentityContract{},
		identityRoles: map[string]domain.IdentityRole{},
		requests:      map[string]domain.RoleRequest{},
		concepts:      map[string][]domain.ConceptRoleRequest{},
		claims:        map[string]string{},
	}
}

func claimKey(applicantID, contentHash string) string { return applicantID + "|" + contentHash }

type IdentityRepository struct{ store *Store }

func NewIdentityRepository(store *Store) *IdentityRepository { return &IdentityRepository{store} }

func (r *IdentityRepository) Save(_ context.Context, identity domain.Identity) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.identities[identity.ID] = identity
	return nil
}

func (r *IdentityRepository) GetByID(_ context.Context, identityID string) (domain.Identity, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	identity, ok := r.store.identities[identityID]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return identity, nil
}

type RoleRepository struct{ store *Store }

func NewRoleRepository(store *Store) *RoleRepository { return &RoleRepository{store} }

func (r *RoleRepository) Create(_ context.Context, role domain.Role) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.roles[role.ID]; exists {
		return domain.ErrInvalidInput
	}
	r.store.roles[role.ID] = role
	return nil
}

func (r *RoleRepository) Update(_ context.Context, role domain.Role) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.roles[role.ID]; !exists {
		return domain.ErrNotFound
	}
	r.store.roles[role.ID] = role
	return nil
}

func (r *RoleRepository) GetByID(_ context.Context, roleID string) (domain.Role, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	role, ok := r.store.roles[roleID]
	if !ok {
		return domain.Role{}, domain.ErrNotFound
	}
	return role, nil
}

func (r *RoleRepository) List(_ context.Context) ([]domain.Role, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	roles := make([]domain.Role, 0, len(r.store.roles))
	for _, role := range r.store.roles {
		roles = append(roles, role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].ID < roles[j].ID })
	return roles, nil
}

type RoleCompositionRepository struct{ store *Store }

func NewRoleCompositionRepository(store *Store) *RoleCompositionRepository {
	return &RoleCompositionRepository{store}
}

func (r *RoleCompositionRepository) Create(_ context.Context, composition domain.RoleComposition) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.compositions[composition.ID] = composition
	return nil
}

func (r *RoleCompositionRepository) Delete(_ context.Context, compositionID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.compositions[compositionID]; !exists {
		return domain.ErrNotFound
	}
	delete(r.store.compositions, compositionID)
	return nil
}

func (r *RoleCompositionRepository) ListBySuperior(_ context.Context, roleID string) ([]domain.RoleComposition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var edges []domain.RoleComposition
	for _, edge := range r.store.compositions {
		if edge.SuperiorRoleID == roleID {
			edges = append(edges, edge)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

func (r *RoleCompositionRepository) List(_ context.Context) ([]domain.RoleComposition, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	edges := make([]domain.RoleComposition, 0, len(r.store.compositions))
	for _, edge := range r.store.compositions {
		edges = append(edges, edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

type IncompatibleRoleRepository struct{ store *Store }

func NewIncompatibleRoleRepository(store *Store) *IncompatibleRoleRepository {
	return &IncompatibleRoleRepository{store}
}

func (r *IncompatibleRoleRepository) Create(_ context.Context, pair domain.IncompatibleRole) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.incompatibles[pair.ID] = pair
	return nil
}

func (r *IncompatibleRoleRepository) Delete(_ context.Context, pairID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.incompatibles[pairID]; !exists {
		return domain.ErrNotFound
	}
	delete(r.store.incompatibles, pairID)
	return nil
}

func (r *IncompatibleRoleRepository) List(_ context.Context) ([]domain.IncompatibleRole, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	pairs := make([]domain.IncompatibleRole, 0, len(r.store.incompatibles))
	for _, pair := range r.store.incompatibles {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs, nil
}

type TreeNodeRepository struct{ store *Store }

func NewTreeNodeRepository(store *Store) *TreeNodeRepository { return &TreeNodeRepository{store} }

func (r *TreeNodeRepository) Create(_ context.Context, node domain.TreeNode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.nodes[node.ID]; exists {
		return domain.ErrInvalidInput
	}
	r.store.nodes[node.ID] = node
	return nil
}

func (r *TreeNodeRepository) Update(_ context.Context, node domain.TreeNode) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.nodes[node.ID]; !exists {
		return domain.ErrNotFound
	}
	r.store.nodes[node.ID] = node
	return nil
}

func (r *TreeNodeRepository) GetByID(_ context.Context, nodeID string) (domain.TreeNode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	node, ok := r.store.nodes[nodeID]
	if !ok {
		return domain.TreeNode{}, domain.ErrNotFound
	}
	return node, nil
}

func (r *TreeNodeRepository) ListChildren(_ context.Context, nodeID string) ([]domain.TreeNode, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var children []domain.TreeNode
	for _, node := range r.store.nodes {
		if node.ParentID == nodeID {
			children = append(children, node)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].ID < children[j].ID })
	return children, nil
}

type AutomaticRoleRuleRepository struct{ store *Store }

func NewAutomaticRoleRuleRepository(store *Store) *AutomaticRoleRuleRepository {
	return &AutomaticRoleRuleRepository{store}
}

func (r *AutomaticRoleRuleRepository) Create(_ context.Context, rule domain.AutomaticRoleRule) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.rules[rule.ID] = rule
	return nil
}

func (r *AutomaticRoleRuleRepository) Delete(_ context.Context, ruleID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.rules[ruleID]; !exists {
		return domain.ErrNotFound
	}
	delete(r.store.rules, ruleID)
	return nil
}

func (r *AutomaticRoleRuleRepository) GetByID(_ context.Context, ruleID string) (domain.AutomaticRoleRule, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rule, ok := r.store.rules[ruleID]
	if !ok {
		return domain.AutomaticRoleRule{}, domain.ErrNotFound
	}
	return rule, nil
}

func (r *AutomaticRoleRuleRepository) List(_ context.Context) ([]domain.AutomaticRoleRule, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rules := make([]domain.AutomaticRoleRule, 0, len(r.store.rules))
	for _, rule := range r.store.rules {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

type ContractRepository struct{ store *Store }

func NewContractRepository(store *Store) *ContractRepository { return &ContractRepository{store} }

func (r *ContractRepository) Save(_ context.Context, contract domain.IdentityContract) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.contracts[contract.ID] = contract
	return nil
}

func (r *ContractRepository) GetByID(_ context.Context, contractID string) (domain.IdentityContract, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	contract, ok := r.store.contracts[contractID]
	if !ok {
		return domain.IdentityContract{}, domain.ErrNotFound
	}
	return contract, nil
}

func (r *ContractRepository) ListByIdentity(_ context.Context, identityID string) ([]domain.IdentityContract, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var contracts []domain.IdentityContract
	for _, contract := range r.store.contracts {
		if contract.IdentityID == identityID {
			contracts = append(contracts, contract)
		}
	}
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].ID < contracts[j].ID })
	return contracts, nil
}

func (r *ContractRepository) ListByTreeNode(_ context.Context, nodeID string) ([]domain.IdentityContract, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var contracts []domain.IdentityContract
	for _, contract := range r.store.contracts {
		if contract.TreeNodeID == nodeID {
			contracts = append(contracts, contract)
		}
	}
	sort.Slice(contracts, func(i, j int) bool { return contracts[i].ID < contracts[j].ID })
	return contracts, nil
}

type IdentityRoleRepository struct{ store *Store }

func NewIdentityRoleRepository(store *Store) *IdentityRoleRepository {
	return &IdentityRoleRepository{store}
}

func (r *IdentityRoleRepository) GetByID(_ context.Context, identityRoleID string) (domain.IdentityRole, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	row, ok := r.store.identityRoles[identityRoleID]
	if !ok {
		return domain.IdentityRole{}, domain.ErrNotFound
	}
	return row, nil
}

func (r *IdentityRoleRepository) ListByContract(_ context.Context, contractID string) ([]domain.IdentityRole, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var rows []domain.IdentityRole
	for _, row := range r.store.identityRoles {
		if row.ContractID == contractID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (r *IdentityRoleRepository) ListByAutomaticRule(_ context.Context, ruleID string) ([]domain.IdentityRole, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var rows []domain.IdentityRole
	for _, row := range r.store.identityRoles {
		if row.AutomaticRuleID == ruleID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (r *IdentityRoleRepository) ApplyChangeSet(_ context.Context, changes domain.ChangeSet) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	// validate the whole batch before touching anything, so a bad
	// change set leaves the store untouched
	for _, row := range changes.Create {
		if _, exists := r.store.identityRoles[row.ID]; exists {
			return domain.ErrInvalidInput
		}
	}
	for _, row := range changes.Update {
		if _, exists := r.store.identityRoles[row.ID]; !exists {
			return domain.ErrNotFound
		}
	}
	for _, id := range changes.Delete {
		if _, exists := r.store.identityRoles[id]; !exists {
			return domain.ErrNotFound
		}
	}
	for _, row := range changes.Create {
		r.store.identityRoles[row.ID] = row
	}
	for _, row := range changes.Update {
		r.store.identityRoles[row.ID] = row
	}
	for _, id := range changes.Delete {
		delete(r.store.identityRoles, id)
	}
	return nil
}

type RoleRequestRepository struct{ store *Store }

func NewRoleRequestRepository(store *Store) *RoleRequestRepository {
	return &RoleRequestRepository{store}
}

func (r *RoleRequestRepository) Save(_ context.Context, request domain.RoleRequest, concepts []domain.ConceptRoleRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.requests[request.ID] = request
	copied := make([]domain.ConceptRoleRequest, len(concepts))
	copy(copied, concepts)
	r.store.concepts[request.ID] = copied
	return nil
}

func (r *RoleRequestRepository) GetByID(_ context.Context, requestID string) (domain.RoleRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	request, ok := r.store.requests[requestID]
	if !ok {
		return domain.RoleRequest{}, domain.ErrNotFound
	}
	return request, nil
}

func (r *RoleRequestRepository) ListConcepts(_ context.Context, requestID string) ([]domain.ConceptRoleRequest, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	concepts := r.store.concepts[requestID]
	copied := make([]domain.ConceptRoleRequest, len(concepts))
	copy(copied, concepts)
	return copied, nil
}

func (r *RoleRequestRepository) UpdateState(_ context.Context, request domain.RoleRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, exists := r.store.requests[request.ID]; !exists {
		return domain.ErrNotFound
	}
	r.store.requests[request.ID] = request
	return nil
}

func (r *RoleRequestRepository) ClaimExecution(_ context.Context, applicantID, contentHash, requestID string) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	key := claimKey(applicantID, contentHash)
	if holder, claimed := r.store.claims[key]; claimed && holder != requestID {
		return holder, domain.ErrExecutionClaimed
	}
	r.store.claims[key] = requestID
	return requestID, nil
}

func (r *RoleRequestRepository) ReleaseExecution(_ context.Context, applicantID, contentHash string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.claims, claimKey(applicantID, contentHash))
	return nil
}
