package application

import (
	"context"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

// AutomaticRoleService maintains the rules binding roles to tree nodes.
// Creating or deleting a rule recomputes every contract the rule's
// subtree or ancestor path can reach.
type AutomaticRoleService struct {
	rules         ports.AutomaticRoleRuleRepository
	roles         ports.RoleRepository
	contracts     ports.ContractRepository
	identityRoles ports.IdentityRoleRepository
	tree          *TreeNodeService
	propagator    *RolePropagator
	logger        ports.Logger
}

func NewAutomaticRoleService(rules ports.AutomaticRoleRuleRepository, roles ports.RoleRepository, contracts ports.ContractRepository, identityRoles ports.IdentityRoleRepository, tree *TreeNodeService, propagator *RolePropagator, logger ports.Logger) *AutomaticRoleService {
	return &AutomaticRoleService{
		rules:         rules,
		roles:         roles,
		contracts:     contracts,
		identityRoles: identityRoles,
		tree:          tree,
		propagator:    propagator,
		logger:        logger,
	}
}

func (s *AutomaticRoleService) CreateRule(ctx context.Context, rule domain.AutomaticRoleRule) (domain.AutomaticRoleRule, error) {
	if rule.RoleID == "" || rule.TreeNodeID == "" {
		return domain.AutomaticRoleRule{}, domain.ErrInvalidInput
	}
	recursion, err := domain.ParseRecursionType(string(rule.Recursion))
	if err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	rule.Recursion = recursion
	if _, err := s.roles.GetByID(ctx, rule.RoleID); err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	if _, err := s.tree.GetByID(ctx, rule.TreeNodeID); err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	if err := s.recomputeReachableContracts(ctx, rule); err != nil {
		return domain.AutomaticRoleRule{}, err
	}
	return rule, nil
}

func (s *AutomaticRoleService) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return domain.ErrInvalidInput
	}
	granted, err := s.identityRoles.ListByAutomaticRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if err := s.rules.Delete(ctx, ruleID); err != nil {
		return err
	}
	seen := map[string]struct{}{}
	for _, row := range granted {
		if _, done := seen[row.ContractID]; done {
			continue
		}
		seen[row.ContractID] = struct{}{}
		contract, err := s.contracts.GetByID(ctx, row.ContractID)
		if err != nil {
			return err
		}
		if err := s.propagator.Recompute(ctx, contract); err != nil {
			return err
		}
	}
	return nil
}

func (s *AutomaticRoleService) GetRule(ctx context.Context, ruleID string) (domain.AutomaticRoleRule, error) {
	if ruleID == "" {
		return domain.AutomaticRoleRule{}, domain.ErrInvalidInput
	}
	return s.rules.GetByID(ctx, ruleID)
}

// recomputeReachableContracts recomputes every contract positioned at a
// node the rule can apply to.
func (s *AutomaticRoleService) recomputeReachableContracts(ctx context.Context, rule domain.AutomaticRoleRule) error {
	nodes := []string{rule.TreeNodeID}
	switch rule.Recursion {
	case domain.RecursionDown:
		below, err := s.tree.Descendants(ctx, rule.TreeNodeID)
		if err != nil {
			return err
		}
		nodes = append(nodes, below...)
	case domain.RecursionUp:
		above, err := s.tree.Ancestors(ctx, rule.TreeNodeID)
		if err != nil {
			return err
		}
		nodes = append(nodes, above...)
	}
	seen := map[string]struct{}{}
	for _, nodeID := range nodes {
		contracts, err := s.contracts.ListByTreeNode(ctx, nodeID)
		if err != nil {
			return err
		}
		for _, contract := range contracts {
			if _, done := seen[contract.ID]; done {
				continue
			}
			seen[contract.ID] = struct{}{}
			if err := s.propagator.Recompute(ctx, contract); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContractService saves work-position records and triggers automatic
// role recomputation. A recompute failure is logged and does not abort
// the contract save itself.
type ContractService struct {
	contracts  ports.ContractRepository
	identities ports.IdentityRepository
	propagator *RolePropagator
	logger     ports.Logger
}

func NewContractService(contracts ports.ContractRepository, identities ports.IdentityRepository, propagator *RolePropagator, logger ports.Logger) *ContractService {
	return &ContractService{contracts: contracts, identities: identities, propagator: propagator, logger: logger}
}

func (s *ContractService) Save(ctx context.Context, contract domain.IdentityContract) (domain.IdentityContract, error) {
	if contract.IdentityID == "" {
		return domain.IdentityContract{}, domain.ErrInvalidInput
	}
	if _, err := s.identities.GetByID(ctx, contract.IdentityID); err != nil {
		return domain.IdentityContract{}, err
	}
	if contract.ID == "" {
		contract.ID = uuid.NewString()
	}
	if err := s.contracts.Save(ctx, contract); err != nil {
		return domain.IdentityContract{}, err
	}
	if err := s.propagator.Recompute(ctx, contract); err != nil {
		s.logger.Error(ctx, "automatic role recompute failed", "contract_id", contract.ID, "error", err)
	}
	return contract, nil
}

func (s *ContractService) GetByID(ctx context.Context, contractID string) (domain.IdentityContract, error) {
	if contractID == "" {
		return domain.IdentityContract{}, domain.ErrInvalidInput
	}
	return s.contracts.GetByID(ctx, contractID)
}
