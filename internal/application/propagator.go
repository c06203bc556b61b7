package application

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

// RolePropagator keeps a contract's automatic role assignments in sync
// with the automatic-role rules matching its position in the
// organizational tree. Recomputation is a diff: rows that stay keep
// their id, only the winning-rule pointer and validity are refreshed.
type RolePropagator struct {
	rules         ports.AutomaticRoleRuleRepository
	identityRoles ports.IdentityRoleRepository
	tree          *TreeNodeService
	composition   *CompositionService
	logger        ports.Logger
}

func NewRolePropagator(rules ports.AutomaticRoleRuleRepository, identityRoles ports.IdentityRoleRepository, tree *TreeNodeService, composition *CompositionService, logger ports.Logger) *RolePropagator {
	return &RolePropagator{rules: rules, identityRoles: identityRoles, tree: tree, composition: composition, logger: logger}
}

// Recompute diffs the contract's automatic assignments against the
// currently applicable rules and commits the whole correction in one
// atomic change set. Running it twice without a data change is a no-op.
func (p *RolePropagator) Recompute(ctx context.Context, contract domain.IdentityContract) error {
	rows, err := p.identityRoles.ListByContract(ctx, contract.ID)
	if err != nil {
		return err
	}
	byRole := map[string]domain.IdentityRole{}
	existingAuto := map[string]domain.IdentityRole{}
	for _, row := range rows {
		byRole[row.RoleID] = row
		if row.Automatic() {
			existingAuto[row.RoleID] = row
		}
	}

	target, err := p.targetRules(ctx, contract)
	if err != nil {
		return err
	}

	changes := domain.ChangeSet{}

	// retire automatic assignments no rule yields anymore
	retired := make([]string, 0, len(existingAuto))
	for roleID := range existingAuto {
		if _, wanted := target[roleID]; !wanted {
			retired = append(retired, roleID)
		}
	}
	sort.Strings(retired)
	for _, roleID := range retired {
		before := len(changes.Delete)
		if err := p.composition.RetireGrant(ctx, existingAuto[roleID], rows, byRole, &changes); err != nil {
			return err
		}
		rows = dropRows(rows, changes.Delete[before:])
	}

	wanted := make([]string, 0, len(target))
	for roleID := range target {
		wanted = append(wanted, roleID)
	}
	sort.Strings(wanted)
	for _, roleID := range wanted {
		ruleID := target[roleID]
		if row, held := existingAuto[roleID]; held {
			if row.AutomaticRuleID == ruleID && timePtrEqual(row.ValidFrom, contract.ValidFrom) && timePtrEqual(row.ValidTill, contract.ValidTill) {
				continue
			}
			row.AutomaticRuleID = ruleID
			row.ValidFrom = contract.ValidFrom
			row.ValidTill = contract.ValidTill
			changes.Update = append(changes.Update, row)
			byRole[roleID] = row
			refreshDerivedValidity(row, rows, &changes)
			continue
		}
		grant := domain.IdentityRole{
			ID:              uuid.NewString(),
			ContractID:      contract.ID,
			RoleID:          roleID,
			ValidFrom:       contract.ValidFrom,
			ValidTill:       contract.ValidTill,
			AutomaticRuleID: ruleID,
		}
		changes.Create = append(changes.Create, grant)
		byRole[roleID] = grant
		rows = append(rows, grant)
		if err := p.composition.ExpandGrant(ctx, grant, byRole, &changes); err != nil {
			return err
		}
	}

	if changes.Empty() {
		return nil
	}
	p.logger.Debug(ctx, "recomputed automatic roles",
		"contract_id", contract.ID,
		"created", len(changes.Create),
		"updated", len(changes.Update),
		"deleted", len(changes.Delete),
	)
	return p.identityRoles.ApplyChangeSet(ctx, changes)
}

// targetRules maps each automatically granted role to its winning rule.
// When several rules yield the same role the lowest rule id wins, which
// keeps the provenance pointer stable across recomputations.
func (p *RolePropagator) targetRules(ctx context.Context, contract domain.IdentityContract) (map[string]string, error) {
	target := map[string]string{}
	if contract.Disabled || contract.TreeNodeID == "" {
		return target, nil
	}
	rules, err := p.rules.List(ctx)
	if err != nil {
		return nil, err
	}
	contractAncestors, err := p.ancestorSet(ctx, contract.TreeNodeID)
	if err != nil {
		return nil, err
	}
	ruleAncestors := map[string]map[string]struct{}{}
	for _, rule := range rules {
		applies := false
		switch rule.Recursion {
		case domain.RecursionNone:
			applies = rule.TreeNodeID == contract.TreeNodeID
		case domain.RecursionDown:
			_, above := contractAncestors[rule.TreeNodeID]
			applies = rule.TreeNodeID == contract.TreeNodeID || above
		case domain.RecursionUp:
			if rule.TreeNodeID == contract.TreeNodeID {
				applies = true
				break
			}
			above, cached := ruleAncestors[rule.TreeNodeID]
			if !cached {
				above, err = p.ancestorSet(ctx, rule.TreeNodeID)
				if err != nil {
					return nil, err
				}
				ruleAncestors[rule.TreeNodeID] = above
			}
			_, applies = above[contract.TreeNodeID]
		}
		if !applies {
			continue
		}
		if winner, found := target[rule.RoleID]; !found || rule.ID < winner {
			target[rule.RoleID] = rule.ID
		}
	}
	return target, nil
}

func (p *RolePropagator) ancestorSet(ctx context.Context, nodeID string) (map[string]struct{}, error) {
	chain, err := p.tree.Ancestors(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(chain))
	for _, id := range chain {
		set[id] = struct{}{}
	}
	return set, nil
}

// refreshDerivedValidity pushes a refreshed validity window down to the
// rows composed from the given assignment.
func refreshDerivedValidity(parent domain.IdentityRole, rows []domain.IdentityRole, changes *domain.ChangeSet) {
	childrenOf := map[string][]domain.IdentityRole{}
	for _, row := range rows {
		if row.DirectRoleID != "" {
			childrenOf[row.DirectRoleID] = append(childrenOf[row.DirectRoleID], row)
		}
	}
	visited := map[string]struct{}{parent.ID: {}}
	queue := []string{parent.ID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[current] {
			if _, seen := visited[child.ID]; seen {
				continue
			}
			visited[child.ID] = struct{}{}
			if !timePtrEqual(child.ValidFrom, parent.ValidFrom) || !timePtrEqual(child.ValidTill, parent.ValidTill) {
				child.ValidFrom = parent.ValidFrom
				child.ValidTill = parent.ValidTill
				changes.Update = append(changes.Update, child)
			}
			queue = append(queue, child.ID)
		}
	}
}

func dropRows(rows []domain.IdentityRole, deleted []string) []domain.IdentityRole {
	if len(deleted) == 0 {
		return rows
	}
	gone := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		gone[id] = struct{}{}
	}
	kept := rows[:0]
	for _, row := range rows {
		if _, ok := gone[row.ID]; !ok {
			kept = append(kept, row)
		}
	}
	return kept
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
