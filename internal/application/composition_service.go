package application

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

// CompositionService owns the business-role graph: superior -> sub role
// edges, their transitive closure, and the materialization of composed
// identity roles when a grant appears or disappears.
type CompositionService struct {
	compositions ports.RoleCompositionRepository
	roles        ports.RoleRepository
	logger       ports.Logger
}

func NewCompositionService(compositions ports.RoleCompositionRepository, roles ports.RoleRepository, logger ports.Logger) *CompositionService {
	return &CompositionService{compositions: compositions, roles: roles, logger: logger}
}

// Create adds a composition edge. An edge whose superior is already
// reachable from its sub would close a cycle and is rejected.
func (s *CompositionService) Create(ctx context.Context, composition domain.RoleComposition) (domain.RoleComposition, error) {
	if composition.SuperiorRoleID == "" || composition.SubRoleID == "" {
		return domain.RoleComposition{}, domain.ErrInvalidInput
	}
	if composition.SuperiorRoleID == composition.SubRoleID {
		return domain.RoleComposition{}, domain.ErrCompositionCycle
	}
	if _, err := s.roles.GetByID(ctx, composition.SuperiorRoleID); err != nil {
		return domain.RoleComposition{}, err
	}
	if _, err := s.roles.GetByID(ctx, composition.SubRoleID); err != nil {
		return domain.RoleComposition{}, err
	}
	reachable, err := s.SubRoleClosure(ctx, composition.SubRoleID)
	if err != nil {
		return domain.RoleComposition{}, err
	}
	if _, found := reachable[composition.SuperiorRoleID]; found {
		return domain.RoleComposition{}, domain.ErrCompositionCycle
	}
	if composition.ID == "" {
		composition.ID = uuid.NewString()
	}
	if err := s.compositions.Create(ctx, composition); err != nil {
		return domain.RoleComposition{}, err
	}
	return composition, nil
}

func (s *CompositionService) Delete(ctx context.Context, compositionID string) error {
	if compositionID == "" {
		return domain.ErrInvalidInput
	}
	return s.compositions.Delete(ctx, compositionID)
}

// SubRoleClosure returns every role transitively reachable from the
// given role over composition edges, excluding the role itself. The
// visited-set bounds traversal even over malformed (cyclic) edge data.
func (s *CompositionService) SubRoleClosure(ctx context.Context, roleID string) (map[string]struct{}, error) {
	visited := map[string]struct{}{roleID: {}}
	closure := map[string]struct{}{}
	queue := []string{roleID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		edges, err := s.compositions.ListBySuperior(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if _, seen := visited[edge.SubRoleID]; seen {
				continue
			}
			visited[edge.SubRoleID] = struct{}{}
			closure[edge.SubRoleID] = struct{}{}
			queue = append(queue, edge.SubRoleID)
		}
	}
	return closure, nil
}

// ExpandGrant appends composed identity roles for every sub-role
// reachable from the grant to the change set. Sub-roles the contract
// already holds from any source are left alone: first writer wins, the
// existing provenance is not overwritten. byRole is the contract's
// current role view and is updated in place so batched expansions see
// each other.
func (s *CompositionService) ExpandGrant(ctx context.Context, grant domain.IdentityRole, byRole map[string]domain.IdentityRole, changes *domain.ChangeSet) error {
	type pending struct {
		roleID   string
		parentID string
	}
	visited := map[string]struct{}{grant.RoleID: {}}
	queue := []pending{{roleID: grant.RoleID, parentID: grant.ID}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		edges, err := s.compositions.ListBySuperior(ctx, current.roleID)
		if err != nil {
			return err
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i].SubRoleID < edges[j].SubRoleID })
		for _, edge := range edges {
			if _, seen := visited[edge.SubRoleID]; seen {
				continue
			}
			visited[edge.SubRoleID] = struct{}{}
			if existing, held := byRole[edge.SubRoleID]; held {
				// already granted elsewhere; still descend through it so
				// deeper sub-roles derive from the existing assignment
				queue = append(queue, pending{roleID: edge.SubRoleID, parentID: existing.ID})
				continue
			}
			derived := domain.IdentityRole{
				ID:           uuid.NewString(),
				ContractID:   grant.ContractID,
				RoleID:       edge.SubRoleID,
				ValidFrom:    grant.ValidFrom,
				ValidTill:    grant.ValidTill,
				DirectRoleID: current.parentID,
			}
			changes.Create = append(changes.Create, derived)
			byRole[edge.SubRoleID] = derived
			queue = append(queue, pending{roleID: edge.SubRoleID, parentID: derived.ID})
		}
	}
	return nil
}

// RetireGrant appends the deletion of a grant and of every composed row
// that transitively traces to it. A composed row that is still justified
// by another surviving assignment on the contract is kept and retargeted
// to that assignment instead of deleted. rows is the contract's full
// current assignment list; byRole is updated in place.
func (s *CompositionService) RetireGrant(ctx context.Context, root domain.IdentityRole, rows []domain.IdentityRole, byRole map[string]domain.IdentityRole, changes *domain.ChangeSet) error {
	childrenOf := map[string][]domain.IdentityRole{}
	for _, row := range rows {
		if row.DirectRoleID != "" {
			childrenOf[row.DirectRoleID] = append(childrenOf[row.DirectRoleID], row)
		}
	}

	candidates := map[string]domain.IdentityRole{root.ID: root}
	queue := []string{root.ID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range childrenOf[current] {
			if _, seen := candidates[child.ID]; seen {
				continue
			}
			candidates[child.ID] = child
			queue = append(queue, child.ID)
		}
	}

	survivors := map[string]domain.IdentityRole{}
	for _, row := range rows {
		if _, doomed := candidates[row.ID]; !doomed {
			survivors[row.ID] = row
		}
	}

	// A candidate other than the root survives when some remaining
	// assignment still implies its role. Rescued rows can in turn rescue
	// their own children, hence the fixpoint loop.
	for {
		rescued := false
		for id, candidate := range candidates {
			if id == root.ID {
				continue
			}
			justifier, err := s.findJustifier(ctx, candidate.RoleID, survivors)
			if err != nil {
				return err
			}
			if justifier == "" {
				continue
			}
			if candidate.DirectRoleID != justifier {
				candidate.DirectRoleID = justifier
				changes.Update = append(changes.Update, candidate)
			}
			survivors[id] = candidate
			delete(candidates, id)
			rescued = true
		}
		if !rescued {
			break
		}
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		changes.Delete = append(changes.Delete, id)
		delete(byRole, candidates[id].RoleID)
	}
	return nil
}

func (s *CompositionService) findJustifier(ctx context.Context, roleID string, survivors map[string]domain.IdentityRole) (string, error) {
	ids := make([]string, 0, len(survivors))
	for id := range survivors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		survivor := survivors[id]
		if survivor.RoleID == roleID {
			continue
		}
		closure, err := s.SubRoleClosure(ctx, survivor.RoleID)
		if err != nil {
			return "", err
		}
		if _, found := closure[roleID]; found {
			return survivor.ID, nil
		}
	}
	return "", nil
}
