package application

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

// IncompatibleRoleService stores segregation-of-duties pairs and
// evaluates them against effective role sets. Evaluation only reports;
// blocking a request on a conflict is the caller's policy.
type IncompatibleRoleService struct {
	pairs         ports.IncompatibleRoleRepository
	roles         ports.RoleRepository
	contracts     ports.ContractRepository
	identityRoles ports.IdentityRoleRepository
	requests      ports.RoleRequestRepository
	composition   *CompositionService
	logger        ports.Logger
	now           func() time.Time
}

func NewIncompatibleRoleService(pairs ports.IncompatibleRoleRepository, roles ports.RoleRepository, contracts ports.ContractRepository, identityRoles ports.IdentityRoleRepository, requests ports.RoleRequestRepository, composition *CompositionService, logger ports.Logger) *IncompatibleRoleService {
	return &IncompatibleRoleService{
		pairs:         pairs,
		roles:         roles,
		contracts:     contracts,
		identityRoles: identityRoles,
		requests:      requests,
		composition:   composition,
		logger:        logger,
		now:           time.Now,
	}
}

func (s *IncompatibleRoleService) Create(ctx context.Context, pair domain.IncompatibleRole) (domain.IncompatibleRole, error) {
	if pair.SuperiorRoleID == "" || pair.SubRoleID == "" {
		return domain.IncompatibleRole{}, domain.ErrInvalidInput
	}
	if pair.SuperiorRoleID == pair.SubRoleID {
		return domain.IncompatibleRole{}, domain.ErrInvalidInput
	}
	if _, err := s.roles.GetByID(ctx, pair.SuperiorRoleID); err != nil {
		return domain.IncompatibleRole{}, err
	}
	if _, err := s.roles.GetByID(ctx, pair.SubRoleID); err != nil {
		return domain.IncompatibleRole{}, err
	}
	if pair.ID == "" {
		pair.ID = uuid.NewString()
	}
	if err := s.pairs.Create(ctx, pair); err != nil {
		return domain.IncompatibleRole{}, err
	}
	return pair, nil
}

func (s *IncompatibleRoleService) Delete(ctx context.Context, pairID string) error {
	if pairID == "" {
		return domain.ErrInvalidInput
	}
	return s.pairs.Delete(ctx, pairID)
}

// EffectiveRoles returns every currently active assignment of the
// identity: manual, automatic and composed, over active contracts only.
func (s *IncompatibleRoleService) EffectiveRoles(ctx context.Context, identityID string) ([]domain.IdentityRole, error) {
	if identityID == "" {
		return nil, domain.ErrInvalidInput
	}
	now := s.now()
	contracts, err := s.contracts.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	var effective []domain.IdentityRole
	for _, contract := range contracts {
		if !contract.ActiveAt(now) {
			continue
		}
		rows, err := s.identityRoles.ListByContract(ctx, contract.ID)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if domain.IntervalActiveAt(row.ValidFrom, row.ValidTill, now) {
				effective = append(effective, row)
			}
		}
	}
	return effective, nil
}

// FindConflicts reports every stored pair whose both roles appear in
// the identity's effective role set.
func (s *IncompatibleRoleService) FindConflicts(ctx context.Context, identityID string) ([]domain.ResolvedIncompatibleRole, error) {
	rows, err := s.EffectiveRoles(ctx, identityID)
	if err != nil {
		return nil, err
	}
	held := map[string]struct{}{}
	for _, row := range rows {
		held[row.RoleID] = struct{}{}
	}
	return s.conflictsIn(ctx, held)
}

// FindRoleConflicts reports conflicts inside a single role's own
// composed closure, the role itself included.
func (s *IncompatibleRoleService) FindRoleConflicts(ctx context.Context, roleID string) ([]domain.ResolvedIncompatibleRole, error) {
	if roleID == "" {
		return nil, domain.ErrInvalidInput
	}
	closure, err := s.composition.SubRoleClosure(ctx, roleID)
	if err != nil {
		return nil, err
	}
	closure[roleID] = struct{}{}
	return s.conflictsIn(ctx, closure)
}

// FindRequestConflicts evaluates the hypothetical role set the applicant
// would hold after the request executes. Roles of REMOVE concepts leave
// the set together with everything composed from them; roles of ADD
// concepts enter it as direct grants only, without re-expanding
// composition, since they are not persisted yet.
func (s *IncompatibleRoleService) FindRequestConflicts(ctx context.Context, requestID string) ([]domain.ResolvedIncompatibleRole, error) {
	if requestID == "" {
		return nil, domain.ErrInvalidInput
	}
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	concepts, err := s.requests.ListConcepts(ctx, requestID)
	if err != nil {
		return nil, err
	}
	rows, err := s.EffectiveRoles(ctx, request.ApplicantID)
	if err != nil {
		return nil, err
	}

	removed := map[string]struct{}{}
	for _, concept := range concepts {
		if concept.Operation == domain.OperationRemove && concept.IdentityRoleID != "" {
			removed[concept.IdentityRoleID] = struct{}{}
		}
	}
	// rows composed from a removed assignment disappear with it
	for {
		grew := false
		for _, row := range rows {
			if _, gone := removed[row.ID]; gone {
				continue
			}
			if row.DirectRoleID == "" {
				continue
			}
			if _, parentGone := removed[row.DirectRoleID]; parentGone {
				removed[row.ID] = struct{}{}
				grew = true
			}
		}
		if !grew {
			break
		}
	}

	held := map[string]struct{}{}
	for _, row := range rows {
		if _, gone := removed[row.ID]; gone {
			continue
		}
		held[row.RoleID] = struct{}{}
	}
	for _, concept := range concepts {
		if concept.Operation == domain.OperationAdd && concept.RoleID != "" {
			held[concept.RoleID] = struct{}{}
		}
	}
	return s.conflictsIn(ctx, held)
}

func (s *IncompatibleRoleService) conflictsIn(ctx context.Context, held map[string]struct{}) ([]domain.ResolvedIncompatibleRole, error) {
	pairs, err := s.pairs.List(ctx)
	if err != nil {
		return nil, err
	}
	var conflicts []domain.ResolvedIncompatibleRole
	for _, pair := range pairs {
		_, superior := held[pair.SuperiorRoleID]
		_, sub := held[pair.SubRoleID]
		if superior && sub {
			conflicts = append(conflicts, domain.ResolvedIncompatibleRole{
				IncompatibleRoleID: pair.ID,
				SuperiorRoleID:     pair.SuperiorRoleID,
				SubRoleID:          pair.SubRoleID,
			})
		}
	}
	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].IncompatibleRoleID < conflicts[j].IncompatibleRoleID
	})
	return conflicts, nil
}
