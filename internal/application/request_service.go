package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

// RoleRequestService drives the role-request state machine. Every
// outcome the engine owns (duplication, applicant mismatch, missing
// execute right, a failing concept) ends up as request state plus a
// result code; callers observe state, they do not catch exceptions.
type RoleRequestService struct {
	requests      ports.RoleRequestRepository
	contracts     ports.ContractRepository
	roles         ports.RoleRepository
	identityRoles ports.IdentityRoleRepository
	composition   *CompositionService
	workflow      ports.ApprovalWorkflow
	permissions   ports.PermissionChecker
	logger        ports.Logger
	now           func() time.Time
}

func NewRoleRequestService(requests ports.RoleRequestRepository, contracts ports.ContractRepository, roles ports.RoleRepository, identityRoles ports.IdentityRoleRepository, composition *CompositionService, workflow ports.ApprovalWorkflow, permissions ports.PermissionChecker, logger ports.Logger) *RoleRequestService {
	return &RoleRequestService{
		requests:      requests,
		contracts:     contracts,
		roles:         roles,
		identityRoles: identityRoles,
		composition:   composition,
		workflow:      workflow,
		permissions:   permissions,
		logger:        logger,
		now:           time.Now,
	}
}

// Save upserts a request and its concepts. Saving is optimistic: only
// the concept shape is checked here, applicant consistency and
// permissions are verified by Start. Re-saving a DUPLICATED request
// clears the duplicate condition and returns it to CONCEPT.
func (s *RoleRequestService) Save(ctx context.Context, request domain.RoleRequest, concepts []domain.ConceptRoleRequest) (domain.RoleRequest, error) {
	if request.ApplicantID == "" {
		return domain.RoleRequest{}, domain.ErrInvalidInput
	}
	for i := range concepts {
		switch concepts[i].Operation {
		case domain.OperationAdd, domain.OperationUpdate, domain.OperationRemove:
		default:
			return domain.RoleRequest{}, domain.ErrInvalidInput
		}
	}
	now := s.now()
	if request.ID == "" {
		request.ID = uuid.NewString()
		request.Created = now
	} else {
		existing, err := s.requests.GetByID(ctx, request.ID)
		switch {
		case err == nil:
			if existing.State.Terminal() && existing.State != domain.StateDuplicated {
				return domain.RoleRequest{}, domain.ErrInvalidState
			}
			if existing.ApplicantID != request.ApplicantID {
				return domain.RoleRequest{}, domain.ErrInvalidInput
			}
			request.Created = existing.Created
			s.releaseClaim(ctx, existing)
		case errors.Is(err, domain.ErrNotFound):
			request.Created = now
		default:
			return domain.RoleRequest{}, err
		}
	}
	request.State = domain.StateConcept
	request.DuplicatedToRequestID = ""
	request.ResultCode = ""
	request.ResultMessage = ""
	request.ContentHash = ""
	request.Modified = now
	for i := range concepts {
		if concepts[i].ID == "" {
			concepts[i].ID = uuid.NewString()
		}
		concepts[i].RoleRequestID = request.ID
	}
	if err := s.requests.Save(ctx, request, concepts); err != nil {
		return domain.RoleRequest{}, err
	}
	return request, nil
}

// Start moves a CONCEPT request forward: duplicate check, applicant
// consistency, permission check, then either direct execution or the
// approval-workflow handoff. The returned request carries the resulting
// state.
func (s *RoleRequestService) Start(ctx context.Context, requestID, callerID string) (domain.RoleRequest, error) {
	if requestID == "" {
		return domain.RoleRequest{}, domain.ErrInvalidInput
	}
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.RoleRequest{}, err
	}
	if request.State != domain.StateConcept {
		return domain.RoleRequest{}, domain.ErrInvalidState
	}
	concepts, err := s.requests.ListConcepts(ctx, requestID)
	if err != nil {
		return domain.RoleRequest{}, err
	}
	if err := validateConcepts(concepts); err != nil {
		return domain.RoleRequest{}, err
	}

	hash, err := s.contentHash(ctx, request, concepts)
	if err != nil {
		return domain.RoleRequest{}, err
	}
	request.ContentHash = hash
	holder, err := s.requests.ClaimExecution(ctx, request.ApplicantID, hash, request.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrExecutionClaimed) {
			return domain.RoleRequest{}, err
		}
		request.State = domain.StateDuplicated
		request.DuplicatedToRequestID = holder
		request.ResultCode = domain.ResultDuplicatedRequest
		request.ContentHash = ""
		return s.finish(ctx, request)
	}

	for _, concept := range concepts {
		contractID := concept.ContractID
		if contractID == "" {
			row, err := s.identityRoles.GetByID(ctx, concept.IdentityRoleID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				s.releaseClaim(ctx, request)
				return domain.RoleRequest{}, err
			}
			contractID = row.ContractID
		}
		contract, err := s.contracts.GetByID(ctx, contractID)
		if err != nil {
			s.releaseClaim(ctx, request)
			return domain.RoleRequest{}, err
		}
		if contract.IdentityID != request.ApplicantID {
			s.releaseClaim(ctx, request)
			request.ContentHash = ""
			request.State = domain.StateException
			request.ResultCode = domain.ResultApplicantsNotSame
			request.ResultMessage = fmt.Sprintf("contract %s does not belong to applicant %s", contract.ID, request.ApplicantID)
			return s.finish(ctx, request)
		}
	}

	if request.ExecuteImmediately {
		allowed, err := s.permissions.HasImmediateExecuteRight(ctx, callerID)
		if err != nil {
			s.releaseClaim(ctx, request)
			return domain.RoleRequest{}, err
		}
		if !allowed {
			s.releaseClaim(ctx, request)
			request.ContentHash = ""
			request.State = domain.StateException
			request.ResultCode = domain.ResultNoExecuteRight
			return s.finish(ctx, request)
		}
		request.State = domain.StateInProgress
		if err := s.requests.UpdateState(ctx, request); err != nil {
			s.releaseClaim(ctx, request)
			return domain.RoleRequest{}, err
		}
		return s.execute(ctx, request, concepts)
	}

	request.State = domain.StateInProgress
	if err := s.requests.UpdateState(ctx, request); err != nil {
		s.releaseClaim(ctx, request)
		return domain.RoleRequest{}, err
	}
	waiting, err := s.workflow.RequestApproval(ctx, request.ID)
	if err != nil {
		s.releaseClaim(ctx, request)
		request.ContentHash = ""
		request.State = domain.StateException
		request.ResultCode = domain.ResultConceptFailed
		request.ResultMessage = err.Error()
		return s.finish(ctx, request)
	}
	if waiting {
		// parked until OnApprovalResult; the claim stays held so a
		// content-equal request started meanwhile is marked DUPLICATED
		request.ResultCode = domain.ResultApprovalInProgress
		return s.finish(ctx, request)
	}
	return s.execute(ctx, request, concepts)
}

// OnApprovalResult is the approval-workflow callback driving a parked
// request out of IN_PROGRESS.
func (s *RoleRequestService) OnApprovalResult(ctx context.Context, requestID string, approved bool, reason string) (domain.RoleRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.RoleRequest{}, err
	}
	if request.State != domain.StateInProgress {
		return domain.RoleRequest{}, domain.ErrInvalidState
	}
	if !approved {
		s.releaseClaim(ctx, request)
		request.ContentHash = ""
		request.State = domain.StateException
		request.ResultCode = domain.ResultApprovalDenied
		request.ResultMessage = reason
		return s.finish(ctx, request)
	}
	concepts, err := s.requests.ListConcepts(ctx, requestID)
	if err != nil {
		return domain.RoleRequest{}, err
	}
	return s.execute(ctx, request, concepts)
}

// Cancel terminates any non-terminal request without content change.
func (s *RoleRequestService) Cancel(ctx context.Context, requestID string) (domain.RoleRequest, error) {
	request, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return domain.RoleRequest{}, err
	}
	if request.State.Terminal() {
		return domain.RoleRequest{}, domain.ErrInvalidState
	}
	s.releaseClaim(ctx, request)
	request.ContentHash = ""
	request.State = domain.StateCanceled
	return s.finish(ctx, request)
}

func (s *RoleRequestService) GetByID(ctx context.Context, requestID string) (domain.RoleRequest, error) {
	if requestID == "" {
		return domain.RoleRequest{}, domain.ErrInvalidInput
	}
	return s.requests.GetByID(ctx, requestID)
}

func (s *RoleRequestService) GetState(ctx context.Context, requestID string) (domain.RequestState, error) {
	request, err := s.GetByID(ctx, requestID)
	if err != nil {
		return "", err
	}
	return request.State, nil
}

// execute applies every concept of the request as one atomic change
// set: either all of them land or the request moves to EXCEPTION with
// nothing applied.
func (s *RoleRequestService) execute(ctx context.Context, request domain.RoleRequest, concepts []domain.ConceptRoleRequest) (domain.RoleRequest, error) {
	err := s.applyConcepts(ctx, concepts)
	s.releaseClaim(ctx, request)
	request.ContentHash = ""
	if err != nil {
		request.State = domain.StateException
		request.ResultCode = domain.ResultConceptFailed
		request.ResultMessage = err.Error()
		return s.finish(ctx, request)
	}
	request.State = domain.StateExecuted
	request.ResultCode = domain.ResultExecuted
	request.ResultMessage = ""
	return s.finish(ctx, request)
}

// applyConcepts orders REMOVE before UPDATE before ADD so a role removed
// and re-added in one batch never trips uniqueness, and collects every
// mutation into a single change set.
func (s *RoleRequestService) applyConcepts(ctx context.Context, concepts []domain.ConceptRoleRequest) error {
	changes := domain.ChangeSet{}
	rowsByContract := map[string][]domain.IdentityRole{}
	byRoleByContract := map[string]map[string]domain.IdentityRole{}
	deleted := map[string]struct{}{}

	view := func(contractID string) ([]domain.IdentityRole, map[string]domain.IdentityRole, error) {
		if rows, loaded := rowsByContract[contractID]; loaded {
			return rows, byRoleByContract[contractID], nil
		}
		rows, err := s.identityRoles.ListByContract(ctx, contractID)
		if err != nil {
			return nil, nil, err
		}
		byRole := map[string]domain.IdentityRole{}
		for _, row := range rows {
			byRole[row.RoleID] = row
		}
		rowsByContract[contractID] = rows
		byRoleByContract[contractID] = byRole
		return rows, byRole, nil
	}

	for _, concept := range orderConcepts(concepts) {
		switch concept.Operation {
		case domain.OperationRemove:
			if _, gone := deleted[concept.IdentityRoleID]; gone {
				// already cascaded away by an earlier concept of this batch
				continue
			}
			row, err := s.identityRoles.GetByID(ctx, concept.IdentityRoleID)
			if err != nil {
				return fmt.Errorf("concept %s: %w", concept.ID, err)
			}
			rows, byRole, err := view(row.ContractID)
			if err != nil {
				return err
			}
			before := len(changes.Delete)
			if err := s.composition.RetireGrant(ctx, row, rows, byRole, &changes); err != nil {
				return fmt.Errorf("concept %s: %w", concept.ID, err)
			}
			newly := changes.Delete[before:]
			for _, id := range newly {
				deleted[id] = struct{}{}
			}
			rowsByContract[row.ContractID] = dropRows(rows, newly)

		case domain.OperationUpdate:
			if _, gone := deleted[concept.IdentityRoleID]; gone {
				return fmt.Errorf("concept %s: %w", concept.ID, domain.ErrNotFound)
			}
			row, err := s.identityRoles.GetByID(ctx, concept.IdentityRoleID)
			if err != nil {
				return fmt.Errorf("concept %s: %w", concept.ID, err)
			}
			row.ValidFrom = concept.ValidFrom
			row.ValidTill = concept.ValidTill
			changes.Update = append(changes.Update, row)

		case domain.OperationAdd:
			role, err := s.roles.GetByID(ctx, concept.RoleID)
			if err != nil {
				return fmt.Errorf("concept %s: %w", concept.ID, err)
			}
			if !role.CanBeRequested {
				return fmt.Errorf("concept %s: %w", concept.ID, domain.ErrRoleNotRequestable)
			}
			rows, byRole, err := view(concept.ContractID)
			if err != nil {
				return err
			}
			if existing, held := byRole[concept.RoleID]; held && existing.Manual() {
				return fmt.Errorf("concept %s: %w", concept.ID, domain.ErrInvalidInput)
			}
			grant := domain.IdentityRole{
				ID:         uuid.NewString(),
				ContractID: concept.ContractID,
				RoleID:     concept.RoleID,
				ValidFrom:  concept.ValidFrom,
				ValidTill:  concept.ValidTill,
			}
			changes.Create = append(changes.Create, grant)
			byRole[concept.RoleID] = grant
			rowsByContract[concept.ContractID] = append(rows, grant)
			if err := s.composition.ExpandGrant(ctx, grant, byRole, &changes); err != nil {
				return fmt.Errorf("concept %s: %w", concept.ID, err)
			}
		}
	}

	if changes.Empty() {
		return nil
	}
	return s.identityRoles.ApplyChangeSet(ctx, changes)
}

func (s *RoleRequestService) finish(ctx context.Context, request domain.RoleRequest) (domain.RoleRequest, error) {
	request.Modified = s.now()
	if err := s.requests.UpdateState(ctx, request); err != nil {
		return domain.RoleRequest{}, err
	}
	s.logger.Info(ctx, "role request transitioned",
		"request_id", request.ID,
		"state", string(request.State),
		"result_code", string(request.ResultCode),
	)
	return request, nil
}

func (s *RoleRequestService) releaseClaim(ctx context.Context, request domain.RoleRequest) {
	if request.ContentHash == "" {
		return
	}
	if err := s.requests.ReleaseExecution(ctx, request.ApplicantID, request.ContentHash); err != nil {
		s.logger.Warn(ctx, "failed to release execution claim", "request_id", request.ID, "error", err)
	}
}

// contentHash fingerprints the net effective concept set plus the
// request description. REMOVE concepts whose target assignment no
// longer exists contribute nothing, so two requests differing only in
// already-removed assignments hash equal.
func (s *RoleRequestService) contentHash(ctx context.Context, request domain.RoleRequest, concepts []domain.ConceptRoleRequest) (string, error) {
	lines := make([]string, 0, len(concepts)+1)
	for _, concept := range concepts {
		switch concept.Operation {
		case domain.OperationRemove:
			row, err := s.identityRoles.GetByID(ctx, concept.IdentityRoleID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				return "", err
			}
			lines = append(lines, strings.Join([]string{"REMOVE", row.ContractID, row.RoleID}, "|"))
		case domain.OperationUpdate:
			lines = append(lines, strings.Join([]string{"UPDATE", concept.IdentityRoleID, timePtrString(concept.ValidFrom), timePtrString(concept.ValidTill)}, "|"))
		case domain.OperationAdd:
			lines = append(lines, strings.Join([]string{"ADD", concept.ContractID, concept.RoleID, timePtrString(concept.ValidFrom), timePtrString(concept.ValidTill)}, "|"))
		}
	}
	sort.Strings(lines)
	lines = append(lines, "DESC|"+request.Description)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:]), nil
}

func validateConcepts(concepts []domain.ConceptRoleRequest) error {
	for _, concept := range concepts {
		switch concept.Operation {
		case domain.OperationAdd:
			if concept.RoleID == "" || concept.ContractID == "" {
				return domain.ErrInvalidInput
			}
		case domain.OperationUpdate, domain.OperationRemove:
			if concept.IdentityRoleID == "" {
				return domain.ErrInvalidInput
			}
		default:
			return domain.ErrInvalidInput
		}
	}
	return nil
}

func orderConcepts(concepts []domain.ConceptRoleRequest) []domain.ConceptRoleRequest {
	rank := map[domain.ConceptOperation]int{
		domain.OperationRemove: 0,
		domain.OperationUpdate: 1,
		domain.OperationAdd:    2,
	}
	ordered := make([]domain.ConceptRoleRequest, len(concepts))
	copy(ordered, concepts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank[ordered[i].Operation] < rank[ordered[j].Operation]
	})
	return ordered
}

func timePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
