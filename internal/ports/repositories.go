package ports

import (
	"context"

	"idgov-engine/internal/domain"
)

type Logger interface {
	Info(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Debug(ctx context.Context, msg string, args ...any)
}

type IdentityRepository interface {
	Save(ctx context.Context, identity domain.Identity) error
	GetByID(ctx context.Context, identityID string) (domain.Identity, error)
}

type RoleRepository interface {
	Create(ctx context.Context, role domain.Role) error
	Update(ctx context.Context, role domain.Role) error
	GetByID(ctx context.Context, roleID string) (domain.Role, error)
	List(ctx context.Context) ([]domain.Role, error)
}

type RoleCompositionRepository interface {
	Create(ctx context.Context, composition domain.RoleComposition) error
	Delete(ctx context.Context, compositionID string) error
	ListBySuperior(ctx context.Context, roleID string) ([]domain.RoleComposition, error)
	List(ctx context.Context) ([]domain.RoleComposition, error)
}

type IncompatibleRoleRepository interface {
	Create(ctx context.Context, pair domain.IncompatibleRole) error
	Delete(ctx context.Context, pairID string) error
	List(ctx context.Context) ([]domain.IncompatibleRole, error)
}

type TreeNodeRepository interface {
	Create(ctx context.Context, node domain.TreeNode) error
	Update(ctx context.Context, node domain.TreeNode) error
	GetByID(ctx context.Context, nodeID string) (domain.TreeNode, error)
	ListChildren(ctx context.Context, nodeID string) ([]domain.TreeNode, error)
}

type AutomaticRoleRuleRepository interface {
	Create(ctx context.Context, rule domain.AutomaticRoleRule) error
	Delete(ctx context.Context, ruleID string) error
	GetByID(ctx context.Context, ruleID string) (domain.AutomaticRoleRule, error)
	List(ctx context.Context) ([]domain.AutomaticRoleRule, error)
}

type ContractRepository interface {
	Save(ctx context.Context, contract domain.IdentityContract) error
	GetByID(ctx context.Context, contractID string) (domain.IdentityContract, error)
	ListByIdentity(ctx context.Context, identityID string) ([]domain.IdentityContract, error)
	ListByTreeNode(ctx context.Context, nodeID string) ([]domain.IdentityContract, error)
}

type IdentityRoleRepository interface {
	GetByID(ctx context.Context, identityRoleID string) (domain.IdentityRole, error)
	ListByContract(ctx context.Context, contractID string) ([]domain.IdentityRole, error)
	ListByAutomaticRule(ctx context.Context, ruleID string) ([]domain.IdentityRole, error)
	// ApplyChangeSet commits every mutation in the set atomically.
	ApplyChangeSet(ctx context.Context, changes domain.ChangeSet) error
}

type RoleRequestRepository interface {
	// Save upserts the request together with its concepts; concepts not
	// present anymore are removed (the request owns them).
	Save(ctx context.Context, request domain.RoleRequest, concepts []domain.ConceptRoleRequest) error
	GetByID(ctx context.Context, requestID string) (domain.RoleRequest, error)
	ListConcepts(ctx context.Context, requestID string) ([]domain.ConceptRoleRequest, error)
	UpdateState(ctx context.Context, request domain.RoleRequest) error
	// ClaimExecution atomically claims (applicant, contentHash) for the
	// given request. When another in-progress request already holds the
	// claim its id is returned together with domain.ErrExecutionClaimed.
	ClaimExecution(ctx context.Context, applicantID, contentHash, requestID string) (string, error)
	ReleaseExecution(ctx context.Context, applicantID, contentHash string) error
}

// ApprovalWorkflow is the entry point of the external approval engine.
// RequestApproval returns true when an approval round was started and
// the request has to wait for OnApprovalResult.
type ApprovalWorkflow interface {
	RequestApproval(ctx context.Context, requestID string) (bool, error)
}

type PermissionChecker interface {
	HasImmediateExecuteRight(ctx context.Context, callerID string) (bool, error)
}
