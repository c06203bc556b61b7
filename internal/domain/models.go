package domain

import "time"

type RecursionType string

const (
	RecursionNone RecursionType = "NONE"
	RecursionUp   RecursionType = "UP"
	RecursionDown RecursionType = "DOWN"
)

func ParseRecursionType(value string) (RecursionType, error) {
	switch RecursionType(value) {
	case "", RecursionNone:
		return RecursionNone, nil
	case RecursionUp:
		return RecursionUp, nil
	case RecursionDown:
		return RecursionDown, nil
	default:
		return "", ErrInvalidInput
	}
}

type RequestState string

const (
	StateConcept    RequestState = "CONCEPT"
	StateInProgress RequestState = "IN_PROGRESS"
	StateExecuted   RequestState = "EXECUTED"
	StateException  RequestState = "EXCEPTION"
	StateCanceled   RequestState = "CANCELED"
	StateDuplicated RequestState = "DUPLICATED"
)

func (s RequestState) Terminal() bool {
	switch s {
	case StateExecuted, StateException, StateCanceled, StateDuplicated:
		return true
	default:
		return false
	}
}

type ConceptOperation string

const (
	OperationAdd    ConceptOperation = "ADD"
	OperationUpdate ConceptOperation = "UPDATE"
	OperationRemove ConceptOperation = "REMOVE"
)

type ResultCode string

const (
	ResultDuplicatedRequest  ResultCode = "duplicated-request"
	ResultApplicantsNotSame  ResultCode = "applicants-not-same"
	ResultNoExecuteRight     ResultCode = "no-execute-immediately-right"
	ResultConceptFailed      ResultCode = "concept-failed"
	ResultApprovalDenied     ResultCode = "approval-denied"
	ResultExecuted           ResultCode = "executed"
	ResultApprovalInProgress ResultCode = "approval-in-progress"
)

type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Disabled bool   `json:"disabled"`
}

type Role struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Priority       int       `json:"priority"`
	CanBeRequested bool      `json:"can_be_requested"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

/// RoleComposition is a directed edge: holding the superior role implies
// holding the sub role. The edge set must stay a DAG.
type RoleComposition struct {
	ID             string `json:"id"`
	SuperiorRoleID string `json:"superior_role_id"`
	SubRoleID      string `json:"sub_role_id"`
}

// IncompatibleRole declares that the two roles must not be held at the
// same time. Stored directionally, effectively symmetric.
type IncompatibleRole struct {
	ID             string `json:"id"`
	SuperiorRoleID string `json:"superior_role_id"`
	SubRoleID      string `json:"sub_role_id"`
}

type TreeNode struct {
	ID         string `json:"id"`
	ParentID   string `json:"parent_id,omitempty"`
	TreeTypeID string `json:"tree_type_id"`
	Name       string `json:"name"`
}

type AutomaticRoleRule struct {
	ID         string        `json:"id"`
	RoleID     string        `json:"role_id"`
	TreeNodeID string        `json:"tree_node_id"`
	Recursion  RecursionType `json:"recursion"`
}

type IdentityContract struct {
	ID         string     `json:"id"`
	IdentityID string     `json:"identity_id"`
	TreeNodeID string     `json:"tree_node_id,omitempty"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidTill  *time.Time `json:"valid_till,omitempty"`
	Main       bool       `json:"main"`
	Disabled   bool       `json:"disabled"`
}

func (c IdentityContract) ActiveAt(now time.Time) bool {
	return !c.Disabled && IntervalActiveAt(c.ValidFrom, c.ValidTill, now)
}

// IdentityRole is one role assignment on a contract. Provenance is at
// most one of AutomaticRuleID (granted by a tree rule) or DirectRoleID
// (derived by composition from the parent assignment, the value is the
// parent assignment's id); both empty means a manual grant.
type IdentityRole struct {
	ID              string     `json:"id"`
	ContractID      string     `json:"contract_id"`
	RoleID          string     `json:"role_id"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidTill       *time.Time `json:"valid_till,omitempty"`
	AutomaticRuleID string     `json:"automatic_rule_id,omitempty"`
	DirectRoleID    string     `json:"direct_role_id,omitempty"`
}

func (r IdentityRole) Automatic() bool { return r.AutomaticRuleID != "" }

func (r IdentityRole) Composed() bool { return r.DirectRoleID != "" }

func (r IdentityRole) Manual() bool { return r.AutomaticRuleID == "" && r.DirectRoleID == "" }

type RoleRequest struct {
	ID                    string       `json:"id"`
	ApplicantID           string       `json:"applicant_id"`
	State                 RequestState `json:"state"`
	Description           string       `json:"description"`
	ExecuteImmediately    bool         `json:"execute_immediately"`
	RequestedByType       string       `json:"requested_by_type"`
	DuplicatedToRequestID string       `json:"duplicated_to_request_id,omitempty"`
	ResultCode            ResultCode   `json:"result_code,omitempty"`
	ResultMessage         string       `json:"result_message,omitempty"`
	ContentHash           string       `json:"-"`
	Created               time.Time    `json:"created"`
	Modified              time.Time    `json:"modified"`
}

type ConceptRoleRequest struct {
	ID             string           `json:"id"`
	RoleRequestID  string           `json:"role_request_id"`
	Operation      ConceptOperation `json:"operation"`
	RoleID         string           `json:"role_id,omitempty"`
	ContractID     string           `json:"contract_id"`
	IdentityRoleID string           `json:"identity_role_id,omitempty"`
	ValidFrom      *time.Time       `json:"valid_from,omitempty"`
	ValidTill      *time.Time       `json:"valid_till,omitempty"`
}

// ResolvedIncompatibleRole is one reported segregation-of-duties
// conflict between two roles of an effective role set.
type ResolvedIncompatibleRole struct {
	IncompatibleRoleID string `json:"incompatible_role_id"`
	SuperiorRoleID     string `json:"superior_role_id"`
	SubRoleID          string `json:"sub_role_id"`
}

// ChangeSet is one atomic batch of identity-role mutations. Everything
// in it commits together or not at all.
type ChangeSet struct {
	Create []IdentityRole
	Update []IdentityRole
	Delete []string
}

func (cs ChangeSet) Empty() bool {
	return len(cs.Create) == 0 && len(cs.Update) == 0 && len(cs.Delete) == 0
}

// IntervalActiveAt reports whether an open validity interval covers now.
// A nil bound is unbounded on that side.
func IntervalActiveAt(from, till *time.Time, now time.Time) bool {
	if from != nil && now.Before(*from) {
		return false
	}
	if till != nil && now.After(*till) {
		return false
	}
	return true
}
