package http

import (
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/labstack/echo/v4"
	"idgov-engine/internal/application"
	"idgov-engine/internal/domain"
)

func handleError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrRoleNotRequestable):
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrCompositionCycle),
		errors.Is(err, domain.ErrTreeCorrupted):
		return c.JSON(stdhttp.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(stdhttp.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrPermissionDeny):
		return c.JSON(stdhttp.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		return c.JSON(stdhttp.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func callerID(c echo.Context) string {
	if uid, ok := c.Get("user_id").(string); ok && uid != "" {
		return uid
	}
	return c.Request().Header.Get("X-User-Id")
}

type RolesHandler struct{ service *application.RoleService }

func NewRolesHandler(service *application.RoleService) *RolesHandler {
	return &RolesHandler{service: service}
}

func (h *RolesHandler) Create(c echo.Context) error {
	var req struct {
		Code           string `json:"code"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		Priority       int    `json:"priority"`
		CanBeRequested bool   `json:"can_be_requested"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	role, err := h.service.Create(c.Request().Context(), domain.Role{
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		Priority:       req.Priority,
		CanBeRequested: req.CanBeRequested,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, role)
}

func (h *RolesHandler) Update(c echo.Context) error {
	var req struct {
		Code           string `json:"code"`
		Name           string `json:"name"`
		Description    string `json:"description"`
		Priority       int    `json:"priority"`
		CanBeRequested bool   `json:"can_be_requested"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	err := h.service.Update(c.Request().Context(), domain.Role{
		ID:             c.Param("id"),
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		Priority:       req.Priority,
		CanBeRequested: req.CanBeRequested,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusOK)
}

func (h *RolesHandler) Get(c echo.Context) error {
	role, err := h.service.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, role)
}

func (h *RolesHandler) List(c echo.Context) error {
	roles, err := h.service.List(c.Request().Context())
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, roles)
}

type IdentitiesHandler struct {
	identities   *application.IdentityService
	incompatible *application.IncompatibleRoleService
}

func NewIdentitiesHandler(identities *application.IdentityService, incompatible *application.IncompatibleRoleService) *IdentitiesHandler {
	return &IdentitiesHandler{identities: identities, incompatible: incompatible}
}

func (h *IdentitiesHandler) Save(c echo.Context) error {
	var req struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Disabled bool   `json:"disabled"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	identity, err := h.identities.Save(c.Request().Context(), domain.Identity{ID: req.ID, Username: req.Username, Disabled: req.Disabled})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, identity)
}

func (h *IdentitiesHandler) Get(c echo.Context) error {
	identity, err := h.identities.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, identity)
}

func (h *IdentitiesHandler) EffectiveRoles(c echo.Context) error {
	rows, err := h.incompatible.EffectiveRoles(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, rows)
}

func (h *IdentitiesHandler) Conflicts(c echo.Context) error {
	conflicts, err := h.incompatible.FindConflicts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, conflicts)
}

type TreeNodesHandler struct{ service *application.TreeNodeService }

func NewTreeNodesHandler(service *application.TreeNodeService) *TreeNodesHandler {
	return &TreeNodesHandler{service: service}
}

func (h *TreeNodesHandler) Create(c echo.Context) error {
	var req struct {
		ParentID   string `json:"parent_id"`
		TreeTypeID string `json:"tree_type_id"`
		Name       string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	node, err := h.service.Create(c.Request().Context(), domain.TreeNode{ParentID: req.ParentID, TreeTypeID: req.TreeTypeID, Name: req.Name})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, node)
}

func (h *TreeNodesHandler) Update(c echo.Context) error {
	var req struct {
		ParentID   string `json:"parent_id"`
		TreeTypeID string `json:"tree_type_id"`
		Name       string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	err := h.service.Update(c.Request().Context(), domain.TreeNode{ID: c.Param("id"), ParentID: req.ParentID, TreeTypeID: req.TreeTypeID, Name: req.Name})
	if err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusOK)
}

func (h *TreeNodesHandler) Get(c echo.Context) error {
	node, err := h.service.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, node)
}

type ContractsHandler struct{ service *application.ContractService }

func NewContractsHandler(service *application.ContractService) *ContractsHandler {
	return &ContractsHandler{service: service}
}

func (h *ContractsHandler) Save(c echo.Context) error {
	var req struct {
		ID         string     `json:"id"`
		IdentityID string     `json:"identity_id"`
		TreeNodeID string     `json:"tree_node_id"`
		ValidFrom  *time.Time `json:"valid_from"`
		ValidTill  *time.Time `json:"valid_till"`
		Main       bool       `json:"main"`
		Disabled   bool       `json:"disabled"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	contract, err := h.service.Save(c.Request().Context(), domain.IdentityContract{
		ID:         req.ID,
		IdentityID: req.IdentityID,
		TreeNodeID: req.TreeNodeID,
		ValidFrom:  req.ValidFrom,
		ValidTill:  req.ValidTill,
		Main:       req.Main,
		Disabled:   req.Disabled,
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, contract)
}

func (h *ContractsHandler) Get(c echo.Context) error {
	contract, err := h.service.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, contract)
}

type AutomaticRolesHandler struct{ service *application.AutomaticRoleService }

func NewAutomaticRolesHandler(service *application.AutomaticRoleService) *AutomaticRolesHandler {
	return &AutomaticRolesHandler{service: service}
}

func (h *AutomaticRolesHandler) Create(c echo.Context) error {
	var req struct {
		RoleID     string `json:"role_id"`
		TreeNodeID string `json:"tree_node_id"`
		Recursion  string `json:"recursion"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	rule, err := h.service.CreateRule(c.Request().Context(), domain.AutomaticRoleRule{
		RoleID:     req.RoleID,
		TreeNodeID: req.TreeNodeID,
		Recursion:  domain.RecursionType(req.Recursion),
	})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, rule)
}

func (h *AutomaticRolesHandler) Delete(c echo.Context) error {
	if err := h.service.DeleteRule(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *AutomaticRolesHandler) Get(c echo.Context) error {
	rule, err := h.service.GetRule(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, rule)
}

type CompositionsHandler struct {
	compositions *application.CompositionService
	incompatible *application.IncompatibleRoleService
}

func NewCompositionsHandler(compositions *application.CompositionService, incompatible *application.IncompatibleRoleService) *CompositionsHandler {
	return &CompositionsHandler{compositions: compositions, incompatible: incompatible}
}

func (h *CompositionsHandler) Create(c echo.Context) error {
	var req struct {
		SuperiorRoleID string `json:"superior_role_id"`
		SubRoleID      string `json:"sub_role_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	composition, err := h.compositions.Create(c.Request().Context(), domain.RoleComposition{SuperiorRoleID: req.SuperiorRoleID, SubRoleID: req.SubRoleID})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, composition)
}

func (h *CompositionsHandler) Delete(c echo.Context) error {
	if err := h.compositions.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

func (h *CompositionsHandler) RoleConflicts(c echo.Context) error {
	conflicts, err := h.incompatible.FindRoleConflicts(c.Request().Context(), c.Param("role_id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, conflicts)
}

type IncompatibleRolesHandler struct{ service *application.IncompatibleRoleService }

func NewIncompatibleRolesHandler(service *application.IncompatibleRoleService) *IncompatibleRolesHandler {
	return &IncompatibleRolesHandler{service: service}
}

func (h *IncompatibleRolesHandler) Create(c echo.Context) error {
	var req struct {
		SuperiorRoleID string `json:"superior_role_id"`
		SubRoleID      string `json:"sub_role_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	pair, err := h.service.Create(c.Request().Context(), domain.IncompatibleRole{SuperiorRoleID: req.SuperiorRoleID, SubRoleID: req.SubRoleID})
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, pair)
}

func (h *IncompatibleRolesHandler) Delete(c echo.Context) error {
	if err := h.service.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(stdhttp.StatusNoContent)
}

type RoleRequestsHandler struct {
	requests     *application.RoleRequestService
	incompatible *application.IncompatibleRoleService
}

func NewRoleRequestsHandler(requests *application.RoleRequestService, incompatible *application.IncompatibleRoleService) *RoleRequestsHandler {
	return &RoleRequestsHandler{requests: requests, incompatible: incompatible}
}

type conceptPayload struct {
	ID             string     `json:"id"`
	Operation      string     `json:"operation"`
	RoleID         string     `json:"role_id"`
	ContractID     string     `json:"contract_id"`
	IdentityRoleID string     `json:"identity_role_id"`
	ValidFrom      *time.Time `json:"valid_from"`
	ValidTill      *time.Time `json:"valid_till"`
}

func (h *RoleRequestsHandler) Save(c echo.Context) error {
	var req struct {
		ID                 string           `json:"id"`
		ApplicantID        string           `json:"applicant_id"`
		Description        string           `json:"description"`
		ExecuteImmediately bool             `json:"execute_immediately"`
		RequestedByType    string           `json:"requested_by_type"`
		Concepts           []conceptPayload `json:"concepts"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	concepts := make([]domain.ConceptRoleRequest, 0, len(req.Concepts))
	for _, concept := range req.Concepts {
		concepts = append(concepts, domain.ConceptRoleRequest{
			ID:             concept.ID,
			Operation:      domain.ConceptOperation(concept.Operation),
			RoleID:         concept.RoleID,
			ContractID:     concept.ContractID,
			IdentityRoleID: concept.IdentityRoleID,
			ValidFrom:      concept.ValidFrom,
			ValidTill:      concept.ValidTill,
		})
	}
	request, err := h.requests.Save(c.Request().Context(), domain.RoleRequest{
		ID:                 req.ID,
		ApplicantID:        req.ApplicantID,
		Description:        req.Description,
		ExecuteImmediately: req.ExecuteImmediately,
		RequestedByType:    req.RequestedByType,
	}, concepts)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusCreated, request)
}

func (h *RoleRequestsHandler) Start(c echo.Context) error {
	request, err := h.requests.Start(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, request)
}

func (h *RoleRequestsHandler) Cancel(c echo.Context) error {
	request, err := h.requests.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, request)
}

func (h *RoleRequestsHandler) Get(c echo.Context) error {
	request, err := h.requests.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, request)
}

func (h *RoleRequestsHandler) GetState(c echo.Context) error {
	state, err := h.requests.GetState(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, map[string]string{"state": string(state)})
}

func (h *RoleRequestsHandler) Conflicts(c echo.Context) error {
	conflicts, err := h.incompatible.FindRequestConflicts(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, conflicts)
}

// ApprovalResult is the callback the approval workflow invokes once it
// finishes deciding a parked request.
func (h *RoleRequestsHandler) ApprovalResult(c echo.Context) error {
	var req struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(stdhttp.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	request, err := h.requests.OnApprovalResult(c.Request().Context(), c.Param("id"), req.Approved, req.Reason)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(stdhttp.StatusOK, request)
}
