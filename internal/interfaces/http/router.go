package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Middleware struct {
	Auth          echo.MiddlewareFunc
	XRay          echo.MiddlewareFunc
	RequestLogger echo.MiddlewareFunc
}

func newEcho(m Middleware) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if m.XRay != nil {
		e.Use(m.XRay)
	}
	if m.RequestLogger != nil {
		e.Use(m.RequestLogger)
	}
	if m.Auth != nil {
		e.Use(m.Auth)
	}
	return e
}

// NewMainRouter mounts every resource on one echo instance. The
// per-resource routers below exist for the lambda-per-function
// deployment shape.
func NewMainRouter(
	roles *RolesHandler,
	identities *IdentitiesHandler,
	nodes *TreeNodesHandler,
	contracts *ContractsHandler,
	rules *AutomaticRolesHandler,
	compositions *CompositionsHandler,
	incompatibles *IncompatibleRolesHandler,
	requests *RoleRequestsHandler,
	m Middleware,
) *echo.Echo {
	e := newEcho(m)
	registerRoles(e, roles)
	registerIdentities(e, identities)
	registerTreeNodes(e, nodes)
	registerContracts(e, contracts)
	registerAutomaticRoles(e, rules)
	registerCompositions(e, compositions)
	registerIncompatibleRoles(e, incompatibles)
	registerRoleRequests(e, requests)
	return e
}

func registerRoles(e *echo.Echo, h *RolesHandler) {
	e.POST("/roles", h.Create)
	e.PUT("/roles/:id", h.Update)
	e.GET("/roles/:id", h.Get)
	e.GET("/roles", h.List)
}

func registerIdentities(e *echo.Echo, h *IdentitiesHandler) {
	e.POST("/identities", h.Save)
	e.GET("/identities/:id", h.Get)
	e.GET("/identities/:id/effective-roles", h.EffectiveRoles)
	e.GET("/identities/:id/incompatible-roles", h.Conflicts)
}

func registerTreeNodes(e *echo.Echo, h *TreeNodesHandler) {
	e.POST("/tree-nodes", h.Create)
	e.PUT("/tree-nodes/:id", h.Update)
	e.GET("/tree-nodes/:id", h.Get)
}

func registerContracts(e *echo.Echo, h *ContractsHandler) {
	e.POST("/contracts", h.Save)
	e.GET("/contracts/:id", h.Get)
}

func registerAutomaticRoles(e *echo.Echo, h *AutomaticRolesHandler) {
	e.POST("/automatic-roles", h.Create)
	e.GET("/automatic-roles/:id", h.Get)
	e.DELETE("/automatic-roles/:id", h.Delete)
}

func registerCompositions(e *echo.Echo, h *CompositionsHandler) {
	e.POST("/role-compositions", h.Create)
	e.DELETE("/role-compositions/:id", h.Delete)
	e.GET("/roles/:role_id/incompatible-roles", h.RoleConflicts)
}

func registerIncompatibleRoles(e *echo.Echo, h *IncompatibleRolesHandler) {
	e.POST("/incompatible-roles", h.Create)
	e.DELETE("/incompatible-roles/:id", h.Delete)
}

func registerRoleRequests(e *echo.Echo, h *RoleRequestsHandler) {
	e.POST("/role-requests", h.Save)
	e.GET("/role-requests/:id", h.Get)
	e.GET("/role-requests/:id/state", h.GetState)
	e.PUT("/role-requests/:id/start", h.Start)
	e.PUT("/role-requests/:id/cancel", h.Cancel)
	e.GET("/role-requests/:id/incompatible-roles", h.Conflicts)
	e.POST("/role-requests/:id/approval-result", h.ApprovalResult)
}

func NewRolesRouter(h *RolesHandler, m Middleware) *echo.Echo {
	e := newEcho(m)
	registerRoles(e, h)
	return e
}

func NewRoleRequestsRouter(h *RoleRequestsHandler, m Middleware) *echo.Echo {
	e := newEcho(m)
	registerRoleRequests(e, h)
	return e
}
