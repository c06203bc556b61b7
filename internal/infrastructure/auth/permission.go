package auth

import (
	"context"
	"strings"

	"idgov-engine/internal/domain"
)

// StaticPermissionChecker grants the immediate-execute right to a fixed
// set of caller ids, configured as a comma-separated env value at boot.
type StaticPermissionChecker struct {
	allowed map[string]struct{}
}

func NewStaticPermissionChecker(callerIDs string) *StaticPermissionChecker {
	allowed := map[string]struct{}{}
	for _, id := range strings.Split(callerIDs, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &StaticPermissionChecker{allowed: allowed}
}

func (c *StaticPermissionChecker) HasImmediateExecuteRight(_ context.Context, callerID string) (bool, error) {
	if callerID == "" {
		return false, domain.ErrInvalidInput
	}
	_, ok := c.allowed[callerID]
	return ok, nil
}
