// Package workflow adapts the external approval engine. Only its entry
// call lives here; the engine reports back through the approval
// callback endpoint, which drives RoleRequestService.OnApprovalResult.
package workflow

import (
	"context"

	"idgov-engine/internal/ports"
)

// StaticWorkflow either waives approval entirely (every request
// executes straight away) or parks every request until the external
// engine calls back.
type StaticWorkflow struct {
	requireApproval bool
	logger          ports.Logger
}

func NewStaticWorkflow(requireApproval bool, logger ports.Logger) *StaticWorkflow {
	return &StaticWorkflow{requireApproval: requireApproval, logger: logger}
}

func (w *StaticWorkflow) RequestApproval(ctx context.Context, requestID string) (bool, error) {
	if !w.requireApproval {
		return false, nil
	}
	w.logger.Info(ctx, "role request handed to approval workflow", "request_id", requestID)
	return true, nil
}
