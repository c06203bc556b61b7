package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrPermissionDeny     = errors.New("permission denied")
	ErrInvalidState       = errors.New("invalid request state")
	ErrCompositionCycle   = errors.New("role composition cycle")
	ErrTreeCorrupted      = errors.New("tree structure corrupted")
	ErrRoleNotRequestable = errors.New("role cannot be requested")
	ErrExecutionClaimed   = errors.New("execution already claimed")
)
