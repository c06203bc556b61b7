package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"idgov-engine/internal/domain"
	"idgov-engine/internal/ports"
)

type RoleService struct {
	repo   ports.RoleRepository
	logger ports.Logger
}

func NewRoleService(repo ports.RoleRepository, logger ports.Logger) *RoleService {
	return &RoleService{repo: repo, logger: logger}
}

func (s *RoleService) Create(ctx context.Context, role domain.Role) (domain.Role, error) {
	if role.Code == "" || role.Name == "" {
		return domain.Role{}, domain.ErrInvalidInput
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := s.repo.Create(ctx, role); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (s *RoleService) Update(ctx context.Context, role domain.Role) error {
	if role.ID == "" || role.Code == "" || role.Name == "" {
		return domain.ErrInvalidInput
	}
	role.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, role)
}

func (s *RoleService) GetByID(ctx context.Context, roleID string) (domain.Role, error) {
	if roleID == "" {
		return domain.Role{}, domain.ErrInvalidInput
	}
	return s.repo.GetByID(ctx, roleID)
}

func (s *RoleService) List(ctx context.Context) ([]domain.Role, error) {
	return s.repo.List(ctx)
}

type IdentityService struct {
	repo   ports.IdentityRepository
	logger ports.Logger
}

func NewIdentityService(repo ports.IdentityRepository, logger ports.Logger) *IdentityService {
	return &IdentityService{repo: repo, logger: logger}
}

func (s *IdentityService) Save(ctx context.Context, identity domain.Identity) (domain.Identity, error) {
	if identity.Username == "" {
		return domain.Identity{}, domain.ErrInvalidInput
	}
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	if err := s.repo.Save(ctx, identity); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

func (s *IdentityService) GetByID(ctx context.Context, identityID string) (domain.Identity, error) {
	if identityID == "" {
		return domain.Identity{}, domain.ErrInvalidInput
	}
	return s.repo.GetByID(ctx, identityID)
}
