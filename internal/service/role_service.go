package service

import (
	"context"
	"strings"

	"callcenter/internal/domain"
	"callcenter/internal/models"

	"github.com/rs/zerolog"
)

type RoleRequest struct {
	Name          string  `json:"name"`
	PermissionIDs []int64 `json:"permission_ids"`
}

type RoleService struct {
	repo   domain.RoleRepository
	logger *zerolog.Logger
}

func NewRoleService(repo domain.RoleRepository, logger *zerolog.Logger) *RoleService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &RoleService{repo: repo, logger: logger}
}

func (s *RoleService) List(ctx context.Context, page models.Page) ([]models.Role, models.Meta, error) {
	roles, total, err := s.repo.ListRoles(ctx, page)
	if err != nil {
		return nil, models.Meta{}, err
	}
	if roles == nil {
		roles = []models.Role{}
	}
	return roles, page.Meta(total), nil
}

func (s *RoleService) Get(ctx context.Context, id int64) (*models.Role, error) {
	return s.repo.GetRole(ctx, id)
}

func (s *RoleService) Create(ctx context.Context, req RoleRequest) (*models.Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	role, err := s.repo.CreateRole(ctx, name, dedupeIDs(req.PermissionIDs))
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("role_id", role.ID).Str("name", name).Msg("Role created")
	return role, nil
}

// Update renames the role and swaps its permission set for the requested one.
func (s *RoleService) Update(ctx context.Context, id int64, req RoleRequest) (*models.Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, invalid("name is required")
	}
	return s.repo.UpdateRole(ctx, id, name, dedupeIDs(req.PermissionIDs))
}

func (s *RoleService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("role_id", id).Msg("Role deleted")
	return nil
}

func (s *RoleService) BulkDelete(ctx context.Context, ids []int64) (int, error) {
	valid := make([]int64, 0, len(ids))
	for _, id := range dedupeIDs(ids) {
		if id > 0 {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, invalid("no_valid_ids_provided")
	}
	return s.repo.DeleteRoles(ctx, valid)
}

// GroupedPermissions groups active permissions by page, pages ordered by
// first appearance.
func (s *RoleService) GroupedPermissions(ctx context.Context) ([]models.PermissionGroup, error) {
	perms, err := s.repo.ListActivePermissions(ctx)
	if err != nil {
		return nil, err
	}
	groups := []models.PermissionGroup{}
	index := map[string]int{}
	for _, p := range perms {
		i, ok := index[p.Page]
		if !ok {
			i = len(groups)
			index[p.Page] = i
			groups = append(groups, models.PermissionGroup{Name: p.Page, Data: []models.PermissionRef{}})
		}
		groups[i].Data = append(groups[i].Data, models.PermissionRef{ID: p.ID, Name: p.Name})
	}
	return groups, nil
}

func dedupeIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
