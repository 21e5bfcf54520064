package service

import (
	"context"
	"fmt"
	"strings"

	"callcenter/internal/auth"
	"callcenter/internal/domain"
	"callcenter/internal/models"

	"github.com/rs/zerolog"
)

type CreateUserRequest struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	Name           string  `json:"name"`
	ContactNumber  string  `json:"contact_number"`
	Slug           string  `json:"slug"`
	TwilioIdentity string  `json:"twilio_identity"`
	RoleIDs        []int64 `json:"role_id"`
}

// UpdateUserRequest mirrors the PUT body. Absent fields stay untouched and
// a non-nil RoleIDs replaces every mapping.
type UpdateUserRequest struct {
	Email          *string  `json:"email"`
	Password       *string  `json:"password"`
	Name           *string  `json:"name"`
	ContactNumber  *string  `json:"contact_number"`
	Slug           *string  `json:"slug"`
	TwilioIdentity *string  `json:"twilio_identity"`
	Availability   *string  `json:"availability"`
	RoleIDs        *[]int64 `json:"role_id"`
}

// UserPermissions is the caller's effective permission set.
type UserPermissions struct {
	Data    []models.PermissionRef `json:"data"`
	DataMap []string               `json:"dataMap"`
}

type UserService struct {
	repo   domain.UserRepository
	logger *zerolog.Logger
}

func NewUserService(repo domain.UserRepository, logger *zerolog.Logger) *UserService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &UserService{repo: repo, logger: logger}
}

func (s *UserService) Create(ctx context.Context, req CreateUserRequest) (*models.UserWithRoles, error) {
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" || len(req.RoleIDs) == 0 {
		return nil, invalid("name, email, password & role_id required")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = Slugify(req.Name)
	}

	user := &models.User{
		Email:          email,
		Password:       hash,
		Name:           strings.TrimSpace(req.Name),
		ContactNumber:  strings.TrimSpace(req.ContactNumber),
		Slug:           slug,
		TwilioIdentity: strings.TrimSpace(req.TwilioIdentity),
		Availability:   models.AvailabilityOffline,
	}
	if err := s.repo.CreateUser(ctx, user, req.RoleIDs); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("user_id", user.ID).Ints64("role_ids", req.RoleIDs).Msg("User created")
	return &models.UserWithRoles{User: user, RoleIDs: req.RoleIDs}, nil
}

func (s *UserService) List(ctx context.Context, keyword string, page models.Page) ([]*models.User, models.Meta, error) {
	users, total, err := s.repo.ListUsers(ctx, models.UserFilter{Keyword: strings.TrimSpace(keyword)}, page)
	if err != nil {
		return nil, models.Meta{}, err
	}
	if users == nil {
		users = []*models.User{}
	}
	return users, page.Meta(total), nil
}

// Get returns the user with the ids and names of its roles.
func (s *UserService) Get(ctx context.Context, id int64) (*models.UserWithRoles, error) {
	user, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	roles, err := s.repo.GetUserRoles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	ids := make([]int64, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	return &models.UserWithRoles{User: user, RoleIDs: ids, Roles: roles}, nil
}

func (s *UserService) Update(ctx context.Context, id int64, req UpdateUserRequest) (*models.UserWithRoles, error) {
	upd := models.UserUpdate{
		Email:          req.Email,
		Name:           req.Name,
		ContactNumber:  req.ContactNumber,
		Slug:           req.Slug,
		TwilioIdentity: req.TwilioIdentity,
		Availability:   req.Availability,
	}
	if req.Password != nil && *req.Password != "" {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		upd.Password = &hash
	}

	if err := s.repo.UpdateUser(ctx, id, upd); err != nil {
		return nil, err
	}
	if req.RoleIDs != nil {
		if err := s.repo.SetUserRoles(ctx, id, *req.RoleIDs); err != nil {
			return nil, fmt.Errorf("replace roles: %w", err)
		}
	}
	return s.Get(ctx, id)
}

func (s *UserService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", id).Msg("User deleted")
	return nil
}

func (s *UserService) BulkDelete(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("ids must be a non-empty array")
	}
	n, err := s.repo.DeleteUsers(ctx, ids)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int("deleted", n).Ints64("ids", ids).Msg("Users bulk deleted")
	return n, nil
}

func (s *UserService) Clients(ctx context.Context, keyword string) ([]*models.User, error) {
	clients, err := s.repo.ListClients(ctx, strings.TrimSpace(keyword))
	if err != nil {
		return nil, err
	}
	if clients == nil {
		clients = []*models.User{}
	}
	return clients, nil
}

// Permissions resolves the caller's permissions through all of their roles.
func (s *UserService) Permissions(ctx context.Context, userID int64) (*UserPermissions, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	perms, err := s.repo.GetUserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &UserPermissions{Data: []models.PermissionRef{}, DataMap: []string{}}
	seen := make(map[int64]struct{}, len(perms))
	for _, p := range perms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out.Data = append(out.Data, p)
		out.DataMap = append(out.DataMap, p.Name)
	}
	return out, nil
}
