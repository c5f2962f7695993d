package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/itinera/backend/internal/models"
)

// Built-in action codes registered by the seeder.
var DefaultActionTypes = []models.ActionType{
	{Code: "create", Description: "Create a resource", Active: true},
	{Code: "read", Description: "Read a resource", Active: true},
	{Code: "update", Description: "Update a resource", Active: true},
	{Code: "delete", Description: "Delete a resource", Active: true},
	{Code: models.ActionManage, Description: "Every action on a resource", Active: true},
}

// Resources guarded by the HTTP layer.
const (
	ResourceSetting    = "Setting"
	ResourceAuditLog   = "AuditLog"
	ResourceRole       = "Role"
	ResourcePermission = "Permission"
	ResourceUser       = "User"
)

// System role names.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// RoleInput creates or updates a role.
type RoleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

// PermissionInput creates a permission.
type PermissionInput struct {
	ActionCode  string `json:"actionCode"`
	Resource    string `json:"resource"`
	Description string `json:"description"`
}

// RBACService manages action types, permissions, roles and role assignment.
type RBACService struct {
	db *gorm.DB
}

func NewRBACService(db *gorm.DB) *RBACService {
	return &RBACService{db: db}
}

// RegisterActionType adds an action code. Codes are stored lower case.
func (s *RBACService) RegisterActionType(ctx context.Context, code, description string) (*models.ActionType, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrValidation)
	}
	at := &models.ActionType{Code: code, Description: description, Active: true}
	if err := s.db.WithContext(ctx).Create(at).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return at, nil
}

// EnsureActionTypes registers the given codes when absent.
func (s *RBACService) EnsureActionTypes(ctx context.Context, types []models.ActionType) error {
	for _, t := range types {
		at := models.ActionType{Code: t.Code}
		if err := s.db.WithContext(ctx).Where(models.ActionType{Code: t.Code}).Attrs(t).FirstOrCreate(&at).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *RBACService) ListActionTypes(ctx context.Context) ([]models.ActionType, error) {
	var out []models.ActionType
	err := s.db.WithContext(ctx).Order("code").Find(&out).Error
	return out, err
}

// CreatePermission adds an action/resource pair. The action must be a registered active code.
func (s *RBACService) CreatePermission(ctx context.Context, in PermissionInput) (*models.Permission, error) {
	action := strings.ToLower(strings.TrimSpace(in.ActionCode))
	resource := strings.TrimSpace(in.Resource)
	if action == "" || resource == "" {
		return nil, fmt.Errorf("%w: actionCode and resource are required", ErrValidation)
	}
	var at models.ActionType
	if err := s.db.WithContext(ctx).Where("code = ? AND active = ?", action, true).First(&at).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, action)
		}
		return nil, err
	}
	p := &models.Permission{ActionCode: action, Resource: resource, Description: in.Description, Active: true}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return p, nil
}

// EnsurePermission returns the permission for action/resource, creating it when absent.
func (s *RBACService) EnsurePermission(ctx context.Context, action, resource string) (*models.Permission, error) {
	var p models.Permission
	err := s.db.WithContext(ctx).Where("action_code = ? AND resource = ?", strings.ToLower(action), resource).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.CreatePermission(ctx, PermissionInput{ActionCode: action, Resource: resource})
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]models.Permission, error) {
	var out []models.Permission
	err := s.db.WithContext(ctx).Order("resource, action_code").Find(&out).Error
	return out, err
}

func (s *RBACService) ListRoles(ctx context.Context) ([]models.Role, error) {
	var out []models.Role
	err := s.db.WithContext(ctx).Preload("Permissions").Order("name").Find(&out).Error
	return out, err
}

func (s *RBACService) GetRole(ctx context.Context, id uint) (*models.Role, error) {
	var r models.Role
	if err := s.db.WithContext(ctx).Preload("Permissions").First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *RBACService) CreateRole(ctx context.Context, in RoleInput) (*models.Role, error) {
	return s.createRole(ctx, in, false)
}

// EnsureSystemRole returns the named system role, creating it when absent.
func (s *RBACService) EnsureSystemRole(ctx context.Context, name, description string) (*models.Role, error) {
	var r models.Role
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&r).Error
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return s.createRole(ctx, RoleInput{Name: name, Description: description}, true)
}

func (s *RBACService) createRole(ctx context.Context, in RoleInput, system bool) (*models.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	r := &models.Role{Name: name, Description: in.Description, Active: true, IsSystemRole: system}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	// false is a zero value, so the column default wins on insert
	if in.Active != nil && !*in.Active {
		if err := s.db.WithContext(ctx).Model(r).Update("active", false).Error; err != nil {
			return nil, err
		}
		r.Active = false
	}
	return r, nil
}

// UpdateRole changes description and active flag. System roles keep their name.
func (s *RBACService) UpdateRole(ctx context.Context, id uint, in RoleInput) (*models.Role, error) {
	r, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.Description != "" {
		updates["description"] = in.Description
	}
	if name := strings.TrimSpace(in.Name); name != "" && name != r.Name {
		if r.IsSystemRole {
			return nil, ErrSystemRoleProtected
		}
		updates["name"] = name
	}
	if in.Active != nil {
		if r.IsSystemRole && !*in.Active {
			return nil, ErrSystemRoleProtected
		}
		updates["active"] = *in.Active
	}
	if len(updates) == 0 {
		return r, nil
	}
	if err := s.db.WithContext(ctx).Model(&models.Role{}).Where("id = ?", r.ID).Updates(updates).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return s.GetRole(ctx, id)
}

// DeleteRole removes a non-system role and its assignments.
func (s *RBACService) DeleteRole(ctx context.Context, id uint) error {
	r, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if r.IsSystemRole {
		return ErrSystemRoleProtected
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(r).Association("Permissions").Clear(); err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM user_roles WHERE role_id = ?", r.ID).Error; err != nil {
			return err
		}
		return tx.Delete(r).Error
	})
}

// SetRolePermissions replaces the permissions of a role.
func (s *RBACService) SetRolePermissions(ctx context.Context, roleID uint, permissionIDs []uint) (*models.Role, error) {
	r, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	perms, err := s.findPermissions(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(r).Association("Permissions").Replace(perms); err != nil {
		return nil, err
	}
	return s.GetRole(ctx, roleID)
}

func (s *RBACService) findPermissions(ctx context.Context, ids []uint) ([]models.Permission, error) {
	if len(ids) == 0 {
		return []models.Permission{}, nil
	}
	var perms []models.Permission
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&perms).Error; err != nil {
		return nil, err
	}
	if len(perms) != len(uniqueIDs(ids)) {
		return nil, ErrPermissionNotFound
	}
	return perms, nil
}

func uniqueIDs(ids []uint) map[uint]struct{} {
	m := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// AssignRoles replaces the roles of a user.
func (s *RBACService) AssignRoles(ctx context.Context, userID uint, roleIDs []uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	roles := []models.Role{}
	if len(roleIDs) > 0 {
		if err := s.db.WithContext(ctx).Where("id IN ?", roleIDs).Find(&roles).Error; err != nil {
			return nil, err
		}
		if len(roles) != len(uniqueIDs(roleIDs)) {
			return nil, ErrRoleNotFound
		}
	}
	if err := s.db.WithContext(ctx).Model(&u).Association("Roles").Replace(roles); err != nil {
		return nil, err
	}
	return s.LoadUser(ctx, userID)
}

// AssignRoleByName adds one role to the user, keeping existing ones.
func (s *RBACService) AssignRoleByName(ctx context.Context, userID uint, roleName string) error {
	var r models.Role
	if err := s.db.WithContext(ctx).Where("name = ?", roleName).First(&r).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRoleNotFound
		}
		return err
	}
	u := models.User{ID: userID}
	return s.db.WithContext(ctx).Model(&u).Association("Roles").Append(&r)
}

// LoadUser returns the user with roles and permissions preloaded.
func (s *RBACService) LoadUser(ctx context.Context, userID uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Preload("Roles.Permissions").First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// EffectivePermissions returns the permission set of a user.
func (s *RBACService) EffectivePermissions(ctx context.Context, userID uint) (models.PermissionSet, error) {
	u, err := s.LoadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return models.EffectivePermissions(u), nil
}

// Authorize returns ErrAccessDenied unless the user may perform action on resource.
func (s *RBACService) Authorize(ctx context.Context, userID uint, action, resource string) error {
	set, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrAccessDenied
		}
		return err
	}
	if !set.Allows(action, resource) {
		return ErrAccessDenied
	}
	return nil
}
