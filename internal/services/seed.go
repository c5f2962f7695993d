package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/itinera/backend/internal/logger"
	"github.com/itinera/backend/internal/models"
)

// defaultRolePermissions are granted to a system role only while it has none, so
// operator changes survive a re-seed.
var defaultRolePermissions = map[string][]models.PermissionRef{
	RoleAdmin: {{Action: models.ActionManage, Resource: models.ResourceAny}},
	RoleUser: {
		{Action: "read", Resource: "Itinerary"},
		{Action: "create", Resource: "Booking"},
		{Action: "read", Resource: "Booking"},
	},
}

// SeedRBAC registers the built-in action types and the ADMIN and USER system roles.
func SeedRBAC(ctx context.Context, rbac *RBACService) error {
	if err := rbac.EnsureActionTypes(ctx, DefaultActionTypes); err != nil {
		return fmt.Errorf("seed action types: %w", err)
	}
	descriptions := map[string]string{
		RoleAdmin: "Full administrative access",
		RoleUser:  "Self-service traveller account",
	}
	for _, name := range []string{RoleAdmin, RoleUser} {
		role, err := rbac.EnsureSystemRole(ctx, name, descriptions[name])
		if err != nil {
			return fmt.Errorf("seed role %s: %w", name, err)
		}
		role, err = rbac.GetRole(ctx, role.ID)
		if err != nil {
			return err
		}
		if len(role.Permissions) > 0 {
			continue
		}
		var ids []uint
		for _, ref := range defaultRolePermissions[name] {
			p, err := rbac.EnsurePermission(ctx, ref.Action, ref.Resource)
			if err != nil {
				return fmt.Errorf("seed permission %s: %w", ref, err)
			}
			ids = append(ids, p.ID)
		}
		if _, err := rbac.SetRolePermissions(ctx, role.ID, ids); err != nil {
			return fmt.Errorf("seed role %s permissions: %w", name, err)
		}
	}
	return nil
}

// SeedAdmin creates an enabled administrator unless an account with that username
// or email exists. It reports whether a user was created.
func SeedAdmin(ctx context.Context, auth *AuthService, rbac *RBACService, in RegisterInput) (bool, error) {
	if _, err := auth.FindByIdentifier(ctx, in.Username); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}
	u, err := auth.CreateUser(ctx, in)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return false, nil
		}
		return false, err
	}
	if err := rbac.AssignRoleByName(ctx, u.ID, RoleAdmin); err != nil {
		return false, err
	}
	logger.FromContext(ctx).WithField("username", u.Username).Info("seeded administrator")
	return true, nil
}
