package models

import (
	"strings"
	"time"
)

const (
	// ActionManage grants every action on the resource it is paired with.
	ActionManage = "manage"
	// ResourceAny matches every resource.
	ResourceAny = "*"
)

// ActionType is a registered action code. Permissions may only reference active codes.
type ActionType struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Code        string    `json:"code" gorm:"uniqueIndex;not null"`
	Description string    `json:"description"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Permission pairs an action code with a resource, e.g. create + Booking.
type Permission struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ActionCode  string    `json:"actionCode" gorm:"uniqueIndex:idx_permission_action_resource;not null"`
	Resource    string    `json:"resource" gorm:"uniqueIndex:idx_permission_action_resource;not null"`
	Description string    `json:"description"`
	Active      bool      `json:"active" gorm:"default:true"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Role groups permissions. System roles are seeded and cannot be deleted.
type Role struct {
	ID           uint         `json:"id" gorm:"primaryKey"`
	Name         string       `json:"name" gorm:"uniqueIndex;not null"`
	Description  string       `json:"description"`
	Active       bool         `json:"active" gorm:"default:true"`
	IsSystemRole bool         `json:"isSystemRole" gorm:"default:false"`
	Permissions  []Permission `json:"permissions,omitempty" gorm:"many2many:role_permissions;"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// PermissionRef identifies a permission independent of its row.
type PermissionRef struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
}

func (r PermissionRef) String() string {
	return r.Action + ":" + r.Resource
}

// PermissionSet is the effective authority of a user.
type PermissionSet map[PermissionRef]struct{}

// EffectivePermissions is the union of active permissions across the user's active roles.
// Roles and their permissions must be preloaded.
func EffectivePermissions(u *User) PermissionSet {
	set := PermissionSet{}
	if u == nil {
		return set
	}
	for _, role := range u.Roles {
		if !role.Active {
			continue
		}
		for _, p := range role.Permissions {
			if !p.Active {
				continue
			}
			set[PermissionRef{Action: strings.ToLower(p.ActionCode), Resource: p.Resource}] = struct{}{}
		}
	}
	return set
}

// Allows reports whether the set grants action on resource, honouring the manage and * wildcards.
func (s PermissionSet) Allows(action, resource string) bool {
	action = strings.ToLower(action)
	for _, a := range []string{action, ActionManage} {
		for _, r := range []string{resource, ResourceAny} {
			if _, ok := s[PermissionRef{Action: a, Resource: r}]; ok {
				return true
			}
		}
	}
	return false
}

// Refs returns the set as a list, for display.
func (s PermissionSet) Refs() []PermissionRef {
	out := make([]PermissionRef, 0, len(s))
	for ref := range s {
		out = append(out, ref)
	}
	return out
}
