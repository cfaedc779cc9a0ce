package schema

import (
	"fmt"
	"time"
)

// Role is a member's role within a group.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleOwner || r == RoleMember
}

// Group is a named collection of users sharing one item list.
type Group struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	OwnerUserID string    `json:"owner_user_id" yaml:"owner_user_id"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// Validate checks if the Group has valid field values.
func (g *Group) Validate() error {
	if g.ID == "" {
		return fmt.Errorf("id is required")
	}
	if g.OwnerUserID == "" {
		return fmt.Errorf("owner_user_id is required")
	}
	return ValidateName(g.Name)
}

// Member links a user to a group.
type Member struct {
	ID        string    `json:"id" yaml:"id"`
	GroupID   string    `json:"group_id" yaml:"group_id"`
	UserID    string    `json:"user_id" yaml:"user_id"`
	Role      Role      `json:"role" yaml:"role"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// UserProfile is the directory entry used when adding members by email.
type UserProfile struct {
	ID       string `json:"id" yaml:"id"`
	Email    string `json:"email" yaml:"email"`
	FullName string `json:"full_name,omitempty" yaml:"full_name,omitempty"`
}

// DisplayName prefers the full name and falls back to the email.
func (u UserProfile) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}
