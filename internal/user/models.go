// Package user manages portal accounts: applicants, admins, and the
// super-admin operations that change roles and account status.
package user

import (
	"time"

	"certreg/pkg/requestcontext"
)

type User struct {
	ID           int64              `json:"id"`
	Email        string             `json:"email"`
	FullName     string             `json:"full_name"`
	PasswordHash string             `json:"-"`
	Role         requestcontext.Role `json:"role"`
	Active       bool               `json:"active"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IsStaff reports whether the user may act on other people's applications.
func (u *User) IsStaff() bool {
	return u.Role.IsStaff()
}
