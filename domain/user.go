package domain

import "time"

// Role gates which mutations a principal may perform on items it does not own.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleRestricted Role = "restricted"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleRestricted
}

// User is a household member. An authenticated user acting on a request is
// the principal of that request.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
