package auth

import "time"

// WildcardPermission grants every permission check when present in a role.
const WildcardPermission = "*"

// User is the credential record. Refresh sessions are embedded in it and are
// only ever changed through the store's session operations.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Permissions  []string  `json:"permissions"`
	Sessions     Sessions  `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role groups permissions under a name referenced by users.
type Role struct {
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions"`
	Protected   bool      `json:"protected"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasWildcard reports whether the role grants everything.
func (r Role) HasWildcard() bool {
	for _, p := range r.Permissions {
		if p == WildcardPermission {
			return true
		}
	}
	return false
}

// Permission is an entry of the permission catalog.
type Permission struct {
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Protected   bool      `json:"protected"`
	CreatedAt   time.Time `json:"created_at"`
}

// Origin describes where a request came from.
type Origin struct {
	IP        string
	UserAgent string
}
