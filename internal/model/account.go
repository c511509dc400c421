package model

import "time"

// Role selects which account table a request operates on.
type Role string

const (
	RoleUser      Role = "user"
	RoleDeveloper Role = "developer"
)

// Account represents a player or developer account stored in the catalog.
// Password holds a bcrypt hash, never the plaintext credential.
type Account struct {
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	IsOnline  bool      `json:"is_online"`
	LastLogin time.Time `json:"last_login"`
	CreatedAt time.Time `json:"created_at"`
	Role      Role      `json:"role"`
}
