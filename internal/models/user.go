package models

import "strings"

// Roles carried in issued tokens.
const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
)

// User is a registered account. PasswordHash keeps the "password" key of
// existing users files; it never holds plaintext.
type User struct {
	Email        string `json:"email"`
	PasswordHash string `json:"password"`
	Role         string `json:"role,omitempty"`
}

// NormalizeEmail trims and lower-cases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
