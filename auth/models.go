package auth

import "time"

type Role string

const (
	RoleUser       Role = "user"
	RoleArbitrator Role = "arbitrator"
	RoleAdmin      Role = "admin"
)

// Actor is the authenticated caller as seen by the domain services.
type Actor struct {
	ID   string
	Role Role
}

// User is the domain representation of an account holder.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
