package auth

import "time"

// User is an account in the credential store. Users are never physically
// deleted; deactivation flips Active and keeps the audit trail intact.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserWithPermissions is the user plus the permission set resolved from
// the role table.
type UserWithPermissions struct {
	User
	Permissions []string `json:"permissions"`
}

// UserUpdate carries optional profile changes. Nil fields are left as-is.
type UserUpdate struct {
	Email    *string
	FullName *string
}

// RefreshToken is the persisted half of an opaque refresh credential.
// Only a sha256 hash of the secret is stored.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
