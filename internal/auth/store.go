package auth

import "context"

// UserStore is the credential-store contract the AAA layer depends on.
// Implementations must keep user identifiers unique under concurrent
// writers and must never physically delete a user.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
	SetRole(ctx context.Context, id string, role Role) (*User, error)
	Deactivate(ctx context.Context, id string) error
}

// RefreshTokenStore manages the refresh-token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) error
}
