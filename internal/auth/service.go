package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"campusgrid.org/internal/audit"
	"campusgrid.org/internal/ids"
)

// Service ties the credential store, token issuance and the audit trail
// together into the audited authentication flows.
type Service struct {
	users    UserStore
	refresh  RefreshTokenStore
	tokens   *TokenService
	trail    *audit.Trail
	denylist *Denylist
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source (useful for tests).
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithServiceDenylist lets role changes and deactivations revoke
// outstanding access tokens immediately instead of waiting for expiry.
func WithServiceDenylist(d *Denylist) ServiceOption {
	return func(s *Service) { s.denylist = d }
}

// NewService constructs the auth flow service.
func NewService(users UserStore, refresh RefreshTokenStore, tokens *TokenService, trail *audit.Trail, opts ...ServiceOption) (*Service, error) {
	if users == nil || refresh == nil {
		return nil, errors.New("auth: user and refresh stores are required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	if trail == nil {
		return nil, errors.New("auth: audit trail is required")
	}
	s := &Service{
		users:   users,
		refresh: refresh,
		tokens:  tokens,
		trail:   trail,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register creates a new account with the default student role. Duplicate
// emails are audited as failures before the conflict surfaces.
func (s *Service) Register(ctx context.Context, email, fullName, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         RoleStudent,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			s.audit(ctx, "", audit.ActionRegister, audit.StatusFailure, map[string]string{
				"reason": "email_already_exists",
			})
		}
		return nil, err
	}
	s.audit(ctx, user.ID, audit.ActionRegister, audit.StatusSuccess, nil)
	return user, nil
}

// Login authenticates credentials and mints an access/refresh pair.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		s.audit(ctx, "", audit.ActionLogin, audit.StatusFailure, map[string]string{
			"email": email,
		})
		return TokenPair{}, nil, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.audit(ctx, user.ID, audit.ActionLogin, audit.StatusFailure, map[string]string{
			"email": email,
		})
		return TokenPair{}, nil, ErrUnauthorized
	}
	if !user.Active {
		s.audit(ctx, user.ID, audit.ActionLogin, audit.StatusFailure, map[string]string{
			"reason": "account_inactive",
		})
		return TokenPair{}, nil, ErrForbidden
	}

	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.audit(ctx, user.ID, audit.ActionLogin, audit.StatusSuccess, nil)
	return pair, user, nil
}

// Refresh rotates a refresh token: the old one is revoked and a brand-new
// pair is issued. An expired token is never resurrected.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	record, err := s.refresh.Find(ctx, tokenID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if record.Revoked || s.now().After(record.ExpiresAt) {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if !secureCompareHash(record.TokenHash, secret) {
		_ = s.refresh.MarkRevoked(ctx, record.ID)
		return TokenPair{}, nil, ErrInvalidToken
	}

	user, err := s.users.Find(ctx, record.UserID)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}
	if !user.Active {
		return TokenPair{}, nil, ErrForbidden
	}

	if err := s.refresh.MarkRevoked(ctx, record.ID); err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, userID string) (*User, error) {
	return s.users.Find(ctx, userID)
}

// GetWithPermissions returns a user plus the permission set of their role.
func (s *Service) GetWithPermissions(ctx context.Context, userID string) (*UserWithPermissions, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserWithPermissions{
		User:        *user,
		Permissions: PermissionList(user.Role),
	}, nil
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]*User, error) {
	return s.users.List(ctx)
}

// Update changes profile fields and audits the modification.
func (s *Service) Update(ctx context.Context, userID string, upd UserUpdate) (*User, error) {
	user, err := s.users.Update(ctx, userID, upd)
	if err != nil {
		return nil, err
	}
	details := map[string]string{}
	if upd.Email != nil {
		details["email"] = user.Email
	}
	if upd.FullName != nil {
		details["full_name"] = user.FullName
	}
	s.audit(ctx, userID, audit.ActionUserUpdate, audit.StatusSuccess, details)
	return user, nil
}

// SetRole changes a user's role. The change is audited with old and new
// role, and any outstanding access tokens are revoked: a token's role is
// otherwise authoritative until expiry.
func (s *Service) SetRole(ctx context.Context, userID string, role Role) (*User, error) {
	if !KnownRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	current, err := s.users.Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.SetRole(ctx, userID, role)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, userID, audit.ActionRoleChange, audit.StatusSuccess, map[string]string{
		"old_role": string(current.Role),
		"new_role": string(role),
	})
	if s.denylist != nil {
		s.denylist.Revoke(userID, s.now().UTC())
	}
	return user, nil
}

// Deactivate soft-deletes an account: the record stays, logins stop, and
// outstanding tokens are revoked.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	if err := s.users.Deactivate(ctx, userID); err != nil {
		return err
	}
	s.audit(ctx, userID, audit.ActionUserDeactivate, audit.StatusSuccess, nil)
	if s.denylist != nil {
		s.denylist.Revoke(userID, s.now().UTC())
	}
	return s.refresh.MarkRevokedByUser(ctx, userID)
}

func (s *Service) mintTokens(ctx context.Context, user *User) (TokenPair, error) {
	access, accessExp, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return TokenPair{}, err
	}
	refreshString, record, err := s.generateRefreshToken(user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Create(ctx, record); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshString,
		TokenType:        "bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Service) generateRefreshToken(userID string) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	tokenID := ids.New()
	sum := sha256.Sum256([]byte(secret))
	record := &RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: s.now().UTC().Add(refreshTokenTTL),
	}
	return tokenID + "." + secret, record, nil
}

func (s *Service) audit(ctx context.Context, userID, action, status string, details map[string]string) {
	s.trail.Append(ctx, &audit.Entry{
		UserID:    userID,
		Action:    action,
		Resource:  "user",
		Status:    status,
		IPAddress: ClientIPFromContext(ctx),
		Details:   details,
	})
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
