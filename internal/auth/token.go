package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer = "campusgrid"

	// AccessTokenTTL is fixed policy: every access token expires exactly
	// thirty minutes after issuance.
	AccessTokenTTL = 30 * time.Minute

	refreshTokenTTL = 14 * 24 * time.Hour
)

// Claims are the verified contents of an access token. The role is
// authoritative for the token's lifetime; validation never re-reads the
// credential store.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService issues and validates signed, time-limited access tokens.
type TokenService struct {
	secret   []byte
	issuer   string
	now      func() time.Time
	denylist *Denylist
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) {
		issuer = strings.TrimSpace(issuer)
		if issuer != "" {
			s.issuer = issuer
		}
	}
}

// WithDenylist enables the revocation check during validation.
func WithDenylist(d *Denylist) TokenOption {
	return func(s *TokenService) { s.denylist = d }
}

// NewTokenService constructs a TokenService signing with HS256.
func NewTokenService(secret []byte, opts ...TokenOption) (*TokenService, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &TokenService{
		secret: secret,
		issuer: defaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs an access token binding subject and role. No side effects:
// callers issuing tokens as part of login or registration audit themselves.
func (s *TokenService) Issue(subject string, role Role) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if role == "" {
		return "", time.Time{}, fmt.Errorf("%w: role is required", ErrInvalidInput)
	}

	now := s.now().UTC()
	expiresAt := now.Add(AccessTokenTTL)
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies the signature and claims. An expired but correctly
// signed token fails with ErrTokenExpired; anything malformed or with a bad
// signature fails with ErrInvalidToken. Revoked subjects fail closed.
func (s *TokenService) Validate(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if err := s.validateClaims(claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if s.denylist != nil && s.denylist.Revoked(claims.Subject, claims.IssuedAt.Time) {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

func (s *TokenService) validateClaims(claims *Claims) error {
	if claims.Issuer != s.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if strings.TrimSpace(claims.Role) == "" {
		return errors.New("role missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := s.now().UTC()
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
