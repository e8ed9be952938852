package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"campusgrid.org/internal/ids"
)

// MemoryUserStore is the reference in-memory credential store. All methods
// copy on the way in and out so callers can never alias stored state.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
	now     func() time.Time
}

var _ UserStore = (*MemoryUserStore)(nil)

// NewMemoryUserStore returns an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryUserStore) Create(ctx context.Context, u *User) error {
	email := strings.TrimSpace(strings.ToLower(u.Email))
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	stored := *u
	s.byID[u.ID] = &stored
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *MemoryUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.byID[id]
	return &out, nil
}

func (s *MemoryUserStore) List(ctx context.Context) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.byID))
	for _, u := range s.byID {
		copied := *u
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" {
			return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
		}
		if other, exists := s.byEmail[email]; exists && other != id {
			return nil, ErrAlreadyExists
		}
		delete(s.byEmail, u.Email)
		u.Email = email
		s.byEmail[email] = id
	}
	if upd.FullName != nil {
		u.FullName = strings.TrimSpace(*upd.FullName)
	}
	u.UpdatedAt = s.now().UTC()
	out := *u
	return &out, nil
}

func (s *MemoryUserStore) SetRole(ctx context.Context, id string, role Role) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = s.now().UTC()
	out := *u
	return &out, nil
}

func (s *MemoryUserStore) Deactivate(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	u.Active = false
	u.UpdatedAt = s.now().UTC()
	return nil
}

// MemoryRefreshTokenStore keeps refresh-token records in process memory.
type MemoryRefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*RefreshToken
	now    func() time.Time
}

var _ RefreshTokenStore = (*MemoryRefreshTokenStore)(nil)

// NewMemoryRefreshTokenStore returns an empty store.
func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		tokens: make(map[string]*RefreshToken),
		now:    time.Now,
	}
}

func (s *MemoryRefreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now().UTC()
	}
	stored := *tok
	s.tokens[tok.ID] = &stored
	return nil
}

func (s *MemoryRefreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *tok
	return &out, nil
}

func (s *MemoryRefreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (s *MemoryRefreshTokenStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tok := range s.tokens {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}
