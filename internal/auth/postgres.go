package auth

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"campusgrid.org/internal/ids"
)

// OpenDB opens a pooled database handle using the pgx stdlib driver.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// PGUserStore implements UserStore on PostgreSQL.
type PGUserStore struct {
	db *sql.DB
}

var _ UserStore = (*PGUserStore)(nil)

func NewPGUserStore(db *sql.DB) *PGUserStore {
	return &PGUserStore{db: db}
}

const userColumns = `id, email, full_name, password_hash, role, active, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.Role, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *PGUserStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, full_name, password_hash, role, active) values($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Email, u.FullName, u.PasswordHash, u.Role, u.Active,
	)
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrAlreadyExists
	}
	return err
}

func (s *PGUserStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *PGUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email)
	return scanUser(row)
}

func (s *PGUserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PGUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if _, err := s.db.ExecContext(ctx,
			`update users set email=$1, updated_at=now() where id=$2`, email, id); err != nil {
			if strings.Contains(err.Error(), "duplicate key") {
				return nil, ErrAlreadyExists
			}
			return nil, err
		}
	}
	if upd.FullName != nil {
		if _, err := s.db.ExecContext(ctx,
			`update users set full_name=$1, updated_at=now() where id=$2`,
			strings.TrimSpace(*upd.FullName), id); err != nil {
			return nil, err
		}
	}
	return s.Find(ctx, id)
}

func (s *PGUserStore) SetRole(ctx context.Context, id string, role Role) (*User, error) {
	res, err := s.db.ExecContext(ctx,
		`update users set role=$1, updated_at=now() where id=$2`, role, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Find(ctx, id)
}

func (s *PGUserStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set active=false, updated_at=now() where id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// PGRefreshTokenStore implements RefreshTokenStore on PostgreSQL.
type PGRefreshTokenStore struct {
	db *sql.DB
}

var _ RefreshTokenStore = (*PGRefreshTokenStore)(nil)

func NewPGRefreshTokenStore(db *sql.DB) *PGRefreshTokenStore {
	return &PGRefreshTokenStore{db: db}
}

func (s *PGRefreshTokenStore) Create(ctx context.Context, tok *RefreshToken) error {
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at) values($1,$2,$3,$4)`,
		tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt,
	)
	return err
}

func (s *PGRefreshTokenStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, revoked from refresh_tokens where id=$1`, id)
	var tok RefreshToken
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tok, nil
}

func (s *PGRefreshTokenStore) MarkRevoked(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where id=$1`, id)
	return err
}

func (s *PGRefreshTokenStore) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked=true where user_id=$1`, userID)
	return err
}
