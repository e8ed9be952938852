package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
)

// PGStore persists the trail in PostgreSQL. The id column is a bigserial,
// which gives the same strictly-increasing guarantee as the atomic counter
// in MemoryStore.
type PGStore struct {
	db *sql.DB
}

var _ Store = (*PGStore)(nil)

// NewPGStore wraps an open database handle (pgx stdlib driver).
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) (int64, error) {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return 0, err
	}
	var userID any
	if entry.UserID != "" {
		userID = entry.UserID
	}
	row := s.db.QueryRowContext(ctx,
		`insert into audit_log(user_id, action, resource, status, ip_address, occurred_at, details)
		 values($1,$2,$3,$4,$5,$6,$7) returning id`,
		userID, entry.Action, entry.Resource, entry.Status, entry.IPAddress, entry.OccurredAt, details,
	)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	entry.ID = id
	return id, nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `select id, coalesce(user_id, ''), action, resource, status, ip_address, occurred_at, details from audit_log`
	var (
		clauses []string
		args    []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		clauses = append(clauses, "user_id = $"+strconv.Itoa(len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		clauses = append(clauses, "action = $"+strconv.Itoa(len(args)))
	}
	if len(clauses) > 0 {
		query += " where " + strings.Join(clauses, " and ")
	}
	if f.Reverse {
		query += " order by id desc"
	} else {
		query += " order by id asc"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.Status, &e.IPAddress, &e.OccurredAt, &details); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &e.Details)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
