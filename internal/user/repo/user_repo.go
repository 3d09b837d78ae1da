package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/user/entity"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateUsername = errors.New("duplicate username")
	ErrDuplicateEmail    = errors.New("duplicate email")
)

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	const ddl = `
CREATE EXTENSION IF NOT EXISTS citext;
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  user_id VARCHAR(16) NOT NULL UNIQUE,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  username TEXT NOT NULL,
  email CITEXT NOT NULL,
  password TEXT NOT NULL,
  profile_image_url TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'ROLE_USER',
  authorities TEXT[] NOT NULL DEFAULT '{}',
  is_active BOOLEAN NOT NULL DEFAULT true,
  is_not_locked BOOLEAN NOT NULL DEFAULT true,
  join_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  last_login_date TIMESTAMPTZ,
  last_login_date_display TIMESTAMPTZ,
  CONSTRAINT users_username_key UNIQUE (username),
  CONSTRAINT users_email_key UNIQUE (email)
);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

type userRow struct {
	ID                   int64          `db:"id"`
	UserID               string         `db:"user_id"`
	FirstName            string         `db:"first_name"`
	LastName             string         `db:"last_name"`
	Username             string         `db:"username"`
	Email                string         `db:"email"`
	Password             string         `db:"password"`
	ProfileImageURL      string         `db:"profile_image_url"`
	Role                 string         `db:"role"`
	Authorities          pq.StringArray `db:"authorities"`
	Active               bool           `db:"is_active"`
	NotLocked            bool           `db:"is_not_locked"`
	JoinDate             time.Time      `db:"join_date"`
	LastLoginDate        *time.Time     `db:"last_login_date"`
	LastLoginDateDisplay *time.Time     `db:"last_login_date_display"`
}

func (row *userRow) toEntity() *entity.User {
	return &entity.User{
		ID:                   row.ID,
		UserID:               row.UserID,
		FirstName:            row.FirstName,
		LastName:             row.LastName,
		Username:             row.Username,
		Email:                row.Email,
		Password:             row.Password,
		ProfileImageURL:      row.ProfileImageURL,
		Role:                 entity.Role(row.Role),
		Authorities:          []string(row.Authorities),
		Active:               row.Active,
		NotLocked:            row.NotLocked,
		JoinDate:             row.JoinDate,
		LastLoginDate:        row.LastLoginDate,
		LastLoginDateDisplay: row.LastLoginDateDisplay,
	}
}

const selectUser = `SELECT id, user_id, first_name, last_name, username, email, password,
		profile_image_url, role, authorities, is_active, is_not_locked,
		join_date, last_login_date, last_login_date_display
	FROM users`

func (r *UserRepo) getOne(ctx context.Context, where string, arg any) (*entity.User, error) {
	var row userRow
	if err := r.db.GetContext(ctx, &row, selectUser+" WHERE "+where, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// FindByID fetches a full user row.
func (r *UserRepo) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	return r.getOne(ctx, "id=$1", id)
}

// FindByUsername fetches by username.
func (r *UserRepo) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	return r.getOne(ctx, "username=$1", username)
}

// FindByEmail matches case-insensitively due to citext.
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	return r.getOne(ctx, "email=$1", email)
}

func (r *UserRepo) List(ctx context.Context) ([]*entity.User, error) {
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, selectUser+" ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]*entity.User, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

// Save inserts u when u.ID is zero and updates it otherwise. The stored ID is written back to u.
func (r *UserRepo) Save(ctx context.Context, u *entity.User) (*entity.User, error) {
	params := map[string]any{
		"id":                      u.ID,
		"user_id":                 u.UserID,
		"first_name":              u.FirstName,
		"last_name":               u.LastName,
		"username":                u.Username,
		"email":                   u.Email,
		"password":                u.Password,
		"profile_image_url":       u.ProfileImageURL,
		"role":                    string(u.Role),
		"authorities":             pq.StringArray(u.Authorities),
		"is_active":               u.Active,
		"is_not_locked":           u.NotLocked,
		"join_date":               u.JoinDate,
		"last_login_date":         u.LastLoginDate,
		"last_login_date_display": u.LastLoginDateDisplay,
	}
	if u.ID == 0 {
		const q = `INSERT INTO users (user_id,first_name,last_name,username,email,password,profile_image_url,role,authorities,is_active,is_not_locked,join_date,last_login_date,last_login_date_display)
		  VALUES (:user_id,:first_name,:last_name,:username,:email,:password,:profile_image_url,:role,:authorities,:is_active,:is_not_locked,:join_date,:last_login_date,:last_login_date_display) RETURNING id`
		rows, err := r.db.NamedQueryContext(ctx, q, params)
		if err != nil {
			return nil, mapUniqueViolation(err)
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, mapUniqueViolation(err)
			}
			return nil, errors.New("no id returned")
		}
		if err := rows.Scan(&u.ID); err != nil {
			return nil, err
		}
		return u, nil
	}

	const q = `UPDATE users SET first_name=:first_name, last_name=:last_name, username=:username, email=:email,
		password=:password, profile_image_url=:profile_image_url, role=:role, authorities=:authorities,
		is_active=:is_active, is_not_locked=:is_not_locked, last_login_date=:last_login_date,
		last_login_date_display=:last_login_date_display
		WHERE id=:id`
	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *UserRepo) DeleteByID(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// mapUniqueViolation turns a unique_violation (23505) into the matching duplicate error
// so a race between the service's pre-check and the insert still reports the right conflict.
func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return err
	}
	switch {
	case strings.Contains(pqErr.Constraint, "username"):
		return fmt.Errorf("%w: %s", ErrDuplicateUsername, pqErr.Detail)
	case strings.Contains(pqErr.Constraint, "email"):
		return fmt.Errorf("%w: %s", ErrDuplicateEmail, pqErr.Detail)
	default:
		return err
	}
}
