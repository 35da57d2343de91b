// Package postgres stores users and refresh tokens in PostgreSQL through the
// pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/storage"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const constraintShowName = "users_show_name_key"

type Storage struct {
	db *sql.DB
}

func New(dsn string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.postgres.SaveUser"

	role := user.Role
	if role == models.RoleUnknown {
		role = models.RoleUser
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, show_name, pass_hash, role, rating) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		user.Username, user.DisplayName, user.PassHash, role.String(), user.Rating,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == constraintShowName {
				return 0, fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
			}
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, username string) (models.User, error) {
	const op = "storage.postgres.User"

	user, err := s.scanUser(ctx,
		`SELECT id, username, show_name, pass_hash, role, rating FROM users WHERE username = $1`, username)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (models.User, error) {
	const op = "storage.postgres.UserByID"

	user, err := s.scanUser(ctx,
		`SELECT id, username, show_name, pass_hash, role, rating FROM users WHERE id = $1`, userID)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, passHash string) error {
	const op = "storage.postgres.UpdatePassword"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET pass_hash = $1 WHERE id = $2`, passHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return userUpdated(op, res)
}

func (s *Storage) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	const op = "storage.postgres.UpdateDisplayName"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET show_name = $1 WHERE id = $2`, displayName, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return userUpdated(op, res)
}

func userUpdated(op string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.postgres.SaveRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, jwt_id, expiry_date, used) VALUES ($1, $2, $3, $4, $5)`,
		token.ID, token.UserID, token.JwtID, token.ExpiryDate.UTC(), token.Used)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (models.RefreshToken, error) {
	const op = "storage.postgres.RefreshToken"

	var token models.RefreshToken
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, jwt_id, expiry_date, used FROM refresh_tokens WHERE id = $1`, id,
	).Scan(&token.ID, &token.UserID, &token.JwtID, &token.ExpiryDate, &token.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (s *Storage) MarkRefreshTokenUsed(ctx context.Context, id string) error {
	const op = "storage.postgres.MarkRefreshTokenUsed"

	res, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET used = TRUE WHERE id = $1 AND used = FALSE`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}

	return fmt.Errorf("%s: %w", op, storage.ErrTokenAlreadyUsed)
}

func (s *Storage) scanUser(ctx context.Context, query string, arg any) (models.User, error) {
	var (
		user models.User
		role string
	)
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.DisplayName, &user.PassHash, &role, &user.Rating)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	if user.Role, err = models.ParseRole(role); err != nil {
		return models.User{}, err
	}

	return user, nil
}
