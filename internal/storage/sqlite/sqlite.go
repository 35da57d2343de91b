package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New opens the sqlite database at storagePath. The schema is expected to be
// in place already (see cmd/migrator).
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", storagePath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	stmt, err := s.db.PrepareContext(ctx,
		"INSERT INTO users (username, show_name, pass_hash, role, rating) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, user.Username, user.DisplayName, user.PassHash, roleOrDefault(user.Role), user.Rating)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			if strings.Contains(sqliteErr.Error(), "users.show_name") {
				return 0, fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
			}
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, username string) (models.User, error) {
	const op = "storage.sqlite.User"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, show_name, pass_hash, role, rating FROM users WHERE username = ?", username)

	user, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, username, show_name, pass_hash, role, rating FROM users WHERE id = ?", userID)

	user, err := scanUser(row)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, passHash string) error {
	const op = "storage.sqlite.UpdatePassword"

	res, err := s.db.ExecContext(ctx, "UPDATE users SET pass_hash = ? WHERE id = ?", passHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return userUpdated(op, res)
}

func (s *Storage) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	const op = "storage.sqlite.UpdateDisplayName"

	res, err := s.db.ExecContext(ctx, "UPDATE users SET show_name = ? WHERE id = ?", displayName, userID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
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
	const op = "storage.sqlite.SaveRefreshToken"

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, user_id, jwt_id, expiry_date, used) VALUES (?, ?, ?, ?, ?)",
		token.ID, token.UserID, token.JwtID, token.ExpiryDate.UTC(), token.Used)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (models.RefreshToken, error) {
	const op = "storage.sqlite.RefreshToken"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, jwt_id, expiry_date, used FROM refresh_tokens WHERE id = ?", id)

	var token models.RefreshToken
	if err := row.Scan(&token.ID, &token.UserID, &token.JwtID, &token.ExpiryDate, &token.Used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

// MarkRefreshTokenUsed flips used from false to true in a single conditional
// update, so only one caller can win for a given record.
func (s *Storage) MarkRefreshTokenUsed(ctx context.Context, id string) error {
	const op = "storage.sqlite.MarkRefreshTokenUsed"

	res, err := s.db.ExecContext(ctx, "UPDATE refresh_tokens SET used = 1 WHERE id = ? AND used = 0", id)
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

	var exists int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM refresh_tokens WHERE id = ?", id).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	case err != nil:
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w", op, storage.ErrTokenAlreadyUsed)
}

func scanUser(row *sql.Row) (models.User, error) {
	var (
		user models.User
		role string
	)
	if err := row.Scan(&user.ID, &user.Username, &user.DisplayName, &user.PassHash, &role, &user.Rating); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	r, err := models.ParseRole(role)
	if err != nil {
		return models.User{}, err
	}
	user.Role = r

	return user, nil
}

func roleOrDefault(r models.Role) string {
	if r == models.RoleUnknown {
		return models.RoleUser.String()
	}
	return r.String()
}
