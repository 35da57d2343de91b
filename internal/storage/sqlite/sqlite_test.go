package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/migrator"
	"judgeauth/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "auth.db")
	_, err := migrator.SQLite(path)
	require.NoError(t, err)

	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func saveUser(t *testing.T, s *Storage) models.User {
	t.Helper()

	u := models.User{
		Username:    gofakeit.Username() + gofakeit.DigitN(4),
		DisplayName: gofakeit.Name() + gofakeit.DigitN(4),
		PassHash:    gofakeit.UUID(),
		Role:        models.RoleUser,
	}
	id, err := s.SaveUser(context.Background(), u)
	require.NoError(t, err)
	u.ID = id

	return u
}

func TestSaveUser(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	u := saveUser(t, s)

	got, err := s.User(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	got, err = s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = s.SaveUser(ctx, models.User{Username: u.Username, DisplayName: "someone else", PassHash: "x"})
	require.ErrorIs(t, err, storage.ErrUserExists)

	_, err = s.SaveUser(ctx, models.User{Username: "someone-else", DisplayName: u.DisplayName, PassHash: "x"})
	require.ErrorIs(t, err, storage.ErrDisplayNameExists)

	_, err = s.User(ctx, "ghost")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
	_, err = s.UserByID(ctx, 9999)
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	alice := saveUser(t, s)
	bob := saveUser(t, s)

	require.NoError(t, s.UpdatePassword(ctx, alice.ID, "new-digest"))
	require.NoError(t, s.UpdateDisplayName(ctx, alice.ID, "Alice Renamed"))

	got, err := s.UserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "new-digest", got.PassHash)
	assert.Equal(t, "Alice Renamed", got.DisplayName)

	// Keeping one's own name is not a conflict.
	require.NoError(t, s.UpdateDisplayName(ctx, alice.ID, "Alice Renamed"))

	err = s.UpdateDisplayName(ctx, alice.ID, bob.DisplayName)
	require.ErrorIs(t, err, storage.ErrDisplayNameExists)

	require.ErrorIs(t, s.UpdatePassword(ctx, 9999, "x"), storage.ErrUserNotFound)
	require.ErrorIs(t, s.UpdateDisplayName(ctx, 9999, "x"), storage.ErrUserNotFound)
}

func TestSaveUser_DefaultsRole(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)

	id, err := s.SaveUser(ctx, models.User{Username: "alice", DisplayName: "Alice", PassHash: "h"})
	require.NoError(t, err)

	got, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, got.Role)
}

func TestRefreshToken_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	u := saveUser(t, s)

	tok := models.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		JwtID:      uuid.NewString(),
		ExpiryDate: time.Now().Add(48 * time.Hour).Truncate(time.Second),
	}
	require.NoError(t, s.SaveRefreshToken(ctx, tok))
	require.ErrorIs(t, s.SaveRefreshToken(ctx, tok), storage.ErrTokenExists)

	got, err := s.RefreshToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)
	assert.Equal(t, tok.UserID, got.UserID)
	assert.Equal(t, tok.JwtID, got.JwtID)
	assert.True(t, tok.ExpiryDate.Equal(got.ExpiryDate))
	assert.False(t, got.Used)

	require.NoError(t, s.MarkRefreshTokenUsed(ctx, tok.ID))
	require.ErrorIs(t, s.MarkRefreshTokenUsed(ctx, tok.ID), storage.ErrTokenAlreadyUsed)

	got, err = s.RefreshToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, got.Used)

	_, err = s.RefreshToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
	require.ErrorIs(t, s.MarkRefreshTokenUsed(ctx, "missing"), storage.ErrTokenNotFound)
}

func TestMarkRefreshTokenUsed_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := newStorage(t)
	u := saveUser(t, s)

	tok := models.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     u.ID,
		JwtID:      uuid.NewString(),
		ExpiryDate: time.Now().Add(time.Hour),
	}
	require.NoError(t, s.SaveRefreshToken(ctx, tok))

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MarkRefreshTokenUsed(ctx, tok.ID); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, storage.ErrTokenAlreadyUsed)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}
