package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveUser_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()

	u := models.User{Username: gofakeit.Username(), DisplayName: gofakeit.Name(), Role: models.RoleUser}
	id, err := s.SaveUser(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	_, err = s.SaveUser(ctx, models.User{Username: u.Username, DisplayName: "other"})
	require.ErrorIs(t, err, storage.ErrUserExists)

	_, err = s.SaveUser(ctx, models.User{Username: "other", DisplayName: u.DisplayName})
	require.ErrorIs(t, err, storage.ErrDisplayNameExists)

	got, err := s.User(ctx, u.Username)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)

	got, err = s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)

	_, err = s.UserByID(ctx, 42)
	require.ErrorIs(t, err, storage.ErrUserNotFound)
	_, err = s.User(ctx, "ghost")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUpdateUser(t *testing.T) {
	ctx := context.Background()
	s := New()

	alice, err := s.SaveUser(ctx, models.User{Username: "alice", DisplayName: "Alice", PassHash: "old"})
	require.NoError(t, err)
	_, err = s.SaveUser(ctx, models.User{Username: "bob", DisplayName: "Bob"})
	require.NoError(t, err)

	require.NoError(t, s.UpdatePassword(ctx, alice, "new"))
	require.NoError(t, s.UpdateDisplayName(ctx, alice, "Alice"))
	require.ErrorIs(t, s.UpdateDisplayName(ctx, alice, "Bob"), storage.ErrDisplayNameExists)
	require.NoError(t, s.UpdateDisplayName(ctx, alice, "Alicia"))

	got, err := s.UserByID(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "new", got.PassHash)
	assert.Equal(t, "Alicia", got.DisplayName)

	require.ErrorIs(t, s.UpdatePassword(ctx, 42, "x"), storage.ErrUserNotFound)
	require.ErrorIs(t, s.UpdateDisplayName(ctx, 42, "x"), storage.ErrUserNotFound)
}

func TestRefreshToken_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	tok := models.RefreshToken{
		ID:         uuid.NewString(),
		UserID:     7,
		JwtID:      uuid.NewString(),
		ExpiryDate: time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, s.SaveRefreshToken(ctx, tok))
	require.ErrorIs(t, s.SaveRefreshToken(ctx, tok), storage.ErrTokenExists)

	got, err := s.RefreshToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.Equal(t, tok, got)

	require.NoError(t, s.MarkRefreshTokenUsed(ctx, tok.ID))
	require.ErrorIs(t, s.MarkRefreshTokenUsed(ctx, tok.ID), storage.ErrTokenAlreadyUsed)
	require.ErrorIs(t, s.MarkRefreshTokenUsed(ctx, "missing"), storage.ErrTokenNotFound)

	got, err = s.RefreshToken(ctx, tok.ID)
	require.NoError(t, err)
	assert.True(t, got.Used)

	_, err = s.RefreshToken(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestMarkRefreshTokenUsed_SingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()

	tok := models.RefreshToken{ID: "r1", UserID: 1, JwtID: "j1", ExpiryDate: time.Now().Add(time.Hour)}
	require.NoError(t, s.SaveRefreshToken(ctx, tok))

	const workers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	start := make(chan struct{})
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			if err := s.MarkRefreshTokenUsed(ctx, tok.ID); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
}
