// Package memory is a process-local storage backend. It keeps the same
// contract as the durable adapters and is used for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/storage"
)

type Storage struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]models.User
	tokens map[string]models.RefreshToken
}

func New() *Storage {
	return &Storage{
		users:  make(map[int64]models.User),
		tokens: make(map[string]models.RefreshToken),
	}
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.memory.SaveUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		if u.DisplayName == user.DisplayName {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
		}
	}

	s.nextID++
	user.ID = s.nextID
	s.users[user.ID] = user

	return user.ID, nil
}

func (s *Storage) User(ctx context.Context, username string) (models.User, error) {
	const op = "storage.memory.User"

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}

	return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (models.User, error) {
	const op = "storage.memory.UserByID"

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return u, nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, passHash string) error {
	const op = "storage.memory.UpdatePassword"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	u.PassHash = passHash
	s.users[userID] = u

	return nil
}

func (s *Storage) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	const op = "storage.memory.UpdateDisplayName"

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	for id, other := range s.users {
		if id != userID && other.DisplayName == displayName {
			return fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
		}
	}
	u.DisplayName = displayName
	s.users[userID] = u

	return nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.memory.SaveRefreshToken"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
	}
	s.tokens[token.ID] = token

	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (models.RefreshToken, error) {
	const op = "storage.memory.RefreshToken"

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[id]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}

	return t, nil
}

func (s *Storage) MarkRefreshTokenUsed(ctx context.Context, id string) error {
	const op = "storage.memory.MarkRefreshTokenUsed"

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}
	if t.Used {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenAlreadyUsed)
	}
	t.Used = true
	s.tokens[id] = t

	return nil
}

func (s *Storage) Close() error { return nil }
