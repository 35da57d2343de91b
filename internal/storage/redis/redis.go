// Package redis keeps refresh token records in Redis hashes. It only
// implements the refresh token half of the storage contract; users stay in
// the primary store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/storage"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "rt"

	fieldUserID = "user_id"
	fieldJwtID  = "jwt_id"
	fieldExpiry = "expiry"
	fieldUsed   = "used"

	minTTL = time.Second
)

// KEYS[1] record key
// ARGV user_id, jwt_id, expiry (unix ms), used, ttl (ms, 0 keeps the key)
const saveScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "user_id", ARGV[1], "jwt_id", ARGV[2], "expiry", ARGV[3], "used", ARGV[4])
if tonumber(ARGV[5]) > 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[5])
end
return 1
`

// 0 missing, 1 marked, 2 already used
const markUsedScript = `
local used = redis.call("HGET", KEYS[1], "used")
if not used then
  return 0
end
if used == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "used", "1")
return 1
`

var (
	saveLua     = redis.NewScript(saveScript)
	markUsedLua = redis.NewScript(markUsedScript)
)

type Storage struct {
	client redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

type Option func(*Storage)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Storage) { s.prefix = prefix }
}

// WithRetention lets Redis drop a record d after its logical expiry. By
// default records are kept forever, like in the SQL stores; a refresh past
// the retention window is then reported as unknown instead of expired.
func WithRetention(d time.Duration) Option {
	return func(s *Storage) { s.retention = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.now = now }
}

func New(client redis.UniversalClient, opts ...Option) *Storage {
	s := &Storage{
		client: client,
		prefix: defaultPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) key(id string) string {
	return s.prefix + ":" + id
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.redis.SaveRefreshToken"

	var ttl time.Duration
	if s.retention > 0 {
		ttl = max(token.ExpiryDate.Sub(s.now())+s.retention, minTTL)
	}

	used := "0"
	if token.Used {
		used = "1"
	}

	res, err := saveLua.Run(ctx, s.client, []string{s.key(token.ID)},
		token.UserID, token.JwtID, token.ExpiryDate.UnixMilli(), used, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
	}

	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (models.RefreshToken, error) {
	const op = "storage.redis.RefreshToken"

	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(fields) == 0 {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}

	token, err := decode(id, fields)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return token, nil
}

func (s *Storage) MarkRefreshTokenUsed(ctx context.Context, id string) error {
	const op = "storage.redis.MarkRefreshTokenUsed"

	res, err := markUsedLua.Run(ctx, s.client, []string{s.key(id)}).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch res {
	case 1:
		return nil
	case 2:
		return fmt.Errorf("%s: %w", op, storage.ErrTokenAlreadyUsed)
	default:
		return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}
}

var errCorruptRecord = errors.New("corrupt refresh token record")

func decode(id string, fields map[string]string) (models.RefreshToken, error) {
	userID, err := strconv.ParseInt(fields[fieldUserID], 10, 64)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%w: %s: %v", errCorruptRecord, fieldUserID, err)
	}

	expiry, err := strconv.ParseInt(fields[fieldExpiry], 10, 64)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("%w: %s: %v", errCorruptRecord, fieldExpiry, err)
	}

	jwtID, ok := fields[fieldJwtID]
	if !ok {
		return models.RefreshToken{}, fmt.Errorf("%w: missing %s", errCorruptRecord, fieldJwtID)
	}

	return models.RefreshToken{
		ID:         id,
		UserID:     userID,
		JwtID:      jwtID,
		ExpiryDate: time.UnixMilli(expiry).UTC(),
		Used:       fields[fieldUsed] == "1",
	}, nil
}
