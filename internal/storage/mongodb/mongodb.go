package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	indexUsername = "users_username"
	indexShowName = "users_show_name"
	indexJwtID    = "refresh_tokens_jwt_id"
	indexTokenUID = "refresh_tokens_user_id"

	closeTimeout = 5 * time.Second
)

type Storage struct {
	client   *mongo.Client
	users    *mongo.Collection
	counters *mongo.Collection
	tokens   *mongo.Collection
}

type userDoc struct {
	ID        int64     `bson:"_id"`
	Username  string    `bson:"username"`
	ShowName  string    `bson:"show_name"`
	PassHash  string    `bson:"pass_hash"`
	Role      string    `bson:"role"`
	Rating    int       `bson:"rating"`
	CreatedAt time.Time `bson:"created_at"`
}

type counterDoc struct {
	ID    string `bson:"_id"`
	Value int64  `bson:"value"`
}

type refreshTokenDoc struct {
	ID         string    `bson:"_id"`
	UserID     int64     `bson:"user_id"`
	JwtID      string    `bson:"jwt_id"`
	ExpiryDate time.Time `bson:"expiry_date"`
	Used       bool      `bson:"used"`
}

// New connects to MongoDB and makes sure the unique indexes exist.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		users:    db.Collection("users"),
		counters: db.Collection("counters"),
		tokens:   db.Collection("refresh_tokens"),
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

// EnsureIndexes creates the unique indexes the store relies on for its
// uniqueness errors. It is idempotent.
//
// There is deliberately no TTL index on expiry_date: an expired record must
// still be found so it can be reported as expired.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexUsername),
		},
		{
			Keys:    bson.D{{Key: "show_name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexShowName),
		},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}

	_, err = s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "jwt_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(indexJwtID),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName(indexTokenUID),
		},
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens indexes: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	return s.client.Disconnect(ctx)
}

// nextID atomically increments and returns the next ID for a given collection.
func (s *Storage) nextID(ctx context.Context, collectionName string) (int64, error) {
	filter := bson.D{{Key: "_id", Value: collectionName}}
	update := bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var counter counterDoc
	if err := s.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter); err != nil {
		return 0, err
	}
	return counter.Value, nil
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.mongodb.SaveUser"

	id, err := s.nextID(ctx, "users")
	if err != nil {
		return 0, fmt.Errorf("%s: nextID: %w", op, err)
	}

	role := user.Role
	if role == models.RoleUnknown {
		role = models.RoleUser
	}

	_, err = s.users.InsertOne(ctx, userDoc{
		ID:        id,
		Username:  user.Username,
		ShowName:  user.DisplayName,
		PassHash:  user.PassHash,
		Role:      role.String(),
		Rating:    user.Rating,
		CreatedAt: time.Now(),
	})
	if err != nil {
		switch duplicateIndex(err) {
		case "":
			return 0, fmt.Errorf("%s: %w", op, err)
		case indexShowName:
			return 0, fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
		default:
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
	}

	return id, nil
}

func (s *Storage) User(ctx context.Context, username string) (models.User, error) {
	const op = "storage.mongodb.User"

	user, err := s.findUser(ctx, bson.D{{Key: "username", Value: username}})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (models.User, error) {
	const op = "storage.mongodb.UserByID"

	user, err := s.findUser(ctx, bson.D{{Key: "_id", Value: userID}})
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID int64, passHash string) error {
	const op = "storage.mongodb.UpdatePassword"

	if err := s.updateUser(ctx, userID, "pass_hash", passHash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) UpdateDisplayName(ctx context.Context, userID int64, displayName string) error {
	const op = "storage.mongodb.UpdateDisplayName"

	err := s.updateUser(ctx, userID, "show_name", displayName)
	if err != nil {
		if duplicateIndex(err) == indexShowName {
			return fmt.Errorf("%s: %w", op, storage.ErrDisplayNameExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) updateUser(ctx context.Context, userID int64, field string, value any) error {
	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: field, Value: value}}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

func (s *Storage) findUser(ctx context.Context, filter bson.D) (models.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.User{}, storage.ErrUserNotFound
		}
		return models.User{}, err
	}

	role, err := models.ParseRole(doc.Role)
	if err != nil {
		return models.User{}, err
	}

	return models.User{
		ID:          doc.ID,
		Username:    doc.Username,
		DisplayName: doc.ShowName,
		PassHash:    doc.PassHash,
		Role:        role,
		Rating:      doc.Rating,
	}, nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token models.RefreshToken) error {
	const op = "storage.mongodb.SaveRefreshToken"

	_, err := s.tokens.InsertOne(ctx, refreshTokenDoc{
		ID:         token.ID,
		UserID:     token.UserID,
		JwtID:      token.JwtID,
		ExpiryDate: token.ExpiryDate.UTC(),
		Used:       token.Used,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrTokenExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RefreshToken(ctx context.Context, id string) (models.RefreshToken, error) {
	const op = "storage.mongodb.RefreshToken"

	var doc refreshTokenDoc
	err := s.tokens.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.RefreshToken{}, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.RefreshToken{
		ID:         doc.ID,
		UserID:     doc.UserID,
		JwtID:      doc.JwtID,
		ExpiryDate: doc.ExpiryDate,
		Used:       doc.Used,
	}, nil
}

// MarkRefreshTokenUsed relies on the single-document atomicity of UpdateOne:
// the filter only matches while used is still false.
func (s *Storage) MarkRefreshTokenUsed(ctx context.Context, id string) error {
	const op = "storage.mongodb.MarkRefreshTokenUsed"

	res, err := s.tokens.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "used", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "used", Value: true}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.ModifiedCount == 1 {
		return nil
	}

	n, err := s.tokens.CountDocuments(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
	}

	return fmt.Errorf("%s: %w", op, storage.ErrTokenAlreadyUsed)
}

// duplicateIndex returns the name of the unique index a write collided
// with, or "" if err is not a duplicate key error (code 11000).
func duplicateIndex(err error) string {
	var we mongo.WriteException
	if !errors.As(err, &we) {
		return ""
	}
	for _, e := range we.WriteErrors {
		if e.Code != 11000 {
			continue
		}
		for _, name := range []string{indexShowName, indexUsername} {
			if strings.Contains(e.Message, name) {
				return name
			}
		}
		return "unknown"
	}
	return ""
}
