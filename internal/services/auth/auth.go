package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/lib/metrics"
	"judgeauth/internal/lib/password"
	"judgeauth/internal/lib/sl"
	"judgeauth/internal/storage"

	"github.com/google/uuid"
)

const DefaultRefreshTokenTTL = 48 * time.Hour

type Auth struct {
	log             *slog.Logger
	userSaver       UserSaver
	userProvider    UserProvider
	tokenProvider   RefreshTokenProvider
	codec           TokenCodec
	passwords       password.Verifier
	refreshTokenTTL time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time
	newID           func() string
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) (uid int64, err error)
	UpdatePassword(ctx context.Context, userID int64, passHash string) error
	UpdateDisplayName(ctx context.Context, userID int64, displayName string) error
}

type UserProvider interface {
	User(ctx context.Context, username string) (models.User, error)
	UserByID(ctx context.Context, userID int64) (models.User, error)
}

// RefreshTokenProvider is the credential store. MarkRefreshTokenUsed must be
// an atomic check-and-set: of any number of concurrent callers for one id,
// exactly one gets a nil error.
type RefreshTokenProvider interface {
	SaveRefreshToken(ctx context.Context, token models.RefreshToken) error
	RefreshToken(ctx context.Context, id string) (models.RefreshToken, error)
	MarkRefreshTokenUsed(ctx context.Context, id string) error
}

type TokenCodec interface {
	Sign(user models.User, jti string) (string, error)
	Verify(token string) (models.AccessClaims, error)
	TokenID(token string) (string, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("refresh token invalid")
	ErrTokenMismatch      = errors.New("access token and refresh token do not correspond")
	ErrTokenExpired       = errors.New("refresh token expired")
	ErrTokenAlreadyUsed   = errors.New("refresh token already used")
	ErrStorageFailure     = errors.New("storage failure")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrDisplayNameTaken   = errors.New("display name already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccessTokenInvalid = errors.New("access token invalid")
)

type Option func(*Auth)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auth) { a.metrics = m }
}

// WithClock replaces the time source used for refresh token expiry.
func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// WithIDGenerator replaces the source of token identifiers and refresh token
// ids. The default is a random UUID.
func WithIDGenerator(fn func() string) Option {
	return func(a *Auth) { a.newID = fn }
}

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	tokenProvider RefreshTokenProvider,
	codec TokenCodec,
	passwords password.Verifier,
	refreshTokenTTL time.Duration,
	opts ...Option,
) *Auth {
	if refreshTokenTTL <= 0 {
		refreshTokenTTL = DefaultRefreshTokenTTL
	}

	a := &Auth{
		log:             log,
		userSaver:       userSaver,
		userProvider:    userProvider,
		tokenProvider:   tokenProvider,
		codec:           codec,
		passwords:       passwords,
		refreshTokenTTL: refreshTokenTTL,
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Register creates a regular user. Both the username and the display name
// must be unused.
func (a *Auth) Register(
	ctx context.Context,
	username string,
	displayName string,
	pass string,
) (userID int64, err error) {
	const op = "auth.Register"

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)
	log.Info("registering user")

	defer func() { a.metrics.Register(result(err)) }()

	passHash, err := a.passwords.Digest(pass)
	if err != nil {
		log.Error("failed to digest password", sl.Err(err))
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	userID, err = a.userSaver.SaveUser(ctx, models.User{
		Username:    username,
		DisplayName: displayName,
		PassHash:    passHash,
		Role:        models.RoleUser,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrUserExists):
			log.Warn("user already exists", sl.Err(err))
			return 0, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		case errors.Is(err, storage.ErrDisplayNameExists):
			log.Warn("display name already taken", sl.Err(err))
			return 0, fmt.Errorf("%s: %w", op, ErrDisplayNameTaken)
		}
		log.Error("failed to save user", sl.Err(err))
		return 0, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	log.Info("user registered", slog.Int64("uid", userID))

	return userID, nil
}

// Login checks the credentials and issues a new session. An unknown user and
// a wrong password are indistinguishable to the caller.
func (a *Auth) Login(
	ctx context.Context,
	username string,
	pass string,
) (pair models.TokenPair, err error) {
	const op = "auth.Login"

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)
	log.Info("attempting to login user")

	defer func() { a.metrics.Login(result(err)) }()

	user, err := a.userProvider.User(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	if !a.passwords.Matches(pass, user.PassHash) {
		log.Info("invalid credentials")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err = a.IssueSession(ctx, user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in successfully", slog.Int64("uid", user.ID))

	return pair, nil
}

// IssueSession mints an access token and a refresh token record bound to it
// through a fresh jti. The record is persisted before the pair is returned.
func (a *Auth) IssueSession(ctx context.Context, user models.User) (models.TokenPair, error) {
	const op = "auth.IssueSession"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	jti := a.newID()

	accessToken, err := a.codec.Sign(user, jti)
	if err != nil {
		log.Error("failed to sign access token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	record := models.RefreshToken{
		ID:         a.newID(),
		UserID:     user.ID,
		JwtID:      jti,
		ExpiryDate: a.now().Add(a.refreshTokenTTL),
	}

	if err := a.tokenProvider.SaveRefreshToken(ctx, record); err != nil {
		log.Error("failed to save refresh token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	return models.TokenPair{
		AccessToken:    accessToken,
		RefreshTokenID: record.ID,
	}, nil
}

// Refresh rotates the refresh token refreshID presented together with the
// jti of the access token it was issued with.
//
// Checks run in a fixed order and the first failing one wins: unknown id,
// jti mismatch, expiry, prior use. Only then is the record consumed, and a
// lost race on consumption is reported as already used.
func (a *Auth) Refresh(
	ctx context.Context,
	refreshID string,
	jti string,
) (pair models.TokenPair, err error) {
	const op = "auth.Refresh"

	log := a.log.With(
		slog.String("op", op),
		slog.String("refresh_id", refreshID),
	)
	log.Info("refreshing session")

	defer func() { a.metrics.Refresh(result(err)) }()

	record, err := a.tokenProvider.RefreshToken(ctx, refreshID)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("refresh token not found")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}
		log.Error("failed to get refresh token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	log = log.With(slog.Int64("uid", record.UserID))

	if subtle.ConstantTimeCompare([]byte(record.JwtID), []byte(jti)) != 1 {
		log.Warn("security: refresh token presented with a foreign access token",
			slog.Bool("used", record.Used),
			slog.Time("expiry", record.ExpiryDate),
		)
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenMismatch)
	}

	if record.Expired(a.now()) {
		log.Info("refresh token expired", slog.Time("expiry", record.ExpiryDate))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenExpired)
	}

	if record.Used {
		log.Warn("refresh token reuse")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenAlreadyUsed)
	}

	user, err := a.userProvider.UserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh token owner no longer exists")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	if err := a.tokenProvider.MarkRefreshTokenUsed(ctx, record.ID); err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenAlreadyUsed):
			log.Warn("refresh token consumed concurrently")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenAlreadyUsed)
		case errors.Is(err, storage.ErrTokenNotFound):
			log.Warn("refresh token disappeared")
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenInvalid)
		}
		log.Error("failed to mark refresh token used", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	pair, err = a.IssueSession(ctx, user)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("session refreshed")

	return pair, nil
}

// RefreshWithAccessToken is Refresh for callers holding the access token
// itself. The token may be expired but its signature must be valid.
func (a *Auth) RefreshWithAccessToken(
	ctx context.Context,
	refreshID string,
	accessToken string,
) (models.TokenPair, error) {
	const op = "auth.RefreshWithAccessToken"

	jti, err := a.codec.TokenID(accessToken)
	if err != nil {
		a.log.Warn("unreadable access token on refresh",
			slog.String("op", op),
			slog.String("refresh_id", refreshID),
			sl.Err(err),
		)
		a.metrics.Refresh(result(ErrAccessTokenInvalid))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrAccessTokenInvalid)
	}

	return a.Refresh(ctx, refreshID, jti)
}

// Verify checks an access token and returns its claims.
func (a *Auth) Verify(accessToken string) (models.AccessClaims, error) {
	const op = "auth.Verify"

	claims, err := a.codec.Verify(accessToken)
	if err != nil {
		return models.AccessClaims{}, fmt.Errorf("%s: %w: %w", op, ErrAccessTokenInvalid, err)
	}

	return claims, nil
}

// ChangePassword replaces the password of userID after checking the current
// one. Sessions issued before the change stay valid until they expire.
func (a *Auth) ChangePassword(
	ctx context.Context,
	userID int64,
	oldPass string,
	newPass string,
) (err error) {
	const op = "auth.ChangePassword"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("uid", userID),
	)
	log.Info("changing password")

	defer func() { a.metrics.ProfileUpdate("password", result(err)) }()

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	if !a.passwords.Matches(oldPass, user.PassHash) {
		log.Info("invalid credentials")
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	passHash, err := a.passwords.Digest(newPass)
	if err != nil {
		log.Error("failed to digest password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.userSaver.UpdatePassword(ctx, userID, passHash); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user disappeared", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	log.Info("password changed")

	return nil
}

// ChangeDisplayName renames userID. The new name must not belong to anyone
// else. Access tokens carry the old name until the next refresh.
func (a *Auth) ChangeDisplayName(
	ctx context.Context,
	userID int64,
	displayName string,
) (err error) {
	const op = "auth.ChangeDisplayName"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("uid", userID),
	)
	log.Info("changing display name")

	defer func() { a.metrics.ProfileUpdate("show_name", result(err)) }()

	if err := a.userSaver.UpdateDisplayName(ctx, userID, displayName); err != nil {
		switch {
		case errors.Is(err, storage.ErrUserNotFound):
			log.Warn("user not found", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		case errors.Is(err, storage.ErrDisplayNameExists):
			log.Warn("display name already taken", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrDisplayNameTaken)
		}
		log.Error("failed to update display name", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	log.Info("display name changed")

	return nil
}

// IsAdmin checks if user is admin.
func (a *Auth) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	const op = "auth.IsAdmin"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("uid", userID),
	)
	log.Info("checking if user is admin")

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return false, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return false, fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
	}

	isAdmin := user.Role == models.RoleAdmin
	log.Info("checked if user is admin", slog.Bool("is_admin", isAdmin))

	return isAdmin, nil
}

// result maps an outcome onto its metrics label.
func result(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, ErrAccessTokenInvalid):
		return "invalid_access_token"
	case errors.Is(err, ErrTokenMismatch):
		return "mismatch"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenAlreadyUsed):
		return "already_used"
	case errors.Is(err, ErrUserAlreadyExists), errors.Is(err, ErrDisplayNameTaken):
		return "conflict"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrStorageFailure):
		return "storage_failure"
	default:
		return "error"
	}
}
