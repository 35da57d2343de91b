package auth

import (
	"context"
	"errors"
	"net"

	"judgeauth/internal/domain/models"
	"judgeauth/internal/services/auth"
	"judgeauth/internal/services/presence"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// msgAuthFailed is the only message a caller gets for any rejected
// credential, whichever check failed.
const msgAuthFailed = "authentication failed"

type Auth interface {
	Register(
		ctx context.Context,
		username string,
		displayName string,
		password string,
	) (userID int64, err error)
	Login(
		ctx context.Context,
		username string,
		password string,
	) (models.TokenPair, error)
	RefreshWithAccessToken(
		ctx context.Context,
		refreshID string,
		accessToken string,
	) (models.TokenPair, error)
	IsAdmin(
		ctx context.Context,
		userID int64,
	) (bool, error)
	ChangePassword(
		ctx context.Context,
		userID int64,
		oldPassword string,
		newPassword string,
	) error
	ChangeDisplayName(
		ctx context.Context,
		userID int64,
		displayName string,
	) error
}

type Presence interface {
	Connect(connID string, claims models.AccessClaims)
	Disconnect(connID string) bool
	Online() []presence.Member
}

type LoginLimiter interface {
	Allow(key string) bool
}

type serverAPI struct {
	auth     Auth
	presence Presence
	limiter  LoginLimiter
}

// Register installs the Auth service on gRPC. limiter may be nil.
func Register(gRPC *grpc.Server, auth Auth, presence Presence, limiter LoginLimiter) {
	gRPC.RegisterService(&serviceDesc, &serverAPI{
		auth:     auth,
		presence: presence,
		limiter:  limiter,
	})
}

func (s *serverAPI) Register(
	ctx context.Context,
	req *RegisterRequest,
) (*RegisterResponse, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}
	if req.DisplayName == "" {
		return nil, status.Error(codes.InvalidArgument, "show_name is required")
	}
	if req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	userID, err := s.auth.Register(ctx, req.Username, req.DisplayName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserAlreadyExists):
			return nil, status.Error(codes.AlreadyExists, "user already exists")
		case errors.Is(err, auth.ErrDisplayNameTaken):
			return nil, status.Error(codes.AlreadyExists, "show_name already taken")
		}
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return &RegisterResponse{UserID: userID}, nil
}

func (s *serverAPI) Login(
	ctx context.Context,
	req *LoginRequest,
) (*TokenPair, error) {
	if req.Username == "" {
		return nil, status.Error(codes.InvalidArgument, "username is required")
	}
	if req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "password is required")
	}

	if s.limiter != nil && !s.limiter.Allow(loginKey(ctx, req.Username)) {
		return nil, status.Error(codes.ResourceExhausted, "too many login attempts")
	}

	pair, err := s.auth.Login(ctx, req.Username, req.Password)
	if err != nil {
		return nil, authError(err)
	}

	return toTokenPair(pair), nil
}

func (s *serverAPI) Refresh(
	ctx context.Context,
	req *RefreshRequest,
) (*TokenPair, error) {
	if req.RefreshToken == "" || req.AccessToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh_token and access_token are required")
	}

	pair, err := s.auth.RefreshWithAccessToken(ctx, req.RefreshToken, req.AccessToken)
	if err != nil {
		return nil, authError(err)
	}

	return toTokenPair(pair), nil
}

func (s *serverAPI) Me(
	ctx context.Context,
	_ *MeRequest,
) (*MeResponse, error) {
	claims, err := callerClaims(ctx)
	if err != nil {
		return nil, err
	}

	return &MeResponse{
		UserID:      claims.UserID,
		Username:    claims.Username,
		DisplayName: claims.DisplayName,
		Role:        claims.Role.String(),
		Rating:      claims.Rating,
		ExpiresAt:   claims.ExpiresAt.Unix(),
	}, nil
}

func (s *serverAPI) IsAdmin(
	ctx context.Context,
	req *IsAdminRequest,
) (*IsAdminResponse, error) {
	if req.UserID == 0 {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}

	isAdmin, err := s.auth.IsAdmin(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return &IsAdminResponse{IsAdmin: isAdmin}, nil
}

func (s *serverAPI) ChangePassword(
	ctx context.Context,
	req *ChangePasswordRequest,
) (*ChangePasswordResponse, error) {
	claims, err := callerClaims(ctx)
	if err != nil {
		return nil, err
	}
	if req.OldPassword == "" || req.NewPassword == "" {
		return nil, status.Error(codes.InvalidArgument, "old_password and new_password are required")
	}

	if err := s.auth.ChangePassword(ctx, claims.UserID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, authError(err)
	}

	return &ChangePasswordResponse{}, nil
}

func (s *serverAPI) ChangeDisplayName(
	ctx context.Context,
	req *ChangeDisplayNameRequest,
) (*ChangeDisplayNameResponse, error) {
	claims, err := callerClaims(ctx)
	if err != nil {
		return nil, err
	}
	if req.DisplayName == "" {
		return nil, status.Error(codes.InvalidArgument, "show_name is required")
	}

	if err := s.auth.ChangeDisplayName(ctx, claims.UserID, req.DisplayName); err != nil {
		switch {
		case errors.Is(err, auth.ErrDisplayNameTaken):
			return nil, status.Error(codes.AlreadyExists, "show_name already taken")
		case errors.Is(err, auth.ErrUserNotFound):
			return nil, status.Error(codes.NotFound, "user not found")
		}
		return nil, status.Error(codes.Internal, "internal server error")
	}

	return &ChangeDisplayNameResponse{}, nil
}

func (s *serverAPI) Heartbeat(
	ctx context.Context,
	_ *HeartbeatRequest,
) (*HeartbeatResponse, error) {
	claims, err := callerClaims(ctx)
	if err != nil {
		return nil, err
	}

	s.presence.Connect(claims.TokenID, claims)

	return &HeartbeatResponse{}, nil
}

func (s *serverAPI) Leave(
	ctx context.Context,
	_ *LeaveRequest,
) (*LeaveResponse, error) {
	claims, err := callerClaims(ctx)
	if err != nil {
		return nil, err
	}

	s.presence.Disconnect(claims.TokenID)

	return &LeaveResponse{}, nil
}

func (s *serverAPI) OnlineUsers(
	ctx context.Context,
	_ *OnlineUsersRequest,
) (*OnlineUsersResponse, error) {
	if _, err := callerClaims(ctx); err != nil {
		return nil, err
	}

	members := s.presence.Online()
	users := make([]OnlineUser, 0, len(members))
	for _, m := range members {
		users = append(users, OnlineUser{
			UserID:      m.UserID,
			Username:    m.Username,
			DisplayName: m.DisplayName,
			Role:        m.Role.String(),
			Rating:      m.Rating,
		})
	}

	return &OnlineUsersResponse{Users: users}, nil
}

// loginKey scopes login throttling to one username from one client host, so
// a flood from a single peer does not lock the account for everybody else.
func loginKey(ctx context.Context, username string) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return username
	}
	host := p.Addr.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return username + "@" + host
}

func callerClaims(ctx context.Context) (models.AccessClaims, error) {
	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		return models.AccessClaims{}, status.Error(codes.Unauthenticated, msgAuthFailed)
	}
	return claims, nil
}

// authError hides which credential check failed. Storage faults are not a
// verdict on the credentials and surface as Internal.
func authError(err error) error {
	if errors.Is(err, auth.ErrStorageFailure) {
		return status.Error(codes.Internal, "internal server error")
	}
	if errors.Is(err, auth.ErrInvalidCredentials) ||
		errors.Is(err, auth.ErrTokenInvalid) ||
		errors.Is(err, auth.ErrTokenMismatch) ||
		errors.Is(err, auth.ErrTokenExpired) ||
		errors.Is(err, auth.ErrTokenAlreadyUsed) ||
		errors.Is(err, auth.ErrAccessTokenInvalid) {
		return status.Error(codes.Unauthenticated, msgAuthFailed)
	}
	return status.Error(codes.Internal, "internal server error")
}

func toTokenPair(p models.TokenPair) *TokenPair {
	return &TokenPair{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshTokenID,
	}
}
