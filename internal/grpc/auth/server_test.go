package auth_test

import (
	"context"
	"net"
	"testing"
	"time"

	authgrpc "judgeauth/internal/grpc/auth"
	"judgeauth/internal/lib/handlers/slogdiscard"
	"judgeauth/internal/lib/jwt"
	"judgeauth/internal/lib/password"
	"judgeauth/internal/lib/ratelimit"
	"judgeauth/internal/services/auth"
	"judgeauth/internal/services/presence"
	"judgeauth/internal/storage/memory"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

type suite struct {
	client *authgrpc.Client
	codec  *jwt.Codec
}

func newSuite(t *testing.T, limiter authgrpc.LoginLimiter) suite {
	t.Helper()

	log := slogdiscard.NewDiscardLogger()
	store := memory.New()

	codec, err := jwt.New("grpc-test-secret", time.Hour)
	require.NoError(t, err)

	authService := auth.New(log, store, store, store, codec, password.SHA256{}, auth.DefaultRefreshTokenTTL)
	registry := presence.New(log, time.Minute)

	srv := grpc.NewServer(grpc.UnaryInterceptor(authgrpc.AccessTokenInterceptor(authService)))
	authgrpc.Register(srv, authService, registry, limiter)

	lis := bufconn.Listen(bufSize)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return suite{client: authgrpc.NewClient(conn), codec: codec}
}

func (s suite) registerAndLogin(t *testing.T, ctx context.Context) (*authgrpc.TokenPair, string) {
	t.Helper()

	username := gofakeit.Username() + gofakeit.DigitN(4)
	pass := gofakeit.Password(true, true, true, true, false, 10)

	_, err := s.client.Register(ctx, &authgrpc.RegisterRequest{
		Username:    username,
		DisplayName: gofakeit.Name() + gofakeit.DigitN(4),
		Password:    pass,
	})
	require.NoError(t, err)

	pair, err := s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: pass})
	require.NoError(t, err)

	return pair, username
}

func requireAuthFailed(t *testing.T, err error) {
	t.Helper()

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "authentication failed", st.Message())
}

func TestRegisterLogin_Me(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)

	pair, username := s.registerAndLogin(t, ctx)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	me, err := s.client.Me(authgrpc.WithAccessToken(ctx, pair.AccessToken), &authgrpc.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, username, me.Username)
	assert.Equal(t, "user", me.Role)
	assert.NotZero(t, me.UserID)

	admin, err := s.client.IsAdmin(ctx, &authgrpc.IsAdminRequest{UserID: me.UserID})
	require.NoError(t, err)
	assert.False(t, admin.IsAdmin)

	_, err = s.client.IsAdmin(ctx, &authgrpc.IsAdminRequest{UserID: me.UserID + 100})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestRefresh_RotationAndReplay(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)

	first, _ := s.registerAndLogin(t, ctx)

	second, err := s.client.Refresh(ctx, &authgrpc.RefreshRequest{
		RefreshToken: first.RefreshToken,
		AccessToken:  first.AccessToken,
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// replay of a consumed refresh token
	_, err = s.client.Refresh(ctx, &authgrpc.RefreshRequest{
		RefreshToken: first.RefreshToken,
		AccessToken:  first.AccessToken,
	})
	requireAuthFailed(t, err)

	// new refresh token with the old access token
	_, err = s.client.Refresh(ctx, &authgrpc.RefreshRequest{
		RefreshToken: second.RefreshToken,
		AccessToken:  first.AccessToken,
	})
	requireAuthFailed(t, err)

	// unknown refresh token
	_, err = s.client.Refresh(ctx, &authgrpc.RefreshRequest{
		RefreshToken: "does-not-exist",
		AccessToken:  second.AccessToken,
	})
	requireAuthFailed(t, err)

	// the mismatched attempt must not have burned the record
	_, err = s.client.Refresh(ctx, &authgrpc.RefreshRequest{
		RefreshToken: second.RefreshToken,
		AccessToken:  second.AccessToken,
	})
	require.NoError(t, err)
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)

	_, username := s.registerAndLogin(t, ctx)

	_, err := s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: "wrong"})
	requireAuthFailed(t, err)

	_, err = s.client.Login(ctx, &authgrpc.LoginRequest{Username: "ghost", Password: "wrong"})
	requireAuthFailed(t, err)

	_, err = s.client.Login(ctx, &authgrpc.LoginRequest{Username: username})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestChangeProfile(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)

	username := gofakeit.Username() + gofakeit.DigitN(4)
	pass := gofakeit.Password(true, true, true, true, false, 10)
	newPass := gofakeit.Password(true, true, true, true, false, 10)

	_, err := s.client.Register(ctx, &authgrpc.RegisterRequest{Username: username, DisplayName: "Before", Password: pass})
	require.NoError(t, err)
	_, err = s.client.Register(ctx, &authgrpc.RegisterRequest{Username: "other" + gofakeit.DigitN(4), DisplayName: "Taken", Password: pass})
	require.NoError(t, err)

	pair, err := s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: pass})
	require.NoError(t, err)
	authCtx := authgrpc.WithAccessToken(ctx, pair.AccessToken)

	_, err = s.client.ChangePassword(ctx, &authgrpc.ChangePasswordRequest{OldPassword: pass, NewPassword: newPass})
	requireAuthFailed(t, err)

	_, err = s.client.ChangePassword(authCtx, &authgrpc.ChangePasswordRequest{OldPassword: "wrong", NewPassword: newPass})
	requireAuthFailed(t, err)

	_, err = s.client.ChangePassword(authCtx, &authgrpc.ChangePasswordRequest{OldPassword: pass})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.client.ChangePassword(authCtx, &authgrpc.ChangePasswordRequest{OldPassword: pass, NewPassword: newPass})
	require.NoError(t, err)

	_, err = s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: pass})
	requireAuthFailed(t, err)
	_, err = s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: newPass})
	require.NoError(t, err)

	_, err = s.client.ChangeDisplayName(authCtx, &authgrpc.ChangeDisplayNameRequest{DisplayName: "Taken"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = s.client.ChangeDisplayName(authCtx, &authgrpc.ChangeDisplayNameRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = s.client.ChangeDisplayName(authCtx, &authgrpc.ChangeDisplayNameRequest{DisplayName: "After"})
	require.NoError(t, err)

	// A rotated session picks up the new name.
	next, err := s.client.Refresh(ctx, &authgrpc.RefreshRequest{RefreshToken: pair.RefreshToken, AccessToken: pair.AccessToken})
	require.NoError(t, err)
	me, err := s.client.Me(authgrpc.WithAccessToken(ctx, next.AccessToken), &authgrpc.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "After", me.DisplayName)
}

func TestRegister_Validation(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)

	tests := []struct {
		name string
		req  *authgrpc.RegisterRequest
		code codes.Code
	}{
		{name: "no username", req: &authgrpc.RegisterRequest{DisplayName: "A", Password: "p"}, code: codes.InvalidArgument},
		{name: "no display name", req: &authgrpc.RegisterRequest{Username: "a", Password: "p"}, code: codes.InvalidArgument},
		{name: "no password", req: &authgrpc.RegisterRequest{Username: "a", DisplayName: "A"}, code: codes.InvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.client.Register(ctx, tt.req)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}

	_, err := s.client.Register(ctx, &authgrpc.RegisterRequest{Username: "a", DisplayName: "A", Password: "p"})
	require.NoError(t, err)
	_, err = s.client.Register(ctx, &authgrpc.RegisterRequest{Username: "a", DisplayName: "B", Password: "p"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
	_, err = s.client.Register(ctx, &authgrpc.RegisterRequest{Username: "b", DisplayName: "A", Password: "p"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestLogin_RateLimited(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, ratelimit.NewKeyed(0.001, 2, time.Minute))

	_, username := s.registerAndLogin(t, ctx)

	_, err := s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: "wrong"})
	requireAuthFailed(t, err)

	_, err = s.client.Login(ctx, &authgrpc.LoginRequest{Username: username, Password: "wrong"})
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPresence(t *testing.T) {
	ctx := context.Background()
	s := newSuite(t, nil)

	alice, _ := s.registerAndLogin(t, ctx)
	bob, _ := s.registerAndLogin(t, ctx)
	aliceCtx := authgrpc.WithAccessToken(ctx, alice.AccessToken)
	bobCtx := authgrpc.WithAccessToken(ctx, bob.AccessToken)

	_, err := s.client.Heartbeat(aliceCtx, &authgrpc.HeartbeatRequest{})
	require.NoError(t, err)
	_, err = s.client.Heartbeat(aliceCtx, &authgrpc.HeartbeatRequest{})
	require.NoError(t, err)
	_, err = s.client.Heartbeat(bobCtx, &authgrpc.HeartbeatRequest{})
	require.NoError(t, err)

	online, err := s.client.OnlineUsers(aliceCtx, &authgrpc.OnlineUsersRequest{})
	require.NoError(t, err)
	assert.Len(t, online.Users, 2)

	_, err = s.client.Leave(bobCtx, &authgrpc.LeaveRequest{})
	require.NoError(t, err)

	online, err = s.client.OnlineUsers(aliceCtx, &authgrpc.OnlineUsersRequest{})
	require.NoError(t, err)
	require.Len(t, online.Users, 1)

	_, err = s.client.OnlineUsers(ctx, &authgrpc.OnlineUsersRequest{})
	requireAuthFailed(t, err)

	_, err = s.client.Heartbeat(authgrpc.WithAccessToken(ctx, "garbage"), &authgrpc.HeartbeatRequest{})
	requireAuthFailed(t, err)
}
