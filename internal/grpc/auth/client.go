package auth

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a thin typed client of the Auth service. Authenticated calls
// need the access token attached with WithAccessToken.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, methodRegister, in, opts...)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*TokenPair, error) {
	return invoke[TokenPair](ctx, c.cc, methodLogin, in, opts...)
}

func (c *Client) Refresh(ctx context.Context, in *RefreshRequest, opts ...grpc.CallOption) (*TokenPair, error) {
	return invoke[TokenPair](ctx, c.cc, methodRefresh, in, opts...)
}

func (c *Client) Me(ctx context.Context, in *MeRequest, opts ...grpc.CallOption) (*MeResponse, error) {
	return invoke[MeResponse](ctx, c.cc, methodMe, in, opts...)
}

func (c *Client) IsAdmin(ctx context.Context, in *IsAdminRequest, opts ...grpc.CallOption) (*IsAdminResponse, error) {
	return invoke[IsAdminResponse](ctx, c.cc, methodIsAdmin, in, opts...)
}

func (c *Client) ChangePassword(ctx context.Context, in *ChangePasswordRequest, opts ...grpc.CallOption) (*ChangePasswordResponse, error) {
	return invoke[ChangePasswordResponse](ctx, c.cc, methodChangePassword, in, opts...)
}

func (c *Client) ChangeDisplayName(ctx context.Context, in *ChangeDisplayNameRequest, opts ...grpc.CallOption) (*ChangeDisplayNameResponse, error) {
	return invoke[ChangeDisplayNameResponse](ctx, c.cc, methodChangeDisplayName, in, opts...)
}

func (c *Client) Heartbeat(ctx context.Context, in *HeartbeatRequest, opts ...grpc.CallOption) (*HeartbeatResponse, error) {
	return invoke[HeartbeatResponse](ctx, c.cc, methodHeartbeat, in, opts...)
}

func (c *Client) Leave(ctx context.Context, in *LeaveRequest, opts ...grpc.CallOption) (*LeaveResponse, error) {
	return invoke[LeaveResponse](ctx, c.cc, methodLeave, in, opts...)
}

func (c *Client) OnlineUsers(ctx context.Context, in *OnlineUsersRequest, opts ...grpc.CallOption) (*OnlineUsersResponse, error) {
	return invoke[OnlineUsersResponse](ctx, c.cc, methodOnlineUsers, in, opts...)
}
