package auth

import (
	"context"

	"google.golang.org/grpc"
)

const ServiceName = "judge.auth.v1.Auth"

// AuthServer is the server side of the Auth service.
type AuthServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*TokenPair, error)
	Refresh(context.Context, *RefreshRequest) (*TokenPair, error)
	Me(context.Context, *MeRequest) (*MeResponse, error)
	IsAdmin(context.Context, *IsAdminRequest) (*IsAdminResponse, error)
	ChangePassword(context.Context, *ChangePasswordRequest) (*ChangePasswordResponse, error)
	ChangeDisplayName(context.Context, *ChangeDisplayNameRequest) (*ChangeDisplayNameResponse, error)
	Heartbeat(context.Context, *HeartbeatRequest) (*HeartbeatResponse, error)
	Leave(context.Context, *LeaveRequest) (*LeaveResponse, error)
	OnlineUsers(context.Context, *OnlineUsersRequest) (*OnlineUsersResponse, error)
}

const (
	methodRegister          = "Register"
	methodLogin             = "Login"
	methodRefresh           = "Refresh"
	methodMe                = "Me"
	methodIsAdmin           = "IsAdmin"
	methodChangePassword    = "ChangePassword"
	methodChangeDisplayName = "ChangeDisplayName"
	methodHeartbeat         = "Heartbeat"
	methodLeave             = "Leave"
	methodOnlineUsers       = "OnlineUsers"
)

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodRegister, AuthServer.Register),
		unary(methodLogin, AuthServer.Login),
		unary(methodRefresh, AuthServer.Refresh),
		unary(methodMe, AuthServer.Me),
		unary(methodIsAdmin, AuthServer.IsAdmin),
		unary(methodChangePassword, AuthServer.ChangePassword),
		unary(methodChangeDisplayName, AuthServer.ChangeDisplayName),
		unary(methodHeartbeat, AuthServer.Heartbeat),
		unary(methodLeave, AuthServer.Leave),
		unary(methodOnlineUsers, AuthServer.OnlineUsers),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

// unary builds the method descriptor for one RPC from its AuthServer method
// expression.
func unary[Req, Resp any](
	name string,
	call func(AuthServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AuthServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AuthServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
