package auth

// Wire messages of judge.auth.v1 (api/judge/auth/v1/auth.proto). The pb tag
// is the protobuf field number and the json tag the field name; both are
// part of the contract and must not change.

type RegisterRequest struct {
	Username    string `json:"username" pb:"1"`
	DisplayName string `json:"show_name" pb:"2"`
	Password    string `json:"password" pb:"3"`
}

type RegisterResponse struct {
	UserID int64 `json:"user_id" pb:"1"`
}

type LoginRequest struct {
	Username string `json:"username" pb:"1"`
	Password string `json:"password" pb:"2"`
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token" pb:"1"`
	RefreshToken string `json:"refresh_token" pb:"2"`
}

// RefreshRequest carries the refresh token together with the access token it
// was issued alongside. The access token may already be expired.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" pb:"1"`
	AccessToken  string `json:"access_token" pb:"2"`
}

type MeRequest struct{}

type MeResponse struct {
	UserID      int64  `json:"user_id" pb:"1"`
	Username    string `json:"username" pb:"2"`
	DisplayName string `json:"show_name" pb:"3"`
	Role        string `json:"role" pb:"4"`
	Rating      int    `json:"rating" pb:"5"`
	ExpiresAt   int64  `json:"expires_at" pb:"6"`
}

type IsAdminRequest struct {
	UserID int64 `json:"user_id" pb:"1"`
}

type IsAdminResponse struct {
	IsAdmin bool `json:"is_admin" pb:"1"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" pb:"1"`
	NewPassword string `json:"new_password" pb:"2"`
}

type ChangePasswordResponse struct{}

type ChangeDisplayNameRequest struct {
	DisplayName string `json:"show_name" pb:"1"`
}

type ChangeDisplayNameResponse struct{}

type HeartbeatRequest struct{}

type HeartbeatResponse struct{}

type LeaveRequest struct{}

type LeaveResponse struct{}

type OnlineUsersRequest struct{}

type OnlineUser struct {
	UserID      int64  `json:"user_id" pb:"1"`
	Username    string `json:"username" pb:"2"`
	DisplayName string `json:"show_name" pb:"3"`
	Role        string `json:"role" pb:"4"`
	Rating      int    `json:"rating" pb:"5"`
}

type OnlineUsersResponse struct {
	Users []OnlineUser `json:"users" pb:"1"`
}

// wireMessages lists every message of the package in declaration order.
var wireMessages = []any{
	RegisterRequest{},
	RegisterResponse{},
	LoginRequest{},
	TokenPair{},
	RefreshRequest{},
	MeRequest{},
	MeResponse{},
	IsAdminRequest{},
	IsAdminResponse{},
	ChangePasswordRequest{},
	ChangePasswordResponse{},
	ChangeDisplayNameRequest{},
	ChangeDisplayNameResponse{},
	HeartbeatRequest{},
	HeartbeatResponse{},
	LeaveRequest{},
	LeaveResponse{},
	OnlineUsersRequest{},
	OnlineUser{},
	OnlineUsersResponse{},
}
