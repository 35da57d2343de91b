package models

import (
	"errors"
	"fmt"
)

// User is a principal as stored by the user store.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	PassHash    string
	Role        Role
	Rating      int
}

// Role is a closed set of account roles.
type Role uint8

const (
	RoleUnknown Role = iota
	RoleUser
	RoleAdmin
)

var ErrUnknownRole = errors.New("unknown role")

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole maps the stored/wire tag onto a Role. Anything outside the known
// set is rejected rather than silently treated as a regular user.
func ParseRole(s string) (Role, error) {
	switch s {
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return RoleUnknown, fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) MarshalText() ([]byte, error) {
	if r != RoleUser && r != RoleAdmin {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRole, r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
