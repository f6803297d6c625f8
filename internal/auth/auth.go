// Package auth is the coarse capability gate. It resolves an acting party
// into one of three roles and nothing more; the game core trusts the
// resulting signal and never sees credentials.
package auth

import (
	"context"
	"strings"

	"github.com/raygc/pintintin/internal/errors"
)

type Role string

const (
	// RoleAdmin is a full-control superset with administrative actions
	// (counter reset, export) on top.
	RoleAdmin Role = "admin"
	// RoleUser may mutate game state.
	RoleUser Role = "user"
	// RoleGuest may only observe.
	RoleGuest Role = "guest"
)

// ParseRole maps an untrusted string to a role, falling back to guest.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleUser:
		return RoleUser
	default:
		return RoleGuest
	}
}

// CanMutate reports whether the role may change game state.
func (r Role) CanMutate() bool {
	return r == RoleAdmin || r == RoleUser
}

// CanAdministrate reports whether the role may run administrative actions.
func (r Role) CanAdministrate() bool {
	return r == RoleAdmin
}

type Config struct {
	AdminUser string
	AdminPass string
}

type Service struct {
	c Config
}

func NewService(c Config) *Service {
	return &Service{c: c}
}

type LoginRequest struct {
	Username string
	Password string
	AsGuest  bool
}

type LoginResponse struct {
	Role     Role
	Username string
}

// Login resolves a login attempt into a role. Guests need nothing, any
// non-empty name enters as user, and the configured admin name requires the
// matching password.
func (s *Service) Login(_ context.Context, req LoginRequest) (*LoginResponse, error) {
	if req.AsGuest {
		name := strings.TrimSpace(req.Username)
		if name == "" {
			name = "Invitado"
		}
		return &LoginResponse{Role: RoleGuest, Username: name}, nil
	}

	name := strings.TrimSpace(req.Username)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("username must not be empty"))
	}

	if s.c.AdminUser != "" && name == s.c.AdminUser {
		if req.Password != s.c.AdminPass {
			return nil, errors.New(errors.CodeUnauthenticated,
				errors.WithMessagef("wrong administrator credentials"))
		}
		return &LoginResponse{Role: RoleAdmin, Username: name}, nil
	}

	return &LoginResponse{Role: RoleUser, Username: name}, nil
}
