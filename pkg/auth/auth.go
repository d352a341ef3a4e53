// Package auth defines the token validation contract the gateway relies on
// and a JWT-backed default implementation. The gateway never mints tokens; it
// only verifies ones issued by the surrounding identity infrastructure.
package auth

import (
	"errors"
)

// RoleSpecificModels is the role that permits requesting a model by its exact
// identifier rather than by class.
const RoleSpecificModels = "model:specific"

// ErrInvalidToken indicates that a presented token failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity describes an authenticated caller.
type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the identity carries the configured admin role.
func (i Identity) IsAdmin(adminRole string) bool {
	return i.HasRole(adminRole)
}

// Validator validates bearer tokens presented by users and admin sessions.
type Validator interface {
	ValidateToken(token string) (Identity, error)
}
