// Package auth guards the agent control endpoint with a shared admin
// token. It avoids policy decisions and storage concerns: the token
// itself is delivered through the trusted secret source.
package auth

import (
	"crypto/subtle"
	"errors"
)

var ErrUnauthorized = errors.New("auth: unauthorized")

// Validator validates an admin token presented on a control request.
type Validator interface {
	Validate(token string) error
}

// StaticToken compares against one shared token in constant time. An
// empty stored token denies everything; callers that want an open
// endpoint skip the validator instead.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
