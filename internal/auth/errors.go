package auth

import "errors"

var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrInvalidPrincipal = errors.New("auth: invalid principal")
	ErrUnauthenticated  = errors.New("auth: unauthenticated")
	ErrMissingSecret    = errors.New("auth: signing secret is not configured")
)
