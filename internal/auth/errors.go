package auth

import "errors"

var (
	// ErrUnauthorized represents missing or invalid authentication tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a valid principal lacks the required role.
	ErrForbidden = errors.New("forbidden")
)
