package domain

import "errors"

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user already exists")
	ErrEmailTaken      = errors.New("email address already in use")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrInvalidUser     = errors.New("invalid user")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrInvalidSession  = errors.New("invalid session")
)
