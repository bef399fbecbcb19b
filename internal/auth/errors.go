package auth

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrReplayDetected     = errors.New("refresh token replay detected")
	ErrForbidden          = errors.New("forbidden")
	ErrProtected          = errors.New("protected resource")
	ErrConflict           = errors.New("resource conflict")
	ErrNotFound           = errors.New("not found")

	// ErrSessionNotFound is returned by RotateSession when the session being
	// replaced is no longer present.
	ErrSessionNotFound = errors.New("refresh session not found")
)
