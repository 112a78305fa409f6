package domain

import "errors"

var (
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrPrincipalInactive = errors.New("principal is inactive")
	ErrMissingToken      = errors.New("authentication token required")
	ErrInvalidToken      = errors.New("invalid token")
	ErrUnknownRole       = errors.New("unknown account role")
	ErrRegistryStopped   = errors.New("connection registry stopped")
	ErrMalformedFrame    = errors.New("malformed frame")
)
