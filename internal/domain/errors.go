package domain

import "errors"

var (
	// ErrUnavailable marks a collaborator (history store, fact store) failure.
	// The API reports it as a degraded state rather than a broken one.
	ErrUnavailable = errors.New("collaborator unavailable")

	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("record not found")
	ErrMissingConfig = errors.New("missing required configuration")
)
