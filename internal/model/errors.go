package model

import "errors"

var (
	// ErrNotFound is returned by stores when no row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when an admin email is already taken.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrDuplicateCode is returned when a gift-card code collides.
	ErrDuplicateCode = errors.New("gift card code already exists")
	// ErrConflict is returned on concurrent-modification conflicts.
	ErrConflict = errors.New("conflict")
)
