package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrAccountCodeTaken indicates the generated account code already exists.
	ErrAccountCodeTaken = errors.New("repository: account code taken")
)
