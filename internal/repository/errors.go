package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrQuotaExceeded indicates a conditional usage increment did not apply.
	ErrQuotaExceeded = errors.New("repository: quota exceeded")
)
