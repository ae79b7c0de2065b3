package domain

import "errors"

var (
	// ErrValidation marks input the caller can correct. Nothing is persisted.
	ErrValidation = errors.New("validation failed")
	// ErrIllegalState marks a transition the state machine does not allow. No mutation is applied.
	ErrIllegalState = errors.New("illegal state")
	// ErrStorageSystem marks a storage backend that rejected a request or timed out.
	ErrStorageSystem = errors.New("storage system error")
	// ErrDuplicateResource marks a backend that already holds the resource.
	ErrDuplicateResource = errors.New("duplicate resource")
	// ErrNotSupported marks an event shape the configured facades cannot route.
	ErrNotSupported = errors.New("not supported")
	// ErrRepository marks an entity store or event log I/O failure.
	ErrRepository = errors.New("repository error")
	// ErrNotFound marks a missing entity or event.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a write that lost against a concurrent change. The
	// caller may reload and retry.
	ErrConflict = errors.New("conflict")
)
