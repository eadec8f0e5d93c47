package repository

import "errors"

var (
	// ErrDuplicateResult indicates a record already exists for the run and sequence
	ErrDuplicateResult = errors.New("result already stored")

	// ErrRunNotFound indicates no records exist for a run id
	ErrRunNotFound = errors.New("run not found")

	// ErrRepositoryUnavailable indicates the repository is closed or unreachable
	ErrRepositoryUnavailable = errors.New("repository unavailable")
)
