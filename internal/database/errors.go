package database

import "errors"

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyMarked is returned when a student already has a record for
	// the course on that day.
	ErrAlreadyMarked = errors.New("already marked")

	// ErrRecordChanged is returned when a record left the state a
	// conditional update expected.
	ErrRecordChanged = errors.New("record changed concurrently")

	// ErrInvalidStatus is returned for statuses outside the closed enum.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrPersistence wraps storage failures that aborted a reconciliation.
	ErrPersistence = errors.New("persistence failure")

	// ErrDimensionMismatch is returned when a template or query has the wrong width.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
