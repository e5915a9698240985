// Package storage holds the sentinel errors shared by store implementations.
package storage

import "errors"

var (
	ErrNotFound = errors.New("storage: record not found")
	// ErrConflict means a compare-and-swap precondition did not hold.
	ErrConflict = errors.New("storage: concurrent modification")
)
