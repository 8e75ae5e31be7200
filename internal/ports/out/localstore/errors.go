package localstore

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist locally.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists indicates an insert collided with an existing id.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("local store closed")
)

// ErrReadOnly indicates a write inside a View transaction.
var ErrReadOnly = errors.New("write in read-only transaction")
