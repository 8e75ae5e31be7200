package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrParse marks payloads with a wrong shape or missing required fields.
	ErrParse = errors.New("payload could not be parsed")

	// ErrEntityCreation marks a failed stub insert.
	ErrEntityCreation = errors.New("entity could not be created")

	ErrNotImplemented = errors.New("not implemented")
)

// EntityError reports a failed stub creation for one entity kind.
type EntityError struct {
	Kind Kind
	ID   string
	Err  error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %q could not be created: %v", e.Kind, e.ID, e.Err)
}

func (e *EntityError) Unwrap() []error { return []error{ErrEntityCreation, e.Err} }
