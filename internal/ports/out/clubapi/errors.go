package clubapi

import (
	"errors"
	"fmt"
)

// Networking error taxonomy. Adapters wrap these sentinels (errors.Is is the
// classification contract) and attach the status code and body where known.
var (
	ErrSessionLoading   = errors.New("session could not be loaded")
	ErrMaxLoginRetries  = errors.New("maximum login retries reached")
	ErrResponseParse    = errors.New("response could not be parsed")
	ErrResponseHeader   = errors.New("response header missing")
	ErrSyncTooSoon      = errors.New("last sync too recent")
	ErrEmptyResponse    = errors.New("empty response")
	ErrNotLoggedIn      = errors.New("not logged in")
	ErrUnauthorized     = errors.New("authentication required")
	ErrClientError      = errors.New("client error")
	ErrHostUnreachable  = errors.New("host unreachable")
	ErrHostError        = errors.New("host error")
	ErrRequestCancelled = errors.New("request cancelled")

	// ErrNotRecognized wraps transport errors that fit no other kind.
	ErrNotRecognized = errors.New("error not recognized")
)

// StatusError carries the HTTP status and body of a non-2xx response.
type StatusError struct {
	Kind   error
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Body) > 0 {
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.Status, e.Body)
	}
	return fmt.Sprintf("%v: status %d", e.Kind, e.Status)
}

func (e *StatusError) Unwrap() error { return e.Kind }

// ClassifyStatus maps a non-2xx status to its error kind.
func ClassifyStatus(status int) error {
	switch {
	case status == 401:
		return ErrUnauthorized
	case status >= 400 && status < 500:
		return ErrClientError
	case status >= 500:
		return ErrHostError
	}
	return ErrNotRecognized
}

// IsAuthFailure reports whether err should trigger the re-login path.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsCancelled reports whether err stems from intentionally cancelled work.
// Callers use it to suppress user-visible error reporting.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRequestCancelled)
}

// TransportError pairs a classified kind with the underlying transport error.
// errors.Is matches both.
type TransportError struct {
	Kind error
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{e.Kind, e.Err} }
