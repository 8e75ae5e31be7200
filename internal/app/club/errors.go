package club

import "fmt"

// Error is an application-layer error that can be mapped to an HTTP response.
type Error struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func notFound(kind, id string) *Error {
	return &Error{
		Status:  404,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found", kind),
		Details: map[string]any{"id": id},
	}
}

func invalid(field, reason string) *Error {
	return &Error{
		Status:  422,
		Code:    "VALIDATION_ERROR",
		Message: "invalid " + field,
		Details: map[string]any{field: reason},
	}
}
