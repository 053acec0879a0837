package obs

import "fmt"

// APIError is the uniform error shape returned by both the coordinator
// and shard HTTP APIs, and the shape internal/sdk decodes server
// errors into. Every non-2xx response carries one of these, so no
// handler ever returns an empty error body.
type APIError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Detail)
}

// NewAPIError builds an APIError with a formatted detail message.
func NewAPIError(status int, format string, args ...any) *APIError {
	return &APIError{Status: status, Detail: fmt.Sprintf(format, args...)}
}
