package model

import "fmt"

// ErrorCategory classifies why an analysis failed.
type ErrorCategory int

const (
	// ErrorUnknown covers 2xx responses that could not be decoded into a result.
	ErrorUnknown ErrorCategory = iota
	// ErrorNetwork means no response was obtained (DNS, refused, timeout).
	ErrorNetwork
	// ErrorBackendStatus means the backend answered with a non-2xx status.
	ErrorBackendStatus
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorNetwork:
		return "Network"
	case ErrorBackendStatus:
		return "BackendStatus"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the category by name.
func (c ErrorCategory) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *ErrorCategory) UnmarshalText(b []byte) error {
	switch string(b) {
	case "Network":
		*c = ErrorNetwork
	case "BackendStatus":
		*c = ErrorBackendStatus
	case "Unknown":
		*c = ErrorUnknown
	default:
		return fmt.Errorf("unknown error category %q", b)
	}
	return nil
}

// ErrorInfo is a classified, user-facing analysis failure.
// HTTPStatus is zero when no status was received.
type ErrorInfo struct {
	Category   ErrorCategory `json:"category"`
	Message    string        `json:"message"`
	HTTPStatus int           `json:"http_status,omitempty"`
}

func (e *ErrorInfo) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Category, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// HasStatus reports whether the backend returned an HTTP status.
func (e *ErrorInfo) HasStatus() bool {
	return e.HTTPStatus != 0
}

// NetworkError builds a Network failure.
func NetworkError(msg string) *ErrorInfo {
	return &ErrorInfo{Category: ErrorNetwork, Message: msg}
}

// StatusError builds a BackendStatus failure.
func StatusError(status int, msg string) *ErrorInfo {
	return &ErrorInfo{Category: ErrorBackendStatus, Message: msg, HTTPStatus: status}
}

// UnknownError builds an Unknown failure.
func UnknownError(msg string) *ErrorInfo {
	return &ErrorInfo{Category: ErrorUnknown, Message: msg}
}
