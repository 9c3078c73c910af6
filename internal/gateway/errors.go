package gateway

import (
	"errors"
	"strings"
)

// ValidationError is raised before any network call when the request is
// malformed. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Kind classifies a failed remote call.
type Kind int

const (
	// KindTransient is a presumed-recoverable failure, retried by callers.
	KindTransient Kind = iota
	// KindClient is a request the backend rejected; retrying will not help.
	KindClient
)

func (k Kind) String() string {
	if k == KindClient {
		return "client"
	}
	return "transient"
}

// Error is a failed tenant-data call.
type Error struct {
	Op      Operation
	Table   string
	Kind    Kind
	Code    string // backend error code, when the backend sent one
	Message string
	Err     error // transport error, nil for API errors
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a pre-flight validation failure.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsClientError reports whether err is a validation failure or a request
// the backend rejected.
func IsClientError(err error) bool {
	if IsValidationError(err) {
		return true
	}
	var ge *Error
	return errors.As(err, &ge) && ge.Kind == KindClient
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return err != nil && !IsClientError(err)
}

// clientCodes are the backend error codes that mark a request as rejected.
var clientCodes = map[string]bool{
	"bad_request":      true,
	"validation_error": true,
	"not_found":        true,
	"conflict":         true,
	"forbidden":        true,
	"unauthorized":     true,
}

// clientMarkers is the compatibility shim for backends that send no code:
// the message text decides. Remove once every deployment sends codes.
var clientMarkers = []string{"400", "Bad Request", "required", "Invalid"}

func classify(code, message string) Kind {
	if code != "" {
		if clientCodes[strings.ToLower(code)] {
			return KindClient
		}
		return KindTransient
	}
	for _, marker := range clientMarkers {
		if strings.Contains(message, marker) {
			return KindClient
		}
	}
	return KindTransient
}
