package pipeline

import "fmt"

// Kind identifies the pipeline stage outcome that terminated a request.
type Kind string

const (
	KeyInvalid       Kind = "key_invalid"
	OriginRejected   Kind = "origin_rejected"
	RateLimited      Kind = "rate_limited"
	SpamRejected     Kind = "spam_rejected"
	CaptchaFailed    Kind = "captcha_failed"
	ValidationFailed Kind = "validation_failed"
	AuthError        Kind = "auth_error"
	SheetWriteError  Kind = "sheet_write_error"
)

// Error is the terminal result of a pipeline stage. Stages return it as a
// plain value; the orchestrator short-circuits on the first one. Messages
// must stay free of secrets since they are surfaced to callers.
type Error struct {
	Kind    Kind
	Message string

	// RetryAfterSeconds is set for RateLimited only.
	RetryAfterSeconds int

	// FieldErrors is set for ValidationFailed only (field -> problem).
	FieldErrors map[string]string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// StatusCode maps an error kind to the HTTP status the submit endpoint
// responds with.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KeyInvalid:
		return 401
	case OriginRejected:
		return 403
	case RateLimited:
		return 429
	case SpamRejected, ValidationFailed:
		return 422
	case CaptchaFailed:
		return 400
	case AuthError, SheetWriteError:
		return 502
	default:
		return 500
	}
}
