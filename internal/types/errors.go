package types

import (
	"errors"
	"fmt"
)

// Code is one of the stable error codes surfaced to callers and audit
// records per the error taxonomy.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodeAuth             Code = "AUTH_ERROR"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeSCMError         Code = "SCM_ERROR"
	CodeLLMTransient     Code = "LLM_TRANSIENT"
	CodeLLMSchemaInvalid Code = "LLM_SCHEMA_INVALID"
	CodeLLMTimeout       Code = "LLM_TIMEOUT"
	CodeSCMTimeout       Code = "SCM_TIMEOUT"
	CodeDBTimeout        Code = "DB_TIMEOUT"
	CodePipelineTimeout  Code = "PIPELINE_TIMEOUT"
	CodeStateIllegal     Code = "STATE_ILLEGAL"
	CodeDiffMalformed    Code = "DIFF_MALFORMED"
	CodeInternal         Code = "INTERNAL"
)

// RetryableError represents an error that indicates the operation can be
// retried. Used for transient errors like network timeouts, rate limits,
// or temporary server unavailability.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an existing error as a RetryableError.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// ClassifiedError carries a stable Code alongside the underlying cause, so
// the pipeline driver can decide FAIL vs retry without string matching.
type ClassifiedError struct {
	Code    Code
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

func newClassified(code Code, msg string, cause error) *ClassifiedError {
	return &ClassifiedError{Code: code, Message: msg, Err: cause}
}

// ValidationError: malformed change-request ref, unknown provider, bad
// JSON body. Surfaced as HTTP 400.
func ValidationError(msg string, cause error) error {
	return newClassified(CodeValidation, msg, cause)
}

// AuthError: SCM authentication failure (401) or resource not found (404).
func AuthError(msg string, cause error) error {
	return newClassified(CodeAuth, msg, cause)
}

// NotFoundError: requested resource does not exist (404).
func NotFoundError(msg string, cause error) error {
	return newClassified(CodeNotFound, msg, cause)
}

// RateLimitedError: upstream rate limit (429), caller should honor the
// reset hint carried in msg.
func RateLimitedError(msg string, cause error) error {
	return newClassified(CodeRateLimited, msg, cause)
}

// TransientError: SCM 5xx or LLM network error, retried by the Resilience
// Toolkit; on exhaustion the review fails with the given terminal code
// (SCM_ERROR or LLM_TRANSIENT).
func TransientError(code Code, msg string, cause error) error {
	return newClassified(code, msg, cause)
}

// SchemaError: LLM response failed schema validation after the single
// strict retry.
func SchemaError(msg string, cause error) error {
	return newClassified(CodeLLMSchemaInvalid, msg, cause)
}

// TimeoutError: classified timeout, terminal for the owning review.
func TimeoutError(code Code, msg string, cause error) error {
	return newClassified(code, msg, cause)
}

// InternalError: illegal state transitions, malformed diffs, or any
// unexpected failure. Surfaced as HTTP 500; an audit record is written.
func InternalError(code Code, msg string, cause error) error {
	if code == "" {
		code = CodeInternal
	}
	return newClassified(code, msg, cause)
}

// DiffMalformedError reports a parse failure at a specific line.
func DiffMalformedError(line int, reason string) error {
	return newClassified(CodeDiffMalformed, fmt.Sprintf("line %d: %s", line, reason), nil)
}

// StateIllegalError reports an attempted illegal review state transition.
func StateIllegalError(from, to string) error {
	return newClassified(CodeStateIllegal, fmt.Sprintf("illegal transition %s -> %s", from, to), nil)
}

// CodeOf extracts the stable Code from err, if it (or something it wraps)
// is a *ClassifiedError. Returns CodeInternal otherwise.
func CodeOf(err error) Code {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeInternal
}

// IsRetryable reports whether err should be retried by resilience.Retry
// rather than immediately failing the review.
func IsRetryable(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	switch CodeOf(err) {
	case CodeSCMError, CodeLLMTransient, CodeRateLimited:
		return true
	default:
		return false
	}
}
