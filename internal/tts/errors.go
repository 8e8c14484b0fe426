package tts

import (
	"errors"
	"fmt"
	"strings"
)

// Common narration errors
var (
	// ErrNoEngineConfigured indicates no synthesis engine has been selected
	ErrNoEngineConfigured = errors.New("no synthesis engine configured - specify --engine openai, http or tone")

	// ErrInvalidEngine indicates an unknown engine was specified
	ErrInvalidEngine = errors.New("invalid synthesis engine specified")

	// ErrSynthesisFailed indicates a synthesis call failed or returned nothing
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrDecodeFailed indicates every decode strategy failed
	ErrDecodeFailed = errors.New("audio decode failed")

	// ErrEmptyAudio indicates a decode was attempted on empty input
	ErrEmptyAudio = errors.New("invalid or empty audio buffer")

	// ErrThrottleClosed is returned for tasks that never started because the throttle closed
	ErrThrottleClosed = errors.New("synthesis throttle is closed")

	// ErrPipelineClosed is returned when feeding a closed pipeline
	ErrPipelineClosed = errors.New("pipeline is closed")
)

// TTSError represents a narration error with additional context
type TTSError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *TTSError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *TTSError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match a TTSError against the sentinel of its code.
func (e *TTSError) Is(target error) bool {
	switch e.Code {
	case ErrorCodeSynthesis:
		return target == ErrSynthesisFailed
	case ErrorCodeDecode:
		return target == ErrDecodeFailed
	default:
		return false
	}
}

// ErrorCode identifies specific error types
type ErrorCode string

const (
	// ErrorCodeSynthesis marks a failed or timed out synthesis call
	ErrorCodeSynthesis ErrorCode = "SYNTHESIS_FAILED"

	// ErrorCodeDecode marks exhausted decode strategies
	ErrorCodeDecode ErrorCode = "DECODE_FAILED"

	// ErrorCodeInvalidInput marks bad caller input
	ErrorCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// NewTTSError creates a new narration error with context
func NewTTSError(code ErrorCode, message string, cause error) *TTSError {
	return &TTSError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds context to the error
func (e *TTSError) WithContext(key string, value interface{}) *TTSError {
	e.Context[key] = value
	return e
}

// NewSynthesisError wraps the failure of the synthesis call for one sentence.
func NewSynthesisError(seq int, cause error) *TTSError {
	return NewTTSError(ErrorCodeSynthesis, fmt.Sprintf("sentence %d", seq), cause).
		WithContext("seq", seq)
}

// NewDecodeError joins the failures of every attempted strategy.
func NewDecodeError(attempts map[string]error, order []string) *TTSError {
	if len(order) == 0 {
		return NewTTSError(ErrorCodeDecode, "no decode strategy attempted", ErrEmptyAudio)
	}

	parts := make([]string, 0, len(order))
	errs := make([]error, 0, len(order))
	for _, name := range order {
		err := attempts[name]
		parts = append(parts, name)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	e := NewTTSError(ErrorCodeDecode,
		fmt.Sprintf("all decoding attempts failed (%s)", strings.Join(parts, ", ")),
		errors.Join(errs...))
	return e.WithContext("attempts", len(order))
}

// IsSynthesisError reports whether err is a synthesis failure.
func IsSynthesisError(err error) bool {
	return errors.Is(err, ErrSynthesisFailed)
}

// IsDecodeError reports whether err is a decode failure.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrDecodeFailed)
}

// IsFatal returns true if the error should stop narration. Nothing in the
// pipeline is fatal; synthesis and decode failures drop one sentence.
func (e *TTSError) IsFatal() bool {
	return false
}

// IsRetryable returns true if a new synthesis attempt could succeed
func (e *TTSError) IsRetryable() bool {
	return e.Code == ErrorCodeSynthesis
}
