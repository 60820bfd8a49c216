package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("not running")
	ErrServerAlreadyRunning = errors.New("already running")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheTypeUnknown      = errors.New("cache type unknown")
	ErrCacheReadWrite        = errors.New("cache read/write failed")
	ErrCacheQuotaExceeded    = errors.New("cache quota exceeded")
	ErrCacheEntryCorrupted   = errors.New("cache entry corrupted")
)

var (
	ErrMetricsTypeUnknown = errors.New("metrics type unknown")
)

var (
	ErrClientNotInitialized  = errors.New("client not initialized")
	ErrClientRequestFailed   = errors.New("client request failed")
	ErrClientResponseInvalid = errors.New("client response invalid")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
	ErrMalformedResponse     = errors.New("malformed response")
	ErrUnauthorized          = errors.New("unauthorized")
)

var (
	ErrUpload           = errors.New("upload failed")
	ErrStartExtraction  = errors.New("start extraction failed")
	ErrDomainExtraction = errors.New("extraction failed")
	ErrTaskFailed       = errors.New("task failed")
	ErrPollTimeout      = errors.New("task polling timeout")
	ErrFileRead         = errors.New("file read failed")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
)

// DomainExtractionError is returned when the task itself finished but the
// extraction it ran reported a failure in its payload.
type DomainExtractionError struct {
	TaskID    string
	JobID     string
	Message   string
	ErrorType string
}

func (e *DomainExtractionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDomainExtraction.Error(), e.Message)
}

func (e *DomainExtractionError) Unwrap() error {
	return ErrDomainExtraction
}

// TaskFailedError is a terminal "failure" status reported by the task queue.
type TaskFailedError struct {
	TaskID  string
	Message string
}

func (e *TaskFailedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unknown error", ErrTaskFailed.Error())
	}
	return fmt.Sprintf("%s: %s", ErrTaskFailed.Error(), e.Message)
}

func (e *TaskFailedError) Unwrap() error {
	return ErrTaskFailed
}

type PollTimeoutError struct {
	TaskID     string
	Attempts   int
	LastStatus TaskState
	Elapsed    time.Duration
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("%s: task %s still %q after %d attempts", ErrPollTimeout.Error(), e.TaskID, e.LastStatus, e.Attempts)
}

func (e *PollTimeoutError) Unwrap() error {
	return ErrPollTimeout
}

// HTTPStatusError carries a non-2xx backend reply.
type HTTPStatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *HTTPStatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (e *HTTPStatusError) Unwrap() error {
	if e.StatusCode == 401 || e.StatusCode == 403 {
		return ErrUnauthorized
	}
	return ErrClientResponseInvalid
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrap joins a sentinel with the error that caused it so both match errors.Is.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

func NewError(message string) error {
	return errors.New(message)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
