package common

import "fmt"

const (
	ErrCodeConfiguration    = "configuration"
	ErrCodeRange            = "range"
	ErrCodeEmptySet         = "empty_set"
	ErrCodeLogic            = "logic"
	ErrCodeTransientStorage = "storage.transient"
	ErrCodeStorage          = "storage"

	ErrCodeBadRequestContentExceedsLimit = "bad_request.body.content.exceeds_limit"
	ErrCodeBadRequestContentNotJson      = "bad_request.body.content.not_json"
	ErrCodeBadRequestProcessAfterInPast  = "bad_request.body.processAfter.in_past"
	ErrCodeBadRequestProcessAfterTooFar  = "bad_request.body.processAfter.too_far"
	ErrCodeBadRequestExpiresAfterInPast  = "bad_request.body.expiresAfter.in_past"
	ErrCodeBadRequestInvalidTopic        = "bad_request.topic.invalid"
	ErrCodeBadRequestInvalidBody         = "bad_request.body.invalid"
	ErrCodeBadRequestInvalidQuery        = "bad_request.query.invalid"
	ErrCodeUnauthorized                  = "unauthorized"
	ErrCodeNotFoundMessage               = "not_found.message"
	ErrCodeInternal                      = "internal"
)

var (
	ErrConfiguration    = &QueueError{Code: ErrCodeConfiguration}
	ErrRange            = &QueueError{Code: ErrCodeRange}
	ErrEmptySet         = &QueueError{Code: ErrCodeEmptySet}
	ErrLogic            = &QueueError{Code: ErrCodeLogic}
	ErrTransientStorage = &QueueError{Code: ErrCodeTransientStorage}
	ErrStorage          = &QueueError{Code: ErrCodeStorage}

	ErrBadRequestContentExceedsLimit = &QueueError{Code: ErrCodeBadRequestContentExceedsLimit}
	ErrBadRequestContentNotJson      = &QueueError{Code: ErrCodeBadRequestContentNotJson}
	ErrBadRequestProcessAfterInPast  = &QueueError{Code: ErrCodeBadRequestProcessAfterInPast}
	ErrBadRequestProcessAfterTooFar  = &QueueError{Code: ErrCodeBadRequestProcessAfterTooFar}
	ErrBadRequestExpiresAfterInPast  = &QueueError{Code: ErrCodeBadRequestExpiresAfterInPast}
	ErrBadRequestInvalidTopic        = &QueueError{Code: ErrCodeBadRequestInvalidTopic}
	ErrBadRequestInvalidBody         = &QueueError{Code: ErrCodeBadRequestInvalidBody}
	ErrBadRequestInvalidQuery        = &QueueError{Code: ErrCodeBadRequestInvalidQuery}
	ErrUnauthorized                  = &QueueError{Code: ErrCodeUnauthorized}
	ErrNotFoundMessage               = &QueueError{Code: ErrCodeNotFoundMessage}
	ErrInternal                      = &QueueError{Code: ErrCodeInternal}
)

// QueueError carries a stable code plus an optional message and the underlying cause.
// Two QueueErrors match with errors.Is when their codes are equal.
type QueueError struct {
	Code  string
	Msg   string
	Cause error
}

func (qe *QueueError) Error() string {
	out := qe.Code
	if qe.Msg != "" {
		out += ": " + qe.Msg
	}
	if qe.Cause != nil {
		out += ": " + qe.Cause.Error()
	}
	return out
}

func (qe *QueueError) Unwrap() error {
	return qe.Cause
}

func (qe *QueueError) Is(target error) bool {
	other, ok := target.(*QueueError)
	return ok && other.Code == qe.Code
}

func NewConfigurationError(format string, args ...any) error {
	return &QueueError{Code: ErrCodeConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func NewRangeError(format string, args ...any) error {
	return &QueueError{Code: ErrCodeRange, Msg: fmt.Sprintf(format, args...)}
}

func NewEmptySetError(format string, args ...any) error {
	return &QueueError{Code: ErrCodeEmptySet, Msg: fmt.Sprintf(format, args...)}
}

func NewLogicError(format string, args ...any) error {
	return &QueueError{Code: ErrCodeLogic, Msg: fmt.Sprintf(format, args...)}
}

func NewTransientStorageError(cause error, format string, args ...any) error {
	return &QueueError{Code: ErrCodeTransientStorage, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

func NewStorageError(cause error, format string, args ...any) error {
	return &QueueError{Code: ErrCodeStorage, Msg: fmt.Sprintf(format, args...), Cause: cause}
}
