package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidInput    = "INVALID_INPUT"
	CodeRoomUnavailable = "ROOM_UNAVAILABLE"
	CodeNotCancellable  = "NOT_CANCELLABLE"
	CodeVersionConflict = "VERSION_CONFLICT"
	CodeOperationFailed = "OPERATION_FAILED"
	CodeRefundFailed    = "REFUND_FAILED"
	CodeRequestInFlight = "REQUEST_IN_FLIGHT"
)

// AppError is the typed error that crosses the service boundary. Business
// errors carry enough detail for the client to refresh and retry; exhausted
// infrastructure retries deliberately do not.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on the code so callers can compare against sentinel constructors.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func CodeOf(err error) string {
	var e *AppError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func StatusOf(err error) int {
	var e *AppError
	if errors.As(err, &e) {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

func NotFound(resource string, id int64) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"resource": resource, "id": id},
	}
}

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// RoomUnavailable reports the requested range so the client can offer
// alternative dates.
func RoomUnavailable(roomID int64, checkIn, checkOut time.Time) *AppError {
	return &AppError{
		Code:       CodeRoomUnavailable,
		Message:    "room is not available for the requested dates",
		HTTPStatus: http.StatusConflict,
		Details: map[string]any{
			"room_id":   roomID,
			"check_in":  checkIn.Format("2006-01-02"),
			"check_out": checkOut.Format("2006-01-02"),
		},
	}
}

func NotCancellable(status string) *AppError {
	return &AppError{
		Code:       CodeNotCancellable,
		Message:    fmt.Sprintf("booking in status %q cannot be cancelled", status),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"status": status},
	}
}

// VersionConflict carries expected and actual versions for refresh-and-retry.
func VersionConflict(expected, actual int64) *AppError {
	return &AppError{
		Code:       CodeVersionConflict,
		Message:    "resource was modified by another request",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"expected_version": expected, "actual_version": actual},
	}
}

// OperationFailed is the terminal error after retry exhaustion. The message
// stays generic; the cause is preserved for logs only.
func OperationFailed(attempts int, cause error) *AppError {
	return &AppError{
		Code:       CodeOperationFailed,
		Message:    "operation failed, please retry",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"attempts": attempts},
		Err:        cause,
	}
}

func RefundFailed(bookingID int64, cause error) *AppError {
	return &AppError{
		Code:       CodeRefundFailed,
		Message:    "refund could not be processed; the booking remains retryable",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]any{"booking_id": bookingID},
		Err:        cause,
	}
}

// RequestInFlight tells the caller another execution with the same
// idempotency key is still running. Retryable, never a hard failure.
func RequestInFlight(key string) *AppError {
	return &AppError{
		Code:       CodeRequestInFlight,
		Message:    "another request with this idempotency key is in flight, retry later",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"key": key},
	}
}
