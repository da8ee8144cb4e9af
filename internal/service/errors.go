package service

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the transports and the scheduler.
var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrStorage        = errors.New("storage failure")
	ErrDelivery       = errors.New("delivery failure")
)

var (
	ErrUserNotFound          = fmt.Errorf("user %w", ErrNotFound)
	ErrEmptyMessage          = fmt.Errorf("%w: message needs text, image or video", ErrInvalidRequest)
	ErrMissingScheduleFields = fmt.Errorf("%w: receiver, message and schedule time are required", ErrInvalidRequest)
	ErrNotParticipant        = fmt.Errorf("%w: caller is not a participant", ErrUnauthorized)
)

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// ErrorCode maps an error to the code reported to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrStorage):
		return "STORAGE_FAILURE"
	case errors.Is(err, ErrDelivery):
		return "DELIVERY_FAILURE"
	default:
		return "INTERNAL"
	}
}
