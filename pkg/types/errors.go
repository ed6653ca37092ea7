package types

import (
	"errors"
	"fmt"
)

// ValidationReason says why intake rejected a file
type ValidationReason string

const (
	ReasonNotAnImage ValidationReason = "not-an-image"
	ReasonTooLarge   ValidationReason = "too-large"
)

// ValidationError is returned synchronously by intake
type ValidationError struct {
	Reason ValidationReason
	Limit  int64
	Size   int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonNotAnImage:
		return "please select a valid image file"
	case ReasonTooLarge:
		return fmt.Sprintf("file too large (%d bytes, max %d)", e.Size, e.Limit)
	}
	return string(e.Reason)
}

// ErrEmptyInput is returned by submit when no image is selected
var ErrEmptyInput = errors.New("please select an image before submitting")

// ErrUnknownTask is wrapped by ParseTask
var ErrUnknownTask = errors.New("unknown disease task")

// RequestError is a failed or rejected call to the prediction service
type RequestError struct {
	Message    string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Message
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError builds a RequestError, defaulting the message when the
// service gave none
func NewRequestError(status int, message string, cause error) *RequestError {
	if message == "" {
		if status > 0 {
			message = fmt.Sprintf("prediction failed: HTTP %d", status)
		} else {
			message = "prediction failed"
		}
	}
	return &RequestError{Message: message, StatusCode: status, Err: cause}
}

// IsValidation reports whether err is a ValidationError with the given reason
func IsValidation(err error, reason ValidationReason) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Reason == reason
}
