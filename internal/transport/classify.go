package transport

import (
	"errors"
	"fmt"
	"slices"
)

// Class is the delivery classification of one attempt.
type Class int

const (
	Success Class = iota
	RetryableFailure
	PermanentFailure
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable-failure"
	case PermanentFailure:
		return "permanent-failure"
	}
	return fmt.Sprintf("class(%d)", int(c))
}

// StatusUnreachable is the status recorded when no HTTP response was received.
const StatusUnreachable = 0

// Classify maps a response status to a delivery class. Any 2xx is success;
// 0 (unreachable), 429 and >= 500 are retryable even if listed in accepted;
// anything else is permanent unless it is listed in accepted.
func Classify(status int, accepted []int) Class {
	switch {
	case status >= 200 && status < 300:
		return Success
	case status == StatusUnreachable, status == 429, status >= 500:
		return RetryableFailure
	case slices.Contains(accepted, status):
		return Success
	}
	return PermanentFailure
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Class  Class
	Status int
	// Cause describes a failure: the transport error or the response body.
	Cause error
}

// Err returns nil for a successful outcome and a *DeliveryError otherwise.
func (o Outcome) Err() error {
	if o.Class == Success {
		return nil
	}
	return &DeliveryError{Class: o.Class, Status: o.Status, Cause: o.Cause}
}

// DeliveryError reports a failed delivery attempt.
type DeliveryError struct {
	Class  Class
	Status int
	Cause  error
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	if e.Status == StatusUnreachable {
		return fmt.Sprintf("%s: backend unreachable: %v", e.Class, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: status %d: %v", e.Class, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s: status %d", e.Class, e.Status)
}

// Unwrap returns the underlying cause.
func (e *DeliveryError) Unwrap() error { return e.Cause }

// IsRetryable returns true if err is a delivery error that should be retried.
// Uses errors.As to handle wrapped errors.
func IsRetryable(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Class == RetryableFailure
}

// IsPermanent returns true if err is a delivery error that must not be retried.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Class == PermanentFailure
}
