package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSessionExpired          = errors.New("session expired")
	ErrNoSession               = errors.New("no active session")
	ErrSuperseded              = errors.New("request superseded by a newer request")
	ErrChannelUnavailable      = errors.New("realtime channel is not connected")
	ErrMutationInFlight        = errors.New("another mutation is in flight for this entity")
	ErrTransport               = errors.New("transport error")
	ErrSecretNotFound          = errors.New("secret not found")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrResourceNotLoaded       = errors.New("resource not loaded")
)

// StatusError is a non-2xx response surfaced to a caller that asked for a payload.
type StatusError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Endpoint, e.StatusCode, e.Body)
}
