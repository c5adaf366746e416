package model

import (
	"errors"
	"fmt"
)

var (
	ErrTransport        = errors.New("transport error")
	ErrAuth             = errors.New("auth error")
	ErrMarketData       = errors.New("market data error")
	ErrOrderRejected    = errors.New("order rejected")
	ErrInsufficientData = errors.New("insufficient data")
	ErrConfiguration    = errors.New("configuration error")
)

// VenueError is returned by adapters. It unwraps to its Kind sentinel so callers can use errors.Is.
type VenueError struct {
	Kind    error
	Venue   string
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *VenueError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Kind)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VenueError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func NewVenueError(kind error, venue, op, message string) *VenueError {
	return &VenueError{Kind: kind, Venue: venue, Op: op, Message: message}
}

// TransportErr wraps a network failure (dial, timeout, read) for a venue call.
func TransportErr(venue, op string, err error) *VenueError {
	return &VenueError{Kind: ErrTransport, Venue: venue, Op: op, Err: err}
}

// IsRetryable reports whether repeating the call may succeed. Errors of a permanent kind never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrOrderRejected) ||
		errors.Is(err, ErrMarketData) || errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInsufficientData) {
		return false
	}
	return true
}

// Truncate shortens msg to at most n runes for notification text.
func Truncate(msg string, n int) string {
	r := []rune(msg)
	if n <= 0 || len(r) <= n {
		return msg
	}
	return string(r[:n]) + "..."
}
