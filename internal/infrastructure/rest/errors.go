package rest

import "errors"

var (
	// ErrRequestFailed indicates the board could not be reached.
	ErrRequestFailed = errors.New("rest: request failed")

	// ErrUnexpectedStatus indicates the board answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("rest: unexpected status")

	// ErrInvalidAddress indicates an empty or malformed IP address.
	ErrInvalidAddress = errors.New("rest: invalid address")
)
