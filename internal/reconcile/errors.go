package reconcile

import "errors"

var (
	// ErrTransportUnavailable is returned when neither the broker nor the
	// board's web server accepted a push. The mirror keeps the attempted state.
	ErrTransportUnavailable = errors.New("reconcile: transport unavailable")

	// ErrSessionNotFound is returned for a MAC with no attached session.
	ErrSessionNotFound = errors.New("reconcile: session not found")

	// ErrPushInFlight is returned when a push or edit is attempted while a
	// push for the same microcontroller is still running.
	ErrPushInFlight = errors.New("reconcile: push in flight")

	// ErrNoRepository is returned by persistence operations when the engine
	// was built without a repository.
	ErrNoRepository = errors.New("reconcile: no repository configured")

	// ErrNoFallback is returned when a fallback call is needed but no
	// fallback channel is configured.
	ErrNoFallback = errors.New("reconcile: no fallback channel configured")
)
