package microcontroller

import "errors"

var (
	// ErrNotFound is returned when no microcontroller has the given MAC.
	ErrNotFound = errors.New("microcontroller: not found")

	// ErrStillReferenced is returned when deleting a microcontroller that is
	// still assigned to a project. Disable it or clear the project first.
	ErrStillReferenced = errors.New("microcontroller: still referenced by a project")
)
