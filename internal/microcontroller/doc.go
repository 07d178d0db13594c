// Package microcontroller persists known microcontrollers and their device
// configuration.
//
// Records are keyed by normalized MAC address. Saves are guarded by the
// configuration fingerprint: a caller passes the fingerprint of the record it
// started editing from, and the save is refused with
// device.ErrConcurrentModification when someone else saved in between.
package microcontroller
