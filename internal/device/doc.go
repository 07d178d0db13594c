// Package device holds the configuration model of IoTZoo microcontrollers.
//
// A KnownMicrocontroller carries an ordered list of ConnectedDevice values,
// each with ordered Pin bindings and string PropertyValue pairs. Device types
// are described by immutable DeviceTemplate values (see package catalog).
//
// The package provides:
//   - Validation of a device against its template and siblings (Validate)
//   - The firmware wire codec (EncodeSnapshot, DecodeSnapshot)
//   - Order-sensitive fingerprints for optimistic concurrency (FingerprintOf)
//
// Everything here is pure: no I/O and no shared state.
package device
