package device

import "errors"

// Domain errors for the device package.
//
// Validation failures wrap both ErrValidation and the specific rule error,
// so either can be checked with errors.Is:
//
//	if errors.Is(err, device.ErrGPIOConflict) {
//	    // pick another pin
//	}
var (
	// ErrValidation marks every pin or property rule violation.
	ErrValidation = errors.New("device: validation failed")

	// ErrUnknownDeviceType is returned when a device type has no template.
	ErrUnknownDeviceType = errors.New("device: unknown device type")

	// ErrDuplicatePinName is returned when two pins of one device share a name.
	ErrDuplicatePinName = errors.New("device: duplicate pin name")

	// ErrInvalidPin is returned for an empty pin name or a GPIO below -1.
	ErrInvalidPin = errors.New("device: invalid pin")

	// ErrGPIOConflict is returned when two enabled devices bind the same GPIO.
	ErrGPIOConflict = errors.New("device: gpio already in use")

	// ErrMissingProperty is returned when a required property is absent.
	ErrMissingProperty = errors.New("device: missing property")

	// ErrInvalidPropertyValue is returned when a value does not parse as its type.
	ErrInvalidPropertyValue = errors.New("device: invalid property value")

	// ErrPinNotFound is returned when a named pin does not exist on a device.
	ErrPinNotFound = errors.New("device: pin not found")

	// ErrPinReadOnly is returned when rebinding a read-only pin.
	ErrPinReadOnly = errors.New("device: pin is read-only")

	// ErrDeviceIndex is returned when a device index is outside the device list.
	ErrDeviceIndex = errors.New("device: device index out of range")

	// ErrInvalidMicrocontroller is returned when identity fields are missing or malformed.
	ErrInvalidMicrocontroller = errors.New("device: invalid microcontroller")

	// ErrConcurrentModification is returned when a save is based on a stale fingerprint.
	ErrConcurrentModification = errors.New("device: concurrent modification")

	// ErrInvalidPayload is returned when a configuration snapshot cannot be decoded.
	ErrInvalidPayload = errors.New("device: invalid configuration payload")
)
