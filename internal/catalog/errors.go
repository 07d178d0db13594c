package catalog

import "errors"

// Registration errors. Lookup misses return device.ErrUnknownDeviceType.
var (
	ErrEmptyType        = errors.New("catalog: template type is empty")
	ErrDuplicateType    = errors.New("catalog: duplicate template type")
	ErrDuplicatePinSlot = errors.New("catalog: duplicate pin slot name")
	ErrInvalidTemplate  = errors.New("catalog: invalid template")
)
