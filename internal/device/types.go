package device

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// UnusedGPIO marks a pin with no physical GPIO assigned.
const UnusedGPIO = -1

// PropertyType is the logical type of a property, inferred from the shape of
// its template default.
type PropertyType int

// Property types.
const (
	PropertyString PropertyType = iota
	PropertyInt
	PropertyBool
)

// String returns the lower-case type name.
func (t PropertyType) String() string {
	switch t {
	case PropertyInt:
		return "int"
	case PropertyBool:
		return "bool"
	default:
		return "string"
	}
}

// InferPropertyType classifies a value: "true"/"false" is bool, a base-10
// integer is int, anything else is string. "0x3C" is a string.
func InferPropertyType(value string) PropertyType {
	if value == "true" || value == "false" {
		return PropertyBool
	}
	if _, err := strconv.Atoi(value); err == nil {
		return PropertyInt
	}
	return PropertyString
}

// PinSlot is one pin position of a template.
type PinSlot struct {
	Name        string `json:"name" yaml:"name"`
	DefaultGPIO int    `json:"default_gpio" yaml:"gpio"`
	ReadOnly    bool   `json:"read_only,omitempty" yaml:"read_only"`
}

// PropertyDefinition is one named property of a template.
type PropertyDefinition struct {
	Name     string `json:"name" yaml:"name"`
	Default  string `json:"default" yaml:"default"`
	Optional bool   `json:"optional,omitempty" yaml:"optional"`
}

// Type returns the property type inferred from the default value.
func (p PropertyDefinition) Type() PropertyType {
	return InferPropertyType(p.Default)
}

// DeviceTemplate is the immutable blueprint of a device type.
//
// Pin order matters: some firmware drivers map pins by index, not by name.
type DeviceTemplate struct {
	Type        string               `json:"type" yaml:"type"`
	Description string               `json:"description,omitempty" yaml:"description"`
	Pins        []PinSlot            `json:"pins" yaml:"pins"`
	Properties  []PropertyDefinition `json:"properties" yaml:"properties"`

	// SharesPins allows GPIOs to be claimed by several devices of sharing
	// templates at once, as on an I2C bus.
	SharesPins bool `json:"shares_pins,omitempty" yaml:"shares_pins"`
}

// DeepCopy returns a template that shares no slices with t.
func (t DeviceTemplate) DeepCopy() DeviceTemplate {
	cpy := t
	if t.Pins != nil {
		cpy.Pins = append([]PinSlot(nil), t.Pins...)
	}
	if t.Properties != nil {
		cpy.Properties = append([]PropertyDefinition(nil), t.Properties...)
	}
	return cpy
}

// Property returns the definition named name.
func (t DeviceTemplate) Property(name string) (PropertyDefinition, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return PropertyDefinition{}, false
}

// TemplateLookup resolves device types to templates.
// It returns an error wrapping ErrUnknownDeviceType on a miss.
type TemplateLookup interface {
	TemplateFor(deviceType string) (DeviceTemplate, error)
}

// Pin binds a logical pin name to a microcontroller GPIO.
type Pin struct {
	GPIO     int    `json:"gpio"`
	Name     string `json:"name"`
	ReadOnly bool   `json:"read_only,omitempty"`
}

// PropertyValue is a named, string-encoded property.
type PropertyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ConnectedDevice is a device attached to a microcontroller.
//
// Type never changes after creation; a different type means removing the
// device and adding a new one.
type ConnectedDevice struct {
	Enabled    bool            `json:"enabled"`
	Type       string          `json:"type"`
	Pins       []Pin           `json:"pins"`
	Properties []PropertyValue `json:"properties"`
}

// DeepCopy returns a device that shares no slices with d.
func (d ConnectedDevice) DeepCopy() ConnectedDevice {
	cpy := d
	if d.Pins != nil {
		cpy.Pins = append([]Pin(nil), d.Pins...)
	}
	if d.Properties != nil {
		cpy.Properties = append([]PropertyValue(nil), d.Properties...)
	}
	return cpy
}

// Property returns the value of the named property.
func (d ConnectedDevice) Property(name string) (string, bool) {
	for _, p := range d.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// SetProperty updates the named property, appending it when absent.
func (d *ConnectedDevice) SetProperty(name, value string) {
	for i := range d.Properties {
		if d.Properties[i].Name == name {
			d.Properties[i].Value = value
			return
		}
	}
	d.Properties = append(d.Properties, PropertyValue{Name: name, Value: value})
}

// SetPin rebinds the named pin to gpio. Read-only pins are refused.
func (d *ConnectedDevice) SetPin(name string, gpio int) error {
	for i := range d.Pins {
		if d.Pins[i].Name != name {
			continue
		}
		if d.Pins[i].ReadOnly {
			return ErrPinReadOnly
		}
		d.Pins[i].GPIO = gpio
		return nil
	}
	return ErrPinNotFound
}

// KnownMicrocontroller is one physical board and its device configuration.
// MAC is the durable identity; the IP address may rotate.
type KnownMicrocontroller struct {
	MAC             string            `json:"mac"`
	BoardType       string            `json:"board_type"`
	IPAddress       string            `json:"ip_address"`
	ProjectName     string            `json:"project_name,omitempty"`
	FirmwareVersion string            `json:"firmware_version,omitempty"`
	Enabled         bool              `json:"enabled"`
	Devices         []ConnectedDevice `json:"devices"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// DeepCopy returns a microcontroller that shares no slices with m.
func (m KnownMicrocontroller) DeepCopy() KnownMicrocontroller {
	cpy := m
	cpy.Devices = CopyDevices(m.Devices)
	return cpy
}

// CopyDevices deep-copies a device list, preserving nil.
func CopyDevices(devices []ConnectedDevice) []ConnectedDevice {
	if devices == nil {
		return nil
	}
	out := make([]ConnectedDevice, len(devices))
	for i, d := range devices {
		out[i] = d.DeepCopy()
	}
	return out
}

// NormalizeMAC parses a 6-byte hardware address in any of the colon, dash or
// dot notations and returns it upper-case and colon separated, the form the
// firmware uses in its topics.
func NormalizeMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: malformed mac address %q", ErrInvalidMicrocontroller, s)
	}
	return strings.ToUpper(hw.String()), nil
}
