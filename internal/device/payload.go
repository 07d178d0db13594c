package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// wireDevice is the firmware's JSON shape of one connected device.
type wireDevice struct {
	DeviceIndex    int            `json:"DeviceIndex"`
	IsEnabled      bool           `json:"IsEnabled"`
	DeviceType     string         `json:"DeviceType"`
	Pins           []wirePin      `json:"Pins"`
	PropertyValues []wireProperty `json:"PropertyValues"`
}

type wirePin struct {
	MicrocontrollerGpoPin gpioNumber `json:"MicrocontrollerGpoPin"`
	PinName               string     `json:"PinName"`
	IsReadOnly            bool       `json:"IsReadOnly"`
}

type wireProperty struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// gpioNumber encodes as a JSON number and decodes from a number or a
// numeric string; older editors sent pins as strings.
type gpioNumber int

func (g *gpioNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*g = UnusedGPIO
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("gpio %q: %w", s, err)
		}
		*g = gpioNumber(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*g = gpioNumber(n)
	return nil
}

// EncodeSnapshot serializes a device list as the firmware payload: a JSON
// array in list order, pins and properties in their own order. DeviceIndex
// is the position in the list.
func EncodeSnapshot(devices []ConnectedDevice) ([]byte, error) {
	out := make([]wireDevice, len(devices))
	for i, d := range devices {
		w := wireDevice{
			DeviceIndex:    i,
			IsEnabled:      d.Enabled,
			DeviceType:     d.Type,
			Pins:           make([]wirePin, len(d.Pins)),
			PropertyValues: make([]wireProperty, len(d.Properties)),
		}
		for j, p := range d.Pins {
			w.Pins[j] = wirePin{MicrocontrollerGpoPin: gpioNumber(p.GPIO), PinName: p.Name, IsReadOnly: p.ReadOnly}
		}
		for j, p := range d.Properties {
			w.PropertyValues[j] = wireProperty{Name: p.Name, Value: p.Value}
		}
		out[i] = w
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a firmware payload. An empty payload or JSON null
// is an empty list. Device order is the array order; DeviceIndex is ignored.
func DecodeSnapshot(data []byte) ([]ConnectedDevice, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []ConnectedDevice{}, nil
	}

	var in []wireDevice
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	devices := make([]ConnectedDevice, len(in))
	for i, w := range in {
		if w.DeviceType == "" {
			return nil, fmt.Errorf("%w: device %d has no type", ErrInvalidPayload, i)
		}
		d := ConnectedDevice{
			Enabled:    w.IsEnabled,
			Type:       w.DeviceType,
			Pins:       make([]Pin, len(w.Pins)),
			Properties: make([]PropertyValue, len(w.PropertyValues)),
		}
		for j, p := range w.Pins {
			d.Pins[j] = Pin{GPIO: int(p.MicrocontrollerGpoPin), Name: p.PinName, ReadOnly: p.IsReadOnly}
		}
		for j, p := range w.PropertyValues {
			d.Properties[j] = PropertyValue{Name: p.Name, Value: p.Value}
		}
		devices[i] = d
	}
	return devices, nil
}

// MicrocontrollerConfig is the payload that moves a board to another
// namespace, project or broker.
type MicrocontrollerConfig struct {
	NamespaceName string `json:"NamespaceName"`
	ProjectName   string `json:"ProjectName"`
	IPMqttBroker  string `json:"IpMqttBroker"`
}

// Encode serializes the config for the firmware.
func (c MicrocontrollerConfig) Encode() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding microcontroller config: %w", err)
	}
	return data, nil
}

// Announcement is what a board publishes on {base}/register_microcontroller
// when it comes online.
type Announcement struct {
	NamespaceName   string `json:"NamespaceName"`
	ProjectName     string `json:"ProjectName"`
	BoardType       string `json:"BoardType"`
	IPAddress       string `json:"IpAddress"`
	MACAddress      string `json:"MacAddress"`
	IPMqttBroker    string `json:"IpMqttBroker"`
	FirmwareVersion string `json:"FirmwareVersion"`
}

// DecodeAnnouncement parses a registration message into a microcontroller
// record with a normalized MAC. Known topics appended by the firmware are ignored.
func DecodeAnnouncement(data []byte) (KnownMicrocontroller, error) {
	var a Announcement
	if err := json.Unmarshal(data, &a); err != nil {
		return KnownMicrocontroller{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	mc := KnownMicrocontroller{
		MAC:             a.MACAddress,
		BoardType:       a.BoardType,
		IPAddress:       a.IPAddress,
		ProjectName:     a.ProjectName,
		FirmwareVersion: a.FirmwareVersion,
		Enabled:         true,
	}
	if err := ValidateMicrocontroller(mc); err != nil {
		return KnownMicrocontroller{}, err
	}
	mc.MAC, _ = NormalizeMAC(mc.MAC) //nolint:errcheck // validated above
	return mc, nil
}
