package mqtt

import (
	"strings"
)

// Topic suffixes understood by the microcontroller firmware.
const (
	SuffixStatus                  = "status"
	SuffixDeviceConfig            = "device_config"
	SuffixSaveDeviceConfig        = "save_device_config"
	SuffixSaveMicrocontroller     = "save_microcontroller_config"
	SuffixRegisterMicrocontroller = "register_microcontroller"

	// RequestDeviceConfig is the payload sent to {base}/status to ask a
	// microcontroller for its current device configuration.
	RequestDeviceConfig = "device_config"

	// serviceSegment names this service below the namespace.
	serviceSegment = "iotzoo-core"
)

// Address identifies a microcontroller on the wire.
type Address struct {
	Project string
	Board   string
	MAC     string
}

// Topics builds and parses topics below one namespace.
//
//	topics := mqtt.Topics{Namespace: "iotzoo"}
//	topics.DeviceConfig(mqtt.Address{Project: "home", Board: "esp32", MAC: "AA:BB:CC:DD:EE:FF"})
//	// Returns: "iotzoo/home/esp32/AA:BB:CC:DD:EE:FF/device_config"
type Topics struct {
	Namespace string
}

// Base returns the base topic of a microcontroller.
func (t Topics) Base(a Address) string {
	parts := make([]string, 0, 4)
	if t.Namespace != "" {
		parts = append(parts, t.Namespace)
	}
	if a.Project != "" {
		parts = append(parts, a.Project)
	}
	parts = append(parts, a.Board, a.MAC)
	return strings.Join(parts, "/")
}

// Status returns the topic configuration requests are published to.
func (t Topics) Status(a Address) string {
	return t.Base(a) + "/" + SuffixStatus
}

// DeviceConfig returns the topic a microcontroller publishes its
// configuration snapshot on.
func (t Topics) DeviceConfig(a Address) string {
	return t.Base(a) + "/" + SuffixDeviceConfig
}

// SaveDeviceConfig returns the topic full configuration pushes go to.
func (t Topics) SaveDeviceConfig(a Address) string {
	return t.Base(a) + "/" + SuffixSaveDeviceConfig
}

// SaveMicrocontrollerConfig returns the topic for namespace, project and broker
// settings. It is addressed by MAC only, since those settings change the base
// topic itself.
func (Topics) SaveMicrocontrollerConfig(mac string) string {
	return mac + "/" + SuffixSaveMicrocontroller
}

// ServiceStatus returns the retained online/offline topic of this service.
func (t Topics) ServiceStatus() string {
	if t.Namespace == "" {
		return serviceSegment + "/" + SuffixStatus
	}
	return t.Namespace + "/" + serviceSegment + "/" + SuffixStatus
}

// Wildcards returns the subscription patterns matching suffix for every
// microcontroller in the namespace, with and without a project segment.
func (t Topics) Wildcards(suffix string) []string {
	prefix := ""
	if t.Namespace != "" {
		prefix = t.Namespace + "/"
	}
	return []string{
		prefix + "+/+/" + suffix,
		prefix + "+/+/+/" + suffix,
	}
}

// Parse splits a microcontroller topic into its address and suffix.
// It reports false for topics outside the namespace or with the wrong shape.
func (t Topics) Parse(topic string) (Address, string, bool) {
	parts := strings.Split(topic, "/")
	if t.Namespace != "" {
		if len(parts) == 0 || parts[0] != t.Namespace {
			return Address{}, "", false
		}
		parts = parts[1:]
	}

	// [project/]board/mac/suffix
	switch len(parts) {
	case 3:
		a := Address{Board: parts[0], MAC: parts[1]}
		return a, parts[2], a.Board != "" && a.MAC != "" && parts[2] != ""
	case 4:
		a := Address{Project: parts[0], Board: parts[1], MAC: parts[2]}
		return a, parts[3], a.Project != "" && a.Board != "" && a.MAC != "" && parts[3] != ""
	default:
		return Address{}, "", false
	}
}
