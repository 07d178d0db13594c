package reconcile

import (
	"fmt"

	"github.com/iotzoo/iotzoo-core/internal/device"
)

// editFunc transforms a copy of the mirror. It returns the index of the
// device to validate against the others, or -1 to skip validation.
type editFunc func(devices []device.ConnectedDevice) ([]device.ConnectedDevice, int, error)

// edit applies fn to the mirror of mac. A failing fn or validation leaves
// the mirror untouched.
func (e *Engine) edit(mac string, fn editFunc) (SessionSnapshot, error) {
	s, err := e.session(mac)
	if err != nil {
		return SessionSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushing {
		return SessionSnapshot{}, ErrPushInFlight
	}

	next, index, err := fn(device.CopyDevices(s.mc.Devices))
	if err != nil {
		return SessionSnapshot{}, err
	}
	if index >= 0 {
		res := device.Validate(next[index], siblings(next, index), e.templates)
		if err := res.Err(); err != nil {
			return SessionSnapshot{}, err
		}
		for _, w := range res.Warnings {
			e.logger.Warn("device configuration warning", "mac", s.mc.MAC, "index", index, "warning", w)
		}
	}

	s.mc.Devices = next
	s.dirty = true
	return e.snapshotLocked(s), nil
}

func siblings(devices []device.ConnectedDevice, index int) []device.ConnectedDevice {
	out := make([]device.ConnectedDevice, 0, len(devices)-1)
	out = append(out, devices[:index]...)
	return append(out, devices[index+1:]...)
}

func checkIndex(devices []device.ConnectedDevice, index int) error {
	if index < 0 || index >= len(devices) {
		return fmt.Errorf("%w: %d of %d", device.ErrDeviceIndex, index, len(devices))
	}
	return nil
}

// AddDevice appends d to the device list of mac.
func (e *Engine) AddDevice(mac string, d device.ConnectedDevice) (SessionSnapshot, error) {
	return e.edit(mac, func(devices []device.ConnectedDevice) ([]device.ConnectedDevice, int, error) {
		devices = append(devices, d.DeepCopy())
		return devices, len(devices) - 1, nil
	})
}

// RemoveDevice deletes the device at index. Later devices move up.
func (e *Engine) RemoveDevice(mac string, index int) (SessionSnapshot, error) {
	return e.edit(mac, func(devices []device.ConnectedDevice) ([]device.ConnectedDevice, int, error) {
		if err := checkIndex(devices, index); err != nil {
			return nil, -1, err
		}
		return append(devices[:index], devices[index+1:]...), -1, nil
	})
}

// SetPin rebinds a pin of the device at index.
func (e *Engine) SetPin(mac string, index int, pin string, gpio int) (SessionSnapshot, error) {
	return e.edit(mac, func(devices []device.ConnectedDevice) ([]device.ConnectedDevice, int, error) {
		if err := checkIndex(devices, index); err != nil {
			return nil, -1, err
		}
		if err := devices[index].SetPin(pin, gpio); err != nil {
			return nil, -1, fmt.Errorf("pin %s: %w", pin, err)
		}
		return devices, index, nil
	})
}

// SetProperty sets a property of the device at index.
func (e *Engine) SetProperty(mac string, index int, name, value string) (SessionSnapshot, error) {
	return e.edit(mac, func(devices []device.ConnectedDevice) ([]device.ConnectedDevice, int, error) {
		if err := checkIndex(devices, index); err != nil {
			return nil, -1, err
		}
		devices[index].SetProperty(name, value)
		return devices, index, nil
	})
}

// SetDeviceEnabled enables or disables the device at index. Enabling
// re-checks its GPIOs against the other enabled devices.
func (e *Engine) SetDeviceEnabled(mac string, index int, enabled bool) (SessionSnapshot, error) {
	return e.edit(mac, func(devices []device.ConnectedDevice) ([]device.ConnectedDevice, int, error) {
		if err := checkIndex(devices, index); err != nil {
			return nil, -1, err
		}
		devices[index].Enabled = enabled
		return devices, index, nil
	})
}
