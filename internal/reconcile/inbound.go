package reconcile

import (
	"context"
	"fmt"

	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/mqtt"
)

// handleDeviceConfig routes a snapshot published on {base}/device_config
// to the session of its MAC.
func (e *Engine) handleDeviceConfig(topic string, payload []byte) error {
	addr, suffix, ok := e.opts.Topics.Parse(topic)
	if !ok || suffix != mqtt.SuffixDeviceConfig {
		return nil
	}
	s, err := e.session(addr.MAC)
	if err != nil {
		e.logger.Debug("snapshot for unattached microcontroller", "topic", topic)
		return nil
	}

	devices, err := device.DecodeSnapshot(payload)
	if err != nil {
		e.recorder.RecordSnapshot(addr.MAC, false, 0)
		return fmt.Errorf("snapshot on %s: %w", topic, err)
	}
	e.applySnapshot(s, devices)
	return nil
}

// handleAnnouncement registers a board that announced itself on
// {base}/register_microcontroller.
func (e *Engine) handleAnnouncement(topic string, payload []byte) error {
	if _, suffix, ok := e.opts.Topics.Parse(topic); !ok || suffix != mqtt.SuffixRegisterMicrocontroller {
		return nil
	}
	mc, err := device.DecodeAnnouncement(payload)
	if err != nil {
		return fmt.Errorf("announcement on %s: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if _, err := e.Discover(ctx, mc); err != nil {
		return fmt.Errorf("registering %s: %w", mc.MAC, err)
	}
	e.logger.Info("microcontroller announced", "mac", mc.MAC, "board", mc.BoardType, "ip", mc.IPAddress)
	return nil
}

type snapshotOutcome int

const (
	snapshotDiscarded snapshotOutcome = iota
	snapshotUnchanged
	snapshotApplied
	snapshotConflict
)

// applySnapshot replaces the mirror with devices unless a push is running.
// An identical snapshot only advances the state. With the keep_local policy
// a differing snapshot never overwrites unpushed edits.
func (e *Engine) applySnapshot(s *session, devices []device.ConnectedDevice) snapshotOutcome {
	s.mu.Lock()
	mac := s.mc.MAC
	if s.pushing {
		s.mu.Unlock()
		e.recorder.RecordSnapshot(mac, false, len(devices))
		e.logger.Debug("snapshot superseded by push in flight", "mac", mac)
		return snapshotDiscarded
	}

	var outcome snapshotOutcome
	switch {
	case device.FingerprintDevices(devices) == device.FingerprintDevices(s.mc.Devices):
		outcome = snapshotUnchanged
		s.dirty = false
	case s.dirty && e.opts.ReconnectPolicy == config.PolicyKeepLocal:
		outcome = snapshotConflict
	default:
		outcome = snapshotApplied
		s.mc.Devices = device.CopyDevices(devices)
		s.dirty = false
	}
	s.state = StateSynced
	snap := e.snapshotLocked(s)
	s.mu.Unlock()

	e.recorder.RecordSnapshot(mac, outcome == snapshotApplied, len(devices))

	ev := Event{Kind: EventRemoteConfigReceived, MAC: mac, Time: e.now(), Snapshot: &snap}
	switch outcome {
	case snapshotConflict:
		ev.Kind = EventRemoteConfigConflict
		ev.Remote = device.CopyDevices(devices)
		e.logger.Warn("remote configuration differs from unpushed edits", "mac", mac, "remote_devices", len(devices))
	case snapshotApplied:
		ev.Changed = true
		e.logger.Info("remote configuration applied", "mac", mac, "devices", len(devices))
	}
	e.bus.Publish(ev)
	return outcome
}
