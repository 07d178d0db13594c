package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/iotzoo/iotzoo-core/internal/device"
)

// PushConfig sends the complete device list of mac to the board.
//
// The list is validated and encoded once. The bytes are published to
// {base}/save_device_config; if that fails the identical bytes are posted
// to the board's web server. When both fail the session ends in
// PushFailed and the error wraps ErrTransportUnavailable together with
// both causes. The mirror keeps the attempted state and nothing is retried.
func (e *Engine) PushConfig(ctx context.Context, mac string) (PushResult, error) {
	s, err := e.session(mac)
	if err != nil {
		return PushResult{}, err
	}

	s.mu.Lock()
	if s.pushing {
		s.mu.Unlock()
		return PushResult{}, ErrPushInFlight
	}
	if err := device.ValidateList(s.mc.Devices, e.templates); err != nil {
		s.mu.Unlock()
		return PushResult{}, err
	}
	payload, err := device.EncodeSnapshot(s.mc.Devices)
	if err != nil {
		s.mu.Unlock()
		return PushResult{}, err
	}
	res := PushResult{
		ID:          uuid.New(),
		MAC:         s.mc.MAC,
		Payload:     payload,
		Fingerprint: device.FingerprintDevices(s.mc.Devices),
		Devices:     len(s.mc.Devices),
		StartedAt:   e.now(),
	}
	topic := e.opts.Topics.SaveDeviceConfig(s.address())
	ip := s.mc.IPAddress
	s.pushing = true
	s.state = StatePushing
	s.mu.Unlock()

	var pushErr error
	if mqttErr := e.transport.Publish(topic, payload, e.opts.QoS, false); mqttErr == nil {
		res.Channel = ChannelMQTT
	} else {
		e.logger.Warn("push over mqtt failed, trying fallback", "mac", res.MAC, "error", mqttErr)
		s.mu.Lock()
		s.state = StatePushFailedFallback
		s.mu.Unlock()

		if httpErr := e.postFallback(ctx, ip, payload, e.fallbackPostDevice); httpErr == nil {
			res.Channel = ChannelHTTP
		} else {
			res.Channel = ChannelNone
			pushErr = fmt.Errorf("%w: %w", ErrTransportUnavailable, errors.Join(mqttErr, httpErr))
		}
	}
	res.Duration = e.now().Sub(res.StartedAt)

	s.mu.Lock()
	s.pushing = false
	if pushErr == nil {
		s.state = StateSynced
		s.dirty = false
	} else {
		s.state = StatePushFailed
		res.Error = pushErr.Error()
	}
	res.State = s.state
	last := res
	s.lastPush = &last
	snap := e.snapshotLocked(s)
	s.mu.Unlock()

	e.recorder.RecordPush(res.MAC, res.Channel, pushErr == nil, res.Duration, res.Devices)
	if pushErr == nil {
		e.logger.Info("configuration pushed", "mac", res.MAC, "channel", res.Channel, "devices", res.Devices, "push_id", res.ID.String())
	} else {
		e.logger.Error("configuration push failed", "mac", res.MAC, "error", pushErr, "push_id", res.ID.String())
	}

	pushed := res
	e.bus.Publish(Event{Kind: EventPushCompleted, MAC: res.MAC, Time: e.now(), Snapshot: &snap, Push: &pushed, Error: res.Error})
	return res, pushErr
}

func (e *Engine) fallbackPostDevice(ctx context.Context, ip string, payload []byte) error {
	return e.fallback.PostDeviceConfig(ctx, ip, payload)
}

func (e *Engine) fallbackPostMicrocontroller(ctx context.Context, ip string, payload []byte) error {
	return e.fallback.PostMicrocontrollerConfig(ctx, ip, payload)
}

func (e *Engine) postFallback(ctx context.Context, ip string, payload []byte, post func(context.Context, string, []byte) error) error {
	if e.fallback == nil {
		return ErrNoFallback
	}
	fctx, cancel := e.fallbackContext(ctx)
	defer cancel()
	return post(fctx, ip, payload)
}

// PushMicrocontrollerConfig sends the namespace, project and broker address
// to the board, retained on {mac}/save_microcontroller_config so a board that
// is offline picks it up later. The fallback is POST /microcontrollerConfig.
// It returns the channel that delivered the configuration.
func (e *Engine) PushMicrocontrollerConfig(ctx context.Context, mac string) (string, error) {
	s, err := e.session(mac)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	cfg := device.MicrocontrollerConfig{
		NamespaceName: e.opts.Topics.Namespace,
		ProjectName:   s.mc.ProjectName,
		IPMqttBroker:  e.opts.BrokerAddress,
	}
	mac = s.mc.MAC
	ip := s.mc.IPAddress
	s.mu.Unlock()

	payload, err := cfg.Encode()
	if err != nil {
		return "", err
	}

	mqttErr := e.transport.Publish(e.opts.Topics.SaveMicrocontrollerConfig(mac), payload, e.opts.QoS, true)
	if mqttErr == nil {
		return ChannelMQTT, nil
	}
	if httpErr := e.postFallback(ctx, ip, payload, e.fallbackPostMicrocontroller); httpErr != nil {
		return ChannelNone, fmt.Errorf("%w: %w", ErrTransportUnavailable, errors.Join(mqttErr, httpErr))
	}
	return ChannelHTTP, nil
}

// Save persists the mirror of mac if the stored record still matches the
// baseline captured when the edit began, then advances the baseline.
// A stale baseline yields device.ErrConcurrentModification; reload and
// re-apply the edits.
func (e *Engine) Save(ctx context.Context, mac string) (device.Fingerprint, error) {
	if e.repo == nil {
		return "", ErrNoRepository
	}
	s, err := e.session(mac)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	mc := s.mc.DeepCopy()
	baseline := s.baseline
	s.mu.Unlock()

	fp, err := e.repo.Save(ctx, mc, baseline)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.baseline = fp
	s.mu.Unlock()

	e.logger.Info("configuration saved", "mac", mc.MAC, "devices", len(mc.Devices))
	return fp, nil
}

// PushAndSave pushes and, only if the board accepted the configuration,
// saves it. A failed push leaves the stored record untouched.
func (e *Engine) PushAndSave(ctx context.Context, mac string) (PushResult, device.Fingerprint, error) {
	res, err := e.PushConfig(ctx, mac)
	if err != nil {
		return res, "", err
	}
	fp, err := e.Save(ctx, mac)
	return res, fp, err
}
