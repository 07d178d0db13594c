package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/mqtt"
)

const announceTimeout = 10 * time.Second

// Options tune the engine.
type Options struct {
	Topics          mqtt.Topics
	QoS             byte
	RequestTimeout  time.Duration
	FallbackTimeout time.Duration

	// ReconnectPolicy decides what a differing snapshot does to a mirror
	// with unpushed edits: config.PolicyRemoteWins replaces it,
	// config.PolicyKeepLocal keeps it and raises EventRemoteConfigConflict.
	ReconnectPolicy string

	// BrokerAddress is sent to boards in their microcontroller configuration.
	BrokerAddress string
}

// OptionsFromConfig derives engine options from the service configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	broker := cfg.Sync.BrokerAddress
	if broker == "" {
		broker = cfg.MQTT.Broker.Host
	}
	return Options{
		Topics:          mqtt.Topics{Namespace: cfg.Sync.Namespace},
		QoS:             byte(cfg.MQTT.QoS),
		RequestTimeout:  cfg.Sync.GetRequestTimeout(),
		FallbackTimeout: cfg.Sync.GetFallbackTimeout(),
		ReconnectPolicy: cfg.Sync.ReconnectPolicy,
		BrokerAddress:   broker,
	}
}

// Deps are the collaborators of the engine. Transport and Templates are
// required; the rest are optional.
type Deps struct {
	Transport Transport
	Fallback  Fallback
	Repo      Repository
	Templates device.TemplateLookup
	Recorder  Recorder
	Logger    Logger
	Bus       *Bus

	// Clock defaults to time.Now.
	Clock func() time.Time
}

type session struct {
	mu          sync.Mutex
	mc          device.KnownMicrocontroller
	state       SessionState
	baseline    device.Fingerprint
	dirty       bool
	pushing     bool
	requestedAt time.Time
	lastPush    *PushResult
}

func (s *session) address() mqtt.Address {
	return mqtt.Address{Project: s.mc.ProjectName, Board: s.mc.BoardType, MAC: s.mc.MAC}
}

// Engine reconciles the device configuration of every attached
// microcontroller over one shared transport.
//
// All public methods are safe for concurrent use. Operations on different
// microcontrollers never block each other.
type Engine struct {
	transport Transport
	fallback  Fallback
	repo      Repository
	templates device.TemplateLookup
	recorder  Recorder
	logger    Logger
	bus       *Bus
	now       func() time.Time
	opts      Options

	mu       sync.RWMutex
	sessions map[string]*session

	subMu      sync.Mutex
	subscribed bool
}

// New creates an engine.
func New(deps Deps, opts Options) (*Engine, error) {
	if deps.Transport == nil {
		return nil, errors.New("reconcile: transport is required")
	}
	if deps.Templates == nil {
		return nil, errors.New("reconcile: template lookup is required")
	}
	if opts.ReconnectPolicy == "" {
		opts.ReconnectPolicy = config.PolicyRemoteWins
	}

	e := &Engine{
		transport: deps.Transport,
		fallback:  deps.Fallback,
		repo:      deps.Repo,
		templates: deps.Templates,
		recorder:  deps.Recorder,
		logger:    deps.Logger,
		bus:       deps.Bus,
		now:       deps.Clock,
		opts:      opts,
		sessions:  make(map[string]*session),
	}
	if e.recorder == nil {
		e.recorder = noopRecorder{}
	}
	if e.logger == nil {
		e.logger = noopLogger{}
	}
	if e.bus == nil {
		e.bus = NewBus()
		e.bus.SetLogger(e.logger)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Bus returns the event bus of the engine.
func (e *Engine) Bus() *Bus {
	return e.bus
}

// Start attaches every enabled microcontroller from the repository and, if
// the transport is already up, runs the connect sequence.
func (e *Engine) Start(ctx context.Context) error {
	if e.repo != nil {
		known, err := e.repo.ListEnabled(ctx)
		if err != nil {
			return fmt.Errorf("loading microcontrollers: %w", err)
		}
		for _, mc := range known {
			if _, err := e.Attach(mc); err != nil {
				e.logger.Warn("skipping microcontroller", "mac", mc.MAC, "error", err)
			}
		}
		e.logger.Info("sessions attached", "count", len(known))
	}

	if e.transport.IsConnected() {
		e.HandleConnected()
	}
	return nil
}

// subscribe registers the inbound wildcards once. The transport restores
// them on every reconnect.
func (e *Engine) subscribe() error {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.subscribed {
		return nil
	}

	var errs []error
	for _, topic := range e.opts.Topics.Wildcards(mqtt.SuffixDeviceConfig) {
		if err := e.transport.Subscribe(topic, e.opts.QoS, e.handleDeviceConfig); err != nil {
			errs = append(errs, fmt.Errorf("subscribing %s: %w", topic, err))
		}
	}
	for _, topic := range e.opts.Topics.Wildcards(mqtt.SuffixRegisterMicrocontroller) {
		if err := e.transport.Subscribe(topic, e.opts.QoS, e.handleAnnouncement); err != nil {
			errs = append(errs, fmt.Errorf("subscribing %s: %w", topic, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	e.subscribed = true
	return nil
}

// HandleConnected runs on every (re)connect of the shared transport. Each
// enabled, idle session asks its board for the current configuration.
// A session whose request could not be published stays Connecting until
// the next connect.
func (e *Engine) HandleConnected() {
	if err := e.subscribe(); err != nil {
		e.logger.Error("subscribing to microcontroller topics", "error", err)
	}

	for _, s := range e.sessionList() {
		e.connectSession(s)
	}
	e.bus.Publish(Event{Kind: EventTransportConnected, Time: e.now()})
}

func (e *Engine) connectSession(s *session) {
	s.mu.Lock()
	if s.pushing || !s.mc.Enabled {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	mac := s.mc.MAC
	topic := e.opts.Topics.Status(s.address())
	s.mu.Unlock()

	err := e.transport.Publish(topic, []byte(mqtt.RequestDeviceConfig), e.opts.QoS, false)

	s.mu.Lock()
	if err == nil && s.state == StateConnecting {
		s.state = StateAwaitingRemoteConfig
		s.requestedAt = e.now()
	}
	s.mu.Unlock()

	if err != nil {
		e.logger.Warn("configuration request failed", "mac", mac, "error", err)
	}
}

// HandleDisconnected runs when the shared transport drops. Idle sessions go
// Disconnected; a push in flight continues on its fallback channel.
func (e *Engine) HandleDisconnected(cause error) {
	for _, s := range e.sessionList() {
		s.mu.Lock()
		if !s.pushing {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
	}

	ev := Event{Kind: EventTransportDisconnected, Time: e.now()}
	if cause != nil {
		ev.Error = cause.Error()
	}
	e.bus.Publish(ev)
}

// Attach registers a session for mc. For a MAC already attached only the
// identity fields are refreshed; the mirror and baseline are kept.
func (e *Engine) Attach(mc device.KnownMicrocontroller) (SessionSnapshot, error) {
	mac, err := device.NormalizeMAC(mc.MAC)
	if err != nil {
		return SessionSnapshot{}, err
	}
	mc.MAC = mac

	e.mu.Lock()
	s, ok := e.sessions[mac]
	if !ok {
		s = &session{mc: mc.DeepCopy(), state: StateDisconnected}
		if s.mc.Devices == nil {
			s.mc.Devices = []device.ConnectedDevice{}
		}
		s.baseline = device.FingerprintOf(s.mc)
		e.sessions[mac] = s
	}
	e.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.mc.BoardType = mc.BoardType
		s.mc.IPAddress = mc.IPAddress
		s.mc.ProjectName = mc.ProjectName
		s.mc.FirmwareVersion = mc.FirmwareVersion
		s.mc.Enabled = mc.Enabled
		s.mc.UpdatedAt = mc.UpdatedAt
	}
	return e.snapshotLocked(s), nil
}

// Detach drops the session of mac.
func (e *Engine) Detach(mac string) error {
	norm, err := device.NormalizeMAC(mac)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[norm]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, norm)
	}
	delete(e.sessions, norm)
	return nil
}

// Discover registers mc with the repository, attaches it and, when the
// transport is up, requests its configuration.
func (e *Engine) Discover(ctx context.Context, mc device.KnownMicrocontroller) (SessionSnapshot, error) {
	var before device.KnownMicrocontroller
	known := false
	if e.repo != nil {
		if prev, err := e.repo.Get(ctx, mc.MAC); err == nil {
			before, known = prev, true
		}
		stored, err := e.repo.Register(ctx, mc)
		if err != nil {
			return SessionSnapshot{}, err
		}
		mc = stored
	} else if err := device.ValidateMicrocontroller(mc); err != nil {
		return SessionSnapshot{}, err
	}

	snap, err := e.Attach(mc)
	if err != nil {
		return SessionSnapshot{}, err
	}
	if known {
		// Register rewrote identity fields the fingerprint covers.
		e.rebase(snap.Microcontroller.MAC, before, mc)
	}
	if snap.Microcontroller.Enabled && e.transport.IsConnected() {
		if err := e.RequestRemoteConfig(snap.Microcontroller.MAC); err != nil {
			e.logger.Warn("configuration request failed", "mac", snap.Microcontroller.MAC, "error", err)
		}
	}
	return e.Snapshot(snap.Microcontroller.MAC)
}

// Load begins an edit from the persisted record: the mirror is replaced and
// the baseline fingerprint captured.
func (e *Engine) Load(ctx context.Context, mac string) (SessionSnapshot, error) {
	if e.repo == nil {
		return SessionSnapshot{}, ErrNoRepository
	}
	rec, err := e.repo.Get(ctx, mac)
	if err != nil {
		return SessionSnapshot{}, err
	}

	s, err := e.session(rec.MAC)
	if errors.Is(err, ErrSessionNotFound) {
		return e.Attach(rec)
	}
	if err != nil {
		return SessionSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pushing {
		return SessionSnapshot{}, ErrPushInFlight
	}
	s.mc = rec.DeepCopy()
	if s.mc.Devices == nil {
		s.mc.Devices = []device.ConnectedDevice{}
	}
	s.baseline = device.FingerprintOf(rec)
	s.dirty = false
	return e.snapshotLocked(s), nil
}

// RequestRemoteConfig asks the board for its configuration. The reply
// arrives asynchronously; silence is not an error, see SessionSnapshot.Stale.
func (e *Engine) RequestRemoteConfig(mac string) error {
	s, err := e.session(mac)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.pushing {
		s.mu.Unlock()
		return ErrPushInFlight
	}
	topic := e.opts.Topics.Status(s.address())
	s.mu.Unlock()

	if err := e.transport.Publish(topic, []byte(mqtt.RequestDeviceConfig), e.opts.QoS, false); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	s.mu.Lock()
	if !s.pushing {
		s.state = StateAwaitingRemoteConfig
		s.requestedAt = e.now()
	}
	s.mu.Unlock()
	return nil
}

// Stale reports whether a configuration request for mac went unanswered
// longer than the request timeout. The session state is not changed.
func (e *Engine) Stale(mac string) (bool, error) {
	snap, err := e.Snapshot(mac)
	if err != nil {
		return false, err
	}
	return snap.Stale, nil
}

// FetchRemoteConfig pulls the configuration over the fallback channel and
// applies it like an inbound snapshot.
func (e *Engine) FetchRemoteConfig(ctx context.Context, mac string) (SessionSnapshot, error) {
	if e.fallback == nil {
		return SessionSnapshot{}, ErrNoFallback
	}
	s, err := e.session(mac)
	if err != nil {
		return SessionSnapshot{}, err
	}

	s.mu.Lock()
	if s.pushing {
		s.mu.Unlock()
		return SessionSnapshot{}, ErrPushInFlight
	}
	ip := s.mc.IPAddress
	s.mu.Unlock()

	fctx, cancel := e.fallbackContext(ctx)
	defer cancel()
	data, err := e.fallback.GetDeviceConfig(fctx, ip)
	if err != nil {
		return SessionSnapshot{}, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	devices, err := device.DecodeSnapshot(data)
	if err != nil {
		return SessionSnapshot{}, err
	}

	e.applySnapshot(s, devices)
	return e.Snapshot(mac)
}

// SetMicrocontrollerEnabled soft-enables or soft-disables a microcontroller
// in the repository and the session. Disabled sessions are skipped on connect.
func (e *Engine) SetMicrocontrollerEnabled(ctx context.Context, mac string, enabled bool) (SessionSnapshot, error) {
	if e.repo == nil {
		return SessionSnapshot{}, ErrNoRepository
	}
	before, err := e.repo.Get(ctx, mac)
	if err != nil {
		return SessionSnapshot{}, err
	}
	if err := e.repo.SetEnabled(ctx, before.MAC, enabled); err != nil {
		return SessionSnapshot{}, err
	}
	after, err := e.repo.Get(ctx, before.MAC)
	if err != nil {
		return SessionSnapshot{}, err
	}

	// Start only attaches enabled boards, so a disabled one may have no session.
	s, err := e.session(after.MAC)
	if errors.Is(err, ErrSessionNotFound) {
		if _, err := e.Attach(after); err != nil {
			return SessionSnapshot{}, err
		}
		if s, err = e.session(after.MAC); err != nil {
			return SessionSnapshot{}, err
		}
	} else if err != nil {
		return SessionSnapshot{}, err
	} else {
		e.rebase(after.MAC, before, after)
		s.mu.Lock()
		s.mc.Enabled = enabled
		s.mu.Unlock()
	}

	if enabled && !before.Enabled && e.transport.IsConnected() {
		e.connectSession(s)
	}
	return e.Snapshot(after.MAC)
}

// rebase moves the baseline of mac from before to after when the repository
// record changed underneath an edit. A baseline that no longer matches before
// belongs to someone else's save and is left alone.
func (e *Engine) rebase(mac string, before, after device.KnownMicrocontroller) {
	s, err := e.session(mac)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseline == device.FingerprintOf(before) {
		s.baseline = device.FingerprintOf(after)
	}
}

// Snapshot returns a copy of the session of mac.
func (e *Engine) Snapshot(mac string) (SessionSnapshot, error) {
	s, err := e.session(mac)
	if err != nil {
		return SessionSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return e.snapshotLocked(s), nil
}

// Sessions returns copies of every session, ordered by MAC.
func (e *Engine) Sessions() []SessionSnapshot {
	list := e.sessionList()
	out := make([]SessionSnapshot, 0, len(list))
	for _, s := range list {
		s.mu.Lock()
		out = append(out, e.snapshotLocked(s))
		s.mu.Unlock()
	}
	return out
}

func (e *Engine) snapshotLocked(s *session) SessionSnapshot {
	snap := SessionSnapshot{
		Microcontroller: s.mc.DeepCopy(),
		State:           s.state,
		Fingerprint:     device.FingerprintDevices(s.mc.Devices),
		Baseline:        s.baseline,
		Dirty:           s.dirty,
		RequestedAt:     s.requestedAt,
	}
	if s.state == StateAwaitingRemoteConfig && e.opts.RequestTimeout > 0 && !s.requestedAt.IsZero() {
		snap.Stale = e.now().Sub(s.requestedAt) > e.opts.RequestTimeout
	}
	if s.lastPush != nil {
		p := *s.lastPush
		p.Payload = append([]byte(nil), s.lastPush.Payload...)
		snap.LastPush = &p
	}
	return snap
}

func (e *Engine) session(mac string) (*session, error) {
	norm, err := device.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	s, ok := e.sessions[norm]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, norm)
	}
	return s, nil
}

func (e *Engine) sessionList() []*session {
	e.mu.RLock()
	macs := make([]string, 0, len(e.sessions))
	for mac := range e.sessions {
		macs = append(macs, mac)
	}
	sort.Strings(macs)
	list := make([]*session, len(macs))
	for i, mac := range macs {
		list[i] = e.sessions[mac]
	}
	e.mu.RUnlock()
	return list
}

func (e *Engine) fallbackContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.FallbackTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.FallbackTimeout)
	}
	return context.WithCancel(ctx)
}
