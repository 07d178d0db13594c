package reconcile

import (
	"sort"
	"sync"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/device"
)

// EventKind names a class of engine events. The values double as the
// WebSocket channel names.
type EventKind string

// Event kinds.
const (
	EventTransportConnected    EventKind = "transport.connected"
	EventTransportDisconnected EventKind = "transport.disconnected"
	EventRemoteConfigReceived  EventKind = "config.received"
	EventRemoteConfigConflict  EventKind = "config.conflict"
	EventPushCompleted         EventKind = "push.completed"
)

// EventKinds lists every kind in a stable order.
func EventKinds() []EventKind {
	return []EventKind{
		EventTransportConnected,
		EventTransportDisconnected,
		EventRemoteConfigReceived,
		EventRemoteConfigConflict,
		EventPushCompleted,
	}
}

// Event is delivered to bus subscribers.
type Event struct {
	Kind     EventKind        `json:"kind"`
	MAC      string           `json:"mac,omitempty"`
	Time     time.Time        `json:"time"`
	Snapshot *SessionSnapshot `json:"snapshot,omitempty"`
	Push     *PushResult      `json:"push,omitempty"`
	Error    string           `json:"error,omitempty"`

	// Changed is set on config.received when the mirror was replaced.
	Changed bool `json:"changed,omitempty"`

	// Remote carries the discarded board configuration on config.conflict.
	Remote []device.ConnectedDevice `json:"remote,omitempty"`
}

// Handler receives events. It runs on the publishing goroutine and must not
// block for long.
type Handler func(Event)

type registration struct {
	id      uint64
	handler Handler
}

// Bus delivers engine events to named subscribers.
//
// Registration is idempotent per (name, kind): subscribing again replaces
// the previous handler, so a component that re-subscribes after a restart
// never receives an event twice. Handlers are invoked outside the bus lock.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventKind]map[string]registration
	nextID uint64
	logger Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[EventKind]map[string]registration),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger used to report handler panics.
func (b *Bus) SetLogger(logger Logger) {
	b.mu.Lock()
	b.logger = logger
	b.mu.Unlock()
}

// Subscribe registers handler under name for kind and returns a function
// that removes exactly this registration.
func (b *Bus) Subscribe(name string, kind EventKind, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	named := b.subs[kind]
	if named == nil {
		named = make(map[string]registration)
		b.subs[kind] = named
	}
	named[name] = registration{id: id, handler: handler}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if r, ok := b.subs[kind][name]; ok && r.id == id {
			delete(b.subs[kind], name)
		}
	}
}

// Unsubscribe removes the handler registered under name for kind.
func (b *Bus) Unsubscribe(name string, kind EventKind) {
	b.mu.Lock()
	delete(b.subs[kind], name)
	b.mu.Unlock()
}

// Subscribers returns the names registered for kind, sorted.
func (b *Bus) Subscribers(kind EventKind) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.subs[kind]))
	for name := range b.subs[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish delivers e to every handler of its kind, in name order.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.RLock()
	named := b.subs[e.Kind]
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	handlers := make([]Handler, len(names))
	for i, name := range names {
		handlers[i] = named[name].handler
	}
	logger := b.logger
	b.mu.RUnlock()

	for i, h := range handlers {
		b.deliver(logger, names[i], h, e)
	}
}

func (b *Bus) deliver(logger Logger, name string, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panic recovered", "subscriber", name, "kind", string(e.Kind), "panic", r)
		}
	}()
	h(e)
}
