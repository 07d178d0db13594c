package reconcile

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/iotzoo/iotzoo-core/internal/catalog"
	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/database"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/mqtt"
	"github.com/iotzoo/iotzoo-core/internal/microcontroller"
	_ "github.com/iotzoo/iotzoo-core/migrations"
)

const (
	testMAC  = "AA:BB:CC:DD:EE:01"
	otherMAC = "AA:BB:CC:DD:EE:02"
)

type publishedMessage struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

// fakeTransport is an in-memory broker connection.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	published []publishedMessage
	subs      map[string]func(string, []byte) error
	subCalls  int

	// fail returns the error for a publish to topic, or nil.
	fail func(topic string) error

	// hold blocks publishes whose topic ends with holdSuffix until closed.
	holdSuffix string
	hold       chan struct{}
	entered    chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true, subs: make(map[string]func(string, []byte) error)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	hold, entered := f.hold, f.entered
	holding := hold != nil && strings.HasSuffix(topic, f.holdSuffix)
	f.mu.Unlock()

	if holding {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.fail != nil {
		if err := f.fail(topic); err != nil {
			return err
		}
	}
	f.published = append(f.published, publishedMessage{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler func(string, []byte) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subCalls++
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	f.subs[topic] = handler
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeTransport) setFail(fn func(topic string) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

// holdPublishes makes publishes ending in suffix wait for release.
func (f *fakeTransport) holdPublishes(suffix string) (release func()) {
	f.mu.Lock()
	f.holdSuffix = suffix
	f.hold = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	hold := f.hold
	f.mu.Unlock()
	return func() { close(hold) }
}

func (f *fakeTransport) waitHeld(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	entered := f.entered
	f.mu.Unlock()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("publish was never attempted")
	}
}

// deliver routes an inbound message to the matching subscription.
func (f *fakeTransport) deliver(topic string, payload []byte) error {
	f.mu.Lock()
	var handler func(string, []byte) error
	for filter, h := range f.subs {
		if topicMatches(filter, topic) {
			handler = h
			break
		}
	}
	f.mu.Unlock()
	if handler == nil {
		return nil
	}
	return handler(topic, payload)
}

func (f *fakeTransport) messages(suffix string) []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []publishedMessage
	for _, m := range f.published {
		if strings.HasSuffix(m.Topic, "/"+suffix) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subCalls
}

func (f *fakeTransport) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for topic := range f.subs {
		out = append(out, topic)
	}
	return out
}

// topicMatches implements MQTT filter matching for + and #.
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range fp {
		if seg == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if seg != "+" && seg != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}

// fakeFallback emulates the boards' web servers.
type fakeFallback struct {
	mu         sync.Mutex
	err        error
	posts      map[string][][]byte
	mcPosts    map[string][][]byte
	deviceJSON map[string][]byte

	// onPost runs before every device configuration post.
	onPost func()
}

func newFakeFallback() *fakeFallback {
	return &fakeFallback{
		posts:      make(map[string][][]byte),
		mcPosts:    make(map[string][][]byte),
		deviceJSON: make(map[string][]byte),
	}
}

func (f *fakeFallback) PostDeviceConfig(_ context.Context, ip string, payload []byte) error {
	if f.onPost != nil {
		f.onPost()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.posts[ip] = append(f.posts[ip], append([]byte(nil), payload...))
	return nil
}

func (f *fakeFallback) GetDeviceConfig(_ context.Context, ip string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.deviceJSON[ip], nil
}

func (f *fakeFallback) PostMicrocontrollerConfig(_ context.Context, ip string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.mcPosts[ip] = append(f.mcPosts[ip], append([]byte(nil), payload...))
	return nil
}

func (f *fakeFallback) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeRecorder struct {
	mu        sync.Mutex
	pushes    []string
	snapshots []bool
}

func (r *fakeRecorder) RecordPush(_, channel string, ok bool, _ time.Duration, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.pushes = append(r.pushes, channel)
	} else {
		r.pushes = append(r.pushes, "failed")
	}
}

func (r *fakeRecorder) RecordSnapshot(_ string, applied bool, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, applied)
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventLog collects bus events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) of(kind EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) subscribeAll(bus *Bus) {
	for _, kind := range EventKinds() {
		bus.Subscribe("test-log", kind, l.record)
	}
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	fallback  *fakeFallback
	recorder  *fakeRecorder
	repo      *microcontroller.SQLiteRepository
	catalog   *catalog.Catalog
	clock     *fakeClock
	events    *eventLog
}

func openRepo(t *testing.T) *microcontroller.SQLiteRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return microcontroller.NewSQLiteRepository(db.DB)
}

func newHarness(t *testing.T, repo *microcontroller.SQLiteRepository, mutate func(*Options)) *harness {
	t.Helper()

	cat, err := catalog.New(catalog.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}
	if repo == nil {
		repo = openRepo(t)
	}

	h := &harness{
		transport: newFakeTransport(),
		fallback:  newFakeFallback(),
		recorder:  &fakeRecorder{},
		repo:      repo,
		catalog:   cat,
		clock:     &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		events:    &eventLog{},
	}

	opts := Options{
		Topics:          mqtt.Topics{Namespace: "iotzoo"},
		QoS:             1,
		RequestTimeout:  10 * time.Second,
		FallbackTimeout: time.Second,
		BrokerAddress:   "192.168.1.10",
	}
	if mutate != nil {
		mutate(&opts)
	}

	var sqlRepo Repository = repo
	h.engine, err = New(Deps{
		Transport: h.transport,
		Fallback:  h.fallback,
		Repo:      sqlRepo,
		Templates: cat,
		Recorder:  h.recorder,
		Clock:     h.clock.Now,
	}, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.events.subscribeAll(h.engine.Bus())
	return h
}

func testMC(mac string) device.KnownMicrocontroller {
	return device.KnownMicrocontroller{
		MAC:         mac,
		BoardType:   "esp32",
		IPAddress:   "192.168.1.20",
		ProjectName: "home",
		Enabled:     true,
	}
}

// register stores mc and attaches its session.
func (h *harness) register(t *testing.T, mc device.KnownMicrocontroller) {
	t.Helper()
	stored, err := h.repo.Register(context.Background(), mc)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := h.engine.Attach(stored); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
}

func (h *harness) instantiate(t *testing.T, deviceType string) device.ConnectedDevice {
	t.Helper()
	d, err := h.catalog.Instantiate(deviceType)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func (h *harness) snapshot(t *testing.T, mac string) SessionSnapshot {
	t.Helper()
	snap, err := h.engine.Snapshot(mac)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func deviceTopic(mac string) string {
	return "iotzoo/home/esp32/" + mac + "/device_config"
}

func encode(t *testing.T, devices ...device.ConnectedDevice) []byte {
	t.Helper()
	data, err := device.EncodeSnapshot(devices)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
