package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/iotzoo/iotzoo-core/internal/catalog"
	"github.com/iotzoo/iotzoo-core/internal/device"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/database"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/logging"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/mqtt"
	"github.com/iotzoo/iotzoo-core/internal/microcontroller"
	"github.com/iotzoo/iotzoo-core/internal/reconcile"
	_ "github.com/iotzoo/iotzoo-core/migrations"
)

const testMAC = "AA:BB:CC:DD:EE:01"

// fakeTransport records publishes and can be switched off.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	fail      bool
	published map[string][]byte
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return mqtt.ErrNotConnected
	}
	if f.fail {
		return mqtt.ErrPublishFailed
	}
	f.published[topic] = append([]byte(nil), payload...)
	return nil
}

func (f *fakeTransport) Subscribe(string, byte, func(string, []byte) error) error { return nil }

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeTransport) payload(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.published[topic]
	return p, ok
}

type testEnv struct {
	srv       *Server
	router    http.Handler
	transport *fakeTransport
	repo      *microcontroller.SQLiteRepository
}

// testServer creates a Server over a real engine, catalog and in-memory SQLite.
func testServer(t *testing.T) *testEnv {
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
	repo := microcontroller.NewSQLiteRepository(db.DB)

	cat, err := catalog.New(catalog.Builtin()...)
	if err != nil {
		t.Fatal(err)
	}

	transport := &fakeTransport{connected: true, published: make(map[string][]byte)}
	engine, err := reconcile.New(reconcile.Deps{
		Transport: transport,
		Repo:      repo,
		Templates: cat,
	}, reconcile.Options{
		Topics:        mqtt.Topics{Namespace: "iotzoo"},
		QoS:           1,
		BrokerAddress: "192.168.1.10",
	})
	if err != nil {
		t.Fatalf("reconcile.New() error: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:           log,
		Engine:           engine,
		Catalog:          cat,
		Microcontrollers: repo,
		MQTT:             transport,
		DB:               db,
		Version:          "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	srv.startBackground(ctx)
	t.Cleanup(func() { srv.Close() })

	return &testEnv{srv: srv, router: srv.buildRouter(), transport: transport, repo: repo}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// register adds the standard test board and returns its base path.
func (e *testEnv) register(t *testing.T, project string) string {
	t.Helper()
	body := `{"mac":"aa:bb:cc:dd:ee:01","board_type":"esp32","ip_address":"192.168.1.20","project_name":"` + project + `"}`
	w := e.do(t, http.MethodPost, "/api/v1/microcontrollers", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s", w.Code, w.Body.String())
	}
	return "/api/v1/microcontrollers/" + testMAC
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	return v
}

type snapshotResponse struct {
	Microcontroller device.KnownMicrocontroller `json:"microcontroller"`
	State           string                      `json:"state"`
	Fingerprint     string                      `json:"fingerprint"`
	Dirty           bool                        `json:"dirty"`
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, status, w.Body.String())
	}
	if got := decode[Error](t, w); got.Code != code {
		t.Errorf("error code = %q, want %q", got.Code, code)
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decode[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["mqtt_connected"] != true {
		t.Errorf("mqtt_connected = %v, want true", resp["mqtt_connected"])
	}
}

func TestRequestID(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-id-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-id-123" {
		t.Errorf("X-Request-ID = %q, want client-id-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/microcontrollers", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Templates ─────────────────────────────────────────────────────

func TestTemplates(t *testing.T) {
	env := testServer(t)

	w := env.do(t, http.MethodGet, "/api/v1/templates", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	list := decode[struct {
		Templates []device.DeviceTemplate `json:"templates"`
		Count     int                     `json:"count"`
	}](t, w)
	if list.Count != env.srv.catalog.Len() || len(list.Templates) != list.Count {
		t.Errorf("count = %d, templates = %d, want %d", list.Count, len(list.Templates), env.srv.catalog.Len())
	}

	w = env.do(t, http.MethodGet, "/api/v1/templates/LEDS%20Traffic%20Light", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if got := decode[device.DeviceTemplate](t, w); len(got.Pins) != 3 {
		t.Errorf("pins = %+v, want R, Y, G", got.Pins)
	}

	assertError(t, env.do(t, http.MethodGet, "/api/v1/templates/Nope", ""), http.StatusNotFound, ErrCodeNotFound)
}

// ─── Microcontrollers ──────────────────────────────────────────────

func TestRegisterAndGet(t *testing.T) {
	env := testServer(t)
	env.register(t, "home")

	// Any MAC notation resolves to the same session.
	w := env.do(t, http.MethodGet, "/api/v1/microcontrollers/aa-bb-cc-dd-ee-01", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	snap := decode[snapshotResponse](t, w)
	if snap.Microcontroller.MAC != testMAC {
		t.Errorf("MAC = %q, want %q", snap.Microcontroller.MAC, testMAC)
	}
	if snap.State != "awaiting_remote_config" {
		t.Errorf("state = %q, want awaiting_remote_config", snap.State)
	}
	if _, ok := env.transport.payload("iotzoo/home/esp32/" + testMAC + "/status"); !ok {
		t.Error("registration should request the board configuration")
	}

	w = env.do(t, http.MethodGet, "/api/v1/microcontrollers", "")
	if got := decode[struct{ Count int }](t, w); got.Count != 1 {
		t.Errorf("sessions count = %d, want 1", got.Count)
	}
	w = env.do(t, http.MethodGet, "/api/v1/microcontrollers?source=stored", "")
	if got := decode[struct{ Count int }](t, w); got.Count != 1 {
		t.Errorf("stored count = %d, want 1", got.Count)
	}
}

func TestRegister_Invalid(t *testing.T) {
	env := testServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"malformed json", `{"mac":`, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad mac", `{"mac":"nope","board_type":"esp32","ip_address":"192.168.1.20"}`, http.StatusBadRequest, ErrCodeValidation},
		{"missing ip", `{"mac":"aa:bb:cc:dd:ee:01","board_type":"esp32"}`, http.StatusBadRequest, ErrCodeValidation},
		{"wildcard in project", `{"mac":"aa:bb:cc:dd:ee:01","board_type":"esp32","ip_address":"192.168.1.20","project_name":"a/+"}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, env.do(t, http.MethodPost, "/api/v1/microcontrollers", tt.body), tt.status, tt.code)
		})
	}
}

func TestGetMicrocontroller_NotFound(t *testing.T) {
	env := testServer(t)
	assertError(t, env.do(t, http.MethodGet, "/api/v1/microcontrollers/AA:BB:CC:DD:EE:FF", ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestDeviceEdits(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")

	w := env.do(t, http.MethodPost, base+"/devices", `{"type":"DS18B20","pins":{"DAT":4},"properties":{"Interval":"5000"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}
	snap := decode[snapshotResponse](t, w)
	if !snap.Dirty || len(snap.Microcontroller.Devices) != 1 {
		t.Fatalf("snapshot after add = %+v", snap)
	}
	d := snap.Microcontroller.Devices[0]
	if d.Pins[0].GPIO != 4 {
		t.Errorf("DAT = %d, want 4", d.Pins[0].GPIO)
	}
	if v, _ := d.Property("Interval"); v != "5000" {
		t.Errorf("Interval = %q, want 5000", v)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"gpio conflict on add", http.MethodPost, "/devices", `{"type":"TM1637_4","pins":{"CLK":4}}`, http.StatusBadRequest, ErrCodeValidation},
		{"unknown type", http.MethodPost, "/devices", `{"type":"Flux Capacitor"}`, http.StatusBadRequest, ErrCodeValidation},
		{"missing type", http.MethodPost, "/devices", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"non-numeric index", http.MethodDelete, "/devices/x", "", http.StatusBadRequest, ErrCodeBadRequest},
		{"index out of range", http.MethodDelete, "/devices/5", "", http.StatusNotFound, ErrCodeNotFound},
		{"unknown pin", http.MethodPut, "/devices/0/pins/XYZ", `{"gpio":5}`, http.StatusNotFound, ErrCodeNotFound},
		{"missing gpio", http.MethodPut, "/devices/0/pins/DAT", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad property", http.MethodPut, "/devices/0/properties/Interval", `{"value":"soon"}`, http.StatusBadRequest, ErrCodeValidation},
		{"missing enabled", http.MethodPut, "/devices/0/enabled", `{}`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertError(t, env.do(t, tt.method, base+tt.path, tt.body), tt.status, tt.code)
		})
	}

	w = env.do(t, http.MethodPut, base+"/devices/0/pins/DAT", `{"gpio":23}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set pin status = %d, body = %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPut, base+"/devices/0/properties/Resolution", `{"value":"12"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set property status = %d", w.Code)
	}
	w = env.do(t, http.MethodPut, base+"/devices/0/enabled", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set enabled status = %d", w.Code)
	}
	if snap := decode[snapshotResponse](t, w); snap.Microcontroller.Devices[0].Enabled {
		t.Error("device still enabled")
	}

	w = env.do(t, http.MethodDelete, base+"/devices/0", "")
	if w.Code != http.StatusOK {
		t.Fatalf("remove status = %d", w.Code)
	}
	if snap := decode[snapshotResponse](t, w); len(snap.Microcontroller.Devices) != 0 {
		t.Errorf("devices after remove = %d, want 0", len(snap.Microcontroller.Devices))
	}
}

func TestPush(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")
	if w := env.do(t, http.MethodPost, base+"/devices", `{"type":"DS18B20"}`); w.Code != http.StatusCreated {
		t.Fatalf("add status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, base+"/push", "")
	if w.Code != http.StatusOK {
		t.Fatalf("push status = %d, body = %s", w.Code, w.Body.String())
	}
	res := decode[struct {
		Channel string `json:"channel"`
		State   string `json:"state"`
		Devices int    `json:"devices"`
	}](t, w)
	if res.Channel != "mqtt" || res.State != "synced" || res.Devices != 1 {
		t.Errorf("push result = %+v", res)
	}
	payload, ok := env.transport.payload("iotzoo/home/esp32/" + testMAC + "/save_device_config")
	if !ok || !strings.Contains(string(payload), `"DeviceType":"DS18B20"`) {
		t.Errorf("pushed payload = %s", payload)
	}
}

func TestPush_TransportUnavailable(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")
	env.transport.setFail(true)

	w := env.do(t, http.MethodPost, base+"/push", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("push status = %d, want 502 (body %s)", w.Code, w.Body.String())
	}
	resp := decode[struct {
		Error Error `json:"error"`
		Push  struct {
			Channel string `json:"channel"`
			State   string `json:"state"`
		} `json:"push"`
	}](t, w)
	if resp.Error.Code != ErrCodeTransportUnavailable {
		t.Errorf("error code = %q", resp.Error.Code)
	}
	if resp.Push.Channel != "none" || resp.Push.State != "push_failed" {
		t.Errorf("push = %+v", resp.Push)
	}
}

func TestSaveAndConflict(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")
	ctx := context.Background()

	if w := env.do(t, http.MethodPost, base+"/devices", `{"type":"DS18B20"}`); w.Code != http.StatusCreated {
		t.Fatalf("add status = %d", w.Code)
	}
	w := env.do(t, http.MethodPost, base+"/save", "")
	if w.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	if fp := decode[map[string]string](t, w)["fingerprint"]; fp == "" {
		t.Error("save returned no fingerprint")
	}

	// Someone else saves behind the session's back.
	stored, err := env.repo.Get(ctx, testMAC)
	if err != nil {
		t.Fatal(err)
	}
	other := stored.DeepCopy()
	other.Devices = nil
	if _, err := env.repo.Save(ctx, other, device.FingerprintOf(stored)); err != nil {
		t.Fatal(err)
	}

	assertError(t, env.do(t, http.MethodPost, base+"/save", ""), http.StatusConflict, ErrCodeConflict)

	// Reloading adopts the newer record.
	w = env.do(t, http.MethodPost, base+"/load", "")
	if w.Code != http.StatusOK {
		t.Fatalf("load status = %d", w.Code)
	}
	if snap := decode[snapshotResponse](t, w); len(snap.Microcontroller.Devices) != 0 || snap.Dirty {
		t.Errorf("snapshot after load = %+v", snap)
	}
	if w := env.do(t, http.MethodPost, base+"/save", ""); w.Code != http.StatusOK {
		t.Errorf("save after load status = %d", w.Code)
	}
}

func TestRequestAndFetchConfig(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")

	if w := env.do(t, http.MethodPost, base+"/request-config", ""); w.Code != http.StatusAccepted {
		t.Errorf("request-config status = %d, want 202", w.Code)
	}

	env.transport.mu.Lock()
	env.transport.connected = false
	env.transport.mu.Unlock()
	assertError(t, env.do(t, http.MethodPost, base+"/request-config", ""), http.StatusBadGateway, ErrCodeTransportUnavailable)

	// No fallback channel is configured in the test server.
	assertError(t, env.do(t, http.MethodPost, base+"/fetch-config", ""), http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestPushMicrocontrollerConfig(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")

	w := env.do(t, http.MethodPost, base+"/push-microcontroller-config", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[map[string]string](t, w)["channel"]; got != "mqtt" {
		t.Errorf("channel = %q, want mqtt", got)
	}
	payload, ok := env.transport.payload(testMAC + "/save_microcontroller_config")
	if !ok || string(payload) != `{"NamespaceName":"iotzoo","ProjectName":"home","IpMqttBroker":"192.168.1.10"}` {
		t.Errorf("payload = %s", payload)
	}
}

func TestEnableDisable(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")

	w := env.do(t, http.MethodPost, base+"/disable", "")
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d", w.Code)
	}
	if snap := decode[snapshotResponse](t, w); snap.Microcontroller.Enabled {
		t.Error("board still enabled")
	}
	stored, err := env.repo.Get(context.Background(), testMAC)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Enabled {
		t.Error("stored board still enabled")
	}

	w = env.do(t, http.MethodPost, base+"/enable", "")
	if snap := decode[snapshotResponse](t, w); !snap.Microcontroller.Enabled {
		t.Error("board not re-enabled")
	}
}

func TestDeleteMicrocontroller(t *testing.T) {
	env := testServer(t)

	base := env.register(t, "home")
	assertError(t, env.do(t, http.MethodDelete, base, ""), http.StatusConflict, ErrCodeConflict)

	// Boards outside any project may be deleted.
	env2 := testServer(t)
	base = env2.register(t, "")
	if w := env2.do(t, http.MethodDelete, base, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, body = %s", w.Code, w.Body.String())
	}
	assertError(t, env2.do(t, http.MethodGet, base, ""), http.StatusNotFound, ErrCodeNotFound)
}

func TestMetrics(t *testing.T) {
	env := testServer(t)
	base := env.register(t, "home")
	env.do(t, http.MethodPost, base+"/devices", `{"type":"DS18B20"}`)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	m := decode[SystemMetrics](t, w)
	if m.Sessions.Total != 1 || m.Sessions.Dirty != 1 || m.Sessions.Devices != 1 {
		t.Errorf("sessions = %+v", m.Sessions)
	}
	if m.Sessions.ByState["awaiting_remote_config"] != 1 {
		t.Errorf("by_state = %v", m.Sessions.ByState)
	}
	if !m.MQTT.Connected {
		t.Error("mqtt.connected = false, want true")
	}
	if m.Templates != env.srv.catalog.Len() || m.Database == nil {
		t.Errorf("templates = %d database = %v", m.Templates, m.Database)
	}
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{reconcile.ErrSessionNotFound, http.StatusNotFound},
		{microcontroller.ErrNotFound, http.StatusNotFound},
		{device.ErrDeviceIndex, http.StatusNotFound},
		{device.ErrValidation, http.StatusBadRequest},
		{device.ErrPinReadOnly, http.StatusBadRequest},
		{device.ErrConcurrentModification, http.StatusConflict},
		{reconcile.ErrPushInFlight, http.StatusConflict},
		{microcontroller.ErrStillReferenced, http.StatusConflict},
		{reconcile.ErrTransportUnavailable, http.StatusBadGateway},
		{reconcile.ErrNoFallback, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := errorStatus(tt.err); got != tt.status {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.status)
		}
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without engine: expected error")
	}
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger: expected error")
	}
}
